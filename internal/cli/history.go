package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pairbot/internal/errors"
	"pairbot/internal/store"
)

func newHistoryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show closed setups and flag transitions",
		Example: `  pairbot history
  pairbot history --limit 5
  pairbot history --spread spread_001
  pairbot history --audit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			if app.History == nil {
				output.Error("History store unavailable.")
				return fmt.Errorf("history store unavailable")
			}

			limit, _ := cmd.Flags().GetInt("limit")
			audit, _ := cmd.Flags().GetBool("audit")
			spread, _ := cmd.Flags().GetString("spread")

			if audit {
				transitions, err := app.History.GetTransitions(limit)
				if err != nil {
					output.Error("Query failed: %v", err)
					return err
				}
				if output.IsJSON() {
					return output.JSON(transitions)
				}
				if len(transitions) == 0 {
					output.Dim("No flag transitions recorded.")
					return nil
				}
				output.Bold("Flag transitions:")
				for _, t := range transitions {
					output.Printf("  %s  %-10s %s  %s\n",
						t.Timestamp.Format(time.RFC3339), t.Action, t.SpreadID, t.Reason)
				}
				return nil
			}

			entries, err := app.History.GetHistory(store.HistoryFilter{SpreadID: spread, Limit: limit})
			if err != nil {
				output.Error("Query failed: %v", err)
				return err
			}
			if spread != "" && len(entries) == 0 {
				output.Error("No history for spread %s.", spread)
				return fmt.Errorf("%w: %s", errors.ErrSetupNotFound, spread)
			}
			if output.IsJSON() {
				return output.JSON(entries)
			}
			if len(entries) == 0 {
				output.Dim("No closed setups recorded.")
				return nil
			}
			output.Bold("Closed setups:")
			for _, e := range entries {
				output.Printf("  %s  %s  %-13s %s\n",
					e.ClosedAt.Format(time.RFC3339), e.SpreadID, e.Outcome, e.Reason)
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum entries to show")
	cmd.Flags().String("spread", "", "Only show history for this spread id")
	cmd.Flags().Bool("audit", false, "Show flag transition audit trail instead")
	return cmd
}
