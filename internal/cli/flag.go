package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newFlagCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flag",
		Short: "Inspect or reset the setup flag",
	}
	cmd.AddCommand(newFlagShowCmd(app))
	cmd.AddCommand(newFlagClearCmd(app))
	return cmd
}

func newFlagShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the persisted setup flag",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			rec, ok := app.Flags.Record()
			if output.IsJSON() {
				return output.JSON(rec)
			}
			if !ok {
				output.Dim("No flag record on disk.")
				return nil
			}
			if rec.Active {
				output.Bold("ACTIVE  %s", rec.SpreadID)
				output.Printf("  Opened: %s\n", rec.OpenedAt.Format(time.RFC3339))
				for k, v := range rec.Metadata {
					output.Printf("  %s: %s\n", k, v)
				}
			} else {
				output.Success("INACTIVE")
			}
			return nil
		},
	}
}

func newFlagClearCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Force-reset the setup flag",
		Long: `Force-reset the setup flag, bypassing the usual both-legs-closed
precondition. This is the manual acknowledgement path after an
ALERTED_AWAITING_USER recovery outcome: verify the broker state yourself,
then clear.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			rec, ok := app.Flags.Record()
			if !ok || !rec.Active {
				output.Success("Flag already inactive.")
				return nil
			}

			yes, _ := cmd.Flags().GetBool("yes")
			if !yes {
				output.Warning("Setup %s is marked active. Clearing the flag stops tracking it.", rec.SpreadID)
				fmt.Fprint(cmd.OutOrStdout(), "Clear anyway? [y/N]: ")
				reader := bufio.NewReader(os.Stdin)
				answer, _ := reader.ReadString('\n')
				if !strings.EqualFold(strings.TrimSpace(answer), "y") {
					output.Dim("Aborted.")
					return nil
				}
			}

			if err := app.Flags.Clear(); err != nil {
				output.Error("Failed to clear flag: %v", err)
				return err
			}
			output.Success("Flag cleared.")
			return nil
		},
	}
	cmd.Flags().Bool("yes", false, "Skip confirmation prompt")
	return cmd
}
