package cli

import (
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the setup flag and tracked positions",
		Example: `  pairbot status
  pairbot status --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			rec, ok := app.Flags.Record()
			tracked := app.Monitor.Tracked()

			if err := app.Flags.Check(); err != nil {
				output.Warning("Flag record unreadable (treated as inactive): %v", err)
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"flag":    rec,
					"tracked": tracked,
				})
			}

			if !ok || !rec.Active {
				output.Success("No active setup.")
			} else {
				output.Bold("Setup %s", rec.SpreadID)
				output.Printf("  Opened: %s\n", rec.OpenedAt.Format(time.RFC3339))
				for k, v := range rec.Metadata {
					output.Printf("  %s: %s\n", k, v)
				}
			}

			if len(tracked) == 0 {
				output.Dim("No positions under monitoring.")
				return nil
			}

			output.Println()
			output.Bold("Tracked positions:")
			for _, tp := range tracked {
				output.Printf("  #%d %s %.2f %s  status=%s missed=%d\n",
					tp.Ticket, tp.Symbol, tp.ExpectedVolume, tp.ExpectedSide, tp.Status, tp.MissedPolls)
			}
			return nil
		},
	}
}
