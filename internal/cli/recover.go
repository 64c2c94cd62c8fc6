package cli

import (
	"github.com/spf13/cobra"

	"pairbot/internal/logging"
)

func newRecoverCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Run one recovery pass and exit",
		Long: `Reconcile the persisted setup flag against live broker state once,
print the outcome, and exit without starting the monitor. Useful for
inspecting what 'pairbot run' would do at startup.`,
		Example: `  pairbot recover
  pairbot recover --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			if err := app.Connector.Connect(ctx); err != nil {
				output.Error("Broker connection failed: %v", err)
				return err
			}
			defer app.Connector.Disconnect()

			coordinator := app.newCoordinator()
			result, err := coordinator.Run(ctx)
			if err != nil {
				output.Error("Recovery failed: %v", err)
				return err
			}

			logging.LogRecovery(app.Logger, result.SpreadID, string(result.Outcome), string(result.State))
			printRecoveryResult(output, result)
			return nil
		},
	}
}
