package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pairbot/internal/logging"
	"pairbot/internal/recovery"
)

func newRunCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the lifecycle daemon",
		Long: `Connect to the broker, run startup recovery, then monitor the
registered legs until interrupted. Recovery always completes before the
monitor starts, so the monitor never observes a half-recovered state.`,
		Example: `  pairbot run
  pairbot run --debug`,
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

			escCtx, cancelEsc := context.WithCancel(ctx)
			defer cancelEsc()
			go coordinator.EscalateUntilCleared(escCtx, result, app.Config.Monitor.UserResponseTimeout)

			app.Monitor.Start()
			defer app.Monitor.Stop()

			output.Info("Monitoring %d position(s), interval %s. Ctrl-C to stop.",
				len(app.Monitor.MonitoredTickets()), app.Config.Monitor.CheckInterval)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			select {
			case sig := <-sigCh:
				app.Logger.Info().Str("signal", sig.String()).Msg("Shutting down")
			case <-ctx.Done():
			}

			return nil
		},
	}
}

func printRecoveryResult(output *Output, result recovery.Result) {
	if output.IsJSON() {
		output.JSON(result)
		return
	}

	switch result.State {
	case recovery.StateFreshStart:
		output.Success("No active setup, fresh start.")
	case recovery.StateResumed:
		output.Success("Setup %s resumed: %d leg(s) re-registered.", result.SpreadID, len(result.Registered))
	case recovery.StateClosedClean:
		if result.Outcome == recovery.OutcomeNoneOffline {
			output.Warning("Stale flag for %s cleared: no positions found at startup.", result.SpreadID)
		} else {
			output.Warning("Partial setup %s closed clean: tickets %v.", result.SpreadID, result.Closed)
		}
	case recovery.StateAlertedAwaitingUser:
		output.Error("Setup %s needs attention (%s). Investigate, then run 'pairbot flag clear'.",
			result.SpreadID, result.Outcome)
	default:
		output.Printf("Recovery state: %s\n", result.State)
	}
}
