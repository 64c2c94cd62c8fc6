package cli

import (
	"github.com/spf13/cobra"
)

func newPositionsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "Show live broker positions for the configured pair",
		Example: `  pairbot positions
  pairbot positions --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			if err := app.Connector.Connect(ctx); err != nil {
				output.Error("Broker connection failed: %v", err)
				return err
			}
			defer app.Connector.Disconnect()

			positions, err := app.Connector.GetOpenPositions(ctx, app.Config.Pair.Symbols())
			if err != nil {
				output.Error("Position query failed: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(positions)
			}

			if len(positions) == 0 {
				output.Dim("No open positions on %s/%s.",
					app.Config.Pair.PrimarySymbol, app.Config.Pair.SecondarySymbol)
				return nil
			}

			output.Bold("Open positions:")
			for _, p := range positions {
				output.Printf("  #%d %s %s %.2f\n", p.Ticket, p.Symbol, p.Side, p.Volume)
			}
			return nil
		},
	}
}
