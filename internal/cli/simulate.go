package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"flight-deal-scanner/internal/app"
)

var simulateOpts app.SimulateOptions

var simulateDealCmd = &cobra.Command{
	Use:   "simulate-deal",
	Short: "Plant a discounted fare on one route and run it through detection and alerting",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(simulateOpts.Origin) != 3 || len(simulateOpts.Destination) != 3 {
			return errors.New("--origin and --destination must be IATA codes")
		}
		return getApp().SimulateDeal(cmd.Context(), simulateOpts, cmd.OutOrStdout())
	},
}

func init() {
	simulateDealCmd.Flags().StringVar(&simulateOpts.Origin, "origin", "CDG", "Origin airport")
	simulateDealCmd.Flags().StringVar(&simulateOpts.Destination, "destination", "JFK", "Destination airport")
	simulateDealCmd.Flags().IntVar(&simulateOpts.Tier, "tier", 1, "Route tier (1-3)")
	simulateDealCmd.Flags().Float64Var(&simulateOpts.DiscountPct, "discount", 45, "Discount of the planted fare, in percent")
	simulateDealCmd.Flags().IntVar(&simulateOpts.Fares, "fares", 12, "Fares in the simulated batch (minimum 6)")
}
