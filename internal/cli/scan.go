package cli

import (
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a single scan tick and print its summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ScanOnce(cmd.Context(), cmd.OutOrStdout())
	},
}

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Show today's provider call budget and advisor spend",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Budget(cmd.Context(), cmd.OutOrStdout())
	},
}

var thresholdsCmd = &cobra.Command{
	Use:   "thresholds",
	Short: "Recompute and print the per-segment alert thresholds",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Thresholds(cmd.Context(), cmd.OutOrStdout())
	},
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Ask the advisor for route tier and frequency changes and apply them",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Optimize(cmd.Context(), cmd.OutOrStdout())
	},
}
