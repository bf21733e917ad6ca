package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"flight-deal-scanner/internal/app"
)

var (
	showLimit int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent deal candidates",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 || showLimit > 500 {
			return fmt.Errorf("--limit must be between 1 and 500")
		}

		opts := app.ShowOptions{
			Limit: showLimit,
		}

		return getApp().Show(cmd.Context(), opts, cmd.OutOrStdout())
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of candidates to display")
}
