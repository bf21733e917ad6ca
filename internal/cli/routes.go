package cli

import (
	"github.com/spf13/cobra"
)

var (
	seedPrune     bool
	migrationsDir string
)

var seedRoutesCmd = &cobra.Command{
	Use:   "seed-routes",
	Short: "Upsert the strategic route catalogue",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SeedRoutes(cmd.Context(), seedPrune, cmd.OutOrStdout())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply SQL migrations to the configured database",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Migrate(cmd.Context(), migrationsDir, cmd.OutOrStdout())
	},
}

func init() {
	seedRoutesCmd.Flags().BoolVar(&seedPrune, "prune", false, "Deactivate active routes missing from the catalogue")
	migrateCmd.Flags().StringVar(&migrationsDir, "dir", "", "Migrations directory (defaults to database.migrations_path)")
}
