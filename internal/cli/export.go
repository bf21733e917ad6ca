package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"flight-deal-scanner/internal/app"
)

var (
	exportFrom      string
	exportTo        string
	exportDays      int
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export daily provider call usage as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}

		if exportTo != "" {
			to, err := parseWhen(exportTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			opts.To = &to
		}

		switch {
		case exportFrom != "":
			from, err := parseWhen(exportFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			opts.From = &from
		case exportDays > 0:
			end := time.Now().UTC()
			if opts.To != nil {
				end = *opts.To
			}
			from := end.AddDate(0, 0, -exportDays)
			opts.From = &from
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

// parseWhen accepts a calendar day or an RFC3339 timestamp.
func parseWhen(v string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start day or timestamp (YYYY-MM-DD or RFC3339, inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End day or timestamp (YYYY-MM-DD or RFC3339, exclusive)")
	exportCmd.Flags().IntVar(&exportDays, "days", 30, "Window length in days when --from is not set")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum days to export (defaults to config)")
}
