package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"flight-deal-scanner/internal/domain"
	"flight-deal-scanner/internal/storage"
)

// Export renders daily provider call usage as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	defer closeStore()

	return a.export(ctx, store, time.Now().UTC(), opts)
}

func (a *App) export(ctx context.Context, store storage.CallUsageStore, now time.Time, opts ExportOptions) error {
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := now
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.AddDate(0, 0, -30)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	days, err := store.DailyCallUsage(ctx, from, to)
	if err != nil {
		return err
	}
	if len(days) == 0 {
		a.Logger.Info().Msg("no call usage found for export window")
		return nil
	}

	downsampled := downsampleUsage(days, opts.MaxPoints)
	a.Logger.Info().Int("total", len(days)).Int("exported", len(downsampled)).Msg("exporting call usage")

	if opts.CSVPath != "" {
		if err := writeUsageCSV(opts.CSVPath, downsampled, a.Config.Budget.ResolveDailyCap()); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeUsagePNG(opts.PNGPath, downsampled, a.Config.Budget.ResolveDailyCap()); err != nil {
			return err
		}
	}

	return nil
}

func downsampleUsage(days []domain.DailyCallUsage, max int) []domain.DailyCallUsage {
	if max <= 0 || len(days) <= max {
		return days
	}
	if max == 1 {
		return days[len(days)-1:]
	}

	result := make([]domain.DailyCallUsage, 0, max)
	step := float64(len(days)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(days) {
			idx = len(days) - 1
		}
		result = append(result, days[idx])
	}
	return result
}

func writeUsageCSV(path string, days []domain.DailyCallUsage, dailyCap int) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"day", "calls", "failures", "synthetic", "daily_cap", "utilisation_pct"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, d := range days {
		utilisation := 0.0
		if dailyCap > 0 {
			utilisation = float64(d.Calls) / float64(dailyCap) * 100
		}
		record := []string{
			d.Day.Format("2006-01-02"),
			strconv.FormatInt(d.Calls, 10),
			strconv.FormatInt(d.Failures, 10),
			strconv.FormatInt(d.Synthetic, 10),
			strconv.Itoa(dailyCap),
			strconv.FormatFloat(utilisation, 'f', 2, 64),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeUsagePNG(path string, days []domain.DailyCallUsage, dailyCap int) error {
	if len(days) < 2 {
		return errors.New("a chart needs at least two days of usage")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(days))
	calls := make([]float64, len(days))
	failures := make([]float64, len(days))
	synthetic := make([]float64, len(days))
	capLine := make([]float64, len(days))

	for i, d := range days {
		x[i] = d.Day
		calls[i] = float64(d.Calls)
		failures[i] = float64(d.Failures)
		synthetic[i] = float64(d.Synthetic)
		capLine[i] = float64(dailyCap)
	}

	countFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Provider calls",
			ValueFormatter: countFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Calls",
				XValues: x,
				YValues: calls,
			},
			chart.TimeSeries{
				Name:    "Failures",
				XValues: x,
				YValues: failures,
			},
			chart.TimeSeries{
				Name:    "Synthetic",
				XValues: x,
				YValues: synthetic,
			},
			chart.TimeSeries{
				Name:    "Daily cap",
				XValues: x,
				YValues: capLine,
				Style: chart.Style{
					StrokeDashArray: []float64{5, 5},
				},
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
