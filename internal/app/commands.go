package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"flight-deal-scanner/internal/catalog"
	"flight-deal-scanner/internal/domain"
	"flight-deal-scanner/internal/primehours"
	"flight-deal-scanner/internal/storage"
)

// ScanOnce runs a single scan tick and prints its summary.
func (a *App) ScanOnce(ctx context.Context, out io.Writer) error {
	st, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	return a.scanOnce(ctx, st, time.Now().UTC(), out)
}

func (a *App) scanOnce(ctx context.Context, st *stack, now time.Time, out io.Writer) error {
	if err := st.scanner.Hydrate(ctx, now); err != nil {
		return err
	}
	cycle, err := st.scanner.Tick(ctx, now)
	if err != nil {
		return err
	}
	printCycle(out, cycle)
	return nil
}

func printCycle(out io.Writer, c domain.ScanCycle) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Cycle\t%s\n", c.ID)
	fmt.Fprintf(w, "Prime status\t%s\n", c.PrimeStatus)
	fmt.Fprintf(w, "Due\t%d\n", c.Due)
	fmt.Fprintf(w, "Attempted\t%d\n", c.Attempted)
	fmt.Fprintf(w, "Succeeded\t%d\n", c.Succeeded)
	fmt.Fprintf(w, "Failed\t%d\n", c.Failed)
	fmt.Fprintf(w, "Skipped (budget)\t%d\n", c.SkippedBudget)
	fmt.Fprintf(w, "Anomalies\t%d\n", c.Anomalies)
	fmt.Fprintf(w, "Candidates sent\t%d\n", c.CandidatesSent)
	fmt.Fprintf(w, "Candidates held\t%d\n", c.CandidatesHeld)
	fmt.Fprintf(w, "Calls consumed\t%d\n", c.CallsConsumed)
	if c.Halted {
		fmt.Fprintf(w, "Halted\t%s\n", sanitizeInline(c.HaltReason))
	}
	w.Flush()
}

// Budget prints the provider call ledger and the 30-day advisor spend.
func (a *App) Budget(ctx context.Context, out io.Writer) error {
	st, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	return a.printBudget(ctx, st, time.Now().UTC(), out)
}

func (a *App) printBudget(ctx context.Context, st *stack, now time.Time, out io.Writer) error {
	if err := st.scanner.Hydrate(ctx, now); err != nil {
		return err
	}
	snap := st.ledger.Snapshot(now)
	local := now.In(a.Config.App.Location())

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Daily cap\t%d\n", snap.DailyBudgetCap)
	fmt.Fprintf(w, "Used today\t%d\n", snap.TotalCallsToday)
	fmt.Fprintf(w, "Remaining\t%d\n", snap.Remaining)
	fmt.Fprintf(w, "Prime status\t%s (x%.1f)\n", primehours.CurrentStatus(local), primehours.Multiplier(local))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Advisor\tCalls\tCost (30d)")
	for _, u := range st.tracker.BudgetStatus(ctx, now) {
		fmt.Fprintf(w, "%s\t%d\t%s\n", u.Model, u.Calls, u.Cost.StringFixed(4))
	}
	return w.Flush()
}

// Thresholds recomputes and prints the per-segment thresholds.
func (a *App) Thresholds(ctx context.Context, out io.Writer) error {
	st, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	snap, err := st.thresholds.Refresh(ctx, time.Now().UTC())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "Segment\tThreshold %")
	for _, seg := range domain.AllSegments() {
		fmt.Fprintf(w, "%s\t%.2f\n", seg, snap.Thresholds[seg])
	}
	return w.Flush()
}

// Optimize runs one advisor reoptimization and prints the applied changes.
func (a *App) Optimize(ctx context.Context, out io.Writer) error {
	st, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	if st.optimizer == nil {
		return errors.New("advisor not enabled; set advisor.enabled and advisor.api_key")
	}

	plan, err := st.optimizer.Reoptimize(ctx)
	if err != nil {
		return err
	}
	if len(plan.Changes) == 0 {
		fmt.Fprintln(out, "no schedule changes suggested")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Model %s, %d tokens\n", plan.Model, plan.Tokens)
	fmt.Fprintln(w, "Route\tTier\tFrequency (h)\tReason")
	for _, c := range plan.Changes {
		fmt.Fprintf(w, "%d\t%d\t%.0f\t%s\n", c.RouteID, c.Tier, c.FrequencyHours, sanitizeInline(c.Reason))
	}
	return w.Flush()
}

// SeedRoutes upserts the strategic route catalogue.
func (a *App) SeedRoutes(ctx context.Context, prune bool, out io.Writer) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot seed routes")
	}
	defer closeStore()
	return a.seedRoutes(ctx, store, prune, out)
}

func (a *App) seedRoutes(ctx context.Context, store storage.RouteStore, prune bool, out io.Writer) error {
	routes := catalog.Strategic()
	report, err := catalog.Seed(ctx, store, routes, prune, a.Logger)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Upserted %d routes, deactivated %d\n", report.Upserted, report.Deactivated)
	fmt.Fprintln(w, "Tier\tRoutes\tCalls/scan\tCalls/day")
	var total float64
	for _, s := range catalog.Summarize(routes) {
		fmt.Fprintf(w, "%d\t%d\t%d\t%.0f\n", s.Tier, s.Routes, s.CallsPerScan, s.CallsPerDay)
		total += s.CallsPerDay
	}
	fmt.Fprintf(w, "total\t\t\t%.0f (cap %d)\n", total, a.Config.Budget.ResolveDailyCap())
	return w.Flush()
}

// Migrate applies the SQL files under dir, or database.migrations_path when dir is empty.
func (a *App) Migrate(ctx context.Context, dir string, out io.Writer) error {
	if a.Config.Database.DSN == "" {
		return errors.New("database not configured; cannot migrate")
	}
	if dir == "" {
		dir = a.Config.Database.MigrationsPath
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	applied, err := storage.ApplyMigrations(ctx, pool, dir)
	if err != nil {
		return err
	}
	for _, name := range applied {
		fmt.Fprintf(out, "applied %s\n", name)
	}
	a.Logger.Info().Int("files", len(applied)).Str("dir", dir).Msg("migrations applied")
	return nil
}
