// Package scanner runs scan cycles: it picks due routes, reserves budget in
// tier order, fans route passes out and publishes validated deal candidates.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"flight-deal-scanner/internal/alerting"
	"flight-deal-scanner/internal/anomaly"
	"flight-deal-scanner/internal/budget"
	"flight-deal-scanner/internal/domain"
	"flight-deal-scanner/internal/fetcher"
	"flight-deal-scanner/internal/metrics"
	"flight-deal-scanner/internal/primehours"
	"flight-deal-scanner/internal/storage"
	"flight-deal-scanner/internal/threshold"
)

const dateLayout = "2006-01-02"

// ErrTickInFlight is returned when another tick holds the guard or the advisory lock.
var ErrTickInFlight = errors.New("scanner: tick already in progress")

// CycleSummary is the outcome of one tick.
type CycleSummary = domain.ScanCycle

// Fetcher is the fare source used by route passes.
type Fetcher interface {
	Fetch(ctx context.Context, q fetcher.Query) fetcher.Result
}

// Store is the persistence surface the scanner touches.
type Store interface {
	storage.RouteStore
	storage.PriceHistoryStore
	storage.ScanCycleStore
}

// Options tune route passes.
type Options struct {
	MaxConcurrency    int
	PassTimeout       time.Duration
	DepartureLeadDays int
	DateStepDays      int
	Adults            int
	Cabin             string
	Currency          string
	BaselineWindow    time.Duration
	Location          *time.Location
	LockKey           int64
}

// Deps are the collaborators of a Scanner.
type Deps struct {
	Store      Store
	Fetcher    Fetcher
	Detector   *anomaly.Detector
	Thresholds *threshold.Engine
	Publisher  alerting.Publisher
	Ledger     *budget.Ledger
	Locker     storage.AdvisoryLocker
	Metrics    *metrics.Metrics
}

// Scanner is built once per process and holds the budget ledger for its lifetime.
type Scanner struct {
	opts   Options
	deps   Deps
	logger zerolog.Logger

	running atomic.Bool
	newID   func() string
}

// New constructs a Scanner.
func New(opts Options, deps Deps, logger zerolog.Logger) *Scanner {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 8
	}
	if opts.PassTimeout <= 0 {
		opts.PassTimeout = 3 * time.Minute
	}
	if opts.DepartureLeadDays <= 0 {
		opts.DepartureLeadDays = 7
	}
	if opts.DateStepDays <= 0 {
		opts.DateStepDays = 7
	}
	if opts.BaselineWindow <= 0 {
		opts.BaselineWindow = 30 * 24 * time.Hour
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if deps.Detector == nil {
		deps.Detector = anomaly.NewDetector(anomaly.DefaultCutoff)
	}
	return &Scanner{
		opts:   opts,
		deps:   deps,
		logger: logger.With().Str("component", "scanner").Logger(),
		newID:  func() string { return uuid.NewString() },
	}
}

// Ledger exposes the budget ledger for status endpoints.
func (s *Scanner) Ledger() *budget.Ledger {
	return s.deps.Ledger
}

// Hydrate seeds the ledger with calls already reserved today by persisted cycles.
func (s *Scanner) Hydrate(ctx context.Context, now time.Time) error {
	start := s.deps.Ledger.StartOfDay(now)
	calls, err := s.deps.Store.CallsConsumedSince(ctx, start)
	if err != nil {
		return fmt.Errorf("load calls consumed today: %w", err)
	}
	s.deps.Ledger.Hydrate(now, int(calls))
	s.logger.Info().
		Int64("calls", calls).
		Int("cap", s.deps.Ledger.Cap()).
		Time("since", start).
		Msg("budget ledger hydrated")
	s.publishBudget(now)
	return nil
}

// Tick runs one scan cycle at now.
func (s *Scanner) Tick(ctx context.Context, now time.Time) (CycleSummary, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped("previous tick still running")
		return CycleSummary{}, ErrTickInFlight
	}
	defer s.running.Store(false)

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return CycleSummary{}, err
	}
	if !proceed {
		s.skipped("advisory lock held elsewhere")
		return CycleSummary{}, ErrTickInFlight
	}
	if unlock != nil {
		defer unlock()
	}

	return s.runCycle(ctx, now)
}

func (s *Scanner) skipped(reason string) {
	s.logger.Info().Str("reason", reason).Msg("scan tick skipped")
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveSkippedCycle()
	}
}

func (s *Scanner) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func (s *Scanner) runCycle(ctx context.Context, now time.Time) (CycleSummary, error) {
	local := now.In(s.opts.Location)
	cycle := CycleSummary{
		ID:          s.newID(),
		StartedAt:   now,
		PrimeStatus: string(primehours.CurrentStatus(local)),
	}
	cycleID := cycle.ID
	started := time.Now()
	logger := s.logger.With().Str("cycle_id", cycleID).Logger()

	if s.deps.Thresholds != nil {
		if snap, err := s.deps.Thresholds.Recalculate(ctx, now); err == nil && s.deps.Metrics != nil {
			s.deps.Metrics.SetThresholds(snap.Thresholds)
		}
	}

	routes, err := s.deps.Store.ListRoutes(ctx, true)
	if err != nil {
		return cycle, fmt.Errorf("list active routes: %w", err)
	}
	due := DueRoutes(routes, now, s.opts.Location)
	cycle.Due = len(due)

	var (
		mu      sync.Mutex
		halted  atomic.Bool
		haltErr error
	)
	record := func(out passOutcome) {
		mu.Lock()
		defer mu.Unlock()
		if out.err != nil {
			cycle.Failed++
		} else {
			cycle.Succeeded++
		}
		cycle.Anomalies += out.anomalies
		cycle.CandidatesSent += out.sent
		cycle.CandidatesHeld += out.held
		if out.recordErr != nil && haltErr == nil {
			haltErr = out.recordErr
			halted.Store(true)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	slots := make(chan struct{}, s.opts.MaxConcurrency)

	blockedTier := domain.Tier(0)
	for _, route := range due {
		if blockedTier != 0 && route.Tier > blockedTier {
			cycle.SkippedBudget++
			logger.Debug().Str("route", route.Key()).Int("tier", int(route.Tier)).Msg("lower tier skipped after budget refusal")
			continue
		}

		// a free slot first, so a ledger failure seen by an earlier pass stops this one
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil || halted.Load() {
			break
		}

		calls := route.EstimatedCallsPerScan
		if !s.deps.Ledger.TryReserve(route.ID, calls, now) {
			<-slots
			cycle.SkippedBudget++
			if blockedTier == 0 {
				blockedTier = route.Tier
			}
			logger.Info().
				Str("route", route.Key()).
				Int("tier", int(route.Tier)).
				Int("calls", calls).
				Int("remaining", s.deps.Ledger.Remaining(now)).
				Msg("budget exhausted for route")
			continue
		}

		mu.Lock()
		cycle.Attempted++
		cycle.CallsConsumed += calls
		mu.Unlock()

		g.Go(func() error {
			defer func() { <-slots }()
			record(s.safePass(gctx, cycleID, route, now))
			return nil
		})
	}
	_ = g.Wait()

	if haltErr != nil {
		cycle.Halted = true
		cycle.HaltReason = haltErr.Error()
		logger.Error().Err(haltErr).Msg("call ledger write failed, dispatch halted")
	}
	cycle.FinishedAt = now.Add(time.Since(started))

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.deps.Store.InsertScanCycle(persistCtx, cycle); err != nil {
		logger.Error().Err(err).Msg("persist scan cycle failed")
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveCycle(cycle)
	}
	s.publishBudget(now)

	logger.Info().
		Str("prime_status", cycle.PrimeStatus).
		Int("due", cycle.Due).
		Int("attempted", cycle.Attempted).
		Int("succeeded", cycle.Succeeded).
		Int("failed", cycle.Failed).
		Int("skipped_budget", cycle.SkippedBudget).
		Int("anomalies", cycle.Anomalies).
		Int("sent", cycle.CandidatesSent).
		Int("held", cycle.CandidatesHeld).
		Int("calls", cycle.CallsConsumed).
		Int("budget_remaining", s.deps.Ledger.Remaining(now)).
		Bool("halted", cycle.Halted).
		Msg("scan cycle finished")
	return cycle, nil
}

func (s *Scanner) publishBudget(now time.Time) {
	if s.deps.Metrics == nil {
		return
	}
	s.deps.Metrics.SetBudget(s.deps.Ledger.TotalToday(now), s.deps.Ledger.Remaining(now))
}

// DueRoutes returns routes whose effective interval has elapsed, ordered by tier then ID.
// Routes never scanned are always due.
func DueRoutes(routes []domain.Route, now time.Time, loc *time.Location) []domain.Route {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	due := make([]domain.Route, 0, len(routes))
	for _, r := range routes {
		if !r.Active {
			continue
		}
		if r.LastScanAt.IsZero() || now.Sub(r.LastScanAt) >= primehours.EffectiveDuration(local, r.BaseScanFrequencyHours) {
			due = append(due, r)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		if due[i].Tier != due[j].Tier {
			return due[i].Tier < due[j].Tier
		}
		return due[i].ID < due[j].ID
	})
	return due
}

type passOutcome struct {
	anomalies int
	sent      int
	held      int
	err       error
	recordErr error
}

func (s *Scanner) safePass(ctx context.Context, cycleID string, route domain.Route, now time.Time) (out passOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out.err = fmt.Errorf("route pass panic: %v", r)
			s.logger.Error().
				Str("route", route.Key()).
				Str("stack", string(debug.Stack())).
				Interface("panic", r).
				Msg("route pass panicked")
		}
	}()

	passCtx, cancel := context.WithTimeout(ctx, s.opts.PassTimeout)
	defer cancel()

	out = s.pass(passCtx, cycleID, route, now)
	if out.err != nil {
		s.logger.Warn().Err(out.err).Str("route", route.Key()).Msg("route pass failed")
	}
	return out
}

// pass fetches one fare batch per departure offset, detects anomalies per
// batch and validates every anomaly for each target segment.
func (s *Scanner) pass(ctx context.Context, cycleID string, route domain.Route, now time.Time) passOutcome {
	var out passOutcome
	logger := s.logger.With().Str("cycle_id", cycleID).Str("route", route.Key()).Logger()

	baseline := s.baseline(ctx, route, now)
	local := now.In(s.opts.Location)

	var (
		priceSum float64
		samples  int
	)
	for i := 0; i < route.EstimatedCallsPerScan; i++ {
		if err := ctx.Err(); err != nil {
			out.err = err
			return out
		}
		departure := local.AddDate(0, 0, s.opts.DepartureLeadDays+i*s.opts.DateStepDays)
		res := s.deps.Fetcher.Fetch(ctx, fetcher.Query{
			Route:         route,
			DepartureDate: departure.Format(dateLayout),
			Adults:        s.opts.Adults,
			Cabin:         s.opts.Cabin,
			Currency:      s.opts.Currency,
		})
		if res.RecordErr != nil {
			out.recordErr = res.RecordErr
		}
		if len(res.Fares) == 0 {
			continue
		}

		for _, f := range res.Fares {
			priceSum += f.PriceFloat()
		}
		samples += len(res.Fares)

		detection := s.deps.Detector.Detect(res.Fares)
		out.anomalies += len(detection.Anomalies)
		if len(detection.Anomalies) == 0 {
			logger.Info().
				Str("departure", departure.Format(dateLayout)).
				Int("fares", len(res.Fares)).
				Int("candidates", 0).
				Msg("validation finished: no anomalies in fare batch")
		}
		for _, a := range detection.Anomalies {
			for _, seg := range route.TargetSegments() {
				deal := s.validate(cycleID, route, a, seg, baseline, res.Synthetic, now)
				if err := s.publish(ctx, deal); err != nil {
					logger.Warn().Err(err).Str("deal_id", deal.ID).Msg("publish deal candidate failed")
				}
				if deal.Sendable() {
					out.sent++
				} else {
					out.held++
				}
			}
		}

		if out.recordErr != nil {
			break
		}
	}

	if err := s.deps.Store.MarkRouteScanned(ctx, route.ID, now); err != nil {
		out.err = fmt.Errorf("mark route scanned: %w", err)
		return out
	}
	if samples > 0 {
		if err := s.deps.Store.AppendRoutePrice(ctx, route.ID, priceSum/float64(samples), samples, now); err != nil {
			logger.Warn().Err(err).Msg("append route price failed")
		}
	}

	logger.Debug().
		Int("samples", samples).
		Int("anomalies", out.anomalies).
		Int("sent", out.sent).
		Int("held", out.held).
		Msg("route pass finished")
	return out
}

func (s *Scanner) baseline(ctx context.Context, route domain.Route, now time.Time) float64 {
	mean, ok, err := s.deps.Store.RouteBaseline(ctx, route.ID, now.Add(-s.opts.BaselineWindow))
	if err != nil {
		s.logger.Warn().Err(err).Str("route", route.Key()).Msg("route baseline unavailable")
		return 0
	}
	if !ok {
		return 0
	}
	return mean
}

func (s *Scanner) validate(cycleID string, route domain.Route, a anomaly.Anomaly, seg domain.Segment, baseline float64, synthetic bool, now time.Time) domain.DealCandidate {
	in := threshold.Input{
		Route:         route,
		Fare:          a.Fare,
		ZScore:        a.ZScore,
		DiscountPct:   a.DiscountPct,
		Segment:       seg,
		BaselinePrice: baseline,
	}
	var decision threshold.Decision
	if s.deps.Thresholds != nil {
		decision = s.deps.Thresholds.Validate(in)
	} else {
		decision = threshold.Evaluate(in, threshold.DefaultOptions().Defaults[seg])
	}

	return domain.DealCandidate{
		ID:                    s.newID(),
		CycleID:               cycleID,
		Route:                 route,
		Fare:                  a.Fare,
		Segment:               seg,
		ZScore:                a.ZScore,
		DiscountPct:           a.DiscountPct,
		ValidationScore:       decision.Score,
		Recommendation:        decision.Recommendation,
		ValidationMethod:      decision.Method,
		AdaptiveThresholdUsed: decision.ThresholdUsed,
		Synthetic:             synthetic,
		DetectedAt:            now,
	}
}

func (s *Scanner) publish(ctx context.Context, deal domain.DealCandidate) error {
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveCandidate(deal)
	}
	if s.deps.Publisher == nil {
		return nil
	}
	return s.deps.Publisher.Publish(ctx, deal)
}
