package scanner

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flight-deal-scanner/internal/alerting"
	"flight-deal-scanner/internal/budget"
	"flight-deal-scanner/internal/domain"
	"flight-deal-scanner/internal/fetcher"
	"flight-deal-scanner/internal/metrics"
	"flight-deal-scanner/internal/storage"
	"flight-deal-scanner/internal/threshold"
)

var now = time.Date(2025, 9, 2, 10, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	mu    sync.Mutex
	calls []fetcher.Query
	fn    func(q fetcher.Query) fetcher.Result
}

func (f *fakeFetcher) Fetch(_ context.Context, q fetcher.Query) fetcher.Result {
	f.mu.Lock()
	f.calls = append(f.calls, q)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(q)
	}
	return fetcher.Result{Fares: flatFares(5, 100)}
}

func (f *fakeFetcher) routesFetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, q := range f.calls {
		out = append(out, q.Route.Key())
	}
	return out
}

func flatFares(n int, price int64) []domain.FareSample {
	out := make([]domain.FareSample, n)
	for i := range out {
		out[i] = domain.FareSample{Price: decimal.NewFromInt(price), Currency: "EUR"}
	}
	return out
}

// nine fares at 100 and one at 20: mean 92, std 24, z of the outlier -3.
func outlierFares() []domain.FareSample {
	fares := flatFares(9, 100)
	return append(fares, domain.FareSample{Price: decimal.NewFromInt(20), Currency: "EUR"})
}

func addRoute(t *testing.T, store *storage.MemoryStore, origin, dest string, tier domain.Tier, calls int, segments ...domain.Segment) domain.Route {
	t.Helper()
	r, err := store.UpsertRoute(context.Background(), domain.Route{
		Origin:                 origin,
		Destination:            dest,
		Tier:                   tier,
		BaseScanFrequencyHours: tier.DefaultFrequencyHours(),
		EstimatedCallsPerScan:  calls,
		Segments:               segments,
		Active:                 true,
	})
	require.NoError(t, err)
	return r
}

type harness struct {
	store     *storage.MemoryStore
	fetch     *fakeFetcher
	ledger    *budget.Ledger
	published []domain.DealCandidate
	mu        sync.Mutex
	logger    zerolog.Logger
}

func newHarness(cap int) *harness {
	return &harness{
		store:  storage.NewMemoryStore(),
		fetch:  &fakeFetcher{},
		ledger: budget.NewLedger(cap, time.UTC),
		logger: zerolog.Nop(),
	}
}

func (h *harness) scanner(opts Options) *Scanner {
	pub := alerting.NewFanout().
		Add(alerting.ChannelStore, alerting.NewStorePublisher(h.store, h.store)).
		Add("capture", alerting.PublisherFunc(func(_ context.Context, d domain.DealCandidate) error {
			h.mu.Lock()
			h.published = append(h.published, d)
			h.mu.Unlock()
			return nil
		}))
	return New(opts, Deps{
		Store:      h.store,
		Fetcher:    h.fetch,
		Thresholds: threshold.NewEngine(threshold.DefaultOptions(), h.store, zerolog.Nop()),
		Publisher:  pub,
		Ledger:     h.ledger,
		Locker:     h.store,
		Metrics:    metrics.New(),
	}, h.logger)
}

func TestDueRoutes(t *testing.T) {
	routes := []domain.Route{
		{ID: 3, Tier: domain.Tier2, BaseScanFrequencyHours: 6, Active: true},
		{ID: 1, Tier: domain.Tier1, BaseScanFrequencyHours: 3, Active: true, LastScanAt: now.Add(-time.Hour)},
		{ID: 2, Tier: domain.Tier1, BaseScanFrequencyHours: 3, Active: true, LastScanAt: now.Add(-3 * time.Hour)},
		{ID: 4, Tier: domain.Tier1, BaseScanFrequencyHours: 3, Active: false},
		{ID: 5, Tier: domain.Tier1, BaseScanFrequencyHours: 3, Active: true},
	}
	// Tuesday 10:00 is prime: effective interval 3h/1.5 = 2h
	due := DueRoutes(routes, now, time.UTC)
	ids := make([]int64, 0, len(due))
	for _, r := range due {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int64{2, 5, 3}, ids)
}

func TestTickBudgetStarvesLowerTiers(t *testing.T) {
	h := newHarness(4)
	t1 := addRoute(t, h.store, "CDG", "JFK", domain.Tier1, 3)
	addRoute(t, h.store, "ORY", "MAD", domain.Tier2, 2)
	addRoute(t, h.store, "CDG", "BCN", domain.Tier3, 1)

	cycle, err := h.scanner(Options{MaxConcurrency: 1}).Tick(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 3, cycle.Due)
	assert.Equal(t, 1, cycle.Attempted)
	assert.Equal(t, 2, cycle.SkippedBudget, "tier 3 skipped after tier 2 refusal even though it would fit")
	assert.Equal(t, 3, cycle.CallsConsumed)
	assert.Equal(t, 3, h.ledger.TotalToday(now))

	for _, key := range h.fetch.routesFetched() {
		assert.Equal(t, t1.Key(), key)
	}
}

func TestTickReservationsAreNotLost(t *testing.T) {
	h := newHarness(1000)
	want := 0
	origins := []string{"CDG", "ORY", "LYS", "NCE", "MRS", "TLS", "BOD", "NTE"}
	dests := []string{"JFK", "MAD", "BCN", "LIS"}
	for i, o := range origins {
		for j, d := range dests {
			calls := 1 + (i+j)%3
			addRoute(t, h.store, o, d, domain.Tier((i+j)%3+1), calls)
			want += calls
		}
	}

	cycle, err := h.scanner(Options{MaxConcurrency: 8}).Tick(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, len(origins)*len(dests), cycle.Attempted)
	assert.Equal(t, want, cycle.CallsConsumed)
	assert.Equal(t, want, h.ledger.TotalToday(now))
	assert.Len(t, h.fetch.routesFetched(), want, "one fetch per estimated call")
}

func TestTickPublishesCandidatesPerSegment(t *testing.T) {
	h := newHarness(100)
	h.fetch.fn = func(fetcher.Query) fetcher.Result { return fetcher.Result{Fares: outlierFares(), Synthetic: true} }
	route := addRoute(t, h.store, "CDG", "JFK", domain.Tier1, 1, domain.SegmentPremium, domain.SegmentFree)

	cycle, err := h.scanner(Options{}).Tick(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 1, cycle.Anomalies)
	assert.Equal(t, 2, cycle.CandidatesSent)
	require.Len(t, h.published, 2)
	for _, d := range h.published {
		assert.Equal(t, cycle.ID, d.CycleID)
		assert.Equal(t, route.ID, d.Route.ID)
		assert.Equal(t, domain.RecommendSend, d.Recommendation)
		assert.InDelta(t, -3.0, d.ZScore, 1e-9)
		assert.True(t, d.Synthetic)
		assert.NotEmpty(t, d.ID)
	}

	deals, err := h.store.ListRecentDeals(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, deals, 2)

	latest, err := h.store.LatestScanCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cycle.ID, latest.ID)

	baseline, ok, err := h.store.RouteBaseline(context.Background(), route.ID, now.Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 92.0, baseline, 1e-9)
}

func TestTickLogsEmptyValidation(t *testing.T) {
	var logs bytes.Buffer
	h := newHarness(100)
	h.logger = zerolog.New(&logs).Level(zerolog.InfoLevel)
	addRoute(t, h.store, "CDG", "JFK", domain.Tier1, 1)

	cycle, err := h.scanner(Options{}).Tick(context.Background(), now)
	require.NoError(t, err)
	assert.Zero(t, cycle.Anomalies)
	assert.Empty(t, h.published)

	assert.Contains(t, logs.String(), `"message":"validation finished: no anomalies in fare batch"`)
	assert.Contains(t, logs.String(), `"route":"CDG-JFK"`)
	assert.Contains(t, logs.String(), `"fares":5`)
}

func TestTickMarksRoutesAndRespectsInterval(t *testing.T) {
	h := newHarness(100)
	addRoute(t, h.store, "CDG", "JFK", domain.Tier1, 2)
	s := h.scanner(Options{})

	first, err := s.Tick(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Succeeded)

	second, err := s.Tick(context.Background(), now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, second.Due)
	assert.Equal(t, 2, h.ledger.TotalToday(now))
}

func TestTickFailedPassKeepsLastScan(t *testing.T) {
	h := newHarness(100)
	bad := addRoute(t, h.store, "CDG", "JFK", domain.Tier1, 1)
	good := addRoute(t, h.store, "ORY", "MAD", domain.Tier1, 1)
	h.fetch.fn = func(q fetcher.Query) fetcher.Result {
		if q.Route.ID == bad.ID {
			panic("provider decoder exploded")
		}
		return fetcher.Result{Fares: flatFares(5, 100)}
	}

	cycle, err := h.scanner(Options{}).Tick(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, cycle.Failed)
	assert.Equal(t, 1, cycle.Succeeded)

	routes, err := h.store.ListRoutes(context.Background(), true)
	require.NoError(t, err)
	for _, r := range routes {
		switch r.ID {
		case bad.ID:
			assert.True(t, r.LastScanAt.IsZero())
		case good.ID:
			assert.Equal(t, now, r.LastScanAt)
		}
	}
}

func TestTickHaltsDispatchOnLedgerFailure(t *testing.T) {
	h := newHarness(100)
	addRoute(t, h.store, "CDG", "JFK", domain.Tier1, 3)
	addRoute(t, h.store, "ORY", "MAD", domain.Tier2, 1)
	addRoute(t, h.store, "CDG", "BCN", domain.Tier3, 1)
	h.fetch.fn = func(fetcher.Query) fetcher.Result {
		return fetcher.Result{Fares: flatFares(5, 100), RecordErr: errors.New("ledger insert failed")}
	}

	cycle, err := h.scanner(Options{MaxConcurrency: 1}).Tick(context.Background(), now)
	require.NoError(t, err)
	assert.True(t, cycle.Halted)
	assert.Equal(t, 1, cycle.Attempted)
	assert.Len(t, h.fetch.routesFetched(), 1, "remaining date offsets stop too")
	assert.Contains(t, cycle.HaltReason, "ledger insert failed")
}

func TestTickGuards(t *testing.T) {
	h := newHarness(100)
	addRoute(t, h.store, "CDG", "JFK", domain.Tier1, 1)
	s := h.scanner(Options{LockKey: 42})

	s.running.Store(true)
	_, err := s.Tick(context.Background(), now)
	require.ErrorIs(t, err, ErrTickInFlight)
	s.running.Store(false)

	unlock, ok, err := h.store.TryAdvisoryLock(context.Background(), 42)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = s.Tick(context.Background(), now)
	require.ErrorIs(t, err, ErrTickInFlight)
	unlock()

	_, err = s.Tick(context.Background(), now)
	require.NoError(t, err)
}

func TestTickConcurrentCallsOnlyOneRuns(t *testing.T) {
	h := newHarness(100)
	addRoute(t, h.store, "CDG", "JFK", domain.Tier1, 1)
	release := make(chan struct{})
	var entered int32
	h.fetch.fn = func(fetcher.Query) fetcher.Result {
		if atomic.AddInt32(&entered, 1) == 1 {
			<-release
		}
		return fetcher.Result{Fares: flatFares(5, 100)}
	}
	s := h.scanner(Options{})

	done := make(chan error, 1)
	go func() {
		_, err := s.Tick(context.Background(), now)
		done <- err
	}()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&entered) == 1 }, time.Second, 5*time.Millisecond)

	_, err := s.Tick(context.Background(), now)
	require.ErrorIs(t, err, ErrTickInFlight)

	close(release)
	require.NoError(t, <-done)
}

func TestHydrateFromPersistedCycles(t *testing.T) {
	h := newHarness(100)
	require.NoError(t, h.store.InsertScanCycle(context.Background(), domain.ScanCycle{ID: "y", StartedAt: now.Add(-24 * time.Hour), CallsConsumed: 50}))
	require.NoError(t, h.store.InsertScanCycle(context.Background(), domain.ScanCycle{ID: "a", StartedAt: now.Add(-2 * time.Hour), CallsConsumed: 30}))
	require.NoError(t, h.store.InsertScanCycle(context.Background(), domain.ScanCycle{ID: "b", StartedAt: now.Add(-time.Hour), CallsConsumed: 10}))

	require.NoError(t, h.scanner(Options{}).Hydrate(context.Background(), now))
	assert.Equal(t, 40, h.ledger.TotalToday(now))
	assert.Equal(t, 60, h.ledger.Remaining(now))
}
