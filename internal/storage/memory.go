package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"flight-deal-scanner/internal/domain"
)

var (
	_ Repository     = (*MemoryStore)(nil)
	_ AdvisoryLocker = (*MemoryStore)(nil)
)

type priceRow struct {
	routeID int64
	mean    float64
	samples int
	at      time.Time
}

type outcomeRow struct {
	dealID    string
	segment   domain.Segment
	sentAt    time.Time
	opened    bool
	clicked   bool
	converted bool
}

// Optimization is an applied advisor plan kept by MemoryStore.
type Optimization struct {
	Model   string
	Changes []domain.ScheduleChange
}

// MemoryStore is an in-process Repository used by simulations and tests.
type MemoryStore struct {
	mu            sync.Mutex
	nextRouteID   int64
	routes        map[int64]domain.Route
	calls         []domain.CallUsageRecord
	advisor       []domain.AdvisorUsageRecord
	outcomes      []outcomeRow
	prices        []priceRow
	deals         []domain.DealCandidate
	cycles        []domain.ScanCycle
	optimizations []Optimization
	locks         map[int64]bool
	faults        map[string]error
	now           func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		routes: make(map[int64]domain.Route),
		locks:  make(map[int64]bool),
		faults: make(map[string]error),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetFault makes the named operation fail with err until cleared with a nil err.
func (m *MemoryStore) SetFault(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.faults, op)
		return
	}
	m.faults[op] = err
}

func (m *MemoryStore) fault(op string) error {
	return m.faults[op]
}

// TryAdvisoryLock emulates a session advisory lock within the process.
func (m *MemoryStore) TryAdvisoryLock(_ context.Context, key int64) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[key] {
		return nil, false, nil
	}
	m.locks[key] = true
	return func() {
		m.mu.Lock()
		delete(m.locks, key)
		m.mu.Unlock()
	}, true, nil
}

// ListRoutes returns routes ordered by tier then ID.
func (m *MemoryStore) ListRoutes(_ context.Context, activeOnly bool) ([]domain.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("ListRoutes"); err != nil {
		return nil, err
	}

	out := make([]domain.Route, 0, len(m.routes))
	for _, r := range m.routes {
		if activeOnly && !r.Active {
			continue
		}
		out = append(out, cloneRoute(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpsertRoute inserts or updates by origin/destination.
func (m *MemoryStore) UpsertRoute(_ context.Context, route domain.Route) (domain.Route, error) {
	if err := route.Validate(); err != nil {
		return domain.Route{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for id, existing := range m.routes {
		if existing.Origin == route.Origin && existing.Destination == route.Destination {
			route.ID = id
			route.CreatedAt = existing.CreatedAt
			route.LastScanAt = existing.LastScanAt
			route.UpdatedAt = now
			m.routes[id] = cloneRoute(route)
			return cloneRoute(route), nil
		}
	}

	m.nextRouteID++
	route.ID = m.nextRouteID
	route.CreatedAt = now
	route.UpdatedAt = now
	m.routes[route.ID] = cloneRoute(route)
	return cloneRoute(route), nil
}

// MarkRouteScanned stamps LastScanAt.
func (m *MemoryStore) MarkRouteScanned(_ context.Context, routeID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[routeID]
	if !ok {
		return ErrNotFound
	}
	r.LastScanAt = at
	m.routes[routeID] = r
	return nil
}

// DeactivateRoute flags a route inactive.
func (m *MemoryStore) DeactivateRoute(_ context.Context, routeID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[routeID]
	if !ok {
		return ErrNotFound
	}
	r.Active = false
	r.UpdatedAt = m.now()
	m.routes[routeID] = r
	return nil
}

// AppendCallUsage appends to the call ledger.
func (m *MemoryStore) AppendCallUsage(_ context.Context, rec domain.CallUsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("AppendCallUsage"); err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now()
	}
	m.calls = append(m.calls, rec)
	return nil
}

// CallUsage returns a copy of the call ledger.
func (m *MemoryStore) CallUsage() []domain.CallUsageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.CallUsageRecord(nil), m.calls...)
}

// DailyCallUsage aggregates the ledger per UTC day.
func (m *MemoryStore) DailyCallUsage(_ context.Context, from, to time.Time) ([]domain.DailyCallUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byDay := make(map[time.Time]*domain.DailyCallUsage)
	for _, rec := range m.calls {
		if rec.CreatedAt.Before(from) || !rec.CreatedAt.Before(to) {
			continue
		}
		day := rec.CreatedAt.UTC().Truncate(24 * time.Hour)
		agg, ok := byDay[day]
		if !ok {
			agg = &domain.DailyCallUsage{Day: day}
			byDay[day] = agg
		}
		if !rec.CacheHit {
			agg.Calls++
		}
		if !rec.Success {
			agg.Failures++
		}
		if rec.Synthetic {
			agg.Synthetic++
		}
	}

	out := make([]domain.DailyCallUsage, 0, len(byDay))
	for _, agg := range byDay {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

// AppendAdvisorUsage appends to the advisor ledger.
func (m *MemoryStore) AppendAdvisorUsage(_ context.Context, rec domain.AdvisorUsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("AppendAdvisorUsage"); err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now()
	}
	m.advisor = append(m.advisor, rec)
	return nil
}

// AdvisorUsageSince sums cost per model.
func (m *MemoryStore) AdvisorUsageSince(_ context.Context, since time.Time) ([]domain.AdvisorUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("AdvisorUsageSince"); err != nil {
		return nil, err
	}

	byModel := make(map[string]*domain.AdvisorUsage)
	for _, rec := range m.advisor {
		if rec.CreatedAt.Before(since) {
			continue
		}
		agg, ok := byModel[rec.Model]
		if !ok {
			agg = &domain.AdvisorUsage{Model: rec.Model, Cost: decimal.Zero}
			byModel[rec.Model] = agg
		}
		agg.Cost = agg.Cost.Add(rec.Cost)
		agg.Calls++
	}

	out := make([]domain.AdvisorUsage, 0, len(byModel))
	for _, agg := range byModel {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out, nil
}

// RecordAlertSent opens an outcome row.
func (m *MemoryStore) RecordAlertSent(_ context.Context, dealID string, segment domain.Segment, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("RecordAlertSent"); err != nil {
		return err
	}
	m.outcomes = append(m.outcomes, outcomeRow{dealID: dealID, segment: segment, sentAt: at})
	return nil
}

// RecordEngagement flags an interaction on an existing outcome row.
func (m *MemoryStore) RecordEngagement(_ context.Context, dealID string, segment domain.Segment, event domain.EngagementEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.outcomes {
		o := &m.outcomes[i]
		if o.dealID != dealID || o.segment != segment {
			continue
		}
		switch event {
		case domain.EventOpened:
			o.opened = true
		case domain.EventClicked:
			o.clicked = true
		case domain.EventConverted:
			o.converted = true
		}
		return nil
	}
	return ErrNotFound
}

// AddOutcomes seeds sent alerts for a segment with the given engagement counts.
func (m *MemoryStore) AddOutcomes(segment domain.Segment, at time.Time, sent, opened, clicked, converted int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < sent; i++ {
		m.outcomes = append(m.outcomes, outcomeRow{
			segment:   segment,
			sentAt:    at,
			opened:    i < opened,
			clicked:   i < clicked,
			converted: i < converted,
		})
	}
}

// SegmentOutcomesSince aggregates engagement per segment.
func (m *MemoryStore) SegmentOutcomesSince(_ context.Context, since time.Time) ([]domain.SegmentOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("SegmentOutcomesSince"); err != nil {
		return nil, err
	}

	bySegment := make(map[domain.Segment]*domain.SegmentOutcome)
	for _, o := range m.outcomes {
		if o.sentAt.Before(since) {
			continue
		}
		agg, ok := bySegment[o.segment]
		if !ok {
			agg = &domain.SegmentOutcome{Segment: o.segment}
			bySegment[o.segment] = agg
		}
		agg.Sent++
		if o.opened {
			agg.Opened++
		}
		if o.clicked {
			agg.Clicked++
		}
		if o.converted {
			agg.Converted++
		}
	}

	out := make([]domain.SegmentOutcome, 0, len(bySegment))
	for _, agg := range bySegment {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Segment < out[j].Segment })
	return out, nil
}

// RoutePerformanceSince joins outcomes with stored deals per route.
func (m *MemoryStore) RoutePerformanceSince(_ context.Context, since time.Time) ([]domain.RoutePerformance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dealsByID := make(map[string]domain.DealCandidate, len(m.deals))
	for _, d := range m.deals {
		dealsByID[d.ID] = d
	}

	type acc struct {
		alerts, clicks, conversions int64
		discount                    float64
	}
	byRoute := make(map[int64]*acc)
	for _, o := range m.outcomes {
		if o.sentAt.Before(since) {
			continue
		}
		deal, ok := dealsByID[o.dealID]
		if !ok {
			continue
		}
		a, ok := byRoute[deal.Route.ID]
		if !ok {
			a = &acc{}
			byRoute[deal.Route.ID] = a
		}
		a.alerts++
		a.discount += deal.DiscountPct
		if o.clicked {
			a.clicks++
		}
		if o.converted {
			a.conversions++
		}
	}

	out := make([]domain.RoutePerformance, 0, len(byRoute))
	for id, a := range byRoute {
		n := float64(a.alerts)
		out = append(out, domain.RoutePerformance{
			RouteID:        id,
			TotalAlerts:    a.alerts,
			AvgDiscountPct: a.discount / n,
			ClickRate:      float64(a.clicks) / n,
			ConversionRate: float64(a.conversions) / n,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RouteID < out[j].RouteID })
	return out, nil
}

// AppendRoutePrice records a pass mean.
func (m *MemoryStore) AppendRoutePrice(_ context.Context, routeID int64, meanPrice float64, samples int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices = append(m.prices, priceRow{routeID: routeID, mean: meanPrice, samples: samples, at: at})
	return nil
}

// RouteBaseline returns the sample-weighted mean since the instant.
func (m *MemoryStore) RouteBaseline(_ context.Context, routeID int64, since time.Time) (float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sum float64
	var n int
	for _, p := range m.prices {
		if p.routeID != routeID || p.at.Before(since) {
			continue
		}
		sum += p.mean * float64(p.samples)
		n += p.samples
	}
	if n == 0 || sum <= 0 {
		return 0, false, nil
	}
	return sum / float64(n), true, nil
}

// InsertDealCandidate stores a candidate once per ID.
func (m *MemoryStore) InsertDealCandidate(_ context.Context, deal domain.DealCandidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("InsertDealCandidate"); err != nil {
		return err
	}
	for _, d := range m.deals {
		if d.ID == deal.ID {
			return nil
		}
	}
	m.deals = append(m.deals, deal)
	return nil
}

// ListRecentDeals returns candidates newest first.
func (m *MemoryStore) ListRecentDeals(_ context.Context, limit int) ([]domain.DealCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := append([]domain.DealCandidate(nil), m.deals...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InsertScanCycle appends a tick summary.
func (m *MemoryStore) InsertScanCycle(_ context.Context, cycle domain.ScanCycle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("InsertScanCycle"); err != nil {
		return err
	}
	m.cycles = append(m.cycles, cycle)
	return nil
}

// LatestScanCycle returns the newest summary.
func (m *MemoryStore) LatestScanCycle(_ context.Context) (domain.ScanCycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.cycles) == 0 {
		return domain.ScanCycle{}, ErrNotFound
	}
	latest := m.cycles[0]
	for _, c := range m.cycles[1:] {
		if c.StartedAt.After(latest.StartedAt) {
			latest = c
		}
	}
	return latest, nil
}

// CallsConsumedSince sums reserved calls of cycles started since the instant.
func (m *MemoryStore) CallsConsumedSince(_ context.Context, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, c := range m.cycles {
		if !c.StartedAt.Before(since) {
			total += int64(c.CallsConsumed)
		}
	}
	return total, nil
}

// Optimizations returns the applied advisor plans.
func (m *MemoryStore) Optimizations() []Optimization {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Optimization(nil), m.optimizations...)
}

// WithinTx applies fn to a copy of the route table and swaps it in only on success.
func (m *MemoryStore) WithinTx(ctx context.Context, fn func(tx RouteTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{
		routes: make(map[int64]domain.Route, len(m.routes)),
		faults: m.faults,
		now:    m.now(),
	}
	for id, r := range m.routes {
		tx.routes[id] = cloneRoute(r)
	}

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.routes = tx.routes
	m.optimizations = append(m.optimizations, tx.optimizations...)
	return nil
}

type memoryTx struct {
	routes        map[int64]domain.Route
	optimizations []Optimization
	faults        map[string]error
	now           time.Time
}

func (t *memoryTx) UpdateRouteSchedule(_ context.Context, change domain.ScheduleChange) error {
	if err := t.faults["UpdateRouteSchedule"]; err != nil {
		return err
	}
	if err := change.Validate(); err != nil {
		return err
	}
	r, ok := t.routes[change.RouteID]
	if !ok {
		return ErrNotFound
	}
	r.Tier = change.Tier
	r.BaseScanFrequencyHours = change.FrequencyHours
	r.UpdatedAt = t.now
	t.routes[change.RouteID] = r
	return nil
}

func (t *memoryTx) RecordOptimization(_ context.Context, model string, changes []domain.ScheduleChange) error {
	if err := t.faults["RecordOptimization"]; err != nil {
		return err
	}
	t.optimizations = append(t.optimizations, Optimization{
		Model:   model,
		Changes: append([]domain.ScheduleChange(nil), changes...),
	})
	return nil
}

func cloneRoute(r domain.Route) domain.Route {
	r.Segments = append([]domain.Segment(nil), r.Segments...)
	return r
}
