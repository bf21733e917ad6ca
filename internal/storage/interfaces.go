package storage

import (
	"context"
	"errors"
	"time"

	"flight-deal-scanner/internal/domain"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("storage: not found")
)

// RouteStore persists the route catalogue.
type RouteStore interface {
	ListRoutes(ctx context.Context, activeOnly bool) ([]domain.Route, error)
	UpsertRoute(ctx context.Context, route domain.Route) (domain.Route, error)
	MarkRouteScanned(ctx context.Context, routeID int64, at time.Time) error
	DeactivateRoute(ctx context.Context, routeID int64) error
}

// CallUsageStore is the append-only provider call ledger.
type CallUsageStore interface {
	AppendCallUsage(ctx context.Context, rec domain.CallUsageRecord) error
	DailyCallUsage(ctx context.Context, from, to time.Time) ([]domain.DailyCallUsage, error)
}

// AdvisorUsageStore is the append-only advisor consumption ledger.
type AdvisorUsageStore interface {
	AppendAdvisorUsage(ctx context.Context, rec domain.AdvisorUsageRecord) error
	AdvisorUsageSince(ctx context.Context, since time.Time) ([]domain.AdvisorUsage, error)
}

// OutcomeStore records alert deliveries and engagement, and aggregates them.
type OutcomeStore interface {
	RecordAlertSent(ctx context.Context, dealID string, segment domain.Segment, at time.Time) error
	RecordEngagement(ctx context.Context, dealID string, segment domain.Segment, event domain.EngagementEvent) error
	SegmentOutcomesSince(ctx context.Context, since time.Time) ([]domain.SegmentOutcome, error)
	RoutePerformanceSince(ctx context.Context, since time.Time) ([]domain.RoutePerformance, error)
}

// PriceHistoryStore keeps per-pass mean fares used as a predictive baseline.
type PriceHistoryStore interface {
	AppendRoutePrice(ctx context.Context, routeID int64, meanPrice float64, samples int, at time.Time) error
	RouteBaseline(ctx context.Context, routeID int64, since time.Time) (float64, bool, error)
}

// DealStore persists validated deal candidates.
type DealStore interface {
	InsertDealCandidate(ctx context.Context, deal domain.DealCandidate) error
	ListRecentDeals(ctx context.Context, limit int) ([]domain.DealCandidate, error)
}

// ScanCycleStore persists tick summaries.
type ScanCycleStore interface {
	InsertScanCycle(ctx context.Context, cycle domain.ScanCycle) error
	LatestScanCycle(ctx context.Context) (domain.ScanCycle, error)
	CallsConsumedSince(ctx context.Context, since time.Time) (int64, error)
}

// RouteTx is the set of writes allowed inside a route transaction.
type RouteTx interface {
	UpdateRouteSchedule(ctx context.Context, change domain.ScheduleChange) error
	RecordOptimization(ctx context.Context, model string, changes []domain.ScheduleChange) error
}

// UnitOfWork runs fn inside one transaction: committed when fn returns nil, rolled back otherwise.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(tx RouteTx) error) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Repository is everything the scanner stack needs from persistence.
type Repository interface {
	RouteStore
	CallUsageStore
	AdvisorUsageStore
	OutcomeStore
	PriceHistoryStore
	DealStore
	ScanCycleStore
	UnitOfWork
}
