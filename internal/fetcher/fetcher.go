package fetcher

import (
	"context"
	"time"

	"flight-deal-scanner/internal/domain"
)

const dateLayout = "2006-01-02"

// Query describes one round-trip price lookup.
type Query struct {
	Route         domain.Route
	DepartureDate string
	ReturnDate    string
	Adults        int
	Children      int
	Infants       int
	Cabin         string
	Currency      string
}

// Provider performs a live price search. Errors are returned, never absorbed.
type Provider interface {
	Name() string
	Search(ctx context.Context, q Query) ([]domain.FareSample, error)
}

// Cache stores live provider results for a short time.
type Cache interface {
	Get(ctx context.Context, q Query) ([]domain.FareSample, bool, error)
	Set(ctx context.Context, q Query, fares []domain.FareSample) error
}

// UsageRecorder appends call-usage records.
type UsageRecorder interface {
	AppendCallUsage(ctx context.Context, rec domain.CallUsageRecord) error
}

// Result is what the fetch boundary hands to the scanner.
type Result struct {
	Fares     []domain.FareSample
	Synthetic bool
	// Cause is the provider failure that triggered synthesis, if any.
	Cause    error
	Latency  time.Duration
	CacheHit bool
	// RecordErr is set when the usage ledger write failed.
	RecordErr error
}
