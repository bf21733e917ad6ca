package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flight-deal-scanner/internal/domain"
)

func TestStoreNotConfigured(t *testing.T) {
	var s *Store
	_, err := s.ListRoutes(context.Background(), true)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, _, err = NewStore(nil).TryAdvisoryLock(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestStoreRoundTrip(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(pool)
	now := time.Now().UTC().Truncate(time.Second)

	route, err := store.UpsertRoute(ctx, domain.Route{
		Origin:                 "MAD",
		Destination:            "BCN",
		Tier:                   domain.Tier1,
		BaseScanFrequencyHours: 3,
		EstimatedCallsPerScan:  2,
		Segments:               []domain.Segment{domain.SegmentPremium},
		Active:                 true,
	})
	require.NoError(t, err)
	require.NotZero(t, route.ID)
	assert.Equal(t, []domain.Segment{domain.SegmentPremium}, route.Segments)

	require.NoError(t, store.MarkRouteScanned(ctx, route.ID, now))
	routes, err := store.ListRoutes(ctx, true)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.True(t, routes[0].LastScanAt.Equal(now))

	cycleID := uuid.NewString()
	require.NoError(t, store.InsertScanCycle(ctx, domain.ScanCycle{
		ID:            cycleID,
		StartedAt:     now,
		FinishedAt:    now.Add(time.Second),
		PrimeStatus:   "normal",
		Due:           1,
		Attempted:     1,
		Succeeded:     1,
		CallsConsumed: 2,
	}))
	consumed, err := store.CallsConsumedSince(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 2, consumed)

	deal := domain.DealCandidate{
		ID:                    uuid.NewString(),
		CycleID:               cycleID,
		Route:                 route,
		Fare:                  domain.FareSample{Price: decimal.RequireFromString("49.90"), Currency: "EUR", Airline: "IB"},
		Segment:               domain.SegmentPremium,
		ZScore:                -2.4,
		DiscountPct:           41,
		ValidationScore:       72,
		Recommendation:        domain.RecommendSend,
		ValidationMethod:      domain.MethodContextual,
		AdaptiveThresholdUsed: 25,
		DetectedAt:            now,
	}
	require.NoError(t, store.InsertDealCandidate(ctx, deal))
	require.NoError(t, store.InsertDealCandidate(ctx, deal))

	deals, err := store.ListRecentDeals(ctx, 10)
	require.NoError(t, err)
	require.Len(t, deals, 1)
	assert.True(t, deal.Fare.Price.Equal(deals[0].Fare.Price))
	assert.Equal(t, "MAD", deals[0].Route.Origin)

	require.NoError(t, store.RecordAlertSent(ctx, deal.ID, domain.SegmentPremium, now))
	require.NoError(t, store.RecordEngagement(ctx, deal.ID, domain.SegmentPremium, domain.EventClicked))
	outcomes, err := store.SegmentOutcomesSince(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.EqualValues(t, 1, outcomes[0].Clicked)

	require.NoError(t, store.AppendAdvisorUsage(ctx, domain.AdvisorUsageRecord{
		Model: "gemini", Tokens: 2000, Cost: decimal.RequireFromString("0.001"), CreatedAt: now,
	}))
	usage, err := store.AdvisorUsageSince(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.True(t, usage[0].Cost.Equal(decimal.RequireFromString("0.001")))
}

func TestStoreWithinTxRollsBack(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(pool)
	route, err := store.UpsertRoute(ctx, domain.Route{
		Origin: "LHR", Destination: "JFK", Tier: domain.Tier1,
		BaseScanFrequencyHours: 3, EstimatedCallsPerScan: 4, Active: true,
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = store.WithinTx(ctx, func(tx RouteTx) error {
		require.NoError(t, tx.UpdateRouteSchedule(ctx, domain.ScheduleChange{RouteID: route.ID, Tier: domain.Tier3, FrequencyHours: 12}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	routes, err := store.ListRoutes(ctx, false)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, domain.Tier1, routes[0].Tier)

	unlock, ok, err := store.TryAdvisoryLock(ctx, 42)
	require.NoError(t, err)
	require.True(t, ok)
	unlock()
}
