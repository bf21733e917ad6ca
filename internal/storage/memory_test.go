package storage

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flight-deal-scanner/internal/domain"
)

func seedRoute(t *testing.T, m *MemoryStore, origin, dest string, tier domain.Tier) domain.Route {
	t.Helper()
	r, err := m.UpsertRoute(context.Background(), domain.Route{
		Origin:                 origin,
		Destination:            dest,
		Tier:                   tier,
		BaseScanFrequencyHours: tier.DefaultFrequencyHours(),
		EstimatedCallsPerScan:  1,
		Active:                 true,
	})
	require.NoError(t, err)
	return r
}

func TestMemoryStoreRoutes(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	tier3 := seedRoute(t, m, "MAD", "LIS", domain.Tier3)
	tier1 := seedRoute(t, m, "MAD", "BCN", domain.Tier1)

	again, err := m.UpsertRoute(ctx, domain.Route{
		Origin: "MAD", Destination: "LIS", Tier: domain.Tier2,
		BaseScanFrequencyHours: 6, EstimatedCallsPerScan: 2, Active: true,
	})
	require.NoError(t, err)
	assert.Equal(t, tier3.ID, again.ID)

	routes, err := m.ListRoutes(ctx, true)
	require.NoError(t, err)
	require.Len(t, routes, 2)
	assert.Equal(t, tier1.ID, routes[0].ID)
	assert.Equal(t, domain.Tier2, routes[1].Tier)

	require.NoError(t, m.DeactivateRoute(ctx, tier1.ID))
	routes, err = m.ListRoutes(ctx, true)
	require.NoError(t, err)
	assert.Len(t, routes, 1)

	all, err := m.ListRoutes(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	assert.ErrorIs(t, m.MarkRouteScanned(ctx, 999, time.Now()), ErrNotFound)
}

func TestMemoryStoreRejectsInvalidRoute(t *testing.T) {
	_, err := NewMemoryStore().UpsertRoute(context.Background(), domain.Route{
		Origin: "MAD", Destination: "BCN", Tier: domain.Tier1,
		BaseScanFrequencyHours: 0.5, EstimatedCallsPerScan: 1,
	})
	assert.Error(t, err)
}

func TestMemoryStoreWithinTx(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	r := seedRoute(t, m, "LHR", "JFK", domain.Tier1)

	change := domain.ScheduleChange{RouteID: r.ID, Tier: domain.Tier2, FrequencyHours: 6}

	t.Run("rollback on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := m.WithinTx(ctx, func(tx RouteTx) error {
			require.NoError(t, tx.UpdateRouteSchedule(ctx, change))
			return boom
		})
		require.ErrorIs(t, err, boom)

		routes, _ := m.ListRoutes(ctx, false)
		assert.Equal(t, domain.Tier1, routes[0].Tier)
		assert.Empty(t, m.Optimizations())
	})

	t.Run("fault on record rolls back schedule", func(t *testing.T) {
		m.SetFault("RecordOptimization", errors.New("disk full"))
		defer m.SetFault("RecordOptimization", nil)

		err := m.WithinTx(ctx, func(tx RouteTx) error {
			if err := tx.UpdateRouteSchedule(ctx, change); err != nil {
				return err
			}
			return tx.RecordOptimization(ctx, "gemini", []domain.ScheduleChange{change})
		})
		require.Error(t, err)
		routes, _ := m.ListRoutes(ctx, false)
		assert.Equal(t, domain.Tier1, routes[0].Tier)
	})

	t.Run("non-finite frequency rejected", func(t *testing.T) {
		bad := change
		bad.FrequencyHours = math.NaN()
		err := m.WithinTx(ctx, func(tx RouteTx) error {
			return tx.UpdateRouteSchedule(ctx, bad)
		})
		require.Error(t, err)
		routes, _ := m.ListRoutes(ctx, false)
		assert.Equal(t, 3.0, routes[0].BaseScanFrequencyHours)
	})

	t.Run("commit", func(t *testing.T) {
		err := m.WithinTx(ctx, func(tx RouteTx) error {
			if err := tx.UpdateRouteSchedule(ctx, change); err != nil {
				return err
			}
			return tx.RecordOptimization(ctx, "gemini", []domain.ScheduleChange{change})
		})
		require.NoError(t, err)
		routes, _ := m.ListRoutes(ctx, false)
		assert.Equal(t, domain.Tier2, routes[0].Tier)
		assert.Equal(t, 6.0, routes[0].BaseScanFrequencyHours)
		require.Len(t, m.Optimizations(), 1)
	})
}

func TestMemoryStoreOutcomes(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	now := time.Date(2025, 9, 2, 10, 0, 0, 0, time.UTC)

	m.AddOutcomes(domain.SegmentPremium, now, 10, 6, 3, 1)
	m.AddOutcomes(domain.SegmentFree, now.Add(-48*time.Hour), 5, 5, 5, 5)

	outcomes, err := m.SegmentOutcomesSince(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.SegmentPremium, outcomes[0].Segment)
	assert.InDelta(t, 0.6, outcomes[0].OpenRate(), 1e-9)
	assert.InDelta(t, 0.3, outcomes[0].ClickRate(), 1e-9)
	assert.InDelta(t, 0.1, outcomes[0].ConversionRate(), 1e-9)

	r := seedRoute(t, m, "MAD", "BCN", domain.Tier1)
	require.NoError(t, m.InsertDealCandidate(ctx, domain.DealCandidate{ID: "d1", Route: r, DiscountPct: 40, DetectedAt: now}))
	require.NoError(t, m.RecordAlertSent(ctx, "d1", domain.SegmentFree, now))
	require.NoError(t, m.RecordEngagement(ctx, "d1", domain.SegmentFree, domain.EventConverted))
	assert.ErrorIs(t, m.RecordEngagement(ctx, "nope", domain.SegmentFree, domain.EventOpened), ErrNotFound)

	perf, err := m.RoutePerformanceSince(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, perf, 1)
	assert.EqualValues(t, 1, perf[0].TotalAlerts)
	assert.Equal(t, 1.0, perf[0].ConversionRate)
	assert.Equal(t, 40.0, perf[0].AvgDiscountPct)
}

func TestMemoryStoreUsageAndCycles(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	day := time.Date(2025, 9, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, m.AppendCallUsage(ctx, domain.CallUsageRecord{Success: true, CreatedAt: day.Add(time.Hour)}))
	require.NoError(t, m.AppendCallUsage(ctx, domain.CallUsageRecord{Success: false, Synthetic: true, CreatedAt: day.Add(2 * time.Hour)}))
	require.NoError(t, m.AppendCallUsage(ctx, domain.CallUsageRecord{Success: true, CacheHit: true, CreatedAt: day.Add(3 * time.Hour)}))

	daily, err := m.DailyCallUsage(ctx, day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, daily, 1)
	assert.EqualValues(t, 2, daily[0].Calls)
	assert.EqualValues(t, 1, daily[0].Failures)
	assert.EqualValues(t, 1, daily[0].Synthetic)

	require.NoError(t, m.AppendAdvisorUsage(ctx, domain.AdvisorUsageRecord{Model: "gpt", Cost: decimal.RequireFromString("0.002"), CreatedAt: day}))
	require.NoError(t, m.AppendAdvisorUsage(ctx, domain.AdvisorUsageRecord{Model: "gpt", Cost: decimal.RequireFromString("0.004"), CreatedAt: day}))
	usage, err := m.AdvisorUsageSince(ctx, day)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.True(t, usage[0].Cost.Equal(decimal.RequireFromString("0.006")))
	assert.EqualValues(t, 2, usage[0].Calls)

	_, err = m.LatestScanCycle(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.InsertScanCycle(ctx, domain.ScanCycle{ID: "a", StartedAt: day.Add(time.Hour), CallsConsumed: 4}))
	require.NoError(t, m.InsertScanCycle(ctx, domain.ScanCycle{ID: "b", StartedAt: day.Add(2 * time.Hour), CallsConsumed: 3}))
	latest, err := m.LatestScanCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", latest.ID)

	consumed, err := m.CallsConsumedSince(ctx, day)
	require.NoError(t, err)
	assert.EqualValues(t, 7, consumed)

	baseline, ok, err := m.RouteBaseline(ctx, 1, day)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, baseline)

	require.NoError(t, m.AppendRoutePrice(ctx, 1, 100, 1, day))
	require.NoError(t, m.AppendRoutePrice(ctx, 1, 200, 3, day))
	baseline, ok, err = m.RouteBaseline(ctx, 1, day)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 175, baseline, 1e-9)
}

func TestMemoryStoreAdvisoryLock(t *testing.T) {
	m := NewMemoryStore()
	unlock, ok, err := m.TryAdvisoryLock(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = m.TryAdvisoryLock(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, ok)

	unlock()
	_, ok, _ = m.TryAdvisoryLock(context.Background(), 7)
	assert.True(t, ok)
}
