package threshold

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flight-deal-scanner/internal/domain"
	"flight-deal-scanner/internal/storage"
)

var now = time.Date(2025, 9, 2, 10, 0, 0, 0, time.UTC)

func TestComputeDefaultsWithoutSamples(t *testing.T) {
	opts := DefaultOptions()
	out := Compute(nil, opts)
	assert.Equal(t, 35.0, out[domain.SegmentFree])
	assert.Equal(t, 25.0, out[domain.SegmentPremium])
	assert.Equal(t, 20.0, out[domain.SegmentEnterprise])

	sparse := []domain.SegmentOutcome{{Segment: domain.SegmentPremium, Sent: opts.MinSamples - 1}}
	assert.Equal(t, 25.0, Compute(sparse, opts)[domain.SegmentPremium])
}

func TestComputeMovesWithEngagement(t *testing.T) {
	opts := DefaultOptions()

	engaged := []domain.SegmentOutcome{{Segment: domain.SegmentPremium, Sent: 100, Opened: 80, Clicked: 50, Converted: 20}}
	// engagement 0.16+0.15+0.10 = 0.41, above target: threshold drops
	assert.InDelta(t, 25+20*(0.15-0.41), Compute(engaged, opts)[domain.SegmentPremium], 1e-9)

	ignored := []domain.SegmentOutcome{{Segment: domain.SegmentPremium, Sent: 100}}
	assert.InDelta(t, 28.0, Compute(ignored, opts)[domain.SegmentPremium], 1e-9)
}

func TestComputeClampsAndOrders(t *testing.T) {
	opts := DefaultOptions()
	opts.Sensitivity = 100

	outcomes := []domain.SegmentOutcome{
		{Segment: domain.SegmentPremium, Sent: 100},
		{Segment: domain.SegmentEnterprise, Sent: 100, Opened: 100, Clicked: 100, Converted: 100},
	}
	out := Compute(outcomes, opts)

	assert.Equal(t, 35.0, out[domain.SegmentFree])
	assert.Equal(t, 35.0, out[domain.SegmentPremium], "premium capped at free")
	assert.Equal(t, opts.Min, out[domain.SegmentEnterprise])
	for _, v := range out {
		assert.Greater(t, v, 0.0)
		assert.LessOrEqual(t, v, 100.0)
	}
}

func TestComputeIdempotent(t *testing.T) {
	outcomes := []domain.SegmentOutcome{
		{Segment: domain.SegmentFree, Sent: 50, Opened: 10, Clicked: 3, Converted: 1},
		{Segment: domain.SegmentPremium, Sent: 70, Opened: 40, Clicked: 20, Converted: 5},
	}
	assert.Equal(t, Compute(outcomes, DefaultOptions()), Compute(outcomes, DefaultOptions()))
}

func TestEngineRecalculateRespectsInterval(t *testing.T) {
	store := storage.NewMemoryStore()
	store.AddOutcomes(domain.SegmentPremium, now.Add(-time.Hour), 100, 0, 0, 0)
	e := NewEngine(DefaultOptions(), store, zerolog.Nop())

	assert.Equal(t, 25.0, e.Current(domain.SegmentPremium))

	snap, err := e.Recalculate(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 28.0, snap.Thresholds[domain.SegmentPremium])
	assert.Equal(t, now, snap.ComputedAt)

	store.AddOutcomes(domain.SegmentPremium, now, 100, 100, 100, 100)
	snap, err = e.Recalculate(context.Background(), now.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 28.0, snap.Thresholds[domain.SegmentPremium], "cached value is still fresh")

	snap, err = e.Recalculate(context.Background(), now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Less(t, snap.Thresholds[domain.SegmentPremium], 28.0)
}

func TestEngineKeepsValuesOnStoreFailure(t *testing.T) {
	store := storage.NewMemoryStore()
	store.AddOutcomes(domain.SegmentPremium, now, 100, 0, 0, 0)
	e := NewEngine(DefaultOptions(), store, zerolog.Nop())
	_, err := e.Refresh(context.Background(), now)
	require.NoError(t, err)

	store.SetFault("SegmentOutcomesSince", errors.New("db down"))
	snap, err := e.Refresh(context.Background(), now.Add(2*time.Hour))
	require.Error(t, err)
	assert.Equal(t, 28.0, snap.Thresholds[domain.SegmentPremium])
	assert.Equal(t, 28.0, e.Current(domain.SegmentPremium))
}

func fare(price int64) domain.FareSample {
	return domain.FareSample{Price: decimal.NewFromInt(price), Currency: "EUR"}
}

func TestValidateRecommendationFollowsThreshold(t *testing.T) {
	e := NewEngine(DefaultOptions(), storage.NewMemoryStore(), zerolog.Nop())

	atThreshold := e.Validate(Input{Fare: fare(75), ZScore: -2.1, DiscountPct: 25, Segment: domain.SegmentPremium})
	assert.Equal(t, domain.RecommendSend, atThreshold.Recommendation)
	assert.Equal(t, 25.0, atThreshold.ThresholdUsed)

	below := e.Validate(Input{Fare: fare(76), ZScore: -2.1, DiscountPct: 24.9, Segment: domain.SegmentPremium})
	assert.Equal(t, domain.RecommendHold, below.Recommendation)

	free := e.Validate(Input{Fare: fare(70), ZScore: -2.5, DiscountPct: 30, Segment: domain.SegmentFree})
	assert.Equal(t, domain.RecommendHold, free.Recommendation)
	assert.Equal(t, 35.0, free.ThresholdUsed)
}

func TestEvaluateScoresWithoutBaseline(t *testing.T) {
	d := Evaluate(Input{Fare: fare(60), ZScore: -3, DiscountPct: 40, Segment: domain.SegmentPremium}, 25)
	// statistical 75, contextual 87.5, equal weights
	assert.Equal(t, 81, d.Score)
	assert.Equal(t, domain.MethodContextual, d.Method)
}

func TestEvaluateUsesBaseline(t *testing.T) {
	d := Evaluate(Input{Fare: fare(50), ZScore: -2.2, DiscountPct: 26, Segment: domain.SegmentPremium, BaselinePrice: 100}, 25)
	// statistical 55 -> 16.5, predictive 100 -> 40, contextual 52.5 -> 15.75
	assert.Equal(t, 72, d.Score)
	assert.Equal(t, domain.MethodPredictive, d.Method)

	stat := Evaluate(Input{Fare: fare(95), ZScore: -4, DiscountPct: 26, Segment: domain.SegmentPremium, BaselinePrice: 100}, 25)
	assert.Equal(t, domain.MethodStatistical, stat.Method)
}

func TestEvaluateScoreBounds(t *testing.T) {
	for _, in := range []Input{
		{Fare: fare(1), ZScore: -50, DiscountPct: 99, BaselinePrice: 1000},
		{Fare: fare(500), ZScore: 0, DiscountPct: 0, BaselinePrice: 100},
		{Fare: fare(100), ZScore: -2.01, DiscountPct: 2},
	} {
		d := Evaluate(in, 25)
		assert.GreaterOrEqual(t, d.Score, 0)
		assert.LessOrEqual(t, d.Score, 100)
	}
}
