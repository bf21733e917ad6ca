// Package threshold adapts per-segment discount thresholds to alert engagement
// and scores deal candidates against them.
package threshold

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"flight-deal-scanner/internal/domain"
	"flight-deal-scanner/internal/storage"
)

const (
	openWeight       = 0.2
	clickWeight      = 0.3
	conversionWeight = 0.5
)

// Options tune the engine.
type Options struct {
	Defaults         map[domain.Segment]float64
	Window           time.Duration
	RecalcInterval   time.Duration
	MinSamples       int64
	Sensitivity      float64
	TargetEngagement float64
	Min              float64
	Max              float64
}

// DefaultOptions mirrors the shipped configuration.
func DefaultOptions() Options {
	return Options{
		Defaults: map[domain.Segment]float64{
			domain.SegmentFree:       35,
			domain.SegmentPremium:    25,
			domain.SegmentEnterprise: 20,
		},
		Window:           30 * 24 * time.Hour,
		RecalcInterval:   time.Hour,
		MinSamples:       20,
		Sensitivity:      20,
		TargetEngagement: 0.15,
		Min:              5,
		Max:              60,
	}
}

// Snapshot is the engine state exposed to operators.
type Snapshot struct {
	Thresholds map[domain.Segment]float64 `json:"thresholds"`
	ComputedAt time.Time                  `json:"computed_at"`
}

// Engine caches the current thresholds and recomputes them from outcomes.
type Engine struct {
	opts   Options
	store  storage.OutcomeStore
	logger zerolog.Logger

	mu         sync.RWMutex
	current    map[domain.Segment]float64
	computedAt time.Time
}

// NewEngine starts from the configured defaults.
func NewEngine(opts Options, store storage.OutcomeStore, logger zerolog.Logger) *Engine {
	current := make(map[domain.Segment]float64, len(opts.Defaults))
	for seg, v := range opts.Defaults {
		current[seg] = v
	}
	return &Engine{
		opts:    opts,
		store:   store,
		logger:  logger.With().Str("component", "threshold_engine").Logger(),
		current: current,
	}
}

// Current returns the threshold percentage for a segment.
func (e *Engine) Current(seg domain.Segment) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if v, ok := e.current[seg]; ok {
		return v
	}
	return e.opts.Defaults[domain.SegmentFree]
}

// Snapshot copies the cached thresholds.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[domain.Segment]float64, len(e.current))
	for seg, v := range e.current {
		out[seg] = v
	}
	return Snapshot{Thresholds: out, ComputedAt: e.computedAt}
}

// Recalculate refreshes thresholds when the cached values are older than the
// recalculation interval. Store failures keep the previous values.
func (e *Engine) Recalculate(ctx context.Context, now time.Time) (Snapshot, error) {
	e.mu.RLock()
	fresh := !e.computedAt.IsZero() && now.Sub(e.computedAt) < e.opts.RecalcInterval
	e.mu.RUnlock()
	if fresh {
		return e.Snapshot(), nil
	}
	return e.Refresh(ctx, now)
}

// Refresh recomputes thresholds regardless of cache age.
func (e *Engine) Refresh(ctx context.Context, now time.Time) (Snapshot, error) {
	outcomes, err := e.store.SegmentOutcomesSince(ctx, now.Add(-e.opts.Window))
	if err != nil {
		e.logger.Warn().Err(err).Msg("threshold recalculation failed, keeping previous values")
		return e.Snapshot(), fmt.Errorf("load segment outcomes: %w", err)
	}

	next := Compute(outcomes, e.opts)

	e.mu.Lock()
	e.current = next
	e.computedAt = now
	e.mu.Unlock()

	e.logger.Info().
		Float64(string(domain.SegmentFree), next[domain.SegmentFree]).
		Float64(string(domain.SegmentPremium), next[domain.SegmentPremium]).
		Float64(string(domain.SegmentEnterprise), next[domain.SegmentEnterprise]).
		Msg("thresholds recalculated")
	return e.Snapshot(), nil
}

// Engagement blends open, click and conversion rates.
func Engagement(o domain.SegmentOutcome) float64 {
	return openWeight*o.OpenRate() + clickWeight*o.ClickRate() + conversionWeight*o.ConversionRate()
}

// Compute derives thresholds from outcome aggregates. It is a pure function of its inputs.
func Compute(outcomes []domain.SegmentOutcome, opts Options) map[domain.Segment]float64 {
	bySegment := make(map[domain.Segment]domain.SegmentOutcome, len(outcomes))
	for _, o := range outcomes {
		bySegment[o.Segment] = o
	}

	out := make(map[domain.Segment]float64, 3)
	for _, seg := range domain.AllSegments() {
		def := opts.Defaults[seg]
		o, ok := bySegment[seg]
		if !ok || o.Sent < opts.MinSamples || o.Sent == 0 {
			out[seg] = def
			continue
		}
		v := def + opts.Sensitivity*(opts.TargetEngagement-Engagement(o))
		out[seg] = clamp(v, opts.Min, opts.Max)
	}

	// free >= premium >= enterprise
	out[domain.SegmentPremium] = math.Min(out[domain.SegmentPremium], out[domain.SegmentFree])
	out[domain.SegmentEnterprise] = math.Min(out[domain.SegmentEnterprise], out[domain.SegmentPremium])
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
