package advisor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"flight-deal-scanner/internal/domain"
	"flight-deal-scanner/internal/storage"
)

const (
	budgetWindow = 30 * 24 * time.Hour
	taskGeneral  = "general"
)

var thousand = decimal.NewFromInt(1000)

// DefaultRates are the per-1K-token prices of each model family.
func DefaultRates() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		FamilyGemini: decimal.RequireFromString("0.0005"),
		FamilyGPT:    decimal.RequireFromString("0.002"),
	}
}

// RatesFromConfig converts configured float rates to decimals.
func RatesFromConfig(cfg map[string]float64) map[string]decimal.Decimal {
	if len(cfg) == 0 {
		return DefaultRates()
	}
	out := make(map[string]decimal.Decimal, len(cfg))
	for family, rate := range cfg {
		out[family] = decimal.NewFromFloat(rate)
	}
	return out
}

// Tracker prices advisor consumption and keeps its ledger.
type Tracker struct {
	store  storage.AdvisorUsageStore
	rates  map[string]decimal.Decimal
	now    func() time.Time
	logger zerolog.Logger
}

// NewTracker constructs a tracker; nil rates fall back to DefaultRates.
func NewTracker(store storage.AdvisorUsageStore, rates map[string]decimal.Decimal, logger zerolog.Logger) *Tracker {
	if len(rates) == 0 {
		rates = DefaultRates()
	}
	return &Tracker{
		store:  store,
		rates:  rates,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With().Str("component", "advisor_tracker").Logger(),
	}
}

// Cost prices a token count for a model family.
func (t *Tracker) Cost(family string, tokens int) (decimal.Decimal, error) {
	rate, ok := t.rates[family]
	if !ok {
		return decimal.Zero, fmt.Errorf("advisor: no rate for model %q", family)
	}
	return decimal.NewFromInt(int64(tokens)).Div(thousand).Mul(rate), nil
}

// TrackUsage appends one priced record to the ledger.
func (t *Tracker) TrackUsage(ctx context.Context, family string, tokens int) (domain.AdvisorUsageRecord, error) {
	return t.Track(ctx, family, taskGeneral, tokens)
}

// Track is TrackUsage with an explicit task label.
func (t *Tracker) Track(ctx context.Context, family, task string, tokens int) (domain.AdvisorUsageRecord, error) {
	if tokens < 0 {
		return domain.AdvisorUsageRecord{}, fmt.Errorf("advisor: negative token count %d", tokens)
	}
	cost, err := t.Cost(family, tokens)
	if err != nil {
		return domain.AdvisorUsageRecord{}, err
	}
	rec := domain.AdvisorUsageRecord{
		Model:     family,
		Task:      task,
		Tokens:    tokens,
		Cost:      cost,
		CreatedAt: t.now(),
	}
	if err := t.store.AppendAdvisorUsage(ctx, rec); err != nil {
		return rec, fmt.Errorf("append advisor usage: %w", err)
	}
	t.logger.Debug().
		Str("model", family).
		Str("task", task).
		Int("tokens", tokens).
		Str("cost", cost.String()).
		Msg("advisor usage tracked")
	return rec, nil
}

// BudgetStatus sums cost and calls per model family over the last 30 days.
// Every known family is present; store failures yield zeroed entries.
func (t *Tracker) BudgetStatus(ctx context.Context, now time.Time) []domain.AdvisorUsage {
	byFamily := make(map[string]domain.AdvisorUsage, len(t.rates))
	for family := range t.rates {
		byFamily[family] = domain.AdvisorUsage{Model: family, Cost: decimal.Zero}
	}

	usage, err := t.store.AdvisorUsageSince(ctx, now.Add(-budgetWindow))
	if err != nil {
		t.logger.Warn().Err(err).Msg("advisor budget status unavailable")
	} else {
		for _, u := range usage {
			byFamily[u.Model] = u
		}
	}

	out := make([]domain.AdvisorUsage, 0, len(byFamily))
	for _, u := range byFamily {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}
