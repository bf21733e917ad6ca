package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"flight-deal-scanner/internal/domain"
	"flight-deal-scanner/internal/storage"
)

const taskOptimization = "route_optimization"

// ErrInvalidSuggestion marks an advisor suggestion that cannot be applied.
var ErrInvalidSuggestion = errors.New("advisor: invalid suggestion")

// Suggestion is one schedule change proposed by the advisor.
type Suggestion struct {
	RouteID            looseNumber `json:"routeId"`
	SuggestedTier      looseNumber `json:"suggestedTier"`
	SuggestedFrequency looseNumber `json:"suggestedFrequency"`
	Reason             string      `json:"reason"`
}

// Plan is the outcome of one reoptimization.
type Plan struct {
	Model   string                  `json:"model"`
	Tokens  int                     `json:"tokens"`
	Changes []domain.ScheduleChange `json:"changes"`
}

// OptimizerOptions wire the collaborators of an Optimizer.
type OptimizerOptions struct {
	Advisor  Advisor
	Tracker  *Tracker
	Routes   storage.RouteStore
	Outcomes storage.OutcomeStore
	Tx       storage.UnitOfWork
	// Window is the performance lookback fed into the prompt.
	Window time.Duration
	Now    func() time.Time
}

// Optimizer asks the advisor for tier and frequency changes and applies them atomically.
type Optimizer struct {
	opts   OptimizerOptions
	logger zerolog.Logger
}

// NewOptimizer constructs an optimizer.
func NewOptimizer(opts OptimizerOptions, logger zerolog.Logger) *Optimizer {
	if opts.Window <= 0 {
		opts.Window = 30 * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Optimizer{opts: opts, logger: logger.With().Str("component", "route_optimizer").Logger()}
}

// Reoptimize runs one advisor consultation. Advisor failures and unparseable
// answers yield an empty plan; invalid suggestions and storage failures are
// returned and leave every route untouched.
func (o *Optimizer) Reoptimize(ctx context.Context) (Plan, error) {
	now := o.opts.Now()
	routes, err := o.opts.Routes.ListRoutes(ctx, true)
	if err != nil {
		return Plan{}, fmt.Errorf("list routes: %w", err)
	}
	perf, err := o.opts.Outcomes.RoutePerformanceSince(ctx, now.Add(-o.opts.Window))
	if err != nil {
		return Plan{}, fmt.Errorf("load route performance: %w", err)
	}

	prompt, err := BuildPrompt(routes, perf)
	if err != nil {
		return Plan{}, err
	}

	plan := Plan{Model: o.opts.Advisor.Family()}
	completion, err := o.opts.Advisor.Generate(ctx, prompt)
	if err != nil {
		o.logger.Warn().Err(err).Str("model", plan.Model).Msg("advisor unavailable, no changes proposed")
		return plan, nil
	}

	plan.Tokens = completion.Tokens
	if plan.Tokens <= 0 {
		plan.Tokens = EstimateTokens(prompt) + EstimateTokens(completion.Text)
	}
	if o.opts.Tracker != nil {
		if _, err := o.opts.Tracker.Track(ctx, plan.Model, taskOptimization, plan.Tokens); err != nil {
			return plan, err
		}
	}

	suggestions := ParseSuggestions(completion.Text)
	if len(suggestions) == 0 {
		o.logger.Info().Str("model", plan.Model).Msg("advisor proposed no changes")
		return plan, nil
	}

	changes, err := validateSuggestions(suggestions, routes)
	if err != nil {
		return plan, err
	}

	err = o.opts.Tx.WithinTx(ctx, func(tx storage.RouteTx) error {
		for _, c := range changes {
			if err := tx.UpdateRouteSchedule(ctx, c); err != nil {
				return fmt.Errorf("update route %d: %w", c.RouteID, err)
			}
		}
		return tx.RecordOptimization(ctx, plan.Model, changes)
	})
	if err != nil {
		return plan, fmt.Errorf("apply optimization: %w", err)
	}

	plan.Changes = changes
	o.logger.Info().
		Str("model", plan.Model).
		Int("changes", len(changes)).
		Int("tokens", plan.Tokens).
		Msg("route optimization applied")
	return plan, nil
}

type promptRoute struct {
	ID             int64   `json:"routeId"`
	Route          string  `json:"route"`
	Tier           int     `json:"tier"`
	FrequencyHours float64 `json:"frequencyHours"`
	CallsPerScan   int     `json:"callsPerScan"`
	TotalAlerts    int64   `json:"totalAlerts"`
	AvgDiscountPct float64 `json:"avgDiscountPct"`
	ClickRate      float64 `json:"clickRate"`
	ConversionRate float64 `json:"conversionRate"`
}

// BuildPrompt renders the optimization request for the given routes.
func BuildPrompt(routes []domain.Route, perf []domain.RoutePerformance) (string, error) {
	byRoute := make(map[int64]domain.RoutePerformance, len(perf))
	for _, p := range perf {
		byRoute[p.RouteID] = p
	}

	rows := make([]promptRoute, 0, len(routes))
	for _, r := range routes {
		p := byRoute[r.ID]
		rows = append(rows, promptRoute{
			ID:             r.ID,
			Route:          r.Key(),
			Tier:           int(r.Tier),
			FrequencyHours: r.BaseScanFrequencyHours,
			CallsPerScan:   r.EstimatedCallsPerScan,
			TotalAlerts:    p.TotalAlerts,
			AvgDiscountPct: p.AvgDiscountPct,
			ClickRate:      p.ClickRate,
			ConversionRate: p.ConversionRate,
		})
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode prompt routes: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("Analyze these flight routes and their alert performance over the last 30 days:\n")
	sb.Write(data)
	sb.WriteString("\n\nSuggest optimizations for:\n")
	sb.WriteString("1. Scan frequency based on alert success\n")
	sb.WriteString("2. Tier adjustments based on performance (1 = highest priority, 3 = lowest)\n")
	sb.WriteString("3. Route priority based on user engagement\n\n")
	sb.WriteString("Respond with a JSON array only. Each element has the fields ")
	sb.WriteString("routeId, suggestedTier, suggestedFrequency (hours, at least 1) and reason.\n")
	return sb.String(), nil
}

// ParseSuggestions extracts the suggestion array from an advisor answer.
// Markdown code fences and surrounding prose are ignored; anything that does
// not decode yields nil.
func ParseSuggestions(text string) []Suggestion {
	body := stripFences(text)
	start := strings.IndexAny(body, "[{")
	if start < 0 {
		return nil
	}
	body = body[start:]

	var list []Suggestion
	if err := json.Unmarshal([]byte(lastJSON(body, '[', ']')), &list); err == nil {
		return list
	}
	var wrapped struct {
		Suggestions []Suggestion `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(lastJSON(body, '{', '}')), &wrapped); err == nil {
		return wrapped.Suggestions
	}
	return nil
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		text = rest
	}
	return strings.TrimSpace(text)
}

func lastJSON(body string, open, close byte) string {
	i := strings.IndexByte(body, open)
	j := strings.LastIndexByte(body, close)
	if i < 0 || j < i {
		return ""
	}
	return body[i : j+1]
}

func validateSuggestions(suggestions []Suggestion, routes []domain.Route) ([]domain.ScheduleChange, error) {
	known := make(map[int64]struct{}, len(routes))
	for _, r := range routes {
		known[r.ID] = struct{}{}
	}

	changes := make([]domain.ScheduleChange, 0, len(suggestions))
	for i, s := range suggestions {
		id := int64(s.RouteID)
		if _, ok := known[id]; !ok || float64(id) != float64(s.RouteID) {
			return nil, fmt.Errorf("%w: suggestion %d: unknown route %v", ErrInvalidSuggestion, i, float64(s.RouteID))
		}
		tier := domain.Tier(s.SuggestedTier)
		if !tier.Valid() || float64(tier) != float64(s.SuggestedTier) {
			return nil, fmt.Errorf("%w: route %d: tier %v outside 1..3", ErrInvalidSuggestion, id, float64(s.SuggestedTier))
		}
		freq := float64(s.SuggestedFrequency)
		if !domain.ValidFrequency(freq) {
			return nil, fmt.Errorf("%w: route %d: frequency %v not a finite value of at least %.0fh", ErrInvalidSuggestion, id, freq, domain.MinFrequencyHours)
		}
		changes = append(changes, domain.ScheduleChange{
			RouteID:        id,
			Tier:           tier,
			FrequencyHours: freq,
			Reason:         strings.TrimSpace(s.Reason),
		})
	}
	return changes, nil
}

// looseNumber accepts JSON numbers and finite numeric strings.
type looseNumber float64

func (n *looseNumber) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(bytes.TrimSpace(data), `"`)
	if len(data) == 0 || string(data) == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("not a finite number: %q", data)
	}
	*n = looseNumber(v)
	return nil
}
