package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"flight-deal-scanner/internal/domain"
)

const (
	insertCallUsageSQL = `INSERT INTO call_usage (
        provider,
        endpoint,
        route_id,
        route_key,
        success,
        synthetic,
        cache_hit,
        latency_ms,
        results_count,
        error,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
    );`

	dailyCallUsageSQL = `SELECT
        date_trunc('day', created_at) AS day,
        COUNT(*) FILTER (WHERE NOT cache_hit)                 AS calls,
        COUNT(*) FILTER (WHERE NOT success)                   AS failures,
        COUNT(*) FILTER (WHERE synthetic)                     AS synthetic
    FROM call_usage
    WHERE created_at >= $1
      AND created_at < $2
    GROUP BY day
    ORDER BY day;`

	insertAdvisorUsageSQL = `INSERT INTO advisor_usage (
        model,
        task,
        tokens,
        cost,
        created_at
    ) VALUES (
        $1,$2,$3,$4::numeric,$5
    );`

	advisorUsageSinceSQL = `SELECT
        model,
        COALESCE(SUM(cost), 0)::text,
        COUNT(*)
    FROM advisor_usage
    WHERE created_at >= $1
    GROUP BY model
    ORDER BY model;`

	insertAlertSentSQL = `INSERT INTO alert_outcomes (deal_id, segment, sent_at) VALUES ($1, $2, $3);`

	segmentOutcomesSinceSQL = `SELECT
        segment,
        COUNT(*),
        COUNT(*) FILTER (WHERE opened),
        COUNT(*) FILTER (WHERE clicked),
        COUNT(*) FILTER (WHERE converted)
    FROM alert_outcomes
    WHERE sent_at >= $1
    GROUP BY segment
    ORDER BY segment;`

	routePerformanceSinceSQL = `SELECT
        d.route_id,
        COUNT(o.id),
        COALESCE(AVG(d.discount_pct), 0)::float8,
        COALESCE(AVG(o.clicked::int), 0)::float8,
        COALESCE(AVG(o.converted::int), 0)::float8
    FROM deal_candidates d
    JOIN alert_outcomes o ON o.deal_id = d.id
    WHERE o.sent_at >= $1
    GROUP BY d.route_id
    ORDER BY d.route_id;`

	insertRoutePriceSQL = `INSERT INTO route_price_history (route_id, mean_price, samples, sampled_at)
    VALUES ($1, $2, $3, $4);`

	routeBaselineSQL = `SELECT
        COUNT(*),
        COALESCE(SUM(mean_price * samples) / NULLIF(SUM(samples), 0), 0)::float8
    FROM route_price_history
    WHERE route_id = $1
      AND sampled_at >= $2;`
)

// engagementColumns maps each event onto its outcome flag; identifiers are never user input.
var engagementColumns = map[domain.EngagementEvent]string{
	domain.EventOpened:    "opened",
	domain.EventClicked:   "clicked",
	domain.EventConverted: "converted",
}

// AppendCallUsage records one provider call.
func (s *Store) AppendCallUsage(ctx context.Context, rec domain.CallUsageRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var routeID interface{}
	if rec.RouteID > 0 {
		routeID = rec.RouteID
	}
	var errMsg interface{}
	if rec.Error != "" {
		errMsg = rec.Error
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	if _, execErr := pool.Exec(ctx, insertCallUsageSQL,
		rec.Provider,
		rec.Endpoint,
		routeID,
		rec.RouteKey,
		rec.Success,
		rec.Synthetic,
		rec.CacheHit,
		rec.Latency.Milliseconds(),
		rec.ResultsCount,
		errMsg,
		createdAt,
	); execErr != nil {
		return fmt.Errorf("append call usage: %w", execErr)
	}
	return nil
}

// DailyCallUsage aggregates provider calls per UTC day over [from, to).
func (s *Store) DailyCallUsage(ctx context.Context, from, to time.Time) ([]domain.DailyCallUsage, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, dailyCallUsageSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("daily call usage: %w", queryErr)
	}
	defer rows.Close()

	out := make([]domain.DailyCallUsage, 0)
	for rows.Next() {
		var day domain.DailyCallUsage
		if err := rows.Scan(&day.Day, &day.Calls, &day.Failures, &day.Synthetic); err != nil {
			return nil, err
		}
		out = append(out, day)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// AppendAdvisorUsage records one advisor invocation and its cost.
func (s *Store) AppendAdvisorUsage(ctx context.Context, rec domain.AdvisorUsageRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, execErr := pool.Exec(ctx, insertAdvisorUsageSQL,
		rec.Model,
		rec.Task,
		rec.Tokens,
		rec.Cost.String(),
		createdAt,
	); execErr != nil {
		return fmt.Errorf("append advisor usage: %w", execErr)
	}
	return nil
}

// AdvisorUsageSince sums cost and calls per model since the given instant.
func (s *Store) AdvisorUsageSince(ctx context.Context, since time.Time) ([]domain.AdvisorUsage, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, advisorUsageSinceSQL, since)
	if queryErr != nil {
		return nil, fmt.Errorf("advisor usage since: %w", queryErr)
	}
	defer rows.Close()

	out := make([]domain.AdvisorUsage, 0)
	for rows.Next() {
		var (
			usage   domain.AdvisorUsage
			costStr string
		)
		if err := rows.Scan(&usage.Model, &costStr, &usage.Calls); err != nil {
			return nil, err
		}
		cost, convErr := decimal.NewFromString(costStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse advisor cost: %w", convErr)
		}
		usage.Cost = cost
		out = append(out, usage)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// RecordAlertSent opens an outcome row for a delivered alert.
func (s *Store) RecordAlertSent(ctx context.Context, dealID string, segment domain.Segment, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, insertAlertSentSQL, dealID, string(segment), at); execErr != nil {
		return fmt.Errorf("record alert sent: %w", execErr)
	}
	return nil
}

// RecordEngagement flags an interaction on the alert sent for dealID to segment.
func (s *Store) RecordEngagement(ctx context.Context, dealID string, segment domain.Segment, event domain.EngagementEvent) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	column, ok := engagementColumns[event]
	if !ok {
		return fmt.Errorf("record engagement: unknown event %q", event)
	}

	query := fmt.Sprintf(`UPDATE alert_outcomes SET %s = TRUE WHERE deal_id = $1 AND segment = $2;`, column)
	tag, execErr := pool.Exec(ctx, query, dealID, string(segment))
	if execErr != nil {
		return fmt.Errorf("record engagement: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SegmentOutcomesSince aggregates engagement per segment.
func (s *Store) SegmentOutcomesSince(ctx context.Context, since time.Time) ([]domain.SegmentOutcome, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, segmentOutcomesSinceSQL, since)
	if queryErr != nil {
		return nil, fmt.Errorf("segment outcomes: %w", queryErr)
	}
	defer rows.Close()

	out := make([]domain.SegmentOutcome, 0, 3)
	for rows.Next() {
		var (
			o   domain.SegmentOutcome
			seg string
		)
		if err := rows.Scan(&seg, &o.Sent, &o.Opened, &o.Clicked, &o.Converted); err != nil {
			return nil, err
		}
		o.Segment = domain.Segment(seg)
		out = append(out, o)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// RoutePerformanceSince aggregates alert performance per route.
func (s *Store) RoutePerformanceSince(ctx context.Context, since time.Time) ([]domain.RoutePerformance, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, routePerformanceSinceSQL, since)
	if queryErr != nil {
		return nil, fmt.Errorf("route performance: %w", queryErr)
	}
	defer rows.Close()

	out := make([]domain.RoutePerformance, 0)
	for rows.Next() {
		var p domain.RoutePerformance
		if err := rows.Scan(&p.RouteID, &p.TotalAlerts, &p.AvgDiscountPct, &p.ClickRate, &p.ConversionRate); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// AppendRoutePrice stores the mean fare observed by one pass.
func (s *Store) AppendRoutePrice(ctx context.Context, routeID int64, meanPrice float64, samples int, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, insertRoutePriceSQL, routeID, meanPrice, samples, at); execErr != nil {
		return fmt.Errorf("append route price: %w", execErr)
	}
	return nil
}

// RouteBaseline returns the sample-weighted mean fare since the given instant.
// The boolean is false when no history exists.
func (s *Store) RouteBaseline(ctx context.Context, routeID int64, since time.Time) (float64, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, false, err
	}
	var (
		count    int64
		baseline float64
	)
	if scanErr := pool.QueryRow(ctx, routeBaselineSQL, routeID, since).Scan(&count, &baseline); scanErr != nil {
		return 0, false, fmt.Errorf("route baseline: %w", scanErr)
	}
	if count == 0 || baseline <= 0 {
		return 0, false, nil
	}
	return baseline, true, nil
}

type planEntry struct {
	RouteID        int64   `json:"route_id"`
	Tier           int     `json:"tier"`
	FrequencyHours float64 `json:"frequency_hours"`
	Reason         string  `json:"reason,omitempty"`
}

func encodePlan(changes []domain.ScheduleChange) ([]byte, error) {
	entries := make([]planEntry, 0, len(changes))
	for _, c := range changes {
		entries = append(entries, planEntry{
			RouteID:        c.RouteID,
			Tier:           int(c.Tier),
			FrequencyHours: c.FrequencyHours,
			Reason:         c.Reason,
		})
	}
	body, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encode optimization plan: %w", err)
	}
	return body, nil
}
