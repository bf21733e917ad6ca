package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"flight-deal-scanner/internal/domain"
)

const (
	insertDealCandidateSQL = `INSERT INTO deal_candidates (
        id,
        cycle_id,
        route_id,
        segment,
        price,
        currency,
        airline,
        stops,
        departure_at,
        z_score,
        discount_pct,
        validation_score,
        recommendation,
        validation_method,
        threshold_used,
        synthetic,
        detected_at
    ) VALUES (
        $1,$2,$3,$4,$5::numeric,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17
    )
    ON CONFLICT (id) DO NOTHING;`

	listRecentDealsSQL = `SELECT
        d.id::text,
        COALESCE(d.cycle_id::text, ''),
        d.route_id,
        r.origin,
        r.destination,
        r.tier,
        d.segment,
        d.price::text,
        d.currency,
        d.airline,
        d.stops,
        d.departure_at,
        d.z_score,
        d.discount_pct,
        d.validation_score,
        d.recommendation,
        d.validation_method,
        d.threshold_used,
        d.synthetic,
        d.detected_at
    FROM deal_candidates d
    JOIN routes r ON r.id = d.route_id
    ORDER BY d.detected_at DESC
    LIMIT $1;`

	insertScanCycleSQL = `INSERT INTO scan_cycles (
        id,
        started_at,
        finished_at,
        prime_status,
        due,
        attempted,
        succeeded,
        failed,
        skipped_budget,
        anomalies,
        candidates_sent,
        candidates_held,
        calls_consumed,
        halted,
        halt_reason
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
    );`

	latestScanCycleSQL = `SELECT
        id::text,
        started_at,
        finished_at,
        prime_status,
        due,
        attempted,
        succeeded,
        failed,
        skipped_budget,
        anomalies,
        candidates_sent,
        candidates_held,
        calls_consumed,
        halted,
        COALESCE(halt_reason, '')
    FROM scan_cycles
    ORDER BY started_at DESC
    LIMIT 1;`

	callsConsumedSinceSQL = `SELECT COALESCE(SUM(calls_consumed), 0) FROM scan_cycles WHERE started_at >= $1;`
)

// InsertDealCandidate persists a validated candidate; re-inserting the same ID is a no-op.
func (s *Store) InsertDealCandidate(ctx context.Context, deal domain.DealCandidate) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var cycleID interface{}
	if deal.CycleID != "" {
		cycleID = deal.CycleID
	}
	var departAt interface{}
	if !deal.Fare.DepartAt.IsZero() {
		departAt = deal.Fare.DepartAt
	}

	if _, execErr := pool.Exec(ctx, insertDealCandidateSQL,
		deal.ID,
		cycleID,
		deal.Route.ID,
		string(deal.Segment),
		deal.Fare.Price.String(),
		deal.Fare.Currency,
		deal.Fare.Airline,
		deal.Fare.Stops,
		departAt,
		deal.ZScore,
		deal.DiscountPct,
		deal.ValidationScore,
		string(deal.Recommendation),
		string(deal.ValidationMethod),
		deal.AdaptiveThresholdUsed,
		deal.Synthetic,
		deal.DetectedAt,
	); execErr != nil {
		return fmt.Errorf("insert deal candidate: %w", execErr)
	}
	return nil
}

// ListRecentDeals lists the most recent candidates, newest first.
func (s *Store) ListRecentDeals(ctx context.Context, limit int) ([]domain.DealCandidate, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentDealsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent deals: %w", queryErr)
	}
	defer rows.Close()

	deals := make([]domain.DealCandidate, 0, limit)
	for rows.Next() {
		deal, scanErr := scanDeal(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		deals = append(deals, deal)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return deals, nil
}

// InsertScanCycle stores a tick summary.
func (s *Store) InsertScanCycle(ctx context.Context, cycle domain.ScanCycle) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	var reason interface{}
	if cycle.HaltReason != "" {
		reason = cycle.HaltReason
	}
	if _, execErr := pool.Exec(ctx, insertScanCycleSQL,
		cycle.ID,
		cycle.StartedAt,
		cycle.FinishedAt,
		cycle.PrimeStatus,
		cycle.Due,
		cycle.Attempted,
		cycle.Succeeded,
		cycle.Failed,
		cycle.SkippedBudget,
		cycle.Anomalies,
		cycle.CandidatesSent,
		cycle.CandidatesHeld,
		cycle.CallsConsumed,
		cycle.Halted,
		reason,
	); execErr != nil {
		return fmt.Errorf("insert scan cycle: %w", execErr)
	}
	return nil
}

// LatestScanCycle returns the most recent tick summary or ErrNotFound.
func (s *Store) LatestScanCycle(ctx context.Context) (domain.ScanCycle, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.ScanCycle{}, err
	}

	var c domain.ScanCycle
	scanErr := pool.QueryRow(ctx, latestScanCycleSQL).Scan(
		&c.ID,
		&c.StartedAt,
		&c.FinishedAt,
		&c.PrimeStatus,
		&c.Due,
		&c.Attempted,
		&c.Succeeded,
		&c.Failed,
		&c.SkippedBudget,
		&c.Anomalies,
		&c.CandidatesSent,
		&c.CandidatesHeld,
		&c.CallsConsumed,
		&c.Halted,
		&c.HaltReason,
	)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return domain.ScanCycle{}, ErrNotFound
	}
	if scanErr != nil {
		return domain.ScanCycle{}, fmt.Errorf("latest scan cycle: %w", scanErr)
	}
	return c, nil
}

// CallsConsumedSince sums the provider calls reserved by ticks started since the instant.
func (s *Store) CallsConsumedSince(ctx context.Context, since time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var total int64
	if scanErr := pool.QueryRow(ctx, callsConsumedSinceSQL, since).Scan(&total); scanErr != nil {
		return 0, fmt.Errorf("calls consumed since: %w", scanErr)
	}
	return total, nil
}

func scanDeal(rows pgx.Rows) (domain.DealCandidate, error) {
	var (
		deal     domain.DealCandidate
		tier     int
		segment  string
		priceStr string
		departAt *time.Time
		rec      string
		method   string
	)
	if err := rows.Scan(
		&deal.ID,
		&deal.CycleID,
		&deal.Route.ID,
		&deal.Route.Origin,
		&deal.Route.Destination,
		&tier,
		&segment,
		&priceStr,
		&deal.Fare.Currency,
		&deal.Fare.Airline,
		&deal.Fare.Stops,
		&departAt,
		&deal.ZScore,
		&deal.DiscountPct,
		&deal.ValidationScore,
		&rec,
		&method,
		&deal.AdaptiveThresholdUsed,
		&deal.Synthetic,
		&deal.DetectedAt,
	); err != nil {
		return domain.DealCandidate{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return domain.DealCandidate{}, fmt.Errorf("parse deal price: %w", err)
	}
	deal.Fare.Price = price
	deal.Route.Tier = domain.Tier(tier)
	deal.Segment = domain.Segment(segment)
	deal.Recommendation = domain.Recommendation(rec)
	deal.ValidationMethod = domain.ValidationMethod(method)
	if departAt != nil {
		deal.Fare.DepartAt = *departAt
	}
	return deal, nil
}
