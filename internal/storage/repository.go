package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"flight-deal-scanner/internal/domain"
)

const (
	routeColumns = `id,
        origin,
        destination,
        tier,
        scan_frequency_hours,
        estimated_calls_per_scan,
        segments,
        region,
        remarks,
        is_active,
        last_scan_at,
        created_at,
        updated_at`

	listRoutesSQL = `SELECT ` + routeColumns + `
    FROM routes
    WHERE ($1::boolean = FALSE OR is_active)
    ORDER BY tier, id;`

	upsertRouteSQL = `INSERT INTO routes (
        origin,
        destination,
        tier,
        scan_frequency_hours,
        estimated_calls_per_scan,
        segments,
        region,
        remarks,
        is_active
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (origin, destination) DO UPDATE
    SET
        tier                     = EXCLUDED.tier,
        scan_frequency_hours     = EXCLUDED.scan_frequency_hours,
        estimated_calls_per_scan = EXCLUDED.estimated_calls_per_scan,
        segments                 = EXCLUDED.segments,
        region                   = EXCLUDED.region,
        remarks                  = EXCLUDED.remarks,
        is_active                = EXCLUDED.is_active,
        updated_at               = NOW()
    RETURNING ` + routeColumns + `;`

	markRouteScannedSQL = `UPDATE routes SET last_scan_at = $2 WHERE id = $1;`

	deactivateRouteSQL = `UPDATE routes SET is_active = FALSE, updated_at = NOW() WHERE id = $1;`

	updateRouteScheduleSQL = `UPDATE routes
    SET tier = $2, scan_frequency_hours = $3, updated_at = NOW()
    WHERE id = $1;`

	insertOptimizationSQL = `INSERT INTO route_optimizations (model, plan) VALUES ($1, $2);`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

var (
	_ Repository     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)

// Store is the PostgreSQL-backed Repository.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// the session lock also drops when the connection is recycled
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// ListRoutes returns the catalogue ordered by tier, optionally only active routes.
func (s *Store) ListRoutes(ctx context.Context, activeOnly bool) ([]domain.Route, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRoutesSQL, activeOnly)
	if queryErr != nil {
		return nil, fmt.Errorf("list routes: %w", queryErr)
	}
	defer rows.Close()

	routes := make([]domain.Route, 0)
	for rows.Next() {
		route, scanErr := scanRoute(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		routes = append(routes, route)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return routes, nil
}

// UpsertRoute inserts a route or refreshes the existing origin/destination pair.
func (s *Store) UpsertRoute(ctx context.Context, route domain.Route) (domain.Route, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.Route{}, err
	}
	if err := route.Validate(); err != nil {
		return domain.Route{}, err
	}

	row := pool.QueryRow(ctx, upsertRouteSQL,
		route.Origin,
		route.Destination,
		int(route.Tier),
		route.BaseScanFrequencyHours,
		route.EstimatedCallsPerScan,
		segmentStrings(route.Segments),
		route.Region,
		route.Remarks,
		route.Active,
	)
	stored, scanErr := scanRoute(row)
	if scanErr != nil {
		return domain.Route{}, fmt.Errorf("upsert route %s: %w", route.Key(), scanErr)
	}
	return stored, nil
}

// MarkRouteScanned stamps the last successful scan of a route.
func (s *Store) MarkRouteScanned(ctx context.Context, routeID int64, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, markRouteScannedSQL, routeID, at)
	if execErr != nil {
		return fmt.Errorf("mark route scanned: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateRoute retires a route without deleting its history.
func (s *Store) DeactivateRoute(ctx context.Context, routeID int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, deactivateRouteSQL, routeID)
	if execErr != nil {
		return fmt.Errorf("deactivate route: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// WithinTx runs fn inside a single database transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(tx RouteTx) error) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	if err := fn(&pgRouteTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type pgRouteTx struct {
	tx pgx.Tx
}

func (t *pgRouteTx) UpdateRouteSchedule(ctx context.Context, change domain.ScheduleChange) error {
	if err := change.Validate(); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, updateRouteScheduleSQL, change.RouteID, int(change.Tier), change.FrequencyHours)
	if err != nil {
		return fmt.Errorf("update route %d schedule: %w", change.RouteID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update route %d schedule: %w", change.RouteID, ErrNotFound)
	}
	return nil
}

func (t *pgRouteTx) RecordOptimization(ctx context.Context, model string, changes []domain.ScheduleChange) error {
	plan, err := encodePlan(changes)
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, insertOptimizationSQL, model, plan); err != nil {
		return fmt.Errorf("record optimization: %w", err)
	}
	return nil
}

func scanRoute(row pgx.Row) (domain.Route, error) {
	var (
		route    domain.Route
		tier     int
		segments []string
		lastScan *time.Time
	)
	if err := row.Scan(
		&route.ID,
		&route.Origin,
		&route.Destination,
		&tier,
		&route.BaseScanFrequencyHours,
		&route.EstimatedCallsPerScan,
		&segments,
		&route.Region,
		&route.Remarks,
		&route.Active,
		&lastScan,
		&route.CreatedAt,
		&route.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Route{}, ErrNotFound
		}
		return domain.Route{}, err
	}

	route.Tier = domain.Tier(tier)
	if lastScan != nil {
		route.LastScanAt = *lastScan
	}
	for _, raw := range segments {
		seg, err := domain.ParseSegment(raw)
		if err != nil {
			return domain.Route{}, fmt.Errorf("route %d: %w", route.ID, err)
		}
		route.Segments = append(route.Segments, seg)
	}
	return route, nil
}

func segmentStrings(segments []domain.Segment) []string {
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		out = append(out, string(seg))
	}
	return out
}
