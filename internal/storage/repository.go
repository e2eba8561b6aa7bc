package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"market-scanner/internal/alerting"
	"market-scanner/internal/report"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrReportNotFound is returned when no archived report matches.
	ErrReportNotFound = errors.New("storage: report not found")
)

const (
	schemaSQL = `CREATE TABLE IF NOT EXISTS deliveries (
        symbol       TEXT PRIMARY KEY,
        delivered_at TIMESTAMPTZ NOT NULL
    );
    CREATE TABLE IF NOT EXISTS run_reports (
        run_id      UUID PRIMARY KEY,
        started_at  TIMESTAMPTZ NOT NULL,
        finished_at TIMESTAMPTZ NOT NULL,
        total       INTEGER NOT NULL,
        succeeded   INTEGER NOT NULL,
        failed      INTEGER NOT NULL,
        promoted    INTEGER NOT NULL,
        delivered   INTEGER NOT NULL,
        payload     JSONB NOT NULL,
        created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS run_reports_started_at_idx ON run_reports (started_at DESC);`

	listDeliveriesSQL = `SELECT symbol, delivered_at FROM deliveries ORDER BY symbol;`

	upsertDeliverySQL = `INSERT INTO deliveries (symbol, delivered_at)
    VALUES ($1, $2)
    ON CONFLICT (symbol) DO UPDATE
    SET delivered_at = GREATEST(deliveries.delivered_at, EXCLUDED.delivered_at);`

	insertReportSQL = `INSERT INTO run_reports (
        run_id,
        started_at,
        finished_at,
        total,
        succeeded,
        failed,
        promoted,
        delivered,
        payload
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (run_id) DO UPDATE
    SET finished_at = EXCLUDED.finished_at,
        total       = EXCLUDED.total,
        succeeded   = EXCLUDED.succeeded,
        failed      = EXCLUDED.failed,
        promoted    = EXCLUDED.promoted,
        delivered   = EXCLUDED.delivered,
        payload     = EXCLUDED.payload;`

	listRecentReportsSQL = `SELECT
        run_id::text,
        started_at,
        finished_at,
        total,
        succeeded,
        failed,
        promoted,
        delivered,
        created_at
    FROM run_reports
    ORDER BY started_at DESC
    LIMIT $1;`

	loadReportSQL = `SELECT payload FROM run_reports WHERE run_id = $1;`

	loadLatestReportSQL = `SELECT payload FROM run_reports ORDER BY started_at DESC LIMIT 1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// ReportArchive lists and loads archived run reports.
type ReportArchive interface {
	ListRecentReports(ctx context.Context, limit int) ([]ReportRecord, error)
	LoadReport(ctx context.Context, runID string) (report.RunReport, error)
	LoadLatestReport(ctx context.Context) (report.RunReport, error)
}

// Store keeps dedupe state and archived reports in PostgreSQL.
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

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Migrate creates the tables the store needs.
func (s *Store) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
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
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// LoadDeliveries implements alerting.DedupeStore.
func (s *Store) LoadDeliveries(ctx context.Context) (map[string]time.Time, error) {
	deliveries, err := s.ListDeliveries(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(deliveries))
	for _, d := range deliveries {
		out[d.Symbol] = d.DeliveredAt
	}
	return out, nil
}

// ListDeliveries returns every recorded delivery ordered by symbol.
func (s *Store) ListDeliveries(ctx context.Context) ([]Delivery, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listDeliveriesSQL)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	out := make([]Delivery, 0)
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.Symbol, &d.DeliveredAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		out = append(out, d)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// SaveDelivery implements alerting.DedupeStore. The stored time never moves
// backwards.
func (s *Store) SaveDelivery(ctx context.Context, symbol string, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, upsertDeliverySQL, symbol, at.UTC()); err != nil {
		return fmt.Errorf("upsert delivery: %w", err)
	}
	return nil
}

// WriteReport implements report.Sink.
func (s *Store) WriteReport(ctx context.Context, r report.RunReport) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	sum := r.Summarize()
	if _, err := pool.Exec(ctx, insertReportSQL,
		r.RunID,
		r.StartedAt,
		r.FinishedAt,
		sum.Total,
		sum.Succeeded,
		sum.Failed,
		sum.Promoted,
		sum.Delivered,
		payload,
	); err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// ListRecentReports lists archived runs, newest first.
func (s *Store) ListRecentReports(ctx context.Context, limit int) ([]ReportRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentReportsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent reports: %w", queryErr)
	}
	defer rows.Close()

	records := make([]ReportRecord, 0, limit)
	for rows.Next() {
		var rec ReportRecord
		if err := rows.Scan(
			&rec.RunID,
			&rec.StartedAt,
			&rec.FinishedAt,
			&rec.Summary.Total,
			&rec.Summary.Succeeded,
			&rec.Summary.Failed,
			&rec.Summary.Promoted,
			&rec.Summary.Delivered,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// LoadReport loads one archived report by run ID.
func (s *Store) LoadReport(ctx context.Context, runID string) (report.RunReport, error) {
	return s.loadPayload(ctx, loadReportSQL, runID)
}

// LoadLatestReport loads the most recently started archived report.
func (s *Store) LoadLatestReport(ctx context.Context) (report.RunReport, error) {
	return s.loadPayload(ctx, loadLatestReportSQL)
}

func (s *Store) loadPayload(ctx context.Context, query string, args ...any) (report.RunReport, error) {
	pool, err := s.getPool()
	if err != nil {
		return report.RunReport{}, err
	}
	var payload []byte
	if err := pool.QueryRow(ctx, query, args...).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return report.RunReport{}, ErrReportNotFound
		}
		return report.RunReport{}, fmt.Errorf("load report: %w", err)
	}
	var r report.RunReport
	if err := json.Unmarshal(payload, &r); err != nil {
		return report.RunReport{}, fmt.Errorf("decode report payload: %w", err)
	}
	return r, nil
}

var (
	_ alerting.DedupeStore = (*Store)(nil)
	_ report.Sink          = (*Store)(nil)
	_ ReportArchive        = (*Store)(nil)
	_ AdvisoryLocker       = (*Store)(nil)
)
