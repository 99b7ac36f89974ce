package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/listing-crawler/internal/progress/sinks"
)

// RunRecorder mirrors live session progress into a runs table so external
// dashboards can follow a crawl. It implements sinks.ProgressRecorder.
type RunRecorder struct {
	pool  Pool
	table string
}

var _ sinks.ProgressRecorder = (*RunRecorder)(nil)

// NewRunRecorder wraps pool; table defaults to crawl_session_runs.
func NewRunRecorder(pool Pool, table string) (*RunRecorder, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = "crawl_session_runs"
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RunRecorder{pool: pool, table: name}, nil
}

// RecordStart inserts the run row, keeping the first start time on conflict.
func (r *RunRecorder) RecordStart(ctx context.Context, sessionID string, at time.Time) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (session_id, started_at, last_update, pages, accepted, scanned)
		VALUES ($1, $2, $2, 0, 0, 0)
		ON CONFLICT (session_id) DO NOTHING;`, r.table)
	if _, err := r.pool.Exec(ctx, query, sessionID, at); err != nil {
		return fmt.Errorf("upsert session run: %w", err)
	}
	return nil
}

// RecordPages adds delta to the run counters, inserting the row when the
// start event was never recorded.
func (r *RunRecorder) RecordPages(ctx context.Context, sessionID string, delta sinks.PageDelta) error {
	update := fmt.Sprintf(`
		UPDATE %s SET pages = pages + $1,
			accepted = accepted + $2,
			scanned = scanned + $3,
			last_update = $4
		WHERE session_id = $5;`, r.table)
	res, err := r.pool.Exec(ctx, update, delta.Pages, delta.Accepted, delta.Scanned, delta.At, sessionID)
	if err != nil {
		return fmt.Errorf("update session run: %w", err)
	}
	if res.RowsAffected() > 0 {
		return nil
	}
	insert := fmt.Sprintf(`
		INSERT INTO %s (session_id, started_at, last_update, pages, accepted, scanned)
		VALUES ($1, $2, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO NOTHING;`, r.table)
	if _, err := r.pool.Exec(ctx, insert, sessionID, delta.At, delta.Pages, delta.Accepted, delta.Scanned); err != nil {
		return fmt.Errorf("insert session run: %w", err)
	}
	return nil
}
