package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// ResultExporter writes a finished session's accepted items, one row per item.
// Re-exporting a session replaces its rows.
type ResultExporter struct {
	pool  Pool
	table string
}

// NewResultExporter wraps pool; table defaults to crawl_results.
func NewResultExporter(pool Pool, table string) (*ResultExporter, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ResultExporter{pool: pool, table: name}, nil
}

// Close releases the underlying pool.
func (e *ResultExporter) Close() {
	if e == nil || e.pool == nil {
		return
	}
	e.pool.Close()
}

// ExportResults implements crawler.ResultExporter.
func (e *ResultExporter) ExportResults(ctx context.Context, sessionID string, items []crawler.ItemDescriptor) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin export: %w", err)
	}
	if err := e.write(ctx, tx, sessionID, items); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit export: %w", err)
	}
	return nil
}

func (e *ResultExporter) write(ctx context.Context, tx pgx.Tx, sessionID string, items []crawler.ItemDescriptor) error {
	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE session_id = $1`, e.table), sessionID); err != nil {
		return fmt.Errorf("clear previous export: %w", err)
	}
	insert := fmt.Sprintf(`
INSERT INTO %s (
	session_id,
	position,
	item_id,
	item_type,
	user_id,
	bookmark_count,
	created_at,
	metadata
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)`, e.table)
	for i, item := range items {
		metadata, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshal item %s: %w", item.ID, err)
		}
		args := []any{
			sessionID,
			i,
			item.ID,
			item.Kind.PublicType(),
			item.UserID,
			item.BookmarkCount,
			item.CreatedAt,
			metadata,
		}
		if _, err := tx.Exec(ctx, insert, args...); err != nil {
			return fmt.Errorf("insert item %s: %w", item.ID, err)
		}
	}
	return nil
}
