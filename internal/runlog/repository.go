package runlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/ledgermart/internal/ledger"
)

// Repository persists run ledger entries in logs.etl_logs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the run ledger repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var errNotInitialised = errors.New("runlog: repository not initialised")

// Start inserts a STARTED entry and returns its id.
func (r *Repository) Start(ctx context.Context, unit string) (int64, error) {
	if r == nil || r.pool == nil {
		return 0, errNotInitialised
	}
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO logs.etl_logs (table_name, status, start_time) VALUES ($1, $2, NOW()) RETURNING id`, unit, StatusStarted).Scan(&id)
	if err != nil {
		return 0, ledger.Classify("runlog insert", err)
	}
	return id, nil
}

// Finish closes the entry with its final status.
func (r *Repository) Finish(ctx context.Context, runID int64, status Status, rows int64, message string) error {
	if r == nil || r.pool == nil {
		return errNotInitialised
	}
	tag, err := r.pool.Exec(ctx, `UPDATE logs.etl_logs SET status = $2, rows_loaded = $3, end_time = NOW(), message = $4 WHERE id = $1`, runID, status, rows, message)
	if err != nil {
		return ledger.Classify("runlog update", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("runlog: run %d not found", runID)
	}
	return nil
}

// Recent returns the latest entries, newest first.
func (r *Repository) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if r == nil || r.pool == nil {
		return nil, errNotInitialised
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
SELECT id, COALESCE(table_name, ''), COALESCE(status, ''), COALESCE(rows_loaded, 0), start_time, end_time, COALESCE(message, '')
FROM logs.etl_logs
ORDER BY id DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, ledger.Classify("runlog recent", err)
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var (
			e      Entry
			status string
			ended  *time.Time
		)
		if err := rows.Scan(&e.ID, &e.Unit, &status, &e.Rows, &e.StartedAt, &ended, &e.Message); err != nil {
			return nil, ledger.Classify("runlog scan", err)
		}
		e.Status = Status(status)
		e.FinishedAt = ended
		entries = append(entries, e)
	}
	return entries, ledger.Classify("runlog recent", rows.Err())
}
