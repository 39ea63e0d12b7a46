// Package runlog records the start and finish of every unit of work in the
// run ledger (logs.etl_logs).
package runlog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/ledgermart/internal/ledger"
)

// Status enumerates run ledger states.
type Status string

const (
	StatusStarted Status = "STARTED"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Unit names written to the run ledger.
const (
	UnitTurnover    = "dm.dm_account_turnover_f"
	UnitBalance     = "dm.dm_account_balance_f"
	UnitBalanceSeed = "dm.dm_account_balance_f:seed"
	UnitReport      = "dm.dm_f101_round_f"
)

// Ledger is the narrow logging port handed to every component.
type Ledger interface {
	Start(ctx context.Context, unit string) (int64, error)
	Finish(ctx context.Context, runID int64, status Status, rows int64, message string) error
}

// Entry is one row of the run ledger.
type Entry struct {
	ID         int64
	Unit       string
	Status     Status
	Rows       int64
	StartedAt  time.Time
	FinishedAt *time.Time
	Message    string
}

// Work performs a unit of work and reports the number of rows written.
type Work func(ctx context.Context) (int64, error)

// Bracket wraps work between one Start and one Finish. A failure is recorded
// as FAILED with the underlying message and returned as *ledger.ComputationError.
// Run ledger transport failures surface as ledger.ErrConnectivity.
func Bracket(ctx context.Context, runs Ledger, unit, key string, work Work) (int64, error) {
	runID, err := runs.Start(ctx, unit)
	if err != nil {
		return 0, ledger.Classify("run start "+unit, err)
	}
	rows, workErr := work(ctx)
	if workErr != nil {
		// the caller's context may already be cancelled; the FAILED mark must still land
		_ = runs.Finish(context.WithoutCancel(ctx), runID, StatusFailed, 0, "error: "+workErr.Error())
		return 0, &ledger.ComputationError{Unit: unit, Key: key, Err: workErr}
	}
	message := fmt.Sprintf("%s computed for %s", unit, key)
	if err := runs.Finish(ctx, runID, StatusSuccess, rows, message); err != nil {
		return rows, ledger.Classify("run finish "+unit, err)
	}
	return rows, nil
}

// WithLogger mirrors every run ledger call to a structured logger.
func WithLogger(runs Ledger, logger *slog.Logger) Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &loggedLedger{next: runs, logger: logger}
}

type loggedLedger struct {
	next   Ledger
	logger *slog.Logger
}

func (l *loggedLedger) Start(ctx context.Context, unit string) (int64, error) {
	id, err := l.next.Start(ctx, unit)
	if err != nil {
		l.logger.Error("run start", slog.String("unit", unit), slog.Any("error", err))
		return id, err
	}
	l.logger.Debug("run start", slog.String("unit", unit), slog.Int64("run_id", id))
	return id, nil
}

func (l *loggedLedger) Finish(ctx context.Context, runID int64, status Status, rows int64, message string) error {
	attrs := []any{slog.Int64("run_id", runID), slog.String("status", string(status)), slog.Int64("rows", rows), slog.String("message", message)}
	if status == StatusFailed {
		l.logger.Warn("run finish", attrs...)
	} else {
		l.logger.Info("run finish", attrs...)
	}
	return l.next.Finish(ctx, runID, status, rows, message)
}
