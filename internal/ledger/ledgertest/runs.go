package ledgertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/odyssey-erp/ledgermart/internal/runlog"
)

// Runs is an in-memory run ledger.
type Runs struct {
	mu      sync.Mutex
	entries []runlog.Entry
}

// Start implements runlog.Ledger.
func (r *Runs) Start(ctx context.Context, unit string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := int64(len(r.entries) + 1)
	r.entries = append(r.entries, runlog.Entry{ID: id, Unit: unit, Status: runlog.StatusStarted, StartedAt: time.Now()})
	return id, nil
}

// Finish implements runlog.Ledger.
func (r *Runs) Finish(ctx context.Context, runID int64, status runlog.Status, rows int64, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if runID < 1 || int(runID) > len(r.entries) {
		return fmt.Errorf("run %d not found", runID)
	}
	now := time.Now()
	e := &r.entries[runID-1]
	e.Status, e.Rows, e.Message, e.FinishedAt = status, rows, message, &now
	return nil
}

// Recent returns entries newest first.
func (r *Runs) Recent(ctx context.Context, limit int) ([]runlog.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []runlog.Entry
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.entries[i])
	}
	return out, nil
}

// Count returns how many entries of unit finished with status.
func (r *Runs) Count(unit string, status runlog.Status) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Unit == unit && e.Status == status {
			n++
		}
	}
	return n
}

// Entries returns a copy of all entries in start order.
func (r *Runs) Entries() []runlog.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]runlog.Entry(nil), r.entries...)
}
