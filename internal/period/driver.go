// Package period drives the turnover and balance accumulators across a date
// range, seeding the chain from the opening balance snapshot.
package period

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/ledgermart/internal/balance"
	"github.com/odyssey-erp/ledgermart/internal/ledger"
	"github.com/odyssey-erp/ledgermart/internal/runlog"
	"github.com/odyssey-erp/ledgermart/internal/shared"
)

// Policy decides what happens to the rest of the range after a failed date.
type Policy string

const (
	// PolicyContinue logs the failed date and moves on; later balances may drift.
	PolicyContinue Policy = "continue"
	// PolicyHalt stops at the first failed date.
	PolicyHalt Policy = "halt"
)

// ErrUnknownPolicy is returned by ParsePolicy.
var ErrUnknownPolicy = errors.New("period: unknown failure policy")

// ParsePolicy accepts "continue" or "halt"; empty means continue.
func ParsePolicy(raw string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PolicyContinue:
		return PolicyContinue, nil
	case PolicyHalt:
		return PolicyHalt, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, raw)
	}
}

// Store provides the opening snapshot.
type Store interface {
	OpeningSnapshot(ctx context.Context, day time.Time) ([]ledger.OpeningBalance, error)
	RatesOn(ctx context.Context, day time.Time) ([]ledger.ExchangeRate, error)
	ReplaceBalances(ctx context.Context, day time.Time, rows []ledger.DailyBalance) (int64, error)
}

// Turnover computes one day's turnover.
type Turnover interface {
	Run(ctx context.Context, day time.Time) (int64, error)
}

// Balance computes one day's balances; a nil prior is read from the store.
type Balance interface {
	RunWithCarry(ctx context.Context, day time.Time, prior balance.Carry) (int64, balance.Carry, error)
}

// Guard serialises runs that share a key.
type Guard interface {
	Acquire(ctx context.Context, key string) (func(context.Context) error, error)
}

// DayStatus is the outcome of one date.
type DayStatus struct {
	Date         time.Time
	TurnoverRows int64
	BalanceRows  int64
	Err          error
	// Drift marks dates computed after an earlier failure in the same run.
	Drift bool
}

// Result summarises a run.
type Result struct {
	BatchID   string
	From      time.Time
	To        time.Time
	Policy    Policy
	Seeded    int64
	Days      []DayStatus
	Succeeded int
	Failed    int
	Aborted   bool
}

// OK reports whether every date succeeded.
func (r Result) OK() bool {
	return r.Failed == 0 && !r.Aborted
}

// FailedDates lists the dates that failed.
func (r Result) FailedDates() []time.Time {
	var out []time.Time
	for _, d := range r.Days {
		if d.Err != nil {
			out = append(out, d.Date)
		}
	}
	return out
}

// Driver sequences the accumulators.
type Driver struct {
	store    Store
	turnover Turnover
	balance  Balance
	runs     runlog.Ledger
	guard    Guard
	policy   Policy
	logger   *slog.Logger
	newID    func() string
}

// NewDriver constructs a driver with the continue policy and no guard.
func NewDriver(store Store, turnover Turnover, balance Balance, runs runlog.Ledger, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		store:    store,
		turnover: turnover,
		balance:  balance,
		runs:     runs,
		policy:   PolicyContinue,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

// WithPolicy overrides the failure policy.
func (d *Driver) WithPolicy(policy Policy) {
	if policy != "" {
		d.policy = policy
	}
}

// WithGuard makes Run hold the ledger run lock.
func (d *Driver) WithGuard(guard Guard) {
	d.guard = guard
}

// Seed writes the opening snapshot of day as that day's balances and returns
// the resulting carry. An empty snapshot leaves stored balances untouched
// and returns a nil carry.
func (d *Driver) Seed(ctx context.Context, day time.Time) (int64, balance.Carry, error) {
	day = shared.Day(day)
	var carry balance.Carry
	rows, err := runlog.Bracket(ctx, d.runs, runlog.UnitBalanceSeed, shared.FormatDate(day), func(ctx context.Context) (int64, error) {
		snapshot, err := d.store.OpeningSnapshot(ctx, day)
		if err != nil {
			return 0, err
		}
		if len(snapshot) == 0 {
			d.logger.Warn("opening snapshot empty, keeping stored balances", slog.String("date", shared.FormatDate(day)))
			return 0, nil
		}
		rates, err := d.store.RatesOn(ctx, day)
		if err != nil {
			return 0, err
		}
		seed := balance.SeedRows(day, snapshot, rates)
		written, err := d.store.ReplaceBalances(ctx, day, seed)
		if err != nil {
			return 0, err
		}
		carry = balance.CarryFrom(seed)
		return written, nil
	})
	if err != nil {
		return 0, nil, err
	}
	return rows, carry, nil
}

// Run seeds from the snapshot of start-1, then computes turnover and
// balances for every date of [start, end] in ascending order.
func (d *Driver) Run(ctx context.Context, start, end time.Time) (Result, error) {
	dates, err := shared.EachDay(start, end)
	if err != nil {
		return Result{}, fmt.Errorf("period: %w", err)
	}
	if d.guard != nil {
		release, err := d.guard.Acquire(ctx, shared.LedgerRunLockKey)
		if err != nil {
			return Result{}, fmt.Errorf("period: acquire run lock: %w", err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				d.logger.Warn("release run lock", slog.Any("error", err))
			}
		}()
	}

	result := Result{BatchID: d.newID(), From: dates[0], To: dates[len(dates)-1], Policy: d.policy}
	logger := d.logger.With(slog.String("batch_id", result.BatchID))
	logger.Info("period run started", slog.String("from", shared.FormatDate(result.From)), slog.String("to", shared.FormatDate(result.To)), slog.String("policy", string(d.policy)))

	drift := false
	seeded, carry, err := d.Seed(ctx, result.From.AddDate(0, 0, -1))
	if err != nil {
		if ledger.IsConnectivity(err) {
			result.Aborted = true
			return result, fmt.Errorf("period: seed: %w", err)
		}
		if d.policy == PolicyHalt {
			return result, fmt.Errorf("period: seed: %w", err)
		}
		logger.Warn("seed failed, continuing from stored balances", slog.Any("error", err))
		drift = true
	}
	result.Seeded = seeded

	for _, day := range dates {
		if err := ctx.Err(); err != nil {
			result.Aborted = true
			return result, err
		}
		status := DayStatus{Date: day, Drift: drift}
		var turnoverErr, balanceErr error
		status.TurnoverRows, turnoverErr = d.turnover.Run(ctx, day)
		// under continue the balance still rolls forward over whatever turnover is stored for day
		if turnoverErr == nil || (d.policy == PolicyContinue && !ledger.IsConnectivity(turnoverErr)) {
			var next balance.Carry
			status.BalanceRows, next, balanceErr = d.balance.RunWithCarry(ctx, day, carry)
			if balanceErr == nil {
				carry = next
			}
			// a failed balance keeps the carry of day-1 for the next date
		}
		if err := errors.Join(turnoverErr, balanceErr); err != nil {
			status.Err = err
			result.Days = append(result.Days, status)
			result.Failed++
			drift = true
			logger.Error("period date failed", slog.String("date", shared.FormatDate(day)), slog.Any("error", err))
			if ledger.IsConnectivity(err) {
				result.Aborted = true
				return result, fmt.Errorf("period: %s: %w", shared.FormatDate(day), err)
			}
			if d.policy == PolicyHalt {
				return result, fmt.Errorf("period: halted at %s: %w", shared.FormatDate(day), err)
			}
			continue
		}
		result.Days = append(result.Days, status)
		result.Succeeded++
	}

	if drift {
		logger.Warn("period run finished with failed dates, later balances may be stale",
			slog.Int("failed", result.Failed), slog.Int("succeeded", result.Succeeded))
	} else {
		logger.Info("period run finished", slog.Int("succeeded", result.Succeeded))
	}
	return result, nil
}
