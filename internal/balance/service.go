package balance

import (
	"context"
	"log/slog"
	"time"

	"github.com/odyssey-erp/ledgermart/internal/ledger"
	"github.com/odyssey-erp/ledgermart/internal/runlog"
	"github.com/odyssey-erp/ledgermart/internal/shared"
)

// Store is the subset of the ledger store the accumulator needs.
type Store interface {
	AccountsValidOn(ctx context.Context, day time.Time) ([]ledger.Account, error)
	TurnoverOn(ctx context.Context, day time.Time) ([]ledger.DailyTurnover, error)
	TurnoverBetween(ctx context.Context, from, to time.Time) ([]ledger.DailyTurnover, error)
	BalancesOn(ctx context.Context, day time.Time) ([]ledger.DailyBalance, error)
	BalancesBetween(ctx context.Context, from, to time.Time) ([]ledger.DailyBalance, error)
	ReplaceBalances(ctx context.Context, day time.Time, rows []ledger.DailyBalance) (int64, error)
}

// Service persists daily balances.
type Service struct {
	store  Store
	runs   runlog.Ledger
	logger *slog.Logger
}

// NewService wires the accumulator.
func NewService(store Store, runs runlog.Ledger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, runs: runs, logger: logger}
}

// Run computes day's balances from the stored balances of the previous day.
func (s *Service) Run(ctx context.Context, day time.Time) (int64, error) {
	rows, _, err := s.run(ctx, shared.Day(day), nil)
	return rows, err
}

// RunWithCarry computes day's balances from an in-memory prior carry and
// returns the carry for the following day. A nil prior is read from the store.
func (s *Service) RunWithCarry(ctx context.Context, day time.Time, prior Carry) (int64, Carry, error) {
	return s.run(ctx, shared.Day(day), prior)
}

func (s *Service) run(ctx context.Context, day time.Time, prior Carry) (int64, Carry, error) {
	key := shared.FormatDate(day)
	var next Carry
	rows, err := runlog.Bracket(ctx, s.runs, runlog.UnitBalance, key, func(ctx context.Context) (int64, error) {
		carry := prior
		if carry == nil {
			stored, err := s.store.BalancesOn(ctx, day.AddDate(0, 0, -1))
			if err != nil {
				return 0, err
			}
			carry = CarryFrom(stored)
		}
		accounts, err := s.store.AccountsValidOn(ctx, day)
		if err != nil {
			return 0, err
		}
		turnover, err := s.store.TurnoverOn(ctx, day)
		if err != nil {
			return 0, err
		}
		balances, carried := Step(day, accounts, carry, turnover)
		written, err := s.store.ReplaceBalances(ctx, day, balances)
		if err != nil {
			return 0, err
		}
		next = carried
		s.logger.Info("balance computed", slog.String("date", key), slog.Int64("rows", written))
		return written, nil
	})
	if err != nil {
		return 0, nil, err
	}
	return rows, next, nil
}
