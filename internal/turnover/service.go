package turnover

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
	PostingsOn(ctx context.Context, day time.Time) ([]ledger.Posting, error)
	AccountsValidOn(ctx context.Context, day time.Time) ([]ledger.Account, error)
	RatesOn(ctx context.Context, day time.Time) ([]ledger.ExchangeRate, error)
	ReplaceTurnover(ctx context.Context, day time.Time, rows []ledger.DailyTurnover) (int64, error)
}

// Service persists daily turnover.
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

// Run recomputes and replaces all turnover rows of day.
func (s *Service) Run(ctx context.Context, day time.Time) (int64, error) {
	day = shared.Day(day)
	key := shared.FormatDate(day)
	return runlog.Bracket(ctx, s.runs, runlog.UnitTurnover, key, func(ctx context.Context) (int64, error) {
		postings, err := s.store.PostingsOn(ctx, day)
		if err != nil {
			return 0, err
		}
		accounts, err := s.store.AccountsValidOn(ctx, day)
		if err != nil {
			return 0, err
		}
		rates, err := s.store.RatesOn(ctx, day)
		if err != nil {
			return 0, err
		}
		rows := Compute(day, postings, accounts, rates)
		written, err := s.store.ReplaceTurnover(ctx, day, rows)
		if err != nil {
			return 0, err
		}
		s.logger.Info("turnover computed", slog.String("date", key), slog.Int("postings", len(postings)), slog.Int64("rows", written))
		return written, nil
	})
}
