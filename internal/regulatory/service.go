package regulatory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/ledgermart/internal/ledger"
	"github.com/odyssey-erp/ledgermart/internal/runlog"
	"github.com/odyssey-erp/ledgermart/internal/shared"
)

// Store is the subset of the ledger store the aggregator needs.
type Store interface {
	AccountsValidOn(ctx context.Context, day time.Time) ([]ledger.Account, error)
	HierarchyOn(ctx context.Context, day time.Time) ([]ledger.HierarchyEntry, error)
	BalancesOn(ctx context.Context, day time.Time) ([]ledger.DailyBalance, error)
	TurnoverTotals(ctx context.Context, from, to time.Time) ([]ledger.DailyTurnover, error)
	ReplaceReport(ctx context.Context, from, to time.Time, rows []ledger.ReportRow) (int64, error)
	ReportRows(ctx context.Context, from, to time.Time) ([]ledger.ReportRow, error)
}

// Guard serialises report runs for the same period.
type Guard interface {
	Acquire(ctx context.Context, key string) (func(context.Context) error, error)
}

// Settings tune the aggregation.
type Settings struct {
	LocalCurrencies []string
	PrefixLen       int
}

// Service computes and serves the regulatory report.
type Service struct {
	store     Store
	runs      runlog.Ledger
	logger    *slog.Logger
	guard     Guard
	buckets   Buckets
	prefixLen int
}

// NewService wires the aggregator.
func NewService(store Store, runs runlog.Ledger, settings Settings, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	prefixLen := settings.PrefixLen
	if prefixLen <= 0 {
		prefixLen = DefaultPrefixLen
	}
	return &Service{
		store:     store,
		runs:      runs,
		logger:    logger,
		buckets:   NewBuckets(settings.LocalCurrencies...),
		prefixLen: prefixLen,
	}
}

// WithGuard makes Run hold a per-period lock.
func (s *Service) WithGuard(guard Guard) {
	s.guard = guard
}

// Run rebuilds the report for the month preceding asOf.
func (s *Service) Run(ctx context.Context, asOf time.Time) (Period, int64, error) {
	period := ReportingPeriod(shared.Day(asOf))
	if s.guard != nil {
		release, err := s.guard.Acquire(ctx, shared.ReportLockKey(shared.FormatDate(period.From)))
		if err != nil {
			return period, 0, fmt.Errorf("regulatory: acquire report lock: %w", err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("release report lock", slog.Any("error", err))
			}
		}()
	}

	rows, err := runlog.Bracket(ctx, s.runs, runlog.UnitReport, period.Key(), func(ctx context.Context) (int64, error) {
		in, err := s.load(ctx, period)
		if err != nil {
			return 0, err
		}
		report := Aggregate(period, in.accounts, in.hierarchy, in.opening, in.closing, in.turnover, s.buckets, s.prefixLen)
		return s.store.ReplaceReport(ctx, period.From, period.To, report)
	})
	if err != nil {
		s.logger.Error("regulatory report failed", slog.String("period", period.Key()), slog.Any("error", err))
		return period, 0, err
	}
	s.logger.Info("regulatory report computed", slog.String("period", period.Key()), slog.Int64("rows", rows))
	return period, rows, nil
}

// Rows returns the stored report for [from, to].
func (s *Service) Rows(ctx context.Context, from, to time.Time) ([]ledger.ReportRow, error) {
	from, to = shared.Day(from), shared.Day(to)
	if from.After(to) {
		return nil, shared.ErrInvalidRange
	}
	rows, err := s.store.ReportRows(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("regulatory: rows: %w", err)
	}
	return rows, nil
}

type inputs struct {
	accounts  []ledger.Account
	hierarchy []ledger.HierarchyEntry
	opening   []ledger.DailyBalance
	closing   []ledger.DailyBalance
	turnover  []ledger.DailyTurnover
}

func (s *Service) load(ctx context.Context, p Period) (inputs, error) {
	var in inputs
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		in.accounts, err = s.store.AccountsValidOn(ctx, p.To)
		return err
	})
	g.Go(func() (err error) {
		in.hierarchy, err = s.store.HierarchyOn(ctx, p.To)
		return err
	})
	g.Go(func() (err error) {
		in.opening, err = s.store.BalancesOn(ctx, p.Prev)
		return err
	})
	g.Go(func() (err error) {
		in.closing, err = s.store.BalancesOn(ctx, p.To)
		return err
	})
	g.Go(func() (err error) {
		in.turnover, err = s.store.TurnoverTotals(ctx, p.From, p.To)
		return err
	})
	if err := g.Wait(); err != nil {
		return inputs{}, err
	}
	return in, nil
}
