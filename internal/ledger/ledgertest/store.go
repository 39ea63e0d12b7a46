// Package ledgertest provides in-memory doubles of the ledger store and the
// run ledger for package tests.
package ledgertest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgermart/internal/ledger"
	"github.com/odyssey-erp/ledgermart/internal/shared"
	_ "github.com/odyssey-erp/ledgermart/internal/testing/guard"
)

type period struct{ from, to time.Time }

// Store keeps reference data, facts and computed marts in memory. Fields may
// be set directly before the store is shared.
type Store struct {
	Accounts  []ledger.Account
	Rates     []ledger.ExchangeRate
	Postings  []ledger.Posting
	Hierarchy []ledger.HierarchyEntry
	Opening   []ledger.OpeningBalance

	// FailPostingsOn makes PostingsOn return the error for the given YYYY-MM-DD.
	FailPostingsOn map[string]error
	// FailBalancesOn makes ReplaceBalances return the error for the given YYYY-MM-DD.
	FailBalancesOn map[string]error
	// Offline makes every call fail with ledger.ErrConnectivity.
	Offline bool

	mu       sync.Mutex
	turnover map[time.Time][]ledger.DailyTurnover
	balances map[time.Time][]ledger.DailyBalance
	reports  map[period][]ledger.ReportRow
	replaces int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		FailPostingsOn: map[string]error{},
		FailBalancesOn: map[string]error{},
		turnover:       map[time.Time][]ledger.DailyTurnover{},
		balances:       map[time.Time][]ledger.DailyBalance{},
		reports:        map[period][]ledger.ReportRow{},
	}
}

func (s *Store) offline(op string) error {
	if s.Offline {
		return fmt.Errorf("ledger: %s: %w", op, ledger.ErrConnectivity)
	}
	return nil
}

// AccountsValidOn implements the store port.
func (s *Store) AccountsValidOn(ctx context.Context, day time.Time) ([]ledger.Account, error) {
	if err := s.offline("accounts"); err != nil {
		return nil, err
	}
	var out []ledger.Account
	for _, acc := range s.Accounts {
		if acc.Validity.ValidOn(day) {
			out = append(out, acc)
		}
	}
	return out, nil
}

// RatesOn implements the store port.
func (s *Store) RatesOn(ctx context.Context, day time.Time) ([]ledger.ExchangeRate, error) {
	if err := s.offline("rates"); err != nil {
		return nil, err
	}
	var out []ledger.ExchangeRate
	for _, r := range s.Rates {
		if r.Validity.ValidOn(day) {
			out = append(out, r)
		}
	}
	return out, nil
}

// PostingsOn implements the store port.
func (s *Store) PostingsOn(ctx context.Context, day time.Time) ([]ledger.Posting, error) {
	if err := s.offline("postings"); err != nil {
		return nil, err
	}
	if err := s.FailPostingsOn[shared.FormatDate(day)]; err != nil {
		return nil, err
	}
	var out []ledger.Posting
	for _, p := range s.Postings {
		if p.Date.Equal(day) {
			out = append(out, p)
		}
	}
	return out, nil
}

// HierarchyOn implements the store port.
func (s *Store) HierarchyOn(ctx context.Context, day time.Time) ([]ledger.HierarchyEntry, error) {
	if err := s.offline("hierarchy"); err != nil {
		return nil, err
	}
	var out []ledger.HierarchyEntry
	for _, h := range s.Hierarchy {
		if h.Validity.ValidOn(day) {
			out = append(out, h)
		}
	}
	return out, nil
}

// OpeningSnapshot implements the store port.
func (s *Store) OpeningSnapshot(ctx context.Context, day time.Time) ([]ledger.OpeningBalance, error) {
	if err := s.offline("opening snapshot"); err != nil {
		return nil, err
	}
	var out []ledger.OpeningBalance
	for _, b := range s.Opening {
		if b.Date.Equal(day) {
			out = append(out, b)
		}
	}
	return out, nil
}

// TurnoverOn implements the store port.
func (s *Store) TurnoverOn(ctx context.Context, day time.Time) ([]ledger.DailyTurnover, error) {
	return s.TurnoverBetween(ctx, day, day)
}

// TurnoverBetween implements the store port.
func (s *Store) TurnoverBetween(ctx context.Context, from, to time.Time) ([]ledger.DailyTurnover, error) {
	if err := s.offline("turnover"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.DailyTurnover
	for day, rows := range s.turnover {
		if day.Before(from) || day.After(to) {
			continue
		}
		out = append(out, rows...)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].AccountID < out[j].AccountID
	})
	return out, nil
}

// TurnoverTotals implements the store port.
func (s *Store) TurnoverTotals(ctx context.Context, from, to time.Time) ([]ledger.DailyTurnover, error) {
	rows, err := s.TurnoverBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}
	sums := map[int64]ledger.DailyTurnover{}
	for _, t := range rows {
		cur, ok := sums[t.AccountID]
		if !ok {
			cur = ledger.DailyTurnover{Date: to, AccountID: t.AccountID, Debit: decimal.Zero, DebitBase: decimal.Zero, Credit: decimal.Zero, CreditBase: decimal.Zero}
		}
		cur.Debit = cur.Debit.Add(t.Debit)
		cur.DebitBase = cur.DebitBase.Add(t.DebitBase)
		cur.Credit = cur.Credit.Add(t.Credit)
		cur.CreditBase = cur.CreditBase.Add(t.CreditBase)
		sums[t.AccountID] = cur
	}
	out := make([]ledger.DailyTurnover, 0, len(sums))
	for _, t := range sums {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

// BalancesOn implements the store port.
func (s *Store) BalancesOn(ctx context.Context, day time.Time) ([]ledger.DailyBalance, error) {
	return s.BalancesBetween(ctx, day, day)
}

// BalancesBetween implements the store port.
func (s *Store) BalancesBetween(ctx context.Context, from, to time.Time) ([]ledger.DailyBalance, error) {
	if err := s.offline("balances"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.DailyBalance
	for day, rows := range s.balances {
		if day.Before(from) || day.After(to) {
			continue
		}
		out = append(out, rows...)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].AccountID < out[j].AccountID
	})
	return out, nil
}

// ReplaceTurnover implements the store port.
func (s *Store) ReplaceTurnover(ctx context.Context, day time.Time, rows []ledger.DailyTurnover) (int64, error) {
	if err := s.offline("replace turnover"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaces++
	s.turnover[day] = append([]ledger.DailyTurnover(nil), rows...)
	return int64(len(rows)), nil
}

// ReplaceBalances implements the store port.
func (s *Store) ReplaceBalances(ctx context.Context, day time.Time, rows []ledger.DailyBalance) (int64, error) {
	if err := s.offline("replace balances"); err != nil {
		return 0, err
	}
	if err := s.FailBalancesOn[shared.FormatDate(day)]; err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaces++
	stored := make([]ledger.DailyBalance, len(rows))
	for i, b := range rows {
		// the table has no currency column
		b.CurrencyID = 0
		stored[i] = b
	}
	s.balances[day] = stored
	return int64(len(rows)), nil
}

// ReplaceReport implements the store port.
func (s *Store) ReplaceReport(ctx context.Context, from, to time.Time, rows []ledger.ReportRow) (int64, error) {
	if err := s.offline("replace report"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaces++
	s.reports[period{from, to}] = append([]ledger.ReportRow(nil), rows...)
	return int64(len(rows)), nil
}

// ReportRows implements the store port.
func (s *Store) ReportRows(ctx context.Context, from, to time.Time) ([]ledger.ReportRow, error) {
	if err := s.offline("report rows"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ledger.ReportRow(nil), s.reports[period{from, to}]...), nil
}

// PutBalances stores rows for day without going through a component.
func (s *Store) PutBalances(day time.Time, rows ...ledger.DailyBalance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[day] = append(s.balances[day], rows...)
}

// PutTurnover stores rows for day without going through a component.
func (s *Store) PutTurnover(day time.Time, rows ...ledger.DailyTurnover) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnover[day] = append(s.turnover[day], rows...)
}

// Replaces counts successful replace calls.
func (s *Store) Replaces() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaces
}
