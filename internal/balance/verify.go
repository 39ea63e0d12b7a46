package balance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/odyssey-erp/ledgermart/internal/ledger"
	"github.com/odyssey-erp/ledgermart/internal/shared"
)

// DefaultPartitions is the fan-out used by Verify when none is given.
const DefaultPartitions = 4

// Mismatch is a (date, account) pair whose stored balance differs from the replay.
type Mismatch struct {
	Date      time.Time
	AccountID int64
	Expected  *Amounts
	Stored    *Amounts
}

// Verification summarises a replay of the balance chain.
type Verification struct {
	From       time.Time
	To         time.Time
	Checked    int
	Mismatches []Mismatch
}

// Clean reports whether the stored chain matched the replay.
func (v Verification) Clean() bool {
	return len(v.Mismatches) == 0
}

// Verify replays [from, to] in memory from the stored balances of from-1 and
// the stored turnover, and compares the result with the stored balances.
func (s *Service) Verify(ctx context.Context, from, to time.Time, partitions int) (Verification, error) {
	from, to = shared.Day(from), shared.Day(to)
	dates, err := shared.EachDay(from, to)
	if err != nil {
		return Verification{}, err
	}
	if partitions <= 0 {
		partitions = DefaultPartitions
	}
	seedRows, err := s.store.BalancesOn(ctx, from.AddDate(0, 0, -1))
	if err != nil {
		return Verification{}, fmt.Errorf("balance: verify seed: %w", err)
	}
	turnover, err := s.store.TurnoverBetween(ctx, from, to)
	if err != nil {
		return Verification{}, fmt.Errorf("balance: verify turnover: %w", err)
	}
	byDay := make(map[time.Time][]ledger.DailyTurnover, len(dates))
	for _, t := range turnover {
		d := shared.Day(t.Date)
		byDay[d] = append(byDay[d], t)
	}
	days := make([]Day, 0, len(dates))
	for _, d := range dates {
		accounts, err := s.store.AccountsValidOn(ctx, d)
		if err != nil {
			return Verification{}, fmt.Errorf("balance: verify accounts: %w", err)
		}
		days = append(days, Day{Date: d, Accounts: accounts, Turnover: byDay[d]})
	}
	expected, _, err := FoldPartitioned(ctx, CarryFrom(seedRows), days, partitions)
	if err != nil {
		return Verification{}, err
	}
	stored, err := s.store.BalancesBetween(ctx, from, to)
	if err != nil {
		return Verification{}, fmt.Errorf("balance: verify stored: %w", err)
	}
	result := Verification{From: from, To: to, Mismatches: Compare(expected, stored)}
	result.Checked = len(expected)
	return result, nil
}

type dayAccount struct {
	day     time.Time
	account int64
}

// Compare lists the pairs present on one side only or with differing amounts.
func Compare(expected, stored []ledger.DailyBalance) []Mismatch {
	index := func(rows []ledger.DailyBalance) map[dayAccount]Amounts {
		out := make(map[dayAccount]Amounts, len(rows))
		for _, b := range rows {
			out[dayAccount{shared.Day(b.Date), b.AccountID}] = Amounts{Out: b.Out, OutBase: b.OutBase}
		}
		return out
	}
	want, got := index(expected), index(stored)

	var out []Mismatch
	for key, w := range want {
		g, ok := got[key]
		if !ok {
			out = append(out, Mismatch{Date: key.day, AccountID: key.account, Expected: &w})
			continue
		}
		if !w.Out.Equal(g.Out) || !w.OutBase.Equal(g.OutBase) {
			out = append(out, Mismatch{Date: key.day, AccountID: key.account, Expected: &w, Stored: &g})
		}
	}
	for key, g := range got {
		if _, ok := want[key]; !ok {
			out = append(out, Mismatch{Date: key.day, AccountID: key.account, Stored: &g})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].AccountID < out[j].AccountID
	})
	return out
}
