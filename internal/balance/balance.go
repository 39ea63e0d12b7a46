// Package balance carries account balances forward one day at a time.
package balance

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/ledgermart/internal/ledger"
)

// Apply advances a balance by one day's turnover according to the account
// characteristic.
func Apply(ch ledger.Characteristic, prev, debit, credit decimal.Decimal) decimal.Decimal {
	switch ch {
	case ledger.CharacteristicAsset:
		return prev.Add(debit).Sub(credit)
	case ledger.CharacteristicLiability:
		return prev.Sub(debit).Add(credit)
	default:
		return prev
	}
}

// Amounts is a closing balance in original and base currency.
type Amounts struct {
	Out     decimal.Decimal
	OutBase decimal.Decimal
}

// Carry holds the previous day's closing balances by account id.
type Carry map[int64]Amounts

// CarryFrom indexes stored balances by account.
func CarryFrom(rows []ledger.DailyBalance) Carry {
	carry := make(Carry, len(rows))
	for _, b := range rows {
		carry[b.AccountID] = Amounts{Out: b.Out, OutBase: b.OutBase}
	}
	return carry
}

// Day is one step of a fold: the accounts to evaluate and their turnover.
type Day struct {
	Date     time.Time
	Accounts []ledger.Account
	Turnover []ledger.DailyTurnover
}

// Step computes the closing balance of every account valid on day. Accounts
// without a prior balance or without turnover start from zero.
func Step(day time.Time, accounts []ledger.Account, prior Carry, turnover []ledger.DailyTurnover) ([]ledger.DailyBalance, Carry) {
	moves := make(map[int64]ledger.DailyTurnover, len(turnover))
	for _, t := range turnover {
		moves[t.AccountID] = t
	}
	book := ledger.NewAccountBook(accounts, day)
	ids := make([]int64, 0, len(book))
	for id := range book {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	rows := make([]ledger.DailyBalance, 0, len(ids))
	next := make(Carry, len(ids))
	for _, id := range ids {
		acc := book[id]
		prev := prior[id]
		move := moves[id]
		amounts := Amounts{
			Out:     Apply(acc.Characteristic, prev.Out, move.Debit, move.Credit),
			OutBase: Apply(acc.Characteristic, prev.OutBase, move.DebitBase, move.CreditBase),
		}
		next[id] = amounts
		rows = append(rows, ledger.DailyBalance{
			Date:       day,
			AccountID:  id,
			CurrencyID: acc.CurrencyID,
			Out:        amounts.Out,
			OutBase:    amounts.OutBase,
		})
	}
	return rows, next
}

// Fold runs Step over days in order, feeding each day's closing balances to
// the next. Account validity is re-evaluated on every day.
func Fold(seed Carry, days []Day) ([]ledger.DailyBalance, Carry) {
	carry := seed
	var out []ledger.DailyBalance
	for _, d := range days {
		var rows []ledger.DailyBalance
		rows, carry = Step(d.Date, d.Accounts, carry, d.Turnover)
		out = append(out, rows...)
	}
	if carry == nil {
		carry = Carry{}
	}
	return out, carry
}

// FoldPartitioned splits accounts into independent partitions and folds them
// concurrently. The result equals Fold.
func FoldPartitioned(ctx context.Context, seed Carry, days []Day, partitions int) ([]ledger.DailyBalance, Carry, error) {
	if partitions <= 1 {
		rows, carry := Fold(seed, days)
		return rows, carry, nil
	}
	type result struct {
		rows  []ledger.DailyBalance
		carry Carry
	}
	results := make([]result, partitions)
	g, ctx := errgroup.WithContext(ctx)
	for p := 0; p < partitions; p++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rows, carry := Fold(partitionCarry(seed, p, partitions), partitionDays(days, p, partitions))
			results[p] = result{rows: rows, carry: carry}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var rows []ledger.DailyBalance
	carry := Carry{}
	for _, r := range results {
		rows = append(rows, r.rows...)
		for id, amounts := range r.carry {
			carry[id] = amounts
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Date.Equal(rows[j].Date) {
			return rows[i].Date.Before(rows[j].Date)
		}
		return rows[i].AccountID < rows[j].AccountID
	})
	return rows, carry, nil
}

func partitionOf(accountID int64, partitions int) int {
	p := int(accountID % int64(partitions))
	if p < 0 {
		p += partitions
	}
	return p
}

func partitionCarry(seed Carry, p, partitions int) Carry {
	out := Carry{}
	for id, amounts := range seed {
		if partitionOf(id, partitions) == p {
			out[id] = amounts
		}
	}
	return out
}

func partitionDays(days []Day, p, partitions int) []Day {
	out := make([]Day, len(days))
	for i, d := range days {
		day := Day{Date: d.Date}
		for _, acc := range d.Accounts {
			if partitionOf(acc.ID, partitions) == p {
				day.Accounts = append(day.Accounts, acc)
			}
		}
		for _, t := range d.Turnover {
			if partitionOf(t.AccountID, partitions) == p {
				day.Turnover = append(day.Turnover, t)
			}
		}
		out[i] = day
	}
	return out
}

// SeedRows converts an opening snapshot into balance rows for day, valuing
// each amount at the snapshot currency's rate on that day.
func SeedRows(day time.Time, snapshot []ledger.OpeningBalance, rates []ledger.ExchangeRate) []ledger.DailyBalance {
	book := ledger.NewRateBook(rates, day)
	rows := make([]ledger.DailyBalance, 0, len(snapshot))
	for _, b := range snapshot {
		rows = append(rows, ledger.DailyBalance{
			Date:       day,
			AccountID:  b.AccountID,
			CurrencyID: b.CurrencyID,
			Out:        b.Out,
			OutBase:    b.Out.Mul(book.Rate(b.CurrencyID)),
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].AccountID < rows[j].AccountID })
	return rows
}
