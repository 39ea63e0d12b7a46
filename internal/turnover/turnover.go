// Package turnover computes one day's per-account debit and credit totals.
package turnover

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgermart/internal/ledger"
)

// Side is one direction of an account's daily activity.
type Side struct {
	Amount decimal.Decimal
	Base   decimal.Decimal
}

// Sides maps account id to its accumulated activity on one side.
type Sides map[int64]Side

func (s Sides) add(accountID int64, amount, rate decimal.Decimal) {
	cur := s[accountID]
	cur.Amount = cur.Amount.Add(amount)
	cur.Base = cur.Base.Add(amount.Mul(rate))
	s[accountID] = cur
}

// CreditSide totals the credit amounts of postings per credit account.
func CreditSide(postings []ledger.Posting, accounts ledger.AccountBook, rates ledger.RateBook) Sides {
	out := make(Sides)
	for _, p := range postings {
		out.add(p.CreditAccountID, p.CreditAmount, ledger.RateForAccount(accounts, rates, p.CreditAccountID))
	}
	return out
}

// DebitSide totals the debit amounts of postings per debit account.
func DebitSide(postings []ledger.Posting, accounts ledger.AccountBook, rates ledger.RateBook) Sides {
	out := make(Sides)
	for _, p := range postings {
		out.add(p.DebitAccountID, p.DebitAmount, ledger.RateForAccount(accounts, rates, p.DebitAccountID))
	}
	return out
}

// Merge unions both sides into turnover rows ordered by account id. An
// account present on one side only gets zeros on the other.
func Merge(day time.Time, credit, debit Sides) []ledger.DailyTurnover {
	ids := make([]int64, 0, len(credit)+len(debit))
	for id := range credit {
		ids = append(ids, id)
	}
	for id := range debit {
		if _, ok := credit[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	rows := make([]ledger.DailyTurnover, 0, len(ids))
	for _, id := range ids {
		c, d := credit[id], debit[id]
		rows = append(rows, ledger.DailyTurnover{
			Date:       day,
			AccountID:  id,
			Debit:      d.Amount,
			DebitBase:  d.Base,
			Credit:     c.Amount,
			CreditBase: c.Base,
		})
	}
	return rows
}

// Compute derives the turnover rows of day from its postings.
func Compute(day time.Time, postings []ledger.Posting, accounts []ledger.Account, rates []ledger.ExchangeRate) []ledger.DailyTurnover {
	book := ledger.NewAccountBook(accounts, day)
	rateBook := ledger.NewRateBook(rates, day)
	return Merge(day, CreditSide(postings, book, rateBook), DebitSide(postings, book, rateBook))
}
