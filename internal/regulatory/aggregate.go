// Package regulatory rolls daily balances and turnover up into the monthly
// F101 report, split into local and foreign currency buckets.
package regulatory

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgermart/internal/ledger"
	"github.com/odyssey-erp/ledgermart/internal/shared"
)

// DefaultPrefixLen is the length of a ledger (balance) account code.
const DefaultPrefixLen = 5

// DefaultLocalCurrencies are the codes reported as local currency.
var DefaultLocalCurrencies = []string{"643", "810"}

// Period is the reporting window. Prev is the day whose closing balance is
// the period's opening balance.
type Period struct {
	From time.Time
	To   time.Time
	Prev time.Time
}

// ReportingPeriod returns the calendar month preceding asOf.
func ReportingPeriod(asOf time.Time) Period {
	from := shared.FirstOfMonth(shared.FirstOfMonth(asOf).AddDate(0, 0, -1))
	return Period{From: from, To: shared.LastOfMonth(from), Prev: from.AddDate(0, 0, -1)}
}

// Key renders the period for logs and the run ledger.
func (p Period) Key() string {
	return shared.FormatDate(p.From) + ".." + shared.FormatDate(p.To)
}

// Buckets classifies currency codes as local.
type Buckets map[string]struct{}

// NewBuckets builds a bucket set; no codes means DefaultLocalCurrencies.
func NewBuckets(codes ...string) Buckets {
	if len(codes) == 0 {
		codes = DefaultLocalCurrencies
	}
	b := make(Buckets, len(codes))
	for _, c := range codes {
		if c = strings.TrimSpace(c); c != "" {
			b[c] = struct{}{}
		}
	}
	return b
}

// Local reports whether code is a local currency.
func (b Buckets) Local(code string) bool {
	_, ok := b[strings.TrimSpace(code)]
	return ok
}

type groupKey struct {
	chapter        string
	ledgerAccount  string
	characteristic ledger.Characteristic
}

// Aggregate builds the report rows of p. Accounts are those valid on p.To,
// joined to the hierarchy by the first prefixLen characters of their number;
// accounts without a hierarchy entry are left out. Opening balances are read
// at p.Prev, closing at p.To, and turnover must already be limited to
// [p.From, p.To]. All amounts are base currency.
func Aggregate(p Period, accounts []ledger.Account, hierarchy []ledger.HierarchyEntry, opening, closing []ledger.DailyBalance, turnover []ledger.DailyTurnover, buckets Buckets, prefixLen int) []ledger.ReportRow {
	if prefixLen <= 0 {
		prefixLen = DefaultPrefixLen
	}
	if buckets == nil {
		buckets = NewBuckets()
	}
	chapters := make(map[string]string, len(hierarchy))
	for _, h := range hierarchy {
		if h.Validity.ValidOn(p.To) {
			chapters[strings.TrimSpace(h.LedgerAccount)] = h.Chapter
		}
	}
	in := balancesByAccount(opening)
	out := balancesByAccount(closing)
	moves := make(map[int64]ledger.DailyTurnover, len(turnover))
	for _, t := range turnover {
		cur := moves[t.AccountID]
		cur.DebitBase = cur.DebitBase.Add(t.DebitBase)
		cur.CreditBase = cur.CreditBase.Add(t.CreditBase)
		moves[t.AccountID] = cur
	}

	groups := map[groupKey]*ledger.ReportRow{}
	for _, acc := range ledger.NewAccountBook(accounts, p.To) {
		prefix := acc.LedgerPrefix(prefixLen)
		chapter, ok := chapters[prefix]
		if !ok {
			continue
		}
		key := groupKey{chapter: chapter, ledgerAccount: prefix, characteristic: acc.Characteristic}
		row, ok := groups[key]
		if !ok {
			row = &ledger.ReportRow{FromDate: p.From, ToDate: p.To, Chapter: chapter, LedgerAccount: prefix, Characteristic: acc.Characteristic}
			groups[key] = row
		}
		local := buckets.Local(acc.CurrencyCode)
		move := moves[acc.ID]
		row.BalanceIn = row.BalanceIn.Add(in[acc.ID], local)
		row.TurnDebit = row.TurnDebit.Add(move.DebitBase, local)
		row.TurnCredit = row.TurnCredit.Add(move.CreditBase, local)
		row.BalanceOut = row.BalanceOut.Add(out[acc.ID], local)
	}

	rows := make([]ledger.ReportRow, 0, len(groups))
	for _, row := range groups {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.LedgerAccount != b.LedgerAccount {
			return a.LedgerAccount < b.LedgerAccount
		}
		if a.Chapter != b.Chapter {
			return a.Chapter < b.Chapter
		}
		return a.Characteristic < b.Characteristic
	})
	return rows
}

func balancesByAccount(rows []ledger.DailyBalance) map[int64]decimal.Decimal {
	out := make(map[int64]decimal.Decimal, len(rows))
	for _, b := range rows {
		out[b.AccountID] = out[b.AccountID].Add(b.OutBase)
	}
	return out
}
