package ledger

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgermart/internal/platform/db"
)

// Repository reads the ledger dimensions and facts and owns the data mart tables.
//
// Source tables keep inclusive end dates (data_actual_end_date); they are
// converted to half-open Validity intervals on load.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var (
	turnoverTable = pgx.Identifier{"dm", "dm_account_turnover_f"}
	balanceTable  = pgx.Identifier{"dm", "dm_account_balance_f"}
	reportTable   = pgx.Identifier{"dm", "dm_f101_round_f"}

	turnoverColumns = []string{"on_date", "account_rk", "credit_amount", "credit_amount_rub", "debet_amount", "debet_amount_rub"}
	balanceColumns  = []string{"on_date", "account_rk", "balance_out", "balance_out_rub"}
	reportColumns   = []string{
		"from_date", "to_date", "chapter", "ledger_account", "characteristic",
		"balance_in_rub", "balance_in_val", "balance_in_total",
		"turn_deb_rub", "turn_deb_val", "turn_deb_total",
		"turn_cre_rub", "turn_cre_val", "turn_cre_total",
		"balance_out_rub", "balance_out_val", "balance_out_total",
	}
)

// AccountsValidOn returns account versions valid on day.
func (r *Repository) AccountsValidOn(ctx context.Context, day time.Time) ([]Account, error) {
	if r == nil || r.pool == nil {
		return nil, ErrRepositoryNotInitialised
	}
	const query = `
SELECT account_rk, account_number, char_type, currency_rk, currency_code, data_actual_date, data_actual_end_date
FROM ds.md_account_d
WHERE data_actual_date <= $1 AND (data_actual_end_date IS NULL OR data_actual_end_date >= $1)
ORDER BY account_rk, data_actual_date`
	rows, err := r.pool.Query(ctx, query, day)
	if err != nil {
		return nil, Classify("accounts", err)
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		var (
			acc     Account
			charRaw string
			end     *time.Time
		)
		if err := rows.Scan(&acc.ID, &acc.Number, &charRaw, &acc.CurrencyID, &acc.CurrencyCode, &acc.Validity.Start, &end); err != nil {
			return nil, Classify("scan account", err)
		}
		acc.Characteristic = ParseCharacteristic(charRaw)
		acc.Validity.End = exclusiveEnd(end)
		accounts = append(accounts, acc)
	}
	return accounts, Classify("accounts", rows.Err())
}

// RatesOn returns exchange rates effective on day.
func (r *Repository) RatesOn(ctx context.Context, day time.Time) ([]ExchangeRate, error) {
	if r == nil || r.pool == nil {
		return nil, ErrRepositoryNotInitialised
	}
	const query = `
SELECT currency_rk, reduced_cource::numeric, data_actual_date, data_actual_end_date
FROM ds.md_exchange_rate_d
WHERE data_actual_date <= $1 AND (data_actual_end_date IS NULL OR data_actual_end_date >= $1)
ORDER BY currency_rk, data_actual_date`
	rows, err := r.pool.Query(ctx, query, day)
	if err != nil {
		return nil, Classify("rates", err)
	}
	defer rows.Close()
	var rates []ExchangeRate
	for rows.Next() {
		var (
			rate ExchangeRate
			raw  pgtype.Numeric
			end  *time.Time
		)
		if err := rows.Scan(&rate.CurrencyID, &raw, &rate.Validity.Start, &end); err != nil {
			return nil, Classify("scan rate", err)
		}
		if !raw.Valid {
			continue
		}
		rate.Rate = fromNumeric(raw)
		rate.Validity.End = exclusiveEnd(end)
		rates = append(rates, rate)
	}
	return rates, Classify("rates", rows.Err())
}

// PostingsOn returns postings dated day.
func (r *Repository) PostingsOn(ctx context.Context, day time.Time) ([]Posting, error) {
	if r == nil || r.pool == nil {
		return nil, ErrRepositoryNotInitialised
	}
	const query = `
SELECT oper_date, debet_account_rk, credit_account_rk, debet_amount::numeric, credit_amount::numeric
FROM ds.ft_posting_f
WHERE oper_date = $1`
	rows, err := r.pool.Query(ctx, query, day)
	if err != nil {
		return nil, Classify("postings", err)
	}
	defer rows.Close()
	var postings []Posting
	for rows.Next() {
		var (
			p             Posting
			debit, credit pgtype.Numeric
		)
		if err := rows.Scan(&p.Date, &p.DebitAccountID, &p.CreditAccountID, &debit, &credit); err != nil {
			return nil, Classify("scan posting", err)
		}
		p.DebitAmount = fromNumeric(debit)
		p.CreditAmount = fromNumeric(credit)
		postings = append(postings, p)
	}
	return postings, Classify("postings", rows.Err())
}

// HierarchyOn returns ledger hierarchy entries valid on day.
func (r *Repository) HierarchyOn(ctx context.Context, day time.Time) ([]HierarchyEntry, error) {
	if r == nil || r.pool == nil {
		return nil, ErrRepositoryNotInitialised
	}
	const query = `
SELECT ledger_account::text, COALESCE(ledger_account_name, ''), COALESCE(chapter, ''), COALESCE(chapter_name, ''),
       COALESCE(section_number, 0), COALESCE(section_name, ''), COALESCE(characteristic, ''), start_date, end_date
FROM ds.md_ledger_account_s
WHERE start_date <= $1 AND (end_date IS NULL OR end_date >= $1)
ORDER BY ledger_account, start_date`
	rows, err := r.pool.Query(ctx, query, day)
	if err != nil {
		return nil, Classify("hierarchy", err)
	}
	defer rows.Close()
	var entries []HierarchyEntry
	for rows.Next() {
		var (
			e       HierarchyEntry
			charRaw string
			end     *time.Time
		)
		if err := rows.Scan(&e.LedgerAccount, &e.LedgerAccountName, &e.Chapter, &e.ChapterName, &e.SectionNumber, &e.SectionName, &charRaw, &e.Validity.Start, &end); err != nil {
			return nil, Classify("scan hierarchy", err)
		}
		e.Characteristic = ParseCharacteristic(charRaw)
		e.Validity.End = exclusiveEnd(end)
		entries = append(entries, e)
	}
	return entries, Classify("hierarchy", rows.Err())
}

// OpeningSnapshot returns the externally loaded balances for day.
func (r *Repository) OpeningSnapshot(ctx context.Context, day time.Time) ([]OpeningBalance, error) {
	if r == nil || r.pool == nil {
		return nil, ErrRepositoryNotInitialised
	}
	const query = `
SELECT on_date, account_rk, COALESCE(currency_rk, 0), balance_out::numeric
FROM ds.ft_balance_f
WHERE on_date = $1
ORDER BY account_rk`
	rows, err := r.pool.Query(ctx, query, day)
	if err != nil {
		return nil, Classify("opening snapshot", err)
	}
	defer rows.Close()
	var out []OpeningBalance
	for rows.Next() {
		var (
			b   OpeningBalance
			raw pgtype.Numeric
		)
		if err := rows.Scan(&b.Date, &b.AccountID, &b.CurrencyID, &raw); err != nil {
			return nil, Classify("scan opening", err)
		}
		b.Out = fromNumeric(raw)
		out = append(out, b)
	}
	return out, Classify("opening snapshot", rows.Err())
}

// TurnoverOn returns the stored turnover rows for day.
func (r *Repository) TurnoverOn(ctx context.Context, day time.Time) ([]DailyTurnover, error) {
	return r.TurnoverBetween(ctx, day, day)
}

// TurnoverBetween returns stored turnover rows for the inclusive range.
func (r *Repository) TurnoverBetween(ctx context.Context, from, to time.Time) ([]DailyTurnover, error) {
	if r == nil || r.pool == nil {
		return nil, ErrRepositoryNotInitialised
	}
	const query = `
SELECT on_date, account_rk, debet_amount, debet_amount_rub, credit_amount, credit_amount_rub
FROM dm.dm_account_turnover_f
WHERE on_date BETWEEN $1 AND $2
ORDER BY on_date, account_rk`
	rows, err := r.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, Classify("turnover", err)
	}
	defer rows.Close()
	var out []DailyTurnover
	for rows.Next() {
		var t DailyTurnover
		var debit, debitBase, credit, creditBase pgtype.Numeric
		if err := rows.Scan(&t.Date, &t.AccountID, &debit, &debitBase, &credit, &creditBase); err != nil {
			return nil, Classify("scan turnover", err)
		}
		t.Debit, t.DebitBase = fromNumeric(debit), fromNumeric(debitBase)
		t.Credit, t.CreditBase = fromNumeric(credit), fromNumeric(creditBase)
		out = append(out, t)
	}
	return out, Classify("turnover", rows.Err())
}

// TurnoverTotals sums stored turnover per account over the inclusive range.
func (r *Repository) TurnoverTotals(ctx context.Context, from, to time.Time) ([]DailyTurnover, error) {
	if r == nil || r.pool == nil {
		return nil, ErrRepositoryNotInitialised
	}
	const query = `
SELECT account_rk,
       COALESCE(SUM(debet_amount), 0), COALESCE(SUM(debet_amount_rub), 0),
       COALESCE(SUM(credit_amount), 0), COALESCE(SUM(credit_amount_rub), 0)
FROM dm.dm_account_turnover_f
WHERE on_date BETWEEN $1 AND $2
GROUP BY account_rk
ORDER BY account_rk`
	rows, err := r.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, Classify("turnover totals", err)
	}
	defer rows.Close()
	var out []DailyTurnover
	for rows.Next() {
		var t DailyTurnover
		var debit, debitBase, credit, creditBase pgtype.Numeric
		if err := rows.Scan(&t.AccountID, &debit, &debitBase, &credit, &creditBase); err != nil {
			return nil, Classify("scan turnover totals", err)
		}
		t.Date = to
		t.Debit, t.DebitBase = fromNumeric(debit), fromNumeric(debitBase)
		t.Credit, t.CreditBase = fromNumeric(credit), fromNumeric(creditBase)
		out = append(out, t)
	}
	return out, Classify("turnover totals", rows.Err())
}

// BalancesOn returns the stored balances for day.
func (r *Repository) BalancesOn(ctx context.Context, day time.Time) ([]DailyBalance, error) {
	return r.BalancesBetween(ctx, day, day)
}

// BalancesBetween returns stored balances for the inclusive range.
func (r *Repository) BalancesBetween(ctx context.Context, from, to time.Time) ([]DailyBalance, error) {
	if r == nil || r.pool == nil {
		return nil, ErrRepositoryNotInitialised
	}
	const query = `
SELECT on_date, account_rk, balance_out, balance_out_rub
FROM dm.dm_account_balance_f
WHERE on_date BETWEEN $1 AND $2
ORDER BY on_date, account_rk`
	rows, err := r.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, Classify("balances", err)
	}
	defer rows.Close()
	var out []DailyBalance
	for rows.Next() {
		var (
			b            DailyBalance
			outAmt, base pgtype.Numeric
		)
		if err := rows.Scan(&b.Date, &b.AccountID, &outAmt, &base); err != nil {
			return nil, Classify("scan balance", err)
		}
		b.Out, b.OutBase = fromNumeric(outAmt), fromNumeric(base)
		out = append(out, b)
	}
	return out, Classify("balances", rows.Err())
}

// ReplaceTurnover atomically swaps all turnover rows of day for rows.
func (r *Repository) ReplaceTurnover(ctx context.Context, day time.Time, rows []DailyTurnover) (int64, error) {
	data := make([][]any, len(rows))
	for i, t := range rows {
		data[i] = []any{day, t.AccountID, toNumeric(t.Credit), toNumeric(t.CreditBase), toNumeric(t.Debit), toNumeric(t.DebitBase)}
	}
	return r.replace(ctx, "replace turnover", `DELETE FROM dm.dm_account_turnover_f WHERE on_date = $1`, []any{day}, turnoverTable, turnoverColumns, data)
}

// ReplaceBalances atomically swaps all balance rows of day for rows.
func (r *Repository) ReplaceBalances(ctx context.Context, day time.Time, rows []DailyBalance) (int64, error) {
	data := make([][]any, len(rows))
	for i, b := range rows {
		data[i] = []any{day, b.AccountID, toNumeric(b.Out), toNumeric(b.OutBase)}
	}
	return r.replace(ctx, "replace balances", `DELETE FROM dm.dm_account_balance_f WHERE on_date = $1`, []any{day}, balanceTable, balanceColumns, data)
}

// ReplaceReport atomically swaps the report rows of the (from, to) period.
func (r *Repository) ReplaceReport(ctx context.Context, from, to time.Time, rows []ReportRow) (int64, error) {
	data := make([][]any, len(rows))
	for i, row := range rows {
		data[i] = []any{
			from, to, row.Chapter, row.LedgerAccount, row.Characteristic.StoreCode(),
			toNumeric(row.BalanceIn.Local), toNumeric(row.BalanceIn.Foreign), toNumeric(row.BalanceIn.Total),
			toNumeric(row.TurnDebit.Local), toNumeric(row.TurnDebit.Foreign), toNumeric(row.TurnDebit.Total),
			toNumeric(row.TurnCredit.Local), toNumeric(row.TurnCredit.Foreign), toNumeric(row.TurnCredit.Total),
			toNumeric(row.BalanceOut.Local), toNumeric(row.BalanceOut.Foreign), toNumeric(row.BalanceOut.Total),
		}
	}
	return r.replace(ctx, "replace report", `DELETE FROM dm.dm_f101_round_f WHERE from_date = $1 AND to_date = $2`, []any{from, to}, reportTable, reportColumns, data)
}

// ReportRows returns the stored report for the (from, to) period.
func (r *Repository) ReportRows(ctx context.Context, from, to time.Time) ([]ReportRow, error) {
	if r == nil || r.pool == nil {
		return nil, ErrRepositoryNotInitialised
	}
	const query = `
SELECT from_date, to_date, COALESCE(chapter, ''), ledger_account, COALESCE(characteristic, ''),
       balance_in_rub, balance_in_val, balance_in_total,
       turn_deb_rub, turn_deb_val, turn_deb_total,
       turn_cre_rub, turn_cre_val, turn_cre_total,
       balance_out_rub, balance_out_val, balance_out_total
FROM dm.dm_f101_round_f
WHERE from_date = $1 AND to_date = $2
ORDER BY ledger_account, chapter, characteristic`
	rows, err := r.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, Classify("report rows", err)
	}
	defer rows.Close()
	var out []ReportRow
	for rows.Next() {
		var (
			row     ReportRow
			charRaw string
			n       [12]pgtype.Numeric
		)
		if err := rows.Scan(&row.FromDate, &row.ToDate, &row.Chapter, &row.LedgerAccount, &charRaw,
			&n[0], &n[1], &n[2], &n[3], &n[4], &n[5], &n[6], &n[7], &n[8], &n[9], &n[10], &n[11]); err != nil {
			return nil, Classify("scan report row", err)
		}
		row.Characteristic = ParseCharacteristic(charRaw)
		row.BalanceIn = Split{Local: fromNumeric(n[0]), Foreign: fromNumeric(n[1]), Total: fromNumeric(n[2])}
		row.TurnDebit = Split{Local: fromNumeric(n[3]), Foreign: fromNumeric(n[4]), Total: fromNumeric(n[5])}
		row.TurnCredit = Split{Local: fromNumeric(n[6]), Foreign: fromNumeric(n[7]), Total: fromNumeric(n[8])}
		row.BalanceOut = Split{Local: fromNumeric(n[9]), Foreign: fromNumeric(n[10]), Total: fromNumeric(n[11])}
		out = append(out, row)
	}
	return out, Classify("report rows", rows.Err())
}

func (r *Repository) replace(ctx context.Context, op, deleteSQL string, deleteArgs []any, table pgx.Identifier, columns []string, data [][]any) (int64, error) {
	if r == nil || r.pool == nil {
		return 0, ErrRepositoryNotInitialised
	}
	var inserted int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, deleteSQL, deleteArgs...); err != nil {
			return err
		}
		if len(data) == 0 {
			return nil
		}
		n, err := tx.CopyFrom(ctx, table, columns, pgx.CopyFromRows(data))
		if err != nil {
			return err
		}
		inserted = n
		return nil
	})
	if err != nil {
		return 0, Classify(op, err)
	}
	return inserted, nil
}

func exclusiveEnd(inclusive *time.Time) time.Time {
	if inclusive == nil {
		return time.Time{}
	}
	return inclusive.AddDate(0, 0, 1)
}

func fromNumeric(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.NaN || n.InfinityModifier != pgtype.Finite || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

func toNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}
