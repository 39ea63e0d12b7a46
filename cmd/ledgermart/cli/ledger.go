package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/ledgermart/internal/balance"
	"github.com/odyssey-erp/ledgermart/internal/ledger"
	"github.com/odyssey-erp/ledgermart/internal/period"
	"github.com/odyssey-erp/ledgermart/internal/regulatory"
	"github.com/odyssey-erp/ledgermart/internal/shared"
)

// Exit codes shared by every ledger command.
const (
	ExitOK         = 0
	ExitError      = 1
	ExitIncomplete = 10
)

// DayRunner computes a single date.
type DayRunner interface {
	Run(ctx context.Context, day time.Time) (int64, error)
}

// PeriodRunner computes a date range.
type PeriodRunner interface {
	Run(ctx context.Context, start, end time.Time) (period.Result, error)
}

// ReportRunner builds and reads the regulatory report.
type ReportRunner interface {
	Run(ctx context.Context, asOf time.Time) (regulatory.Period, int64, error)
	Rows(ctx context.Context, from, to time.Time) ([]ledger.ReportRow, error)
}

// Verifier replays stored balances.
type Verifier interface {
	Verify(ctx context.Context, from, to time.Time, partitions int) (balance.Verification, error)
}

// LedgerDeps lists the computations the commands drive.
type LedgerDeps struct {
	Turnover DayRunner
	Balance  DayRunner
	Period   PeriodRunner
	Report   ReportRunner
	Verifier Verifier
}

// LedgerCLI runs ledger computations from the command line.
type LedgerCLI struct {
	deps    LedgerDeps
	printer *message.Printer
}

// NewLedgerCLI constructs the command helpers.
func NewLedgerCLI(deps LedgerDeps) *LedgerCLI {
	return &LedgerCLI{deps: deps, printer: message.NewPrinter(language.English)}
}

// Output selects where and how results are written.
type Output struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

func (o *Output) defaults() {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
}

func (o Output) fail(cmd string, err error) int {
	fmt.Fprintf(o.Stderr, "%s: %v\n", cmd, err)
	return ExitError
}

func (o Output) writeJSON(v any) error {
	enc := json.NewEncoder(o.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// DayOptions configures the turnover and balance commands.
type DayOptions struct {
	Date string
	Output
}

type daySummary struct {
	Unit string `json:"unit"`
	Date string `json:"date"`
	Rows int64  `json:"rows"`
}

// TurnoverCommand rebuilds the daily turnover of one date.
func (c *LedgerCLI) TurnoverCommand(ctx context.Context, opts DayOptions) int {
	return c.dayCommand(ctx, "turnover", c.deps.Turnover, opts)
}

// BalanceCommand rebuilds the closing balances of one date.
func (c *LedgerCLI) BalanceCommand(ctx context.Context, opts DayOptions) int {
	return c.dayCommand(ctx, "balance", c.deps.Balance, opts)
}

func (c *LedgerCLI) dayCommand(ctx context.Context, name string, runner DayRunner, opts DayOptions) int {
	opts.defaults()
	if runner == nil {
		return opts.fail(name, errors.New("not configured"))
	}
	day, err := shared.ParseDate(opts.Date)
	if err != nil {
		return opts.fail(name, fmt.Errorf("--date: %w", err))
	}
	rows, err := runner.Run(ctx, day)
	if err != nil {
		return opts.fail(name, err)
	}
	summary := daySummary{Unit: name, Date: shared.FormatDate(day), Rows: rows}
	if opts.JSONOutput {
		if err := opts.writeJSON(summary); err != nil {
			return opts.fail(name, err)
		}
		return ExitOK
	}
	c.printer.Fprintf(opts.Stdout, "%s %s: %d rows\n", name, summary.Date, rows)
	return ExitOK
}

// PeriodOptions configures the period command.
type PeriodOptions struct {
	From string
	To   string
	Output
}

type periodDay struct {
	Date         string `json:"date"`
	TurnoverRows int64  `json:"turnover_rows"`
	BalanceRows  int64  `json:"balance_rows"`
	Error        string `json:"error,omitempty"`
	Drift        bool   `json:"drift,omitempty"`
}

type periodSummary struct {
	BatchID   string      `json:"batch_id"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	Policy    string      `json:"policy"`
	Seeded    int64       `json:"seeded"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Aborted   bool        `json:"aborted"`
	Days      []periodDay `json:"days"`
}

func newPeriodSummary(res period.Result) periodSummary {
	summary := periodSummary{
		BatchID:   res.BatchID,
		Policy:    string(res.Policy),
		Seeded:    res.Seeded,
		Succeeded: res.Succeeded,
		Failed:    res.Failed,
		Aborted:   res.Aborted,
		Days:      make([]periodDay, 0, len(res.Days)),
	}
	if !res.From.IsZero() {
		summary.From = shared.FormatDate(res.From)
		summary.To = shared.FormatDate(res.To)
	}
	for _, d := range res.Days {
		day := periodDay{Date: shared.FormatDate(d.Date), TurnoverRows: d.TurnoverRows, BalanceRows: d.BalanceRows, Drift: d.Drift}
		if d.Err != nil {
			day.Error = d.Err.Error()
		}
		summary.Days = append(summary.Days, day)
	}
	return summary
}

// PeriodCommand runs the period driver. Failed dates yield ExitIncomplete.
func (c *LedgerCLI) PeriodCommand(ctx context.Context, opts PeriodOptions) int {
	opts.defaults()
	if c.deps.Period == nil {
		return opts.fail("period", errors.New("not configured"))
	}
	from, err := shared.ParseDate(opts.From)
	if err != nil {
		return opts.fail("period", fmt.Errorf("--from: %w", err))
	}
	to, err := shared.ParseDate(opts.To)
	if err != nil {
		return opts.fail("period", fmt.Errorf("--to: %w", err))
	}
	res, runErr := c.deps.Period.Run(ctx, from, to)
	if res.BatchID != "" {
		if err := c.writePeriod(opts.Output, newPeriodSummary(res)); err != nil {
			return opts.fail("period", err)
		}
	}
	if runErr != nil {
		return opts.fail("period", runErr)
	}
	if !res.OK() {
		return ExitIncomplete
	}
	return ExitOK
}

func (c *LedgerCLI) writePeriod(out Output, summary periodSummary) error {
	if out.JSONOutput {
		return out.writeJSON(summary)
	}
	c.printer.Fprintf(out.Stdout, "period %s..%s (%s, batch %s): %d succeeded, %d failed, %d seeded\n",
		summary.From, summary.To, summary.Policy, summary.BatchID, summary.Succeeded, summary.Failed, summary.Seeded)
	for _, d := range summary.Days {
		switch {
		case d.Error != "":
			fmt.Fprintf(out.Stdout, "  %s FAILED %s\n", d.Date, d.Error)
		case d.Drift:
			c.printer.Fprintf(out.Stdout, "  %s ok (%d turnover, %d balance) after earlier failure\n", d.Date, d.TurnoverRows, d.BalanceRows)
		}
	}
	return nil
}

// ReportOptions configures the report command.
type ReportOptions struct {
	AsOf string
	Output
}

type reportLine struct {
	Chapter        string `json:"chapter"`
	LedgerAccount  string `json:"ledger_account"`
	Characteristic string `json:"characteristic"`
	BalanceIn      string `json:"balance_in_total"`
	TurnDebit      string `json:"turn_deb_total"`
	TurnCredit     string `json:"turn_cre_total"`
	BalanceOut     string `json:"balance_out_total"`
}

type reportSummary struct {
	From  string       `json:"from"`
	To    string       `json:"to"`
	Rows  int64        `json:"rows"`
	Lines []reportLine `json:"lines"`
}

// ReportCommand rebuilds the report for the month before --asof and prints it.
func (c *LedgerCLI) ReportCommand(ctx context.Context, opts ReportOptions) int {
	opts.defaults()
	if c.deps.Report == nil {
		return opts.fail("report", errors.New("not configured"))
	}
	asOf := shared.Day(time.Now().UTC())
	if strings.TrimSpace(opts.AsOf) != "" {
		parsed, err := shared.ParseDate(opts.AsOf)
		if err != nil {
			return opts.fail("report", fmt.Errorf("--asof: %w", err))
		}
		asOf = parsed
	}
	p, written, err := c.deps.Report.Run(ctx, asOf)
	if err != nil {
		return opts.fail("report", err)
	}
	rows, err := c.deps.Report.Rows(ctx, p.From, p.To)
	if err != nil {
		return opts.fail("report", err)
	}
	summary := reportSummary{From: shared.FormatDate(p.From), To: shared.FormatDate(p.To), Rows: written, Lines: make([]reportLine, 0, len(rows))}
	for _, row := range rows {
		summary.Lines = append(summary.Lines, reportLine{
			Chapter:        row.Chapter,
			LedgerAccount:  row.LedgerAccount,
			Characteristic: string(row.Characteristic),
			BalanceIn:      row.BalanceIn.Total.StringFixed(2),
			TurnDebit:      row.TurnDebit.Total.StringFixed(2),
			TurnCredit:     row.TurnCredit.Total.StringFixed(2),
			BalanceOut:     row.BalanceOut.Total.StringFixed(2),
		})
	}
	if opts.JSONOutput {
		if err := opts.writeJSON(summary); err != nil {
			return opts.fail("report", err)
		}
		return ExitOK
	}
	c.printer.Fprintf(opts.Stdout, "report %s..%s: %d rows\n", summary.From, summary.To, written)
	tw := tabwriter.NewWriter(opts.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "chapter\taccount\tchar\tin\tdebit\tcredit\tout\t")
	for _, line := range summary.Lines {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n", line.Chapter, line.LedgerAccount, line.Characteristic,
			line.BalanceIn, line.TurnDebit, line.TurnCredit, line.BalanceOut)
	}
	if err := tw.Flush(); err != nil {
		return opts.fail("report", err)
	}
	return ExitOK
}

// VerifyOptions configures the verify command.
type VerifyOptions struct {
	From       string
	To         string
	Partitions int
	Output
}

type verifyMismatch struct {
	Date      string `json:"date"`
	AccountID int64  `json:"account_id"`
	Expected  string `json:"expected,omitempty"`
	Stored    string `json:"stored,omitempty"`
}

type verifySummary struct {
	From       string           `json:"from"`
	To         string           `json:"to"`
	Checked    int              `json:"checked"`
	Mismatches []verifyMismatch `json:"mismatches"`
}

// VerifyCommand replays stored balances and reports drift with ExitIncomplete.
func (c *LedgerCLI) VerifyCommand(ctx context.Context, opts VerifyOptions) int {
	opts.defaults()
	if c.deps.Verifier == nil {
		return opts.fail("verify", errors.New("not configured"))
	}
	from, err := shared.ParseDate(opts.From)
	if err != nil {
		return opts.fail("verify", fmt.Errorf("--from: %w", err))
	}
	to, err := shared.ParseDate(opts.To)
	if err != nil {
		return opts.fail("verify", fmt.Errorf("--to: %w", err))
	}
	partitions := opts.Partitions
	if partitions <= 0 {
		partitions = balance.DefaultPartitions
	}
	v, err := c.deps.Verifier.Verify(ctx, from, to, partitions)
	if err != nil {
		return opts.fail("verify", err)
	}
	summary := verifySummary{From: shared.FormatDate(v.From), To: shared.FormatDate(v.To), Checked: v.Checked, Mismatches: make([]verifyMismatch, 0, len(v.Mismatches))}
	for _, m := range v.Mismatches {
		line := verifyMismatch{Date: shared.FormatDate(m.Date), AccountID: m.AccountID}
		if m.Expected != nil {
			line.Expected = m.Expected.Out.StringFixed(2)
		}
		if m.Stored != nil {
			line.Stored = m.Stored.Out.StringFixed(2)
		}
		summary.Mismatches = append(summary.Mismatches, line)
	}
	if opts.JSONOutput {
		if err := opts.writeJSON(summary); err != nil {
			return opts.fail("verify", err)
		}
	} else {
		c.printer.Fprintf(opts.Stdout, "verify %s..%s: %d balances checked, %d mismatches\n", summary.From, summary.To, summary.Checked, len(summary.Mismatches))
		for _, m := range summary.Mismatches {
			fmt.Fprintf(opts.Stdout, "  %s account %d: expected %s, stored %s\n", m.Date, m.AccountID, orDash(m.Expected), orDash(m.Stored))
		}
	}
	if !v.Clean() {
		return ExitIncomplete
	}
	return ExitOK
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
