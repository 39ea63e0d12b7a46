package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/ledgermart/cmd/ledgermart/cli"
	"github.com/odyssey-erp/ledgermart/internal/app"
	"github.com/odyssey-erp/ledgermart/jobs"
)

// outputFlags are shared by every ledger command.
type outputFlags struct {
	json bool
}

func (o *outputFlags) register(f *flag.FlagSet) {
	f.BoolVar(&o.json, "json", false, "Print the result as JSON.")
}

func (o *outputFlags) output() cli.Output {
	return cli.Output{JSONOutput: o.json, Stdout: os.Stdout, Stderr: os.Stderr}
}

// withLedger opens the stores, runs fn and maps its exit code.
func withLedger(ctx context.Context, fn func(*cli.LedgerCLI) int) subcommands.ExitStatus {
	env, err := open(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer env.close()
	s := env.services
	ledgerCLI := cli.NewLedgerCLI(cli.LedgerDeps{
		Turnover: s.Turnover,
		Balance:  s.Balance,
		Period:   s.Period,
		Report:   s.Report,
		Verifier: s.Balance,
	})
	return subcommands.ExitStatus(fn(ledgerCLI))
}

type turnoverCmd struct {
	date string
	out  outputFlags
}

func (*turnoverCmd) Name() string     { return "turnover" }
func (*turnoverCmd) Synopsis() string { return "rebuild the daily turnover of one date" }
func (*turnoverCmd) Usage() string {
	return `ledgermart turnover -date <YYYY-MM-DD> [-json]

  Replaces dm.dm_account_turnover_f for the date with the debit and credit
  totals of its postings.
`
}

func (c *turnoverCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.date, "date", "", "The date to compute.")
	c.out.register(f)
}

func (c *turnoverCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withLedger(ctx, func(l *cli.LedgerCLI) int {
		return l.TurnoverCommand(ctx, cli.DayOptions{Date: c.date, Output: c.out.output()})
	})
}

type balanceCmd struct {
	date string
	out  outputFlags
}

func (*balanceCmd) Name() string     { return "balance" }
func (*balanceCmd) Synopsis() string { return "rebuild the closing balances of one date" }
func (*balanceCmd) Usage() string {
	return `ledgermart balance -date <YYYY-MM-DD> [-json]

  Rolls the stored balances of the previous date forward with the date's
  turnover. Run turnover for the date first.
`
}

func (c *balanceCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.date, "date", "", "The date to compute.")
	c.out.register(f)
}

func (c *balanceCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withLedger(ctx, func(l *cli.LedgerCLI) int {
		return l.BalanceCommand(ctx, cli.DayOptions{Date: c.date, Output: c.out.output()})
	})
}

type periodCmd struct {
	from string
	to   string
	out  outputFlags
}

func (*periodCmd) Name() string     { return "period" }
func (*periodCmd) Synopsis() string { return "recompute turnover and balances for a date range" }
func (*periodCmd) Usage() string {
	return `ledgermart period -from <YYYY-MM-DD> -to <YYYY-MM-DD> [-json]

  Seeds balances from the opening snapshot of the day before -from, then
  computes every date in order. The failure policy comes from
  LEDGER_FAILURE_POLICY. Exits with 10 when some dates failed.
`
}

func (c *periodCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.from, "from", "", "First date of the range.")
	f.StringVar(&c.to, "to", "", "Last date of the range.")
	c.out.register(f)
}

func (c *periodCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withLedger(ctx, func(l *cli.LedgerCLI) int {
		return l.PeriodCommand(ctx, cli.PeriodOptions{From: c.from, To: c.to, Output: c.out.output()})
	})
}

type reportCmd struct {
	asOf string
	out  outputFlags
}

func (*reportCmd) Name() string     { return "report" }
func (*reportCmd) Synopsis() string { return "rebuild the F101 report for the previous month" }
func (*reportCmd) Usage() string {
	return `ledgermart report [-asof <YYYY-MM-DD>] [-json]

  Aggregates the month before -asof (today by default) into
  dm.dm_f101_round_f and prints the rows.
`
}

func (c *reportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.asOf, "asof", "", "Reporting date, defaults to today.")
	c.out.register(f)
}

func (c *reportCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withLedger(ctx, func(l *cli.LedgerCLI) int {
		return l.ReportCommand(ctx, cli.ReportOptions{AsOf: c.asOf, Output: c.out.output()})
	})
}

type verifyCmd struct {
	from       string
	to         string
	partitions int
	out        outputFlags
}

func (*verifyCmd) Name() string     { return "verify" }
func (*verifyCmd) Synopsis() string { return "replay stored balances and report drift" }
func (*verifyCmd) Usage() string {
	return `ledgermart verify -from <YYYY-MM-DD> -to <YYYY-MM-DD> [-partitions n] [-json]

  Recomputes the balance chain in memory from the stored balances of the day
  before -from and compares it with what is stored. Exits with 10 on drift.
`
}

func (c *verifyCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.from, "from", "", "First date to check.")
	f.StringVar(&c.to, "to", "", "Last date to check.")
	f.IntVar(&c.partitions, "partitions", 0, "Number of account partitions replayed in parallel.")
	c.out.register(f)
}

func (c *verifyCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withLedger(ctx, func(l *cli.LedgerCLI) int {
		return l.VerifyCommand(ctx, cli.VerifyOptions{From: c.from, To: c.to, Partitions: c.partitions, Output: c.out.output()})
	})
}

type enqueueCmd struct {
	date string
	from string
	to   string
	out  outputFlags
}

func (*enqueueCmd) Name() string     { return "enqueue" }
func (*enqueueCmd) Synopsis() string { return "queue a ledger task for the worker" }
func (*enqueueCmd) Usage() string {
	return `ledgermart enqueue [-date d] [-from d -to d] [-json] <daily-close|period|report|verify>

  Submits the task to the default asynq queue.
`
}

func (c *enqueueCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.date, "date", "", "Date for daily-close, as-of date for report.")
	f.StringVar(&c.from, "from", "", "First date for period and verify.")
	f.StringVar(&c.to, "to", "", "Last date for period and verify.")
	c.out.register(f)
}

func (c *enqueueCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer client.Close()

	jobsCLI := cli.NewJobsCLI(client)
	return subcommands.ExitStatus(jobsCLI.EnqueueCommand(ctx, cli.EnqueueOptions{
		Task:   f.Arg(0),
		Date:   c.date,
		From:   c.from,
		To:     c.to,
		Output: c.out.output(),
	}))
}
