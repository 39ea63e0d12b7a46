package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/ledgermart/internal/balance"
	jobmetrics "github.com/odyssey-erp/ledgermart/internal/jobs"
	"github.com/odyssey-erp/ledgermart/internal/ledger"
	"github.com/odyssey-erp/ledgermart/internal/period"
	"github.com/odyssey-erp/ledgermart/internal/platform/lock"
	"github.com/odyssey-erp/ledgermart/internal/regulatory"
	"github.com/odyssey-erp/ledgermart/internal/runlog"
	"github.com/odyssey-erp/ledgermart/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// PeriodRunner recomputes a date range.
type PeriodRunner interface {
	Run(ctx context.Context, start, end time.Time) (period.Result, error)
}

// ReportRunner rebuilds the regulatory report.
type ReportRunner interface {
	Run(ctx context.Context, asOf time.Time) (regulatory.Period, int64, error)
}

// Verifier replays stored balances.
type Verifier interface {
	Verify(ctx context.Context, from, to time.Time, partitions int) (balance.Verification, error)
}

// LedgerJobs runs the ledger tasks.
type LedgerJobs struct {
	Period   PeriodRunner
	Report   ReportRunner
	Verifier Verifier
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewLedgerJobs constructs the job handlers.
func NewLedgerJobs(periodRunner PeriodRunner, report ReportRunner, verifier Verifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerJobs {
	return &LedgerJobs{
		Period:   periodRunner,
		Report:   report,
		Verifier: verifier,
		Logger:   logger,
		Metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handlers lists the task handlers for the worker.
func (j *LedgerJobs) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskDailyClose, Handler: j.HandleDailyClose},
		{Type: TaskPeriod, Handler: j.HandlePeriod},
		{Type: TaskReport, Handler: j.HandleReport},
		{Type: TaskVerify, Handler: j.HandleVerify},
	}
}

// HandleDailyClose computes one day, yesterday unless the payload names a date.
func (j *LedgerJobs) HandleDailyClose(ctx context.Context, task *asynq.Task) (err error) {
	var payload DailyClosePayload
	if err := decodePayload(task, &payload); err != nil {
		j.log(TaskDailyClose).Warn("invalid payload", slog.Any("error", err))
		return asynq.SkipRetry
	}
	day := shared.Day(j.now()).AddDate(0, 0, -1)
	if payload.Date != "" {
		day, _ = shared.ParseDate(payload.Date)
	}
	tracker := j.metrics().Track(TaskDailyClose)
	defer func() { err = tracker.End(err) }()
	return j.runPeriod(ctx, TaskDailyClose, day, day)
}

// HandlePeriod recomputes the payload range.
func (j *LedgerJobs) HandlePeriod(ctx context.Context, task *asynq.Task) (err error) {
	var payload RangePayload
	if err := decodePayload(task, &payload); err != nil {
		j.log(TaskPeriod).Warn("invalid payload", slog.Any("error", err))
		return asynq.SkipRetry
	}
	from, _ := shared.ParseDate(payload.From)
	to, _ := shared.ParseDate(payload.To)
	tracker := j.metrics().Track(TaskPeriod)
	defer func() { err = tracker.End(err) }()
	return j.runPeriod(ctx, TaskPeriod, from, to)
}

func (j *LedgerJobs) runPeriod(ctx context.Context, job string, from, to time.Time) error {
	if j == nil || j.Period == nil {
		return errors.New("jobs: period runner not configured")
	}
	res, err := j.Period.Run(ctx, from, to)
	for _, d := range res.Days {
		j.metrics().AddRows(runlog.UnitTurnover, d.TurnoverRows)
		j.metrics().AddRows(runlog.UnitBalance, d.BalanceRows)
	}
	j.metrics().AddFailedDates(res.Failed)
	logger := j.log(job).With(slog.String("from", shared.FormatDate(from)), slog.String("to", shared.FormatDate(to)), slog.String("batch_id", res.BatchID))
	switch {
	case err == nil && res.OK():
		logger.Info("period closed", slog.Int("dates", res.Succeeded))
		return nil
	case err == nil:
		// failed dates are in the run ledger; a retry would recompute the whole range
		logger.Warn("period closed with failed dates", slog.Int("failed", res.Failed), slog.Int("succeeded", res.Succeeded))
		return nil
	case errors.Is(err, lock.ErrBusy), ledger.IsConnectivity(err):
		logger.Warn("period deferred", slog.Any("error", err))
		return err
	default:
		logger.Error("period halted", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
}

// HandleReport rebuilds the report for the month before as_of (today by default).
func (j *LedgerJobs) HandleReport(ctx context.Context, task *asynq.Task) (err error) {
	var payload ReportPayload
	if err := decodePayload(task, &payload); err != nil {
		j.log(TaskReport).Warn("invalid payload", slog.Any("error", err))
		return asynq.SkipRetry
	}
	if j == nil || j.Report == nil {
		return errors.New("jobs: report runner not configured")
	}
	asOf := shared.Day(j.now())
	if payload.AsOf != "" {
		asOf, _ = shared.ParseDate(payload.AsOf)
	}
	tracker := j.metrics().Track(TaskReport)
	defer func() { err = tracker.End(err) }()

	p, rows, err := j.Report.Run(ctx, asOf)
	if err != nil {
		j.log(TaskReport).Error("report failed", slog.String("as_of", shared.FormatDate(asOf)), slog.Any("error", err))
		return err
	}
	j.metrics().AddRows(runlog.UnitReport, rows)
	j.log(TaskReport).Info("report built", slog.String("period", p.Key()), slog.Int64("rows", rows))
	return nil
}

// HandleVerify replays the payload range and logs every mismatch.
func (j *LedgerJobs) HandleVerify(ctx context.Context, task *asynq.Task) (err error) {
	var payload RangePayload
	if err := decodePayload(task, &payload); err != nil {
		j.log(TaskVerify).Warn("invalid payload", slog.Any("error", err))
		return asynq.SkipRetry
	}
	if j == nil || j.Verifier == nil {
		return errors.New("jobs: verifier not configured")
	}
	from, _ := shared.ParseDate(payload.From)
	to, _ := shared.ParseDate(payload.To)
	tracker := j.metrics().Track(TaskVerify)
	defer func() { err = tracker.End(err) }()

	v, err := j.Verifier.Verify(ctx, from, to, 0)
	if err != nil {
		return err
	}
	logger := j.log(TaskVerify)
	for _, m := range v.Mismatches {
		logger.Warn("balance drift", slog.String("date", shared.FormatDate(m.Date)), slog.Int64("account_id", m.AccountID))
	}
	logger.Info("verify finished", slog.Int("checked", v.Checked), slog.Int("mismatches", len(v.Mismatches)))
	return nil
}

func (j *LedgerJobs) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *LedgerJobs) log(job string) *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", job))
	}
	return slog.Default().With(slog.String("job", job))
}

func (j *LedgerJobs) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *LedgerJobs) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}

// Schedule returns the cron registrations for the daily close and the
// monthly report.
func Schedule(dailySpec, reportSpec string) ([]CronRegistration, error) {
	daily, err := NewDailyCloseTask("")
	if err != nil {
		return nil, err
	}
	report, err := NewReportTask("")
	if err != nil {
		return nil, err
	}
	return []CronRegistration{
		{Spec: dailySpec, Task: daily, Options: []asynq.Option{asynq.MaxRetry(3)}},
		{Spec: reportSpec, Task: report, Options: []asynq.Option{asynq.MaxRetry(3)}},
	}, nil
}
