package jobs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledgermart/internal/balance"
	jobmetrics "github.com/odyssey-erp/ledgermart/internal/jobs"
	"github.com/odyssey-erp/ledgermart/internal/ledger"
	"github.com/odyssey-erp/ledgermart/internal/period"
	"github.com/odyssey-erp/ledgermart/internal/regulatory"
)

var fixedNow = time.Date(2018, 2, 1, 1, 30, 0, 0, time.UTC)

type stubPeriod struct {
	from, to time.Time
	res      period.Result
	err      error
}

func (s *stubPeriod) Run(ctx context.Context, start, end time.Time) (period.Result, error) {
	s.from, s.to = start, end
	if s.res.BatchID == "" {
		s.res.BatchID = "batch"
	}
	return s.res, s.err
}

type stubReport struct {
	asOf time.Time
	err  error
}

func (s *stubReport) Run(ctx context.Context, asOf time.Time) (regulatory.Period, int64, error) {
	s.asOf = asOf
	return regulatory.ReportingPeriod(asOf), 4, s.err
}

type stubVerifier struct {
	v balance.Verification
}

func (s *stubVerifier) Verify(ctx context.Context, from, to time.Time, partitions int) (balance.Verification, error) {
	s.v.From, s.v.To = from, to
	return s.v, nil
}

func newJobs(p PeriodRunner, r ReportRunner, v Verifier) *LedgerJobs {
	j := NewLedgerJobs(p, r, v, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	j.WithClock(func() time.Time { return fixedNow })
	return j
}

func TestDailyCloseDefaultsToYesterday(t *testing.T) {
	p := &stubPeriod{}
	task, err := NewDailyCloseTask("")
	require.NoError(t, err)

	require.NoError(t, newJobs(p, nil, nil).HandleDailyClose(context.Background(), task))
	jan31 := time.Date(2018, 1, 31, 0, 0, 0, 0, time.UTC)
	require.Equal(t, jan31, p.from)
	require.Equal(t, jan31, p.to)
}

func TestDailyCloseExplicitDate(t *testing.T) {
	p := &stubPeriod{}
	task, err := NewDailyCloseTask("2018-01-09")
	require.NoError(t, err)
	require.NoError(t, newJobs(p, nil, nil).HandleDailyClose(context.Background(), task))
	require.Equal(t, time.Date(2018, 1, 9, 0, 0, 0, 0, time.UTC), p.from)
}

func TestTaskConstructorsValidate(t *testing.T) {
	_, err := NewDailyCloseTask("09/01/2018")
	require.Error(t, err)
	_, err = NewPeriodTask("2018-01-01", "")
	require.Error(t, err)
	task, err := NewVerifyTask("2018-01-01", "2018-01-31")
	require.NoError(t, err)
	require.Equal(t, TaskVerify, task.Type())
}

func TestHandlePeriodOutcomes(t *testing.T) {
	ctx := context.Background()
	task, err := NewPeriodTask("2018-01-01", "2018-01-31")
	require.NoError(t, err)

	failed := &stubPeriod{res: period.Result{Failed: 2, Succeeded: 29}}
	require.NoError(t, newJobs(failed, nil, nil).HandlePeriod(ctx, task))

	halted := &stubPeriod{err: &ledger.ComputationError{Unit: "u", Key: "k", Err: errors.New("bad")}}
	err = newJobs(halted, nil, nil).HandlePeriod(ctx, task)
	require.ErrorIs(t, err, asynq.SkipRetry)

	offline := &stubPeriod{err: fmt.Errorf("x: %w", ledger.ErrConnectivity)}
	err = newJobs(offline, nil, nil).HandlePeriod(ctx, task)
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)

	dial := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	runLedgerDown := &stubPeriod{err: ledger.Classify("run start balance_seed", dial)}
	err = newJobs(runLedgerDown, nil, nil).HandlePeriod(ctx, task)
	require.ErrorIs(t, err, dial)
	require.NotErrorIs(t, err, asynq.SkipRetry)

	bad := asynq.NewTask(TaskPeriod, []byte(`{"from":"2018-01-01"}`))
	require.ErrorIs(t, newJobs(&stubPeriod{}, nil, nil).HandlePeriod(ctx, bad), asynq.SkipRetry)
}

func TestHandleReportDefaultsToToday(t *testing.T) {
	r := &stubReport{}
	task, err := NewReportTask("")
	require.NoError(t, err)
	require.NoError(t, newJobs(nil, r, nil).HandleReport(context.Background(), task))
	require.Equal(t, time.Date(2018, 2, 1, 0, 0, 0, 0, time.UTC), r.asOf)

	failing := &stubReport{err: errors.New("boom")}
	require.Error(t, newJobs(nil, failing, nil).HandleReport(context.Background(), task))
}

func TestHandleVerify(t *testing.T) {
	v := &stubVerifier{v: balance.Verification{Checked: 3, Mismatches: []balance.Mismatch{{Date: fixedNow, AccountID: 9}}}}
	task, err := NewVerifyTask("2018-01-01", "2018-01-31")
	require.NoError(t, err)
	require.NoError(t, newJobs(nil, nil, v).HandleVerify(context.Background(), task))
	require.Equal(t, time.Date(2018, 1, 31, 0, 0, 0, 0, time.UTC), v.v.To)
}

func TestHandlersAndSchedule(t *testing.T) {
	handlers := newJobs(nil, nil, nil).Handlers()
	types := make([]string, 0, len(handlers))
	for _, h := range handlers {
		types = append(types, h.Type)
	}
	require.ElementsMatch(t, []string{TaskDailyClose, TaskPeriod, TaskReport, TaskVerify}, types)

	cron, err := Schedule("30 1 * * *", "0 3 1 * *")
	require.NoError(t, err)
	require.Len(t, cron, 2)
	require.Equal(t, TaskDailyClose, cron[0].Task.Type())
	require.Equal(t, TaskReport, cron[1].Task.Type())
}

func TestJobsHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(nil, nil).MountRoutes)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"queue":"default","pending":0,"active":0,"retry":0}`, rr.Body.String())
}
