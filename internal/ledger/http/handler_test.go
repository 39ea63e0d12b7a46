package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledgermart/internal/ledger"
	"github.com/odyssey-erp/ledgermart/internal/period"
	"github.com/odyssey-erp/ledgermart/internal/platform/lock"
	"github.com/odyssey-erp/ledgermart/internal/regulatory"
	"github.com/odyssey-erp/ledgermart/internal/runlog"
)

type stubDay struct {
	days []time.Time
	rows int64
	err  error
}

func (s *stubDay) Run(ctx context.Context, day time.Time) (int64, error) {
	s.days = append(s.days, day)
	return s.rows, s.err
}

type stubPeriod struct {
	res period.Result
	err error
}

func (s *stubPeriod) Run(ctx context.Context, start, end time.Time) (period.Result, error) {
	if s.res.BatchID == "" && s.err == nil {
		s.res = period.Result{BatchID: "b-1", From: start, To: end, Policy: period.PolicyContinue, Succeeded: 2}
	}
	return s.res, s.err
}

type stubReport struct {
	rows  []ledger.ReportRow
	asOf  time.Time
	err   error
	reads int
}

func (s *stubReport) Run(ctx context.Context, asOf time.Time) (regulatory.Period, int64, error) {
	s.asOf = asOf
	if s.err != nil {
		return regulatory.Period{}, 0, s.err
	}
	return regulatory.ReportingPeriod(asOf), int64(len(s.rows)), nil
}

func (s *stubReport) Rows(ctx context.Context, from, to time.Time) ([]ledger.ReportRow, error) {
	s.reads++
	return s.rows, s.err
}

type stubRuns struct {
	limit int
}

func (s *stubRuns) Recent(ctx context.Context, limit int) ([]runlog.Entry, error) {
	s.limit = limit
	return []runlog.Entry{{ID: 7, Unit: runlog.UnitTurnover, Status: runlog.StatusSuccess, Rows: 3}}, nil
}

type busyGuard struct{}

func (busyGuard) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	return nil, fmt.Errorf("%w: %s", lock.ErrBusy, key)
}

func newRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Route("/ledger", NewHandler(deps, nil).MountRoutes)
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRunTurnover(t *testing.T) {
	turnover := &stubDay{rows: 12}
	h := newRouter(Deps{Turnover: turnover})

	rr := do(t, h, http.MethodPost, "/ledger/turnover/2018-01-09", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body dayResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	require.Equal(t, dayResponse{Date: "2018-01-09", Rows: 12}, body)
	require.Equal(t, time.Date(2018, 1, 9, 0, 0, 0, 0, time.UTC), turnover.days[0])

	rr = do(t, h, http.MethodPost, "/ledger/turnover/09.01.2018", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRunBalanceErrors(t *testing.T) {
	h := newRouter(Deps{Balance: &stubDay{err: &ledger.ComputationError{Unit: runlog.UnitBalance, Key: "2018-01-09", Err: errors.New("overflow")}}})
	rr := do(t, h, http.MethodPost, "/ledger/balance/2018-01-09", "")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Contains(t, rr.Body.String(), "overflow")

	h = newRouter(Deps{Balance: &stubDay{err: fmt.Errorf("x: %w", ledger.ErrConnectivity)}})
	rr = do(t, h, http.MethodPost, "/ledger/balance/2018-01-09", "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	h = newRouter(Deps{Balance: &stubDay{}, Guard: busyGuard{}})
	rr = do(t, h, http.MethodPost, "/ledger/balance/2018-01-09", "")
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestRunPeriod(t *testing.T) {
	h := newRouter(Deps{Period: &stubPeriod{}})

	rr := do(t, h, http.MethodPost, "/ledger/period", `{"from":"2018-01-01","to":"2018-01-02"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var body periodResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	require.Equal(t, "b-1", body.BatchID)
	require.Equal(t, "2018-01-01", body.From)

	rr = do(t, h, http.MethodPost, "/ledger/period", `{"from":"2018-01-01"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/ledger/period", `{"from":"2018-02-01","to":"2018-01-01"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/ledger/period", `{"from":"2018-01-01","to":"2018-01-02","extra":1}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRunPeriodReportsFailedDates(t *testing.T) {
	failed := period.Result{
		BatchID:   "b-2",
		From:      time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC),
		To:        time.Date(2018, 1, 2, 0, 0, 0, 0, time.UTC),
		Succeeded: 1,
		Failed:    1,
		Days: []period.DayStatus{
			{Date: time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC), Err: errors.New("bad posting")},
			{Date: time.Date(2018, 1, 2, 0, 0, 0, 0, time.UTC), Drift: true},
		},
	}
	h := newRouter(Deps{Period: &stubPeriod{res: failed}})
	rr := do(t, h, http.MethodPost, "/ledger/period", `{"from":"2018-01-01","to":"2018-01-02"}`)
	require.Equal(t, http.StatusMultiStatus, rr.Code)

	var body periodResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	require.Equal(t, "bad posting", body.Days[0].Error)
	require.True(t, body.Days[1].Drift)
}

func TestReportEndpoints(t *testing.T) {
	report := &stubReport{rows: []ledger.ReportRow{{
		FromDate:       time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC),
		ToDate:         time.Date(2018, 1, 31, 0, 0, 0, 0, time.UTC),
		Chapter:        "A",
		LedgerAccount:  "20202",
		Characteristic: ledger.CharacteristicAsset,
		BalanceIn:      ledger.Split{}.Add(decimal.NewFromInt(100), true),
	}}}
	h := newRouter(Deps{Report: report})

	rr := do(t, h, http.MethodPost, "/ledger/reports/2018-02-01", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"from":"2018-01-01","to":"2018-01-31","rows":1}`, rr.Body.String())

	rr = do(t, h, http.MethodGet, "/ledger/reports?from=2018-01-01&to=2018-01-31", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var rows []reportRowResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&rows))
	require.Len(t, rows, 1)
	require.Equal(t, "100.00000000", rows[0].BalanceIn.Local)
	require.Equal(t, "0.00000000", rows[0].BalanceIn.Foreign)
	require.Equal(t, "A", rows[0].Characteristic)

	rr = do(t, h, http.MethodGet, "/ledger/reports?from=2018-01-31&to=2018-01-01", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListRuns(t *testing.T) {
	runs := &stubRuns{}
	h := newRouter(Deps{Runs: runs})

	rr := do(t, h, http.MethodGet, "/ledger/runs?limit=5", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 5, runs.limit)
	require.Contains(t, rr.Body.String(), runlog.UnitTurnover)

	rr = do(t, h, http.MethodGet, "/ledger/runs?limit=-1", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUnconfiguredRunner(t *testing.T) {
	h := newRouter(Deps{})
	rr := do(t, h, http.MethodPost, "/ledger/turnover/2018-01-09", "")
	require.Equal(t, http.StatusNotImplemented, rr.Code)
}
