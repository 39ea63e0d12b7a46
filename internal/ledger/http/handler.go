package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/ledgermart/internal/ledger"
	"github.com/odyssey-erp/ledgermart/internal/period"
	"github.com/odyssey-erp/ledgermart/internal/platform/httpx"
	"github.com/odyssey-erp/ledgermart/internal/platform/lock"
	"github.com/odyssey-erp/ledgermart/internal/regulatory"
	"github.com/odyssey-erp/ledgermart/internal/runlog"
	"github.com/odyssey-erp/ledgermart/internal/shared"
)

// DayRunner recomputes a single day.
type DayRunner interface {
	Run(ctx context.Context, day time.Time) (int64, error)
}

// PeriodRunner recomputes a date range.
type PeriodRunner interface {
	Run(ctx context.Context, start, end time.Time) (period.Result, error)
}

// ReportService builds and serves the regulatory report.
type ReportService interface {
	Run(ctx context.Context, asOf time.Time) (regulatory.Period, int64, error)
	Rows(ctx context.Context, from, to time.Time) ([]ledger.ReportRow, error)
}

// RunLister lists run ledger entries.
type RunLister interface {
	Recent(ctx context.Context, limit int) ([]runlog.Entry, error)
}

// Guard serialises single-day recomputations with period runs.
type Guard interface {
	Acquire(ctx context.Context, key string) (func(context.Context) error, error)
}

// Deps groups the services behind the ledger endpoints.
type Deps struct {
	Turnover DayRunner
	Balance  DayRunner
	Period   PeriodRunner
	Report   ReportService
	Runs     RunLister
	Guard    Guard
}

// Handler exposes ledger recomputation and report endpoints.
type Handler struct {
	deps      Deps
	logger    *slog.Logger
	validator *validator.Validate
	rateLimit func(http.Handler) http.Handler
}

// NewHandler constructs the ledger handler.
func NewHandler(deps Deps, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		deps:      deps,
		logger:    logger,
		validator: validator.New(),
		rateLimit: httprate.Limit(10, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
	}
}

// MountRoutes attaches the ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rateLimit)
		r.Post("/turnover/{date}", h.runTurnover)
		r.Post("/balance/{date}", h.runBalance)
		r.Post("/period", h.runPeriod)
		r.Post("/reports/{asof}", h.runReport)
	})
	r.Get("/reports", h.listReport)
	r.Get("/runs", h.listRuns)
}

type dayResponse struct {
	Date string `json:"date"`
	Rows int64  `json:"rows"`
}

func (h *Handler) runTurnover(w http.ResponseWriter, r *http.Request) {
	h.runDay(w, r, "turnover", h.deps.Turnover)
}

func (h *Handler) runBalance(w http.ResponseWriter, r *http.Request) {
	h.runDay(w, r, "balance", h.deps.Balance)
}

func (h *Handler) runDay(w http.ResponseWriter, r *http.Request, name string, runner DayRunner) {
	if runner == nil {
		httpx.Problem(w, http.StatusNotImplemented, "Not Configured", name+" runner not configured")
		return
	}
	day, err := parseDateParam(chi.URLParam(r, "date"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ctx := r.Context()
	if h.deps.Guard != nil {
		release, err := h.deps.Guard.Acquire(ctx, shared.LedgerRunLockKey)
		if err != nil {
			h.respondError(w, err)
			return
		}
		defer func() { _ = release(context.WithoutCancel(ctx)) }()
	}
	rows, err := runner.Run(ctx, day)
	if err != nil {
		h.logger.Error("ledger "+name+" run", slog.String("date", shared.FormatDate(day)), slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, dayResponse{Date: shared.FormatDate(day), Rows: rows})
}

type periodRequest struct {
	From string `json:"from" validate:"required,datetime=2006-01-02"`
	To   string `json:"to" validate:"required,datetime=2006-01-02"`
}

type dayStatusResponse struct {
	Date         string `json:"date"`
	TurnoverRows int64  `json:"turnover_rows"`
	BalanceRows  int64  `json:"balance_rows"`
	Error        string `json:"error,omitempty"`
	Drift        bool   `json:"drift,omitempty"`
}

type periodResponse struct {
	BatchID   string              `json:"batch_id"`
	From      string              `json:"from"`
	To        string              `json:"to"`
	Policy    string              `json:"policy"`
	Seeded    int64               `json:"seeded"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
	Aborted   bool                `json:"aborted"`
	Days      []dayStatusResponse `json:"days"`
}

func newPeriodResponse(res period.Result) periodResponse {
	out := periodResponse{
		BatchID:   res.BatchID,
		Policy:    string(res.Policy),
		Seeded:    res.Seeded,
		Succeeded: res.Succeeded,
		Failed:    res.Failed,
		Aborted:   res.Aborted,
		Days:      make([]dayStatusResponse, 0, len(res.Days)),
	}
	if !res.From.IsZero() {
		out.From, out.To = shared.FormatDate(res.From), shared.FormatDate(res.To)
	}
	for _, d := range res.Days {
		status := dayStatusResponse{Date: shared.FormatDate(d.Date), TurnoverRows: d.TurnoverRows, BalanceRows: d.BalanceRows, Drift: d.Drift}
		if d.Err != nil {
			status.Error = d.Err.Error()
		}
		out.Days = append(out.Days, status)
	}
	return out
}

func (h *Handler) runPeriod(w http.ResponseWriter, r *http.Request) {
	if h.deps.Period == nil {
		httpx.Problem(w, http.StatusNotImplemented, "Not Configured", "period driver not configured")
		return
	}
	var req periodRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	from, _ := shared.ParseDate(req.From)
	to, _ := shared.ParseDate(req.To)
	if from.After(to) {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, shared.ErrInvalidRange))
		return
	}
	res, err := h.deps.Period.Run(r.Context(), from, to)
	if err != nil {
		h.logger.Error("ledger period run", slog.String("from", req.From), slog.String("to", req.To), slog.Any("error", err))
		if res.BatchID == "" {
			h.respondError(w, err)
			return
		}
		status := http.StatusInternalServerError
		if ledger.IsConnectivity(err) {
			status = http.StatusServiceUnavailable
		}
		httpx.JSON(w, status, newPeriodResponse(res))
		return
	}
	status := http.StatusOK
	if !res.OK() {
		status = http.StatusMultiStatus
	}
	httpx.JSON(w, status, newPeriodResponse(res))
}

type reportRunResponse struct {
	From string `json:"from"`
	To   string `json:"to"`
	Rows int64  `json:"rows"`
}

func (h *Handler) runReport(w http.ResponseWriter, r *http.Request) {
	if h.deps.Report == nil {
		httpx.Problem(w, http.StatusNotImplemented, "Not Configured", "report service not configured")
		return
	}
	asOf, err := parseDateParam(chi.URLParam(r, "asof"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, rows, err := h.deps.Report.Run(r.Context(), asOf)
	if err != nil {
		h.logger.Error("ledger report run", slog.String("as_of", shared.FormatDate(asOf)), slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	forgetReportRows(p.Key())
	httpx.JSON(w, http.StatusOK, reportRunResponse{From: shared.FormatDate(p.From), To: shared.FormatDate(p.To), Rows: rows})
}

type splitResponse struct {
	Local   string `json:"local"`
	Foreign string `json:"foreign"`
	Total   string `json:"total"`
}

type reportRowResponse struct {
	FromDate       string        `json:"from_date"`
	ToDate         string        `json:"to_date"`
	Chapter        string        `json:"chapter"`
	LedgerAccount  string        `json:"ledger_account"`
	Characteristic string        `json:"characteristic"`
	BalanceIn      splitResponse `json:"balance_in"`
	TurnDebit      splitResponse `json:"turn_debit"`
	TurnCredit     splitResponse `json:"turn_credit"`
	BalanceOut     splitResponse `json:"balance_out"`
}

func newSplit(s ledger.Split) splitResponse {
	return splitResponse{Local: s.Local.StringFixed(8), Foreign: s.Foreign.StringFixed(8), Total: s.Total.StringFixed(8)}
}

func (h *Handler) listReport(w http.ResponseWriter, r *http.Request) {
	if h.deps.Report == nil {
		httpx.Problem(w, http.StatusNotImplemented, "Not Configured", "report service not configured")
		return
	}
	from, err := parseDateParam(r.URL.Query().Get("from"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	to, err := parseDateParam(r.URL.Query().Get("to"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if from.After(to) {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, shared.ErrInvalidRange))
		return
	}
	key := shared.FormatDate(from) + ".." + shared.FormatDate(to)
	val, err, _ := singleflightRows(r.Context(), key, func(ctx context.Context) (any, error) {
		rows, err := h.deps.Report.Rows(ctx, from, to)
		if err != nil {
			return nil, err
		}
		out := make([]reportRowResponse, 0, len(rows))
		for _, row := range rows {
			out = append(out, reportRowResponse{
				FromDate:       shared.FormatDate(row.FromDate),
				ToDate:         shared.FormatDate(row.ToDate),
				Chapter:        row.Chapter,
				LedgerAccount:  row.LedgerAccount,
				Characteristic: string(row.Characteristic),
				BalanceIn:      newSplit(row.BalanceIn),
				TurnDebit:      newSplit(row.TurnDebit),
				TurnCredit:     newSplit(row.TurnCredit),
				BalanceOut:     newSplit(row.BalanceOut),
			})
		}
		return out, nil
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, val)
}

type runResponse struct {
	ID         int64      `json:"id"`
	Unit       string     `json:"unit"`
	Status     string     `json:"status"`
	Rows       int64      `json:"rows"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Message    string     `json:"message,omitempty"`
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	if h.deps.Runs == nil {
		httpx.Problem(w, http.StatusNotImplemented, "Not Configured", "run ledger not configured")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			httpx.RespondError(w, fmt.Errorf("%w: limit must be between 1 and 500", httpx.ErrValidation))
			return
		}
		limit = n
	}
	entries, err := h.deps.Runs.Recent(r.Context(), limit)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]runResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, runResponse{ID: e.ID, Unit: e.Unit, Status: string(e.Status), Rows: e.Rows, StartedAt: e.StartedAt, FinishedAt: e.FinishedAt, Message: e.Message})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func parseDateParam(raw string) (time.Time, error) {
	day, err := shared.ParseDate(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	return day, nil
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var compErr *ledger.ComputationError
	switch {
	case errors.Is(err, lock.ErrBusy):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrConflict, err))
	case ledger.IsConnectivity(err):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUnavailable, err))
	case errors.Is(err, shared.ErrInvalidRange):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
	case errors.As(err, &compErr):
		httpx.Problem(w, http.StatusInternalServerError, "Computation Failed", compErr.Error())
	default:
		httpx.RespondError(w, err)
	}
}
