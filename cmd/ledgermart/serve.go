package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/subcommands"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/ledgermart/internal/app"
	ledgerhttp "github.com/odyssey-erp/ledgermart/internal/ledger/http"
	"github.com/odyssey-erp/ledgermart/internal/observability"
	"github.com/odyssey-erp/ledgermart/jobs"
)

type serveCmd struct {
	addr string
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "run the ledger HTTP API" }
func (*serveCmd) Usage() string {
	return `ledgermart serve [-addr :8080]

  Serves /ledger, /jobs, /healthz and /metrics until interrupted.
`
}

func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.addr, "addr", "", "Listen address, overrides APP_ADDR.")
}

func (c *serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return subcommands.ExitSuccess
	}

	env, err := open(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer env.close()
	cfg, logger, s := env.cfg, env.logger, env.services

	addr := cfg.AppAddr
	if c.addr != "" {
		addr = c.addr
	}

	metrics := observability.NewMetrics()

	deps := ledgerhttp.Deps{
		Turnover: s.Turnover,
		Balance:  s.Balance,
		Period:   s.Period,
		Report:   s.Report,
		Runs:     s.Runs,
	}
	if s.Locker != nil {
		deps.Guard = s.Locker
	}
	ledgerHandler := ledgerhttp.NewHandler(deps, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		LedgerHandler: ledgerHandler,
		JobHandler:    jobHandler,
		Metrics:       metrics,
		Database:      env.pool,
	})

	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		logger.Info("starting http server", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
