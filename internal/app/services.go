package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/ledgermart/internal/balance"
	"github.com/odyssey-erp/ledgermart/internal/ledger"
	"github.com/odyssey-erp/ledgermart/internal/period"
	"github.com/odyssey-erp/ledgermart/internal/platform/lock"
	"github.com/odyssey-erp/ledgermart/internal/regulatory"
	"github.com/odyssey-erp/ledgermart/internal/runlog"
	"github.com/odyssey-erp/ledgermart/internal/turnover"
)

// Services bundles the ledger computations shared by the server, the worker
// and the command line.
type Services struct {
	Store    *ledger.Repository
	Runs     *runlog.Repository
	Locker   *lock.Locker
	Turnover *turnover.Service
	Balance  *balance.Service
	Period   *period.Driver
	Report   *regulatory.Service
}

// NewServices wires the computations over Postgres. A nil Redis client leaves
// runs unguarded.
func NewServices(cfg *Config, pool *pgxpool.Pool, rdb redis.UniversalClient, logger *slog.Logger) (*Services, error) {
	policy, err := period.ParsePolicy(cfg.LedgerFailurePolicy)
	if err != nil {
		return nil, err
	}

	store := ledger.NewRepository(pool)
	runRepo := runlog.NewRepository(pool)
	runs := runlog.WithLogger(runRepo, logger)

	turnoverService := turnover.NewService(store, runs, logger)
	balanceService := balance.NewService(store, runs, logger)
	driver := period.NewDriver(store, turnoverService, balanceService, runs, logger)
	driver.WithPolicy(policy)
	report := regulatory.NewService(store, runs, regulatory.Settings{
		LocalCurrencies: cfg.LedgerLocalCurrencies,
		PrefixLen:       cfg.LedgerPrefixLen,
	}, logger)

	services := &Services{
		Store:    store,
		Runs:     runRepo,
		Turnover: turnoverService,
		Balance:  balanceService,
		Period:   driver,
		Report:   report,
	}
	if rdb != nil {
		services.Locker = lock.New(rdb, cfg.LedgerLockTTL, logger)
		driver.WithGuard(services.Locker)
		report.WithGuard(services.Locker)
	}
	return services, nil
}
