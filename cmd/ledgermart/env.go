package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/ledgermart/internal/app"
	"github.com/odyssey-erp/ledgermart/internal/platform/cache"
	"github.com/odyssey-erp/ledgermart/internal/platform/db"
)

// cmdEnv holds the connections opened for one command.
type cmdEnv struct {
	cfg      *app.Config
	logger   *slog.Logger
	pool     *pgxpool.Pool
	redis    *redis.Client
	services *app.Services
}

// open loads configuration and connects to Postgres and, when reachable, Redis.
// Without Redis the ledger runs unguarded.
func open(ctx context.Context) (*cmdEnv, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	rt := &cmdEnv{cfg: cfg, logger: logger, pool: pool}
	var rdb redis.UniversalClient
	if client, err := cache.New(ctx, cfg.RedisAddr); err != nil {
		logger.Warn("redis unavailable, runs are not locked", slog.Any("error", err))
	} else {
		rt.redis = client
		rdb = client
	}

	rt.services, err = app.NewServices(cfg, pool, rdb, logger)
	if err != nil {
		rt.close()
		return nil, err
	}
	return rt, nil
}

func (rt *cmdEnv) close() {
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			rt.logger.Warn("redis close", slog.Any("error", err))
		}
	}
	rt.pool.Close()
}
