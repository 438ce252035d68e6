package main

import (
	"context"
	"fmt"
	"time"

	"phonescreen-console/internal/callstore"
	"phonescreen-console/internal/config"
	"phonescreen-console/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"
)

type healthCheck = func(ctx context.Context) error

// openStore builds the configured call store backend. The returned checks
// feed /healthz and the returned func releases the backend.
func openStore(ctx context.Context, cfg config.Config, rdb *redis.Client) (callstore.Store, map[string]healthCheck, func(), error) {
	checks := map[string]healthCheck{}
	noop := func() {}

	switch cfg.Store.Backend {
	case "memory":
		return callstore.NewMemoryStore(), checks, noop, nil

	case "sqlite", "postgres":
		driver, dsn, dialect := "sqlite", utils.SQLiteDSN(cfg.Store.SQLitePath), callstore.DialectSQLite
		pool := utils.SQLPoolConfig{MaxOpenConns: 1}
		if cfg.Store.Backend == "postgres" {
			driver, dsn, dialect = "pgx", cfg.PostgresDSN(), callstore.DialectPostgres
			pool = utils.SQLPoolConfig{}
		}
		db, err := utils.OpenSQL(ctx, driver, dsn, pool)
		if err != nil {
			return nil, nil, noop, err
		}
		store := callstore.NewSQLStore(db, dialect)
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, noop, fmt.Errorf("migrate: %w", err)
		}
		checks[cfg.Store.Backend] = func(ctx context.Context) error {
			return utils.HealthCheck(ctx, db, 2*time.Second)
		}
		return store, checks, func() { _ = db.Close() }, nil

	case "redis":
		if rdb == nil {
			return nil, nil, noop, fmt.Errorf("redis store requires a redis client")
		}
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		return callstore.NewRedisStore(rdb, cfg.Store.CallsKey), checks, noop, nil

	default:
		return nil, nil, noop, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
