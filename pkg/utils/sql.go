package utils

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// SQLPoolConfig tunes the database/sql pool under the call store.
// SQLite deployments should set MaxOpenConns to 1; the file allows one writer.
type SQLPoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

func (c SQLPoolConfig) withDefaults() SQLPoolConfig {
	out := c
	if out.MaxOpenConns <= 0 {
		out.MaxOpenConns = 25
	}
	if out.MaxIdleConns <= 0 {
		out.MaxIdleConns = out.MaxOpenConns
	}
	setDuration(&out.ConnMaxLifetime, 30*time.Minute)
	setDuration(&out.ConnMaxIdleTime, 5*time.Minute)
	setDuration(&out.PingTimeout, 5*time.Second)
	return out
}

// OpenSQL opens and pings a pooled handle. driverName is "pgx" (pgx stdlib)
// or "sqlite" (modernc); the caller blank-imports the driver.
// Never log dsn, it carries the password.
func OpenSQL(ctx context.Context, driverName, dsn string, pool SQLPoolConfig) (*sqlx.DB, error) {
	pool = pool.withDefaults()

	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driverName, err)
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	if err := HealthCheck(ctx, db, pool.PingTimeout); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// SQLiteDSN turns a file path into a modernc sqlite DSN with busy timeout and WAL.
func SQLiteDSN(path string) string {
	dsn := strings.TrimSpace(path)
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout=10000&_pragma=journal_mode=WAL"
}

// HealthCheck pings db, giving up after timeout.
func HealthCheck(ctx context.Context, db *sqlx.DB, timeout time.Duration) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("sql ping: %w", err)
	}
	return nil
}

// TxFunc is one unit of work against an open transaction.
type TxFunc func(ctx context.Context, tx *sqlx.Tx) error

// WithTx commits when fn returns nil and rolls back otherwise. A panic in fn
// rolls back and keeps unwinding.
func WithTx(ctx context.Context, db *sqlx.DB, fn TxFunc) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("commit tx: %w", cerr)
		}
	}()
	return fn(ctx, tx)
}
