package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrTxContention is returned by WithWatch when every attempt lost the race
// on one of the watched keys.
var ErrTxContention = errors.New("redis: optimistic transaction contention")

// RedisConfig is the client side of the call store and the change-event
// channel. Zero values fall back to the defaults below.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PingTimeout  time.Duration

	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	setDuration(&out.DialTimeout, 3*time.Second)
	setDuration(&out.ReadTimeout, 2*time.Second)
	setDuration(&out.WriteTimeout, 2*time.Second)
	setDuration(&out.PingTimeout, 2*time.Second)
	setDuration(&out.PoolTimeout, 4*time.Second)
	setDuration(&out.ConnMaxIdleTime, 5*time.Minute)
	setDuration(&out.ConnMaxLifetime, 30*time.Minute)
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	if out.MinIdleConns < 0 {
		out.MinIdleConns = 0
	}
	return out
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

func (c RedisConfig) options() *redis.Options {
	return &redis.Options{
		Addr:            c.Addr,
		Password:        c.Password,
		DB:              c.DB,
		DialTimeout:     c.DialTimeout,
		ReadTimeout:     c.ReadTimeout,
		WriteTimeout:    c.WriteTimeout,
		PoolSize:        c.PoolSize,
		MinIdleConns:    c.MinIdleConns,
		PoolTimeout:     c.PoolTimeout,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
		ConnMaxLifetime: c.ConnMaxLifetime,
	}
}

// RedisConfigFromURL reads addr, password and db from a redis:// URL.
// Timeouts and pool sizes keep their defaults.
func RedisConfigFromURL(raw string) (RedisConfig, error) {
	opt, err := redis.ParseURL(raw)
	if err != nil {
		return RedisConfig{}, fmt.Errorf("parse redis url: %w", err)
	}
	return RedisConfig{Addr: opt.Addr, Password: opt.Password, DB: opt.DB}, nil
}

// OpenRedis builds a client and verifies it with PING before returning it.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(cfg.options())

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// WatchFunc reads through tx and queues its writes with tx.TxPipelined.
type WatchFunc func(tx *redis.Tx) error

// WithWatch runs fn under WATCH on keys and retries from scratch when a
// watched key changed before EXEC. Errors from fn are returned as-is.
func WithWatch(ctx context.Context, rdb *redis.Client, attempts int, fn WatchFunc, keys ...string) error {
	if rdb == nil {
		return fmt.Errorf("redis client is nil")
	}
	if len(keys) == 0 {
		return fmt.Errorf("at least one watched key is required")
	}
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		err := rdb.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: %v after %d attempts", ErrTxContention, keys, attempts)
}
