package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisConfigDefaults(t *testing.T) {
	c := RedisConfig{Addr: "localhost:6379", ReadTimeout: 5 * time.Second}.withDefaults()
	if c.PoolSize != 20 || c.DialTimeout != 3*time.Second || c.PingTimeout != 2*time.Second {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.ReadTimeout != 5*time.Second {
		t.Fatalf("explicit timeout overwritten: %v", c.ReadTimeout)
	}
}

func TestOpenRedisRequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}

func TestRedisConfigFromURL(t *testing.T) {
	c, err := RedisConfigFromURL("redis://:secret@cache.internal:6380/2")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Addr != "cache.internal:6380" || c.Password != "secret" || c.DB != 2 {
		t.Fatalf("unexpected config: %+v", c)
	}
	if _, err := RedisConfigFromURL("http://nope"); err == nil {
		t.Fatalf("expected error for non-redis scheme")
	}
}

func TestWithWatchValidatesArguments(t *testing.T) {
	noop := func(tx *redis.Tx) error { return nil }
	if err := WithWatch(context.Background(), nil, 3, noop, "calls"); err == nil {
		t.Fatalf("expected error for nil client")
	}
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()
	if err := WithWatch(context.Background(), rdb, 3, noop); err == nil {
		t.Fatalf("expected error without keys")
	}
}

func TestWithWatchRetriesAfterConflict(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb, err := OpenRedis(ctx, RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rdb.Close()

	attempts := 0
	err = WithWatch(ctx, rdb, 3, func(tx *redis.Tx) error {
		attempts++
		if attempts == 1 {
			// another writer lands between WATCH and EXEC
			if err := rdb.Set(ctx, "counter", "other", 0).Err(); err != nil {
				return err
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, "counter", "mine", 0)
			return nil
		})
		return err
	}, "counter")
	if err != nil {
		t.Fatalf("with watch: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
	if got, _ := mr.Get("counter"); got != "mine" {
		t.Fatalf("expected retried write to win, got %q", got)
	}
}

func TestWithWatchReportsContention(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb, err := OpenRedis(ctx, RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rdb.Close()

	attempts := 0
	err = WithWatch(ctx, rdb, 2, func(tx *redis.Tx) error {
		attempts++
		if err := rdb.Incr(ctx, "counter").Err(); err != nil {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, "counter", "0", 0)
			return nil
		})
		return err
	}, "counter")
	if !errors.Is(err, ErrTxContention) {
		t.Fatalf("expected ErrTxContention, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}
