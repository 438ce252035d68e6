package callstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"phonescreen-console/internal/calls"
	"phonescreen-console/pkg/utils"

	"github.com/redis/go-redis/v9"
)

const defaultRedisRetries = 8

// RedisStore keeps the whole collection as one JSON array under a single key.
// Writes use WATCH/MULTI so concurrent merges retry on the fresh value
// instead of overwriting each other.
type RedisStore struct {
	rdb        *redis.Client
	key        string
	maxRetries int
	clock      func() time.Time
}

func NewRedisStore(rdb *redis.Client, key string) *RedisStore {
	if key == "" {
		key = "calls"
	}
	return &RedisStore{rdb: rdb, key: key, maxRetries: defaultRedisRetries, clock: time.Now}
}

func (s *RedisStore) GetAll(ctx context.Context) ([]calls.Call, error) {
	return s.load(ctx, s.rdb)
}

func (s *RedisStore) FindByID(ctx context.Context, id string) (calls.Call, error) {
	list, err := s.load(ctx, s.rdb)
	if err != nil {
		return calls.Call{}, err
	}
	i := indexOf(list, id)
	if i < 0 {
		return calls.Call{}, fmt.Errorf("%w: %s", calls.ErrNotFound, id)
	}
	return list[i], nil
}

func (s *RedisStore) UpsertMerge(ctx context.Context, id string, p calls.Patch) (calls.Call, error) {
	var merged calls.Call
	err := s.mutate(ctx, func(list []calls.Call) ([]calls.Call, error) {
		i := indexOf(list, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", calls.ErrNotFound, id)
		}
		merged = list[i].Apply(p)
		merged.UpdatedAt = s.clock().UTC()
		list[i] = merged
		return list, nil
	})
	if err != nil {
		return calls.Call{}, err
	}
	return merged, nil
}

func (s *RedisStore) Replace(ctx context.Context, c calls.Call) error {
	if c.ID == "" {
		return fmt.Errorf("%w: call id required", calls.ErrValidation)
	}
	c.UpdatedAt = s.clock().UTC()
	return s.mutate(ctx, func(list []calls.Call) ([]calls.Call, error) {
		for i := range list {
			if list[i].ID == c.ID {
				list[i] = c
				return list, nil
			}
		}
		return append(list, c), nil
	})
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", s.key, err)
	}
	return nil
}

// getter is the slice of redis.Cmdable that both the client and a WATCH tx offer.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, c getter) ([]calls.Call, error) {
	data, err := c.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return []calls.Call{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	var list []calls.Call
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.key, err)
	}
	return list, nil
}

func (s *RedisStore) mutate(ctx context.Context, fn func([]calls.Call) ([]calls.Call, error)) error {
	return utils.WithWatch(ctx, s.rdb, s.maxRetries, func(tx *redis.Tx) error {
		list, err := s.load(ctx, tx)
		if err != nil {
			return err
		}
		next, err := fn(list)
		if err != nil {
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode %s: %w", s.key, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key, data, 0)
			return nil
		})
		return err
	}, s.key)
}
