package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBus publishes change events on a redis channel so views served by other
// processes sharing the same store see them too.
type RedisBus struct {
	rdb     *redis.Client
	channel string
	logger  *slog.Logger
}

func NewRedisBus(rdb *redis.Client, channel string, logger *slog.Logger) *RedisBus {
	if channel == "" {
		channel = TopicCallsUpdated
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBus{rdb: rdb, channel: channel, logger: logger.With("component", "events_redis")}
}

func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	if ev.Topic == "" {
		ev.Topic = TopicCallsUpdated
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("events: publish %s: %w", b.channel, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := context.WithCancel(ctx)
	ps := b.rdb.Subscribe(ctx, b.channel)
	// Wait for the subscription confirmation so events published right
	// after Subscribe returns are not missed.
	if _, err := ps.Receive(ctx); err != nil {
		b.logger.Warn("subscribe not confirmed", "channel", b.channel, "err", err)
	}
	out := make(chan Event, 16)

	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					b.logger.Warn("dropping malformed event", "err", err)
					continue
				}
				select {
				case out <- ev:
				default:
				}
			}
		}
	}()

	var once sync.Once
	return out, func() { once.Do(stop) }
}
