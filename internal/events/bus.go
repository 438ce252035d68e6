package events

import (
	"context"
	"sync"
	"time"
)

// Topic for every write to the call store.
const TopicCallsUpdated = "calls-updated"

// Op names the store operation that produced an event.
type Op string

const (
	OpReplace Op = "replace"
	OpMerge   Op = "merge"
	OpClear   Op = "clear"
)

// Event tells subscribers that the call collection changed. Subscribers are
// expected to re-read the store; the event carries no call state.
type Event struct {
	Topic  string    `json:"topic"`
	CallID string    `json:"call_id,omitempty"`
	Op     Op        `json:"op"`
	At     time.Time `json:"at"`
}

// Publisher fans a change event out to every open view.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Subscriber hands out a channel of change events. The returned cancel func
// releases the subscription and closes the channel.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan Event, func())
}

// Broker is both sides of the pub/sub.
type Broker interface {
	Publisher
	Subscriber
}

// Bus is an in-process broker. Slow subscribers miss events rather than block
// publishers; every event means "re-read", so a dropped one is recovered by the next.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewBus() *Bus { return &Bus{subs: map[chan Event]struct{}{}} }

func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, func()) {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return ch, cancel
}

func (b *Bus) Publish(_ context.Context, ev Event) error {
	if ev.Topic == "" {
		ev.Topic = TopicCallsUpdated
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}
