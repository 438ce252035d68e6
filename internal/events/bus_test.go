package events

import (
	"context"
	"testing"
	"time"
)

func TestBus_DeliversToAllSubscribers(t *testing.T) {
	b := NewBus()
	a, cancelA := b.Subscribe(context.Background())
	defer cancelA()
	c, cancelC := b.Subscribe(context.Background())
	defer cancelC()

	if err := b.Publish(context.Background(), Event{CallID: "c1", Op: OpMerge}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for _, ch := range []<-chan Event{a, c} {
		select {
		case ev := <-ch:
			if ev.CallID != "c1" || ev.Topic != TopicCallsUpdated {
				t.Fatalf("unexpected event %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("expected event")
		}
	}
}

func TestBus_CancelClosesChannel(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(context.Background())
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	if err := b.Publish(context.Background(), Event{Op: OpClear}); err != nil {
		t.Fatalf("publish after cancel: %v", err)
	}
}

func TestBus_ContextCancelUnsubscribes(t *testing.T) {
	b := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatalf("subscription not released")
	}
}

func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBus()
	_, cancel := b.Subscribe(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			_ = b.Publish(context.Background(), Event{Op: OpMerge})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}
}
