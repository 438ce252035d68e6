package callstore

import (
	"context"
	"log/slog"
	"time"

	"phonescreen-console/internal/calls"
	"phonescreen-console/internal/events"
	"phonescreen-console/internal/metrics"
)

// Notifying wraps a Store and publishes a change event after every
// successful write. Publishing is best effort: a failed publish is logged
// and never fails the write.
type Notifying struct {
	Store
	pub     events.Publisher
	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   func() time.Time
}

// NewNotifying decorates inner. m may be nil.
func NewNotifying(inner Store, pub events.Publisher, logger *slog.Logger, m *metrics.Metrics) *Notifying {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifying{
		Store:   inner,
		pub:     pub,
		logger:  logger.With("component", "callstore"),
		metrics: m,
		clock:   time.Now,
	}
}

func (n *Notifying) UpsertMerge(ctx context.Context, id string, p calls.Patch) (calls.Call, error) {
	c, err := n.Store.UpsertMerge(ctx, id, p)
	n.observe(events.OpMerge, err)
	if err != nil {
		return calls.Call{}, err
	}
	n.publish(ctx, events.OpMerge, c.ID)
	return c, nil
}

func (n *Notifying) Replace(ctx context.Context, c calls.Call) error {
	err := n.Store.Replace(ctx, c)
	n.observe(events.OpReplace, err)
	if err != nil {
		return err
	}
	n.publish(ctx, events.OpReplace, c.ID)
	return nil
}

func (n *Notifying) Clear(ctx context.Context) error {
	err := n.Store.Clear(ctx)
	n.observe(events.OpClear, err)
	if err != nil {
		return err
	}
	n.publish(ctx, events.OpClear, "")
	return nil
}

func (n *Notifying) publish(ctx context.Context, op events.Op, callID string) {
	if n.pub == nil {
		return
	}
	ev := events.Event{Topic: events.TopicCallsUpdated, CallID: callID, Op: op, At: n.clock().UTC()}
	if err := n.pub.Publish(context.WithoutCancel(ctx), ev); err != nil {
		n.logger.Warn("publish change event failed", "op", op, "call_id", callID, "err", err)
	}
}

func (n *Notifying) observe(op events.Op, err error) {
	if n.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		n.metrics.Errors.WithLabelValues("callstore").Inc()
	}
	n.metrics.StoreWrites.WithLabelValues(string(op), status).Inc()
}
