package reporting

import (
	"context"
	"log/slog"
	"sync"

	"phonescreen-console/internal/events"
)

// StatsView keeps the dashboard statistics current by recomputing them on
// every store change event.
type StatsView struct {
	svc    *Service
	sub    events.Subscriber
	logger *slog.Logger

	mu      sync.RWMutex
	current CallsSummary
	ready   bool
	updates chan struct{}
}

func NewStatsView(svc *Service, sub events.Subscriber, logger *slog.Logger) *StatsView {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsView{
		svc:     svc,
		sub:     sub,
		logger:  logger.With("component", "stats_view"),
		updates: make(chan struct{}, 1),
	}
}

// Run subscribes and recomputes until ctx is done.
func (v *StatsView) Run(ctx context.Context) {
	ch, cancel := v.sub.Subscribe(ctx)
	defer cancel()

	v.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Topic != events.TopicCallsUpdated {
				continue
			}
			v.refresh(ctx)
		}
	}
}

// Current returns the last computed statistics, computing them on first use.
func (v *StatsView) Current(ctx context.Context) (CallsSummary, error) {
	v.mu.RLock()
	cur, ready := v.current, v.ready
	v.mu.RUnlock()
	if ready {
		return cur, nil
	}
	out, err := v.svc.CallsSummary(ctx, TimeRange{})
	if err != nil {
		return CallsSummary{}, err
	}
	v.set(out)
	return out, nil
}

// Updates signals after each recompute. Used by tests and long-poll handlers.
func (v *StatsView) Updates() <-chan struct{} { return v.updates }

func (v *StatsView) refresh(ctx context.Context) {
	out, err := v.svc.CallsSummary(ctx, TimeRange{})
	if err != nil {
		v.logger.Warn("stats recompute failed", "err", err)
		return
	}
	v.set(out)
}

func (v *StatsView) set(out CallsSummary) {
	v.mu.Lock()
	v.current = out
	v.ready = true
	v.mu.Unlock()
	select {
	case v.updates <- struct{}{}:
	default:
	}
}
