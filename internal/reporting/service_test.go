package reporting

import (
	"context"
	"testing"
	"time"

	"phonescreen-console/internal/calls"
	"phonescreen-console/internal/callstore"
	"phonescreen-console/internal/events"
)

func seed(t *testing.T, s callstore.Store, cs ...calls.Call) {
	t.Helper()
	for _, c := range cs {
		if err := s.Replace(context.Background(), c); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestReporting_CallsSummaryAggregates(t *testing.T) {
	store := callstore.NewMemoryStore()
	now := time.Unix(1700000000, 0).UTC()
	seed(t, store,
		calls.Call{ID: "c1", PhoneNumber: "+1555", Status: calls.CallStatusCompleted, Duration: 30, StartedAt: now, Transcript: calls.Ptr("a: hi"), Summary: calls.Ptr("ok"), Cost: calls.Ptr(0.25)},
		calls.Call{ID: "c2", PhoneNumber: "+1555", Status: calls.CallStatusCompleted, Duration: 50, StartedAt: now, Cost: calls.Ptr(0.5)},
		calls.Call{ID: "c3", PhoneNumber: "+1666", Status: calls.CallStatusFailed, Duration: 10, StartedAt: now},
		calls.Call{ID: "c4", PhoneNumber: "+1777", Status: calls.CallStatusRinging, StartedAt: now},
	)
	svc := NewService(store)

	out, err := svc.CallsSummary(context.Background(), TimeRange{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 4 || out.Candidates != 3 {
		t.Fatalf("expected 4 calls from 3 candidates, got %d/%d", out.TotalCalls, out.Candidates)
	}
	if out.CompletedCalls != 2 || out.FailedCalls != 1 || out.InProgressCalls != 1 {
		t.Fatalf("unexpected status counts %+v", out)
	}
	if out.TranscribedCalls != 1 || out.SummarizedCalls != 1 {
		t.Fatalf("unexpected artifact counts %+v", out)
	}
	if out.TotalDurationSeconds != 90 || out.AverageDurationSeconds != 30 {
		t.Fatalf("unexpected durations %+v", out)
	}
	if out.TotalCost != 0.75 {
		t.Fatalf("expected cost 0.75, got %v", out.TotalCost)
	}
}

func TestReporting_TimeRange(t *testing.T) {
	store := callstore.NewMemoryStore()
	now := time.Unix(1700000000, 0).UTC()
	seed(t, store,
		calls.Call{ID: "old", PhoneNumber: "+1", Status: calls.CallStatusCompleted, StartedAt: now.Add(-48 * time.Hour)},
		calls.Call{ID: "new", PhoneNumber: "+2", Status: calls.CallStatusCompleted, StartedAt: now},
	)
	svc := NewService(store)

	out, err := svc.CallsSummary(context.Background(), TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 1 {
		t.Fatalf("expected 1 call, got %d", out.TotalCalls)
	}

	if _, err := svc.CallsSummary(context.Background(), TimeRange{From: now, To: now}); err != ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestStatsView_RecomputesOnChange(t *testing.T) {
	bus := events.NewBus()
	store := callstore.NewNotifying(callstore.NewMemoryStore(), bus, nil, nil)
	view := NewStatsView(NewService(store), bus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go view.Run(ctx)

	waitUpdate := func() {
		t.Helper()
		select {
		case <-view.Updates():
		case <-time.After(time.Second):
			t.Fatalf("expected stats update")
		}
	}
	waitUpdate() // initial compute

	seed(t, store, calls.Call{ID: "c1", PhoneNumber: "+1", Status: calls.CallStatusInProgress, StartedAt: time.Now()})
	waitUpdate()
	if _, err := store.UpsertMerge(ctx, "c1", calls.Patch{Status: calls.Ptr(calls.CallStatusCompleted)}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	waitUpdate()

	cur, err := view.Current(ctx)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if cur.CompletedCalls != 1 || cur.Candidates != 1 {
		t.Fatalf("unexpected stats %+v", cur)
	}
}
