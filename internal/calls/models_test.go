package calls

import (
	"testing"
	"time"
)

func TestCallStatusValuesAreNonEmpty(t *testing.T) {
	statuses := []CallStatus{
		CallStatusInitiated,
		CallStatusRinging,
		CallStatusInProgress,
		CallStatusCompleted,
		CallStatusFailed,
	}
	for _, s := range statuses {
		if s == "" {
			t.Fatalf("expected non-empty status")
		}
	}
}

func TestCanTransition_ForwardOnly(t *testing.T) {
	cases := []struct {
		from, to CallStatus
		want     bool
	}{
		{CallStatusInitiated, CallStatusRinging, true},
		{CallStatusRinging, CallStatusInProgress, true},
		{CallStatusInitiated, CallStatusCompleted, true},
		{CallStatusInProgress, CallStatusFailed, true},
		{CallStatusInProgress, CallStatusRinging, false},
		{CallStatusRinging, CallStatusRinging, false},
		{CallStatusCompleted, CallStatusFailed, false},
		{CallStatusFailed, CallStatusCompleted, false},
		{CallStatusCompleted, CallStatusInProgress, false},
		{CallStatusInitiated, CallStatus("bogus"), false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestParseStatus(t *testing.T) {
	if s, ok := ParseStatus("queued"); !ok || s != CallStatusInitiated {
		t.Fatalf("queued: got %q %v", s, ok)
	}
	if s, ok := ParseStatus("ended"); !ok || s != CallStatusCompleted {
		t.Fatalf("ended: got %q %v", s, ok)
	}
	if s, ok := ParseStatus("In-Progress"); !ok || s != CallStatusInProgress {
		t.Fatalf("in-progress: got %q %v", s, ok)
	}
	if _, ok := ParseStatus("something-new"); ok {
		t.Fatalf("expected unknown status to report ok=false")
	}
}

func TestCall_MatchesEitherID(t *testing.T) {
	c := Call{ID: "local-1", VapiCallID: "vapi-1"}
	if !c.Matches("local-1") || !c.Matches("vapi-1") {
		t.Fatalf("expected both ids to match")
	}
	if c.Matches("") || c.Matches("other") {
		t.Fatalf("unexpected match")
	}
	if (Call{ID: "x"}).Matches("") {
		t.Fatalf("empty provider id must not match empty input")
	}
}

func TestApply_OnlyTouchesPresentFields(t *testing.T) {
	ended := time.Unix(1700000100, 0).UTC()
	base := Call{
		ID:             "c1",
		VapiCallID:     "v1",
		PhoneNumber:    "+15551234567",
		RecipientName:  "Ada",
		Status:         CallStatusCompleted,
		StartedAt:      time.Unix(1700000000, 0).UTC(),
		EndedAt:        &ended,
		Duration:       42,
		DurationSource: DurationSourceLocal,
		Transcript:     Ptr("agent: hi"),
		Summary:        Ptr("old summary"),
		Cost:           Ptr(0.12),
	}

	got := base.Apply(Patch{Summary: Ptr("new summary")})

	if got.Summary == nil || *got.Summary != "new summary" {
		t.Fatalf("expected summary replaced, got %v", got.Summary)
	}
	if got.Transcript == nil || *got.Transcript != "agent: hi" {
		t.Fatalf("transcript must be retained")
	}
	if got.Cost == nil || *got.Cost != 0.12 {
		t.Fatalf("cost must be retained")
	}
	if got.Duration != 42 || got.Status != CallStatusCompleted || got.EndedAt == nil {
		t.Fatalf("unexpected fields changed: %+v", got)
	}
	if *base.Summary != "old summary" {
		t.Fatalf("apply must not mutate the receiver")
	}
}

func TestApply_IgnoresBackwardStatus(t *testing.T) {
	c := Call{Status: CallStatusInProgress}
	got := c.Apply(Patch{Status: Ptr(CallStatusRinging), Cost: Ptr(1.5)})
	if got.Status != CallStatusInProgress {
		t.Fatalf("expected status to stay in-progress, got %s", got.Status)
	}
	if got.Cost == nil || *got.Cost != 1.5 {
		t.Fatalf("rest of the patch must still apply")
	}
}

func TestApply_TranscriptRequiresCompleted(t *testing.T) {
	c := Call{Status: CallStatusInProgress}
	got := c.Apply(Patch{Transcript: Ptr("too early")})
	if got.Transcript != nil {
		t.Fatalf("transcript must not be stored on a non-completed call")
	}

	got = c.Apply(Patch{Status: Ptr(CallStatusCompleted), Transcript: Ptr("done")})
	if got.Transcript == nil || *got.Transcript != "done" {
		t.Fatalf("transcript should be stored together with completion")
	}
}

func TestApply_ProviderDurationWins(t *testing.T) {
	c := Call{Status: CallStatusCompleted, Duration: 10, DurationSource: DurationSourceLocal}

	c = c.Apply(Patch{Duration: Ptr(95), DurationSource: DurationSourceProvider})
	if c.Duration != 95 || c.DurationSource != DurationSourceProvider {
		t.Fatalf("expected provider duration, got %d (%s)", c.Duration, c.DurationSource)
	}

	c = c.Apply(Patch{Duration: Ptr(12)})
	if c.Duration != 95 {
		t.Fatalf("local duration must not override provider value, got %d", c.Duration)
	}

	c = c.Apply(Patch{Duration: Ptr(97), DurationSource: DurationSourceProvider})
	if c.Duration != 97 {
		t.Fatalf("later provider duration should apply, got %d", c.Duration)
	}
}

func TestPatch_IsEmpty(t *testing.T) {
	if !(Patch{}).IsEmpty() {
		t.Fatalf("zero patch should be empty")
	}
	if (Patch{Cost: Ptr(0.0)}).IsEmpty() {
		t.Fatalf("patch with cost should not be empty")
	}
}
