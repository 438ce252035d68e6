package calls

import (
	"strings"
	"time"
)

// Call is one outbound phone-screen session and everything learned about it.
//
// ID is assigned locally at creation. VapiCallID is the provider's identifier
// returned by the gateway and may be empty when the provider answered without one.
//
// Invariant: Transcript is only ever populated while Status is completed.
type Call struct {
	ID         string `json:"id"`
	VapiCallID string `json:"vapiCallId,omitempty"`

	PhoneNumber   string `json:"phoneNumber"`
	RecipientName string `json:"recipientName"`

	Status CallStatus `json:"status"`

	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`

	// Duration is in seconds. DurationSource tells whether it came from the
	// local clock or from the provider; the provider value wins once present.
	Duration       int            `json:"duration"`
	DurationSource DurationSource `json:"durationSource,omitempty"`

	Transcript *string  `json:"transcript,omitempty"`
	Summary    *string  `json:"summary,omitempty"`
	Cost       *float64 `json:"cost,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

type CallStatus string

const (
	CallStatusInitiated  CallStatus = "initiated"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in-progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
)

type DurationSource string

const (
	DurationSourceLocal    DurationSource = "local"
	DurationSourceProvider DurationSource = "provider"
)

// ParseStatus maps provider status strings onto the console's status set.
// Unknown values map to initiated with ok=false.
func ParseStatus(s string) (CallStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "initiated", "queued", "scheduled":
		return CallStatusInitiated, true
	case "ringing":
		return CallStatusRinging, true
	case "in-progress", "in_progress", "inprogress", "forwarding":
		return CallStatusInProgress, true
	case "completed", "ended":
		return CallStatusCompleted, true
	case "failed", "busy", "no-answer", "no_answer", "canceled", "cancelled":
		return CallStatusFailed, true
	default:
		return CallStatusInitiated, false
	}
}

func (s CallStatus) rank() int {
	switch s {
	case CallStatusInitiated:
		return 0
	case CallStatusRinging:
		return 1
	case CallStatusInProgress:
		return 2
	case CallStatusCompleted, CallStatusFailed:
		return 3
	default:
		return -1
	}
}

// IsTerminal reports whether no further status transition is possible.
func (s CallStatus) IsTerminal() bool {
	return s == CallStatusCompleted || s == CallStatusFailed
}

// IsLive reports whether the local duration clock should be running.
func (s CallStatus) IsLive() bool {
	switch s {
	case CallStatusInitiated, CallStatusRinging, CallStatusInProgress:
		return true
	default:
		return false
	}
}

// CanTransition enforces forward-only status movement.
func CanTransition(from, to CallStatus) bool {
	if to.rank() < 0 {
		return false
	}
	if from.rank() < 0 {
		return true
	}
	if from.IsTerminal() {
		return false
	}
	return to.rank() > from.rank()
}

// ProviderID is the identifier to use when talking to the voice provider.
func (c Call) ProviderID() string {
	return c.VapiCallID
}

// HasTranscript reports whether a non-blank transcript is stored.
func (c Call) HasTranscript() bool {
	return c.Transcript != nil && strings.TrimSpace(*c.Transcript) != ""
}

// Matches reports whether id addresses this call by local or provider id.
func (c Call) Matches(id string) bool {
	if id == "" {
		return false
	}
	return c.ID == id || (c.VapiCallID != "" && c.VapiCallID == id)
}

// Clone returns a deep copy so callers cannot mutate stored values through
// the optional pointer fields.
func (c Call) Clone() Call {
	out := c
	if c.EndedAt != nil {
		t := *c.EndedAt
		out.EndedAt = &t
	}
	if c.Transcript != nil {
		v := *c.Transcript
		out.Transcript = &v
	}
	if c.Summary != nil {
		v := *c.Summary
		out.Summary = &v
	}
	if c.Cost != nil {
		v := *c.Cost
		out.Cost = &v
	}
	return out
}
