package audit

import "time"

// Event is an immutable, append-only record of something the console did to a call.
//
// Invariants:
// - Events are never updated or deleted.
// - call_id is required; every event belongs to exactly one call.
// - Recording is best-effort; never block a call flow on an audit failure.
type Event struct {
	ID     string    `json:"id"`
	CallID string    `json:"call_id"`
	Type   EventType `json:"type"`

	// ProviderCallID is the voice provider's identifier, when known.
	ProviderCallID string `json:"provider_call_id,omitempty"`

	// Trigger names what caused the event (user, deferred, page_load).
	Trigger string `json:"trigger,omitempty"`

	// Message is a short human-readable description for operators.
	Message string `json:"message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type EventType string

const (
	EventTypeCallCreated      EventType = "call_created"
	EventTypeCallEnded        EventType = "call_ended"
	EventTypeDetailsApplied   EventType = "details_applied"
	EventTypeFetchDropped     EventType = "fetch_dropped"
	EventTypeSummaryGenerated EventType = "summary_generated"
	EventTypeAlert            EventType = "alert"
)
