package reconcile

import "time"

// State is where an open call view stands in its lifecycle.
type State string

const (
	StateIdle            State = "idle"
	StatePendingCreation State = "pending-creation"
	StateLive            State = "live"
	StateAwaitingDetails State = "awaiting-completion-data"
	StateSettled         State = "settled"
	StateError           State = "error"
)

type AlertKind string

const (
	AlertCreateFailed  AlertKind = "create_failed"
	AlertEndFailed     AlertKind = "end_failed"
	AlertFetchFailed   AlertKind = "fetch_failed"
	AlertSummaryFailed AlertKind = "summary_failed"
)

// Alert is a user-visible failure. It never changes stored call state.
type Alert struct {
	At      time.Time `json:"at"`
	CallID  string    `json:"callId,omitempty"`
	Kind    AlertKind `json:"kind"`
	Message string    `json:"message"`
}

// Snapshot is the read-only view of a session.
type Snapshot struct {
	CallID         string  `json:"callId"`
	State          State   `json:"state"`
	LiveDuration   int     `json:"liveDuration"`
	ClockRunning   bool    `json:"clockRunning"`
	FetchScheduled bool    `json:"fetchScheduled"`
	Fetching       bool    `json:"fetching"`
	Summarizing    bool    `json:"summarizing"`
	Alerts         []Alert `json:"alerts"`
}

// session is the per-view state of one call. Guarded by Driver.mu.
type session struct {
	callID     string
	providerID string
	state      State
	startedAt  time.Time

	// liveDuration is presentational; it is never written to the store
	// except once, frozen, when the call is ended.
	liveDuration int
	clockStop    chan struct{}

	deferred *time.Timer
	fetching int

	alerts []Alert
}

func (s *session) snapshot(summarizing bool) Snapshot {
	alerts := make([]Alert, len(s.alerts))
	copy(alerts, s.alerts)
	return Snapshot{
		CallID:         s.callID,
		State:          s.state,
		LiveDuration:   s.liveDuration,
		ClockRunning:   s.clockStop != nil,
		FetchScheduled: s.deferred != nil,
		Fetching:       s.fetching > 0,
		Summarizing:    summarizing,
		Alerts:         alerts,
	}
}

func (s *session) addAlert(a Alert, max int) {
	s.alerts = append(s.alerts, a)
	if max > 0 && len(s.alerts) > max {
		s.alerts = append([]Alert(nil), s.alerts[len(s.alerts)-max:]...)
	}
}

func (s *session) stopClock() {
	if s.clockStop != nil {
		close(s.clockStop)
		s.clockStop = nil
	}
}

func (s *session) cancelDeferred() {
	if s.deferred != nil {
		s.deferred.Stop()
		s.deferred = nil
	}
}
