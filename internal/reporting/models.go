package reporting

import "time"

// TimeRange filters calls by start time. A zero bound is open.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// CallsSummary is the dashboard view of the call collection.
type CallsSummary struct {
	// Candidates counts distinct phone numbers called.
	Candidates int `json:"candidates"`

	TotalCalls      int `json:"totalCalls"`
	CompletedCalls  int `json:"completedCalls"`
	FailedCalls     int `json:"failedCalls"`
	InProgressCalls int `json:"inProgressCalls"`

	TranscribedCalls int `json:"transcribedCalls"`
	SummarizedCalls  int `json:"summarizedCalls"`

	TotalDurationSeconds   int `json:"totalDurationSeconds"`
	AverageDurationSeconds int `json:"averageDurationSeconds"`

	TotalCost float64 `json:"totalCost"`

	ComputedAt time.Time `json:"computedAt"`
}
