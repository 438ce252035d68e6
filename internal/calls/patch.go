package calls

import "time"

// Patch is a partial update of a Call. Nil fields are absent and leave the
// stored value untouched.
type Patch struct {
	VapiCallID *string
	Status     *CallStatus
	EndedAt    *time.Time

	Duration *int
	// DurationSource qualifies Duration. Empty means local.
	DurationSource DurationSource

	Transcript *string
	Summary    *string
	Cost       *float64
}

// IsEmpty reports whether the patch carries no field at all.
func (p Patch) IsEmpty() bool {
	return p.VapiCallID == nil && p.Status == nil && p.EndedAt == nil &&
		p.Duration == nil && p.Transcript == nil && p.Summary == nil && p.Cost == nil
}

// Apply merges p into c field by field and returns the result.
//
// Rules:
//   - status only moves forward (see CanTransition); a backward status is ignored
//   - a provider duration always wins and pins the source; a local duration is
//     ignored once the provider reported one
//   - a transcript is only kept when the resulting status is completed
func (c Call) Apply(p Patch) Call {
	out := c

	if p.VapiCallID != nil {
		out.VapiCallID = *p.VapiCallID
	}
	if p.Status != nil && CanTransition(out.Status, *p.Status) {
		out.Status = *p.Status
	}
	if p.EndedAt != nil {
		t := *p.EndedAt
		out.EndedAt = &t
	}

	if p.Duration != nil {
		src := p.DurationSource
		if src == "" {
			src = DurationSourceLocal
		}
		if src == DurationSourceProvider || out.DurationSource != DurationSourceProvider {
			out.Duration = *p.Duration
			out.DurationSource = src
		}
	}

	if p.Transcript != nil && out.Status == CallStatusCompleted {
		v := *p.Transcript
		out.Transcript = &v
	}
	if p.Summary != nil {
		v := *p.Summary
		out.Summary = &v
	}
	if p.Cost != nil {
		v := *p.Cost
		out.Cost = &v
	}
	return out
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T { return &v }
