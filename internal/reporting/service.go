package reporting

import (
	"context"
	"errors"
	"strings"
	"time"

	"phonescreen-console/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository is the read side reporting needs. callstore.Store satisfies it.
type Repository interface {
	GetAll(ctx context.Context) ([]calls.Call, error)
}

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service { return &Service{repo: repo, clock: time.Now} }

func (s *Service) CallsSummary(ctx context.Context, r TimeRange) (CallsSummary, error) {
	if !r.From.IsZero() && !r.To.IsZero() && !r.To.After(r.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.GetAll(ctx)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{ComputedAt: s.clock().UTC()}
	numbers := map[string]struct{}{}
	ended := 0
	for _, c := range rows {
		if !r.contains(c.StartedAt) {
			continue
		}
		out.TotalCalls++
		numbers[strings.TrimSpace(c.PhoneNumber)] = struct{}{}

		switch {
		case c.Status == calls.CallStatusCompleted:
			out.CompletedCalls++
		case c.Status == calls.CallStatusFailed:
			out.FailedCalls++
		case c.Status.IsLive():
			out.InProgressCalls++
		}
		if c.HasTranscript() {
			out.TranscribedCalls++
		}
		if c.Summary != nil && strings.TrimSpace(*c.Summary) != "" {
			out.SummarizedCalls++
		}
		if c.Status.IsTerminal() {
			ended++
			out.TotalDurationSeconds += c.Duration
		}
		if c.Cost != nil {
			out.TotalCost += *c.Cost
		}
	}
	out.Candidates = len(numbers)
	// live calls have no stored duration yet, so only ended calls count
	if ended > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / ended
	}
	return out, nil
}
