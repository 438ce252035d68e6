package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
	ListByCall(ctx context.Context, callID string) ([]Event, error)
}

// Service records the lifecycle trail of each call.
type Service struct {
	repo   Repository
	logger *slog.Logger
	clock  func() time.Time
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger.With("component", "audit"), clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.CallID == "" || e.Type == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// Record appends e and only logs a failure. Call flows use this.
func (s *Service) Record(ctx context.Context, e Event) {
	if err := s.Append(ctx, e); err != nil {
		s.logger.Warn("audit append failed", "call_id", e.CallID, "type", e.Type, "err", err)
	}
}

// ListByCall returns the trail of a call, oldest first.
func (s *Service) ListByCall(ctx context.Context, callID string) ([]Event, error) {
	if s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	return s.repo.ListByCall(ctx, callID)
}
