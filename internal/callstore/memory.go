package callstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"phonescreen-console/internal/calls"
)

// MemoryStore keeps calls in process memory. Used for tests and local runs.
type MemoryStore struct {
	mu    sync.Mutex
	calls []calls.Call
	clock func() time.Time
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{clock: time.Now} }

func (s *MemoryStore) GetAll(ctx context.Context) ([]calls.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]calls.Call, 0, len(s.calls))
	for _, c := range s.calls {
		out = append(out, c.Clone())
	}
	return out, nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (calls.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return calls.Call{}, fmt.Errorf("%w: %s", calls.ErrNotFound, id)
	}
	return s.calls[i].Clone(), nil
}

func (s *MemoryStore) UpsertMerge(ctx context.Context, id string, p calls.Patch) (calls.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return calls.Call{}, fmt.Errorf("%w: %s", calls.ErrNotFound, id)
	}
	merged := s.calls[i].Apply(p)
	merged.UpdatedAt = s.clock().UTC()
	s.calls[i] = merged
	return merged.Clone(), nil
}

func (s *MemoryStore) Replace(ctx context.Context, c calls.Call) error {
	if c.ID == "" {
		return fmt.Errorf("%w: call id required", calls.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c = c.Clone()
	c.UpdatedAt = s.clock().UTC()
	for i := range s.calls {
		if s.calls[i].ID == c.ID {
			s.calls[i] = c
			return nil
		}
	}
	s.calls = append(s.calls, c)
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
	return nil
}

// indexOf prefers an exact local id match over a provider id match.
func (s *MemoryStore) indexOf(id string) int {
	return indexOf(s.calls, id)
}

func indexOf(list []calls.Call, id string) int {
	if id == "" {
		return -1
	}
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	for i := range list {
		if list[i].Matches(id) {
			return i
		}
	}
	return -1
}
