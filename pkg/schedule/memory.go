package schedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meetscribe/meetscribe/pkg/errors"
)

// MemoryStore is an in-memory Store for tests and dev runs. The mutex makes
// Claim and Cancel atomic guard-then-write operations.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Create(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; ok {
		return errors.ErrConflict
	}
	now := time.Now().UTC()
	cp := *rec
	cp.Status = StatusScheduled
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.records[rec.ID] = &cp
	rec.Status = StatusScheduled
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) List(ctx context.Context, owner string) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Record
	for _, rec := range s.records {
		if owner != "" && rec.Owner != owner {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledTime.Before(out[j].ScheduledTime) })
	return out, nil
}

func (s *MemoryStore) Due(ctx context.Context, now time.Time) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Record
	for _, rec := range s.records {
		if rec.Status == StatusScheduled && !rec.ScheduledTime.After(now) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledTime.Before(out[j].ScheduledTime) })
	return out, nil
}

func (s *MemoryStore) Claim(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false, errors.ErrNotFound
	}
	if rec.Status != StatusScheduled {
		return false, nil
	}
	rec.Status = StatusExecuting
	rec.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) MarkCompleted(ctx context.Context, id, meetingID string) error {
	return s.finish(id, StatusCompleted, meetingID, "")
}

func (s *MemoryStore) MarkFailed(ctx context.Context, id, cause string) error {
	return s.finish(id, StatusFailed, "", cause)
}

func (s *MemoryStore) finish(id string, to Status, meetingID, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return errors.ErrNotFound
	}
	if rec.Status != StatusExecuting {
		return errors.ErrInvalidState
	}
	rec.Status = to
	rec.ActualMeetingID = meetingID
	rec.Error = cause
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return errors.ErrNotFound
	}
	if rec.Status != StatusScheduled {
		return errors.ErrConflict
	}
	rec.Status = StatusCancelled
	rec.UpdatedAt = time.Now().UTC()
	return nil
}
