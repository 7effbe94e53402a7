package meeting

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meetscribe/meetscribe/pkg/errors"
)

// MemoryStore is an in-memory Store used by tests and single-node dev runs.
// The mutex makes Apply's guard-then-write atomic, matching the conditional
// update semantics of the Postgres store.
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
	cp := cloneRecord(rec)
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.records[rec.ID] = cp
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
	return cloneRecord(rec), nil
}

func (s *MemoryStore) FindByArtifact(ctx context.Context, transcriptRef, recordingRef string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		if transcriptRef != "" && rec.TranscriptRef == transcriptRef {
			return cloneRecord(rec), nil
		}
		if recordingRef != "" && rec.RecordingRef == recordingRef {
			return cloneRecord(rec), nil
		}
	}
	return nil, errors.ErrNotFound
}

func (s *MemoryStore) List(ctx context.Context, f ListFilter) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Record
	for _, rec := range s.records {
		if f.Owner != "" && rec.Owner != f.Owner {
			continue
		}
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		if !f.Since.IsZero() && rec.CreatedAt.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && rec.CreatedAt.After(f.Until) {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Apply(ctx context.Context, id string, t Transition) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return OutcomeConflict, errors.ErrNotFound
	}

	if rec.Status == t.To {
		return OutcomeNoOp, nil
	}
	if !statusIn(rec.Status, t.From) {
		return OutcomeConflict, nil
	}

	rec.Status = t.To
	rec.UpdatedAt = time.Now().UTC()
	if t.RecordingRef != "" {
		rec.RecordingRef = t.RecordingRef
	}
	if t.TranscriptRef != "" {
		rec.TranscriptRef = t.TranscriptRef
	}
	if t.Error != "" {
		rec.Error = t.Error
	}
	if t.Outputs != nil {
		rec.Outputs = t.Outputs
	}
	if t.CompletedAt != nil {
		rec.CompletedAt = t.CompletedAt
	}
	if t.ExpiresAt != nil {
		rec.ExpiresAt = t.ExpiresAt
	}
	return OutcomeApplied, nil
}

func (s *MemoryStore) UpdateMetadata(ctx context.Context, id string, settings, metadata map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return errors.ErrNotFound
	}
	if settings != nil {
		rec.PluginSettings = settings
	}
	if metadata != nil {
		rec.Metadata = metadata
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	deleted := 0
	for id, rec := range s.records {
		if rec.ExpiresAt != nil && rec.ExpiresAt.Before(now) {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}

func statusIn(s Status, set []Status) bool {
	for _, c := range set {
		if s == c {
			return true
		}
	}
	return false
}

func cloneRecord(rec *Record) *Record {
	cp := *rec
	if rec.PluginSettings != nil {
		cp.PluginSettings = make(map[string]interface{}, len(rec.PluginSettings))
		for k, v := range rec.PluginSettings {
			cp.PluginSettings[k] = v
		}
	}
	if rec.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(rec.Metadata))
		for k, v := range rec.Metadata {
			cp.Metadata[k] = v
		}
	}
	if rec.Outputs != nil {
		cp.Outputs = make(map[string]string, len(rec.Outputs))
		for k, v := range rec.Outputs {
			cp.Outputs[k] = v
		}
	}
	return &cp
}
