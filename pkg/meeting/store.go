package meeting

import (
	"context"
)

// Store persists meeting records. Apply is the only mutation path for status:
// implementations must evaluate the From guard and the write atomically so
// concurrent webhook deliveries serialize into exactly one applied transition.
type Store interface {
	// Create inserts a new record. Returns errors.ErrConflict if the id
	// already exists.
	Create(ctx context.Context, rec *Record) error

	// Get returns the record by provider bot id, or errors.ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// FindByArtifact locates the record that owns a transcript or recording
	// reference. Either argument may be empty. Returns errors.ErrNotFound
	// when nothing matches.
	FindByArtifact(ctx context.Context, transcriptRef, recordingRef string) (*Record, error)

	// List returns records matching the filter, newest first.
	List(ctx context.Context, f ListFilter) ([]*Record, error)

	// Apply performs the conditional transition. OutcomeNoOp and
	// OutcomeConflict are reported in the Outcome, not as errors; the error
	// return is reserved for storage failures and unknown ids.
	Apply(ctx context.Context, id string, t Transition) (Outcome, error)

	// UpdateMetadata merges non-lifecycle fields (plugin settings, metadata)
	// without touching status.
	UpdateMetadata(ctx context.Context, id string, settings, metadata map[string]interface{}) error

	// DeleteExpired removes records whose ExpiresAt has passed. Returns the
	// number deleted.
	DeleteExpired(ctx context.Context) (int, error)
}
