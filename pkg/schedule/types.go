// Package schedule manages future meeting join requests and the executor that
// promotes due requests into live meetings. Claiming a record is a single
// conditional update, so overlapping executor runs and owner cancellations
// race on the row and exactly one wins.
package schedule

import (
	"context"
	"time"
)

// Status is the lifecycle state of a scheduled meeting request.
type Status string

const (
	// StatusScheduled means the request is waiting for its time.
	StatusScheduled Status = "scheduled"
	// StatusExecuting is the internal claimed state. It is never returned to
	// API clients; a claim either completes or fails promptly.
	StatusExecuting Status = "executing"
	// StatusCompleted means a meeting was started. Terminal.
	StatusCompleted Status = "completed"
	// StatusFailed means the join attempt failed. Terminal, no retry.
	StatusFailed Status = "failed"
	// StatusCancelled means the owner withdrew the request. Terminal.
	StatusCancelled Status = "cancelled"
)

// Record is one future join request. ScheduledTime is always a UTC instant;
// owner timezone handling ends at the API boundary.
type Record struct {
	ID             string                 `json:"id"`
	Owner          string                 `json:"owner"`
	SourceURL      string                 `json:"source_url"`
	DisplayName    string                 `json:"display_name"`
	ScheduledTime  time.Time              `json:"scheduled_time"`
	Plugin         string                 `json:"plugin"`
	PluginSettings map[string]interface{} `json:"plugin_settings,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Status         Status                 `json:"status"`
	// ActualMeetingID is set exactly when Status is completed.
	ActualMeetingID string    `json:"actual_meeting_id,omitempty"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Store persists scheduled meeting records. Claim and Cancel are conditional
// writes: they succeed only when the record is still scheduled.
type Store interface {
	// Create inserts a new scheduled record.
	Create(ctx context.Context, rec *Record) error

	// Get returns the record by id, or errors.ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// List returns the owner's records, soonest first. Empty owner lists all.
	List(ctx context.Context, owner string) ([]*Record, error)

	// Due returns scheduled records with ScheduledTime at or before now.
	Due(ctx context.Context, now time.Time) ([]*Record, error)

	// Claim attempts scheduled -> executing. Returns true when this caller
	// won the claim, false when another invocation or a cancellation got
	// there first.
	Claim(ctx context.Context, id string) (bool, error)

	// MarkCompleted finishes a claimed record with the meeting it started.
	MarkCompleted(ctx context.Context, id, meetingID string) error

	// MarkFailed finishes a claimed record with the join error.
	MarkFailed(ctx context.Context, id, cause string) error

	// Cancel attempts scheduled -> cancelled. Returns errors.ErrConflict when
	// the record was already claimed or finished; an in-flight join proceeds.
	Cancel(ctx context.Context, id string) error
}
