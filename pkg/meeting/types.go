// Package meeting defines the meeting record, its status lifecycle, and the
// state machine that guards every status transition. Records are mutated only
// through conditional writes so that duplicate or out-of-order webhook
// deliveries can never move a record backward.
package meeting

import (
	"time"
)

// Status is the lifecycle state of a meeting bot.
type Status string

const (
	// StatusJoining means bot creation was requested from the provider.
	StatusJoining Status = "joining"
	// StatusInMeeting means the bot has joined the call.
	StatusInMeeting Status = "in_meeting"
	// StatusEnded means the call finished and a recording reference exists.
	StatusEnded Status = "ended"
	// StatusTranscribing means a transcript was requested from the provider.
	StatusTranscribing Status = "transcribing"
	// StatusQueued means a processing task has been enqueued.
	StatusQueued Status = "queued"
	// StatusProcessing means the transcript pipeline is running.
	StatusProcessing Status = "processing"
	// StatusCompleted means outputs are populated. Terminal.
	StatusCompleted Status = "completed"
	// StatusFailed is reachable from any non-terminal state. Terminal.
	StatusFailed Status = "failed"
)

// statusRank orders statuses along the forward-only lifecycle. Failed sits
// outside the ordering and is handled explicitly.
var statusRank = map[Status]int{
	StatusJoining:      0,
	StatusInMeeting:    1,
	StatusEnded:        2,
	StatusTranscribing: 3,
	StatusQueued:       4,
	StatusProcessing:   5,
	StatusCompleted:    6,
}

// Rank returns the position of s in the forward lifecycle, or -1 for failed.
func (s Status) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.Rank() >= 0 || s == StatusFailed
}

// AllStatuses lists every status in lifecycle order, failed last.
func AllStatuses() []Status {
	return []Status{
		StatusJoining, StatusInMeeting, StatusEnded, StatusTranscribing,
		StatusQueued, StatusProcessing, StatusCompleted, StatusFailed,
	}
}

// Record is one bot/transcript lifecycle instance. The provider's bot id is
// the primary key. Records are never hard-deleted here; the retention sweep
// owns deletion and keys off ExpiresAt.
type Record struct {
	ID            string                 `json:"id"`
	Owner         string                 `json:"owner"`
	SourceURL     string                 `json:"source_url"`
	DisplayName   string                 `json:"display_name"`
	Status        Status                 `json:"status"`
	Error         string                 `json:"error,omitempty"`
	RecordingRef  string                 `json:"recording_ref,omitempty"`
	TranscriptRef string                 `json:"transcript_ref,omitempty"`
	Plugin        string                 `json:"plugin"`
	PluginSettings map[string]interface{} `json:"plugin_settings,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Outputs       map[string]string      `json:"outputs,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
	ExpiresAt     *time.Time             `json:"expires_at,omitempty"`
}

// Outcome classifies the result of a conditional transition.
type Outcome int

const (
	// OutcomeApplied means the record moved to the target status.
	OutcomeApplied Outcome = iota
	// OutcomeNoOp means the record was already at the target status (or the
	// transition was otherwise an idempotent replay). Not an error.
	OutcomeNoOp
	// OutcomeConflict means the record's current status rejects the
	// transition: a regression, or an attempt to overwrite a terminal state.
	OutcomeConflict
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeNoOp:
		return "noop"
	case OutcomeConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Transition is a conditional write request: move to To if and only if the
// current status is one of From. The optional fields are written together
// with the status in the same conditional update.
type Transition struct {
	To   Status
	From []Status

	RecordingRef  string
	TranscriptRef string
	Error         string
	Outputs       map[string]string
	CompletedAt   *time.Time
	ExpiresAt     *time.Time
}

// ListFilter selects records for range queries.
type ListFilter struct {
	Owner  string
	Status Status
	Since  time.Time
	Until  time.Time
	Limit  int
}
