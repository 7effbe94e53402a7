package meeting

import (
	"context"
	"time"

	"github.com/meetscribe/meetscribe/pkg/logging"
	"github.com/meetscribe/meetscribe/pkg/observability"
)

// Machine applies lifecycle transitions against a Store. Each method encodes
// one edge of the status graph: the allowed prior statuses travel with the
// write, so a stale or duplicate event can only land as a no-op or conflict,
// never as a regression.
type Machine struct {
	store   Store
	logger  logging.Logger
	metrics *observability.Metrics
}

// NewMachine creates a state machine over the given store.
func NewMachine(store Store, logger logging.Logger, metrics *observability.Metrics) *Machine {
	return &Machine{store: store, logger: logger, metrics: metrics}
}

// Store exposes the underlying store for reads.
func (m *Machine) Store() Store { return m.store }

// MarkJoined records that the bot entered the call.
func (m *Machine) MarkJoined(ctx context.Context, id string) (Outcome, error) {
	return m.apply(ctx, id, Transition{
		To:   StatusInMeeting,
		From: []Status{StatusJoining},
	})
}

// MarkEnded records call end and the recording reference. A call can end
// before the join event was ever observed, so joining is an accepted prior
// status.
func (m *Machine) MarkEnded(ctx context.Context, id, recordingRef string) (Outcome, error) {
	return m.apply(ctx, id, Transition{
		To:           StatusEnded,
		From:         []Status{StatusJoining, StatusInMeeting},
		RecordingRef: recordingRef,
	})
}

// MarkTranscribing records that a transcript was requested.
func (m *Machine) MarkTranscribing(ctx context.Context, id, transcriptRef string) (Outcome, error) {
	return m.apply(ctx, id, Transition{
		To:            StatusTranscribing,
		From:          []Status{StatusJoining, StatusInMeeting, StatusEnded},
		TranscriptRef: transcriptRef,
	})
}

// MarkQueued records that a processing task was enqueued for the meeting.
// Ended is an accepted prior status: a transcript can arrive ready without
// the transcribing event having been observed.
func (m *Machine) MarkQueued(ctx context.Context, id string) (Outcome, error) {
	return m.apply(ctx, id, Transition{
		To:   StatusQueued,
		From: []Status{StatusJoining, StatusInMeeting, StatusEnded, StatusTranscribing},
	})
}

// BeginProcessing claims the meeting for pipeline execution. Only a queued
// record can be claimed; anything else means a duplicate or stale callback.
func (m *Machine) BeginProcessing(ctx context.Context, id string) (Outcome, error) {
	return m.apply(ctx, id, Transition{
		To:   StatusProcessing,
		From: []Status{StatusQueued},
	})
}

// Complete finishes the meeting with its outputs and stamps the retention
// deadline.
func (m *Machine) Complete(ctx context.Context, id string, outputs map[string]string, retention time.Duration) (Outcome, error) {
	now := time.Now().UTC()
	t := Transition{
		To:          StatusCompleted,
		From:        []Status{StatusProcessing},
		Outputs:     outputs,
		CompletedAt: &now,
	}
	if retention > 0 {
		expires := now.Add(retention)
		t.ExpiresAt = &expires
	}
	return m.apply(ctx, id, t)
}

// Fail moves the meeting to failed with a cause. Reachable from every
// non-terminal status; a completed record is never overwritten.
func (m *Machine) Fail(ctx context.Context, id, cause string) (Outcome, error) {
	return m.apply(ctx, id, Transition{
		To: StatusFailed,
		From: []Status{
			StatusJoining, StatusInMeeting, StatusEnded,
			StatusTranscribing, StatusQueued, StatusProcessing,
		},
		Error: cause,
	})
}

func (m *Machine) apply(ctx context.Context, id string, t Transition) (Outcome, error) {
	outcome, err := m.store.Apply(ctx, id, t)
	if err != nil {
		m.logger.Error("transition failed",
			logging.F("meeting_id", id),
			logging.F("to", string(t.To)),
			logging.Err(err))
		return outcome, err
	}

	m.metrics.TransitionsTotal.WithLabelValues(string(t.To), outcome.String()).Inc()

	switch outcome {
	case OutcomeApplied:
		m.logger.Info("meeting transitioned",
			logging.F("meeting_id", id),
			logging.F("to", string(t.To)))
	case OutcomeNoOp:
		m.logger.Debug("transition replayed, already at target",
			logging.F("meeting_id", id),
			logging.F("to", string(t.To)))
	case OutcomeConflict:
		m.logger.Warn("transition rejected by current status",
			logging.F("meeting_id", id),
			logging.F("to", string(t.To)))
	}
	return outcome, nil
}
