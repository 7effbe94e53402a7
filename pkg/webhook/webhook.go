// Package webhook receives bot lifecycle events from the meeting provider
// and translates them into state machine transitions. The handler always
// acknowledges with 200 once the signature checks out: provider retries are
// for transport failures, and every event is safe to replay.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/meetscribe/meetscribe/pkg/errors"
	"github.com/meetscribe/meetscribe/pkg/logging"
	"github.com/meetscribe/meetscribe/pkg/meeting"
	"github.com/meetscribe/meetscribe/pkg/observability"
	"github.com/meetscribe/meetscribe/pkg/provider"
)

// Event names the provider sends. Join progress and recording/transcript
// completion each map to one transition.
const (
	EventBotJoining       = "bot.joining_call"
	EventBotJoined        = "bot.joined_call"
	EventBotInCall        = "bot.in_call_recording"
	EventBotDone          = "bot.done"
	EventBotCallEnded     = "bot.call_ended"
	EventBotFatal         = "bot.fatal"
	EventRecordingDone    = "recording.done"
	EventTranscriptDone   = "transcript.done"
	EventTranscriptFailed = "transcript.failed"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw body.
const SignatureHeader = "X-Webhook-Signature"

const maxBodyBytes = 1 << 20

// outcomeError labels dispatches that failed on infrastructure, as opposed
// to events that were applied, replayed, or discarded.
const outcomeError = "error"

// payload is the provider's event envelope.
type payload struct {
	EventType string `json:"event_type"`
	Data      struct {
		MeetingRef    string `json:"meeting_ref"`
		RecordingRef  string `json:"recording_ref"`
		TranscriptRef string `json:"transcript_ref"`
		Error         string `json:"error"`
	} `json:"data"`
}

// Processor is the part of the meeting service the webhook needs: queueing
// processing once a transcript is ready.
type Processor interface {
	EnqueueProcessing(ctx context.Context, meetingID string) error
}

// Handler is the HTTP endpoint for provider webhooks.
type Handler struct {
	secret  string
	machine *meeting.Machine
	store   meeting.Store
	bots    provider.BotProvider
	proc    Processor
	logger  logging.Logger
	metrics *observability.Metrics
}

// NewHandler creates the webhook handler. An empty secret disables
// signature verification, for local development only.
func NewHandler(secret string, machine *meeting.Machine, store meeting.Store, bots provider.BotProvider, proc Processor, logger logging.Logger, metrics *observability.Metrics) *Handler {
	return &Handler{
		secret:  secret,
		machine: machine,
		store:   store,
		bots:    bots,
		proc:    proc,
		logger:  logger.With(logging.F("component", "webhook")),
		metrics: metrics,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.metrics.WebhookRejectedTotal.WithLabelValues("read_error").Inc()
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if !h.verify(body, r.Header.Get(SignatureHeader)) {
		h.metrics.WebhookRejectedTotal.WithLabelValues("bad_signature").Inc()
		h.logger.Warn("webhook signature mismatch",
			logging.F("remote_addr", r.RemoteAddr))
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil || p.EventType == "" {
		// Malformed events are acknowledged: the provider would only
		// resend the same bytes.
		h.metrics.WebhookRejectedTotal.WithLabelValues("malformed").Inc()
		h.logger.Warn("malformed webhook payload discarded", logging.Err(err))
		w.WriteHeader(http.StatusOK)
		return
	}

	start := time.Now()
	outcome := h.dispatch(r.Context(), &p)
	h.metrics.WebhookLatencySeconds.WithLabelValues(p.EventType).Observe(time.Since(start).Seconds())
	h.metrics.WebhookEventsTotal.WithLabelValues(p.EventType, outcome).Inc()

	// Infrastructure failures answer 503 so the provider redelivers the
	// event; the record has not moved and the retry repeats the whole step.
	if outcome == outcomeError {
		http.Error(w, "event processing failed", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// verify checks the body signature. Comparison is constant time.
func (h *Handler) verify(body []byte, signature string) bool {
	if h.secret == "" {
		h.logger.Warn("webhook signature verification disabled, no secret configured")
		return true
	}
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign computes the signature for a body, for clients and tests.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// dispatch routes one verified event and returns the outcome label for
// metrics. Events for unknown meetings are acknowledged and dropped; late
// deliveries against terminal records surface as conflicts and are likewise
// acknowledged.
func (h *Handler) dispatch(ctx context.Context, p *payload) string {
	log := h.logger.With(
		logging.F("event", p.EventType),
		logging.F("meeting_id", p.Data.MeetingRef))

	id, err := h.resolveMeeting(ctx, p)
	if err != nil {
		if errors.IsNotFound(err) {
			log.Warn("webhook event for unknown meeting, discarding")
			return "unknown_meeting"
		}
		log.Error("resolving webhook meeting", logging.Err(err))
		return outcomeError
	}

	outcome, err := h.transition(ctx, id, p)
	if err != nil {
		log.Error("applying webhook transition", logging.Err(err))
		return outcomeError
	}

	switch outcome {
	case meeting.OutcomeApplied:
		log.Info("webhook event applied")
	case meeting.OutcomeNoOp:
		log.Debug("webhook event replayed, no-op")
	case meeting.OutcomeConflict:
		log.Warn("webhook event conflicts with current status, discarding")
	}
	return outcome.String()
}

// resolveMeeting maps the event to a meeting id. Transcript events may
// arrive keyed only by artifact reference.
func (h *Handler) resolveMeeting(ctx context.Context, p *payload) (string, error) {
	if p.Data.MeetingRef != "" {
		if _, err := h.store.Get(ctx, p.Data.MeetingRef); err != nil {
			return "", err
		}
		return p.Data.MeetingRef, nil
	}
	rec, err := h.store.FindByArtifact(ctx, p.Data.TranscriptRef, p.Data.RecordingRef)
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

func (h *Handler) transition(ctx context.Context, id string, p *payload) (meeting.Outcome, error) {
	switch p.EventType {
	case EventBotJoining:
		// Join progress; the record is already in joining.
		return meeting.OutcomeNoOp, nil

	case EventBotJoined, EventBotInCall:
		return h.machine.MarkJoined(ctx, id)

	case EventBotDone, EventBotCallEnded:
		return h.machine.MarkEnded(ctx, id, p.Data.RecordingRef)

	case EventBotFatal:
		cause := p.Data.Error
		if cause == "" {
			cause = "bot reported fatal error"
		}
		return h.machine.Fail(ctx, id, cause)

	case EventRecordingDone:
		return h.handleRecordingDone(ctx, id, p)

	case EventTranscriptDone:
		return h.handleTranscriptDone(ctx, id, p)

	case EventTranscriptFailed:
		cause := p.Data.Error
		if cause == "" {
			cause = "transcription failed"
		}
		return h.machine.Fail(ctx, id, cause)

	default:
		h.logger.Debug("ignoring unhandled webhook event",
			logging.F("event", p.EventType))
		return meeting.OutcomeNoOp, nil
	}
}

// handleRecordingDone asks the provider to transcribe the finished
// recording, then marks the meeting transcribing. The transition happens
// second so a crash between the two at worst repeats an idempotent
// transcription request on replay.
func (h *Handler) handleRecordingDone(ctx context.Context, id string, p *payload) (meeting.Outcome, error) {
	recordingRef := p.Data.RecordingRef
	if recordingRef == "" {
		rec, err := h.store.Get(ctx, id)
		if err != nil {
			return meeting.OutcomeConflict, err
		}
		recordingRef = rec.RecordingRef
	}
	if recordingRef == "" {
		return meeting.OutcomeConflict, fmt.Errorf("recording.done without a recording reference")
	}

	transcriptRef, err := h.bots.RequestTranscript(ctx, recordingRef)
	if err != nil {
		return meeting.OutcomeConflict, fmt.Errorf("requesting transcript: %w", err)
	}
	return h.machine.MarkTranscribing(ctx, id, transcriptRef)
}

// handleTranscriptDone moves the meeting to queued and enqueues processing.
// Processing never runs on the webhook response path; any settle delay is
// folded into the task's visibility time.
func (h *Handler) handleTranscriptDone(ctx context.Context, id string, p *payload) (meeting.Outcome, error) {
	if p.Data.TranscriptRef != "" {
		// Skip-ahead delivery: record the transcript ref even when the
		// transcribing step was never observed.
		if _, err := h.machine.MarkTranscribing(ctx, id, p.Data.TranscriptRef); err != nil {
			return meeting.OutcomeConflict, err
		}
	}

	rec, err := h.store.Get(ctx, id)
	if err != nil {
		return meeting.OutcomeConflict, err
	}
	switch rec.Status {
	case meeting.StatusCompleted, meeting.StatusFailed:
		return meeting.OutcomeConflict, nil
	case meeting.StatusQueued, meeting.StatusProcessing:
		return meeting.OutcomeNoOp, nil
	}

	if err := h.proc.EnqueueProcessing(ctx, id); err != nil {
		return meeting.OutcomeConflict, err
	}
	return meeting.OutcomeApplied, nil
}
