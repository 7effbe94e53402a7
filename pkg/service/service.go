// Package service implements the meeting orchestration service: meeting
// creation, the transcript-ready path that enqueues processing, and the
// internal processing callback that runs the pipeline.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/meetscribe/meetscribe/pkg/artifacts"
	"github.com/meetscribe/meetscribe/pkg/errors"
	"github.com/meetscribe/meetscribe/pkg/logging"
	"github.com/meetscribe/meetscribe/pkg/meeting"
	"github.com/meetscribe/meetscribe/pkg/observability"
	"github.com/meetscribe/meetscribe/pkg/pipeline"
	"github.com/meetscribe/meetscribe/pkg/plugin"
	"github.com/meetscribe/meetscribe/pkg/provider"
	"github.com/meetscribe/meetscribe/pkg/schedule"
	"github.com/meetscribe/meetscribe/pkg/tasks"
	"github.com/meetscribe/meetscribe/pkg/transcript"
)

// Prefs supplies per-owner plugin settings, merged between plugin defaults
// and per-meeting overrides.
type Prefs interface {
	Get(ctx context.Context, owner, pluginName string) (map[string]interface{}, error)
}

// MemoryPrefs is an in-memory Prefs implementation.
type MemoryPrefs struct {
	prefs map[string]map[string]map[string]interface{}
}

// NewMemoryPrefs creates an empty preference store.
func NewMemoryPrefs() *MemoryPrefs {
	return &MemoryPrefs{prefs: make(map[string]map[string]map[string]interface{})}
}

// Set stores an owner's preferences for a plugin.
func (m *MemoryPrefs) Set(owner, pluginName string, settings map[string]interface{}) {
	if m.prefs[owner] == nil {
		m.prefs[owner] = make(map[string]map[string]interface{})
	}
	m.prefs[owner][pluginName] = settings
}

func (m *MemoryPrefs) Get(ctx context.Context, owner, pluginName string) (map[string]interface{}, error) {
	return m.prefs[owner][pluginName], nil
}

// Config carries service-level knobs.
type Config struct {
	// BotName is the display name bots join with.
	BotName string

	// WebhookURL is the public endpoint registered with the provider.
	WebhookURL string

	// SettleDelay postpones processing after transcript-ready, giving the
	// provider time to finish writing the transcript. Applied as task
	// visibility delay, never on the webhook response path.
	SettleDelay time.Duration

	// Retention bounds how long completed records are kept. Zero keeps
	// them forever.
	Retention time.Duration

	// DefaultPlugin processes meetings that name no plugin.
	DefaultPlugin string
}

// Service wires the stores, queue, provider, and pipeline together.
type Service struct {
	cfg      Config
	store    meeting.Store
	machine  *meeting.Machine
	queue    tasks.Queue
	registry *plugin.Registry
	runner   *pipeline.Runner
	bots     provider.BotProvider
	sink     artifacts.Sink
	prefs    Prefs
	logger   logging.Logger
	metrics  *observability.Metrics
}

// New creates the meeting service.
func New(
	cfg Config,
	store meeting.Store,
	queue tasks.Queue,
	registry *plugin.Registry,
	runner *pipeline.Runner,
	bots provider.BotProvider,
	sink artifacts.Sink,
	prefs Prefs,
	logger logging.Logger,
	metrics *observability.Metrics,
) *Service {
	return &Service{
		cfg:      cfg,
		store:    store,
		machine:  meeting.NewMachine(store, logger, metrics),
		queue:    queue,
		registry: registry,
		runner:   runner,
		bots:     bots,
		sink:     sink,
		prefs:    prefs,
		logger:   logger.With(logging.F("component", "meeting-service")),
		metrics:  metrics,
	}
}

// Machine exposes the state machine for the webhook router.
func (s *Service) Machine() *meeting.Machine { return s.machine }

// CreateMeeting starts a bot for the given call and creates its record in
// status joining. An unknown plugin name or rejected plugin settings fail
// here, before any bot or record exists.
func (s *Service) CreateMeeting(ctx context.Context, req schedule.StartRequest) (*meeting.Record, error) {
	pluginName := req.Plugin
	if pluginName == "" {
		pluginName = s.cfg.DefaultPlugin
	}
	p, err := s.registry.Get(pluginName)
	if err != nil {
		return nil, err
	}
	if err := p.Configure(req.PluginSettings); err != nil {
		return nil, fmt.Errorf("%w: plugin settings: %s", errors.ErrValidation, err)
	}
	if req.SourceURL == "" {
		return nil, fmt.Errorf("%w: source_url is required", errors.ErrValidation)
	}

	bot, err := s.bots.CreateBot(ctx, provider.CreateBotRequest{
		MeetingURL: req.SourceURL,
		BotName:    s.cfg.BotName,
		WebhookURL: s.cfg.WebhookURL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating bot: %w", err)
	}

	rec := &meeting.Record{
		ID:             bot.ID,
		Owner:          req.Owner,
		SourceURL:      req.SourceURL,
		DisplayName:    req.DisplayName,
		Status:         meeting.StatusJoining,
		Plugin:         pluginName,
		PluginSettings: req.PluginSettings,
		Metadata:       req.Metadata,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("creating meeting record: %w", err)
	}

	s.logger.Info("meeting created",
		logging.F("meeting_id", rec.ID),
		logging.F("owner", rec.Owner),
		logging.F("plugin", pluginName))
	return rec, nil
}

// StartMeeting implements schedule.MeetingStarter: the scheduled flow uses
// the same entry point interactive creation does.
func (s *Service) StartMeeting(ctx context.Context, req schedule.StartRequest) (string, error) {
	rec, err := s.CreateMeeting(ctx, req)
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

// GetMeeting returns one record.
func (s *Service) GetMeeting(ctx context.Context, id string) (*meeting.Record, error) {
	return s.store.Get(ctx, id)
}

// ListMeetings returns records matching the filter.
func (s *Service) ListMeetings(ctx context.Context, f meeting.ListFilter) ([]*meeting.Record, error) {
	return s.store.List(ctx, f)
}

// RemoveBot asks the provider to pull the bot out of its call. The lifecycle
// then proceeds normally through the ended event.
func (s *Service) RemoveBot(ctx context.Context, id string) error {
	if _, err := s.store.Get(ctx, id); err != nil {
		return err
	}
	return s.bots.RemoveBot(ctx, id)
}

// EnqueueProcessing enqueues the processing task and transitions the meeting
// to queued. Called when the transcript is ready. A replayed event finds the
// record already queued and enqueues nothing.
//
// The queue write happens before the transition: if it fails, the record
// stays pre-queued and the caller surfaces the error so the event is
// redelivered and the whole step retried. A record marked queued always has
// a task behind it. The duplicate task a racing replay can produce is
// absorbed by the queued -> processing claim.
func (s *Service) EnqueueProcessing(ctx context.Context, meetingID string) error {
	rec, err := s.store.Get(ctx, meetingID)
	if err != nil {
		return err
	}
	switch rec.Status {
	case meeting.StatusQueued, meeting.StatusProcessing, meeting.StatusCompleted, meeting.StatusFailed:
		s.logger.Debug("processing already enqueued or meeting past queueing",
			logging.F("meeting_id", meetingID),
			logging.F("status", string(rec.Status)))
		return nil
	}

	task := &tasks.Task{
		Kind:      tasks.KindProcessTranscript,
		MeetingID: meetingID,
	}
	if s.cfg.SettleDelay > 0 {
		task.VisibleAfter = time.Now().UTC().Add(s.cfg.SettleDelay)
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("enqueueing processing task: %w", err)
	}

	outcome, err := s.machine.MarkQueued(ctx, meetingID)
	if err != nil {
		return err
	}
	if outcome != meeting.OutcomeApplied {
		s.logger.Debug("queued transition lost to a concurrent delivery",
			logging.F("meeting_id", meetingID),
			logging.F("outcome", outcome.String()))
	}
	return nil
}

// ProcessCallback handles one delivery of the internal processing callback.
// The queued -> processing claim is the idempotency boundary: a duplicate or
// stale delivery observes a non-queued status and returns without running
// the pipeline. A pipeline failure marks the meeting failed and returns nil
// so the queue treats the delivery as final.
func (s *Service) ProcessCallback(ctx context.Context, meetingID string) error {
	rec, err := s.store.Get(ctx, meetingID)
	if err != nil {
		if errors.IsNotFound(err) {
			s.logger.Warn("processing callback for unknown meeting",
				logging.F("meeting_id", meetingID))
			return nil
		}
		return err
	}

	outcome, err := s.machine.BeginProcessing(ctx, meetingID)
	if err != nil {
		return err
	}
	if outcome != meeting.OutcomeApplied {
		s.logger.Info("duplicate processing callback ignored",
			logging.F("meeting_id", meetingID),
			logging.F("status", string(rec.Status)))
		return nil
	}

	if err := s.runPipeline(ctx, rec); err != nil {
		s.logger.Error("pipeline failed",
			logging.F("meeting_id", meetingID), logging.Err(err))
		if _, failErr := s.machine.Fail(ctx, meetingID, err.Error()); failErr != nil {
			return failErr
		}
		return nil
	}
	return nil
}

func (s *Service) runPipeline(ctx context.Context, rec *meeting.Record) error {
	t, err := s.loadTranscript(ctx, rec)
	if err != nil {
		return fmt.Errorf("loading transcript: %w", err)
	}

	var ownerPrefs map[string]interface{}
	if s.prefs != nil {
		ownerPrefs, err = s.prefs.Get(ctx, rec.Owner, rec.Plugin)
		if err != nil {
			return fmt.Errorf("loading owner preferences: %w", err)
		}
	}

	outputs, err := s.runner.Run(ctx, pipeline.Input{
		MeetingID:       rec.ID,
		PluginName:      rec.Plugin,
		Transcript:      t,
		OwnerPrefs:      ownerPrefs,
		MeetingSettings: rec.PluginSettings,
		Metadata:        rec.Metadata,
	})
	if err != nil {
		return err
	}

	refs, err := s.sink.Store(ctx, rec.ID, outputs)
	if err != nil {
		return fmt.Errorf("persisting artifacts: %w", err)
	}

	outcome, err := s.machine.Complete(ctx, rec.ID, refs, s.cfg.Retention)
	if err != nil {
		return err
	}
	if outcome != meeting.OutcomeApplied {
		s.logger.Warn("completion transition not applied",
			logging.F("meeting_id", rec.ID),
			logging.F("outcome", outcome.String()))
	}
	return nil
}

// uploadRefPrefix marks transcript references that point at locally uploaded
// files rather than provider transcript ids.
const uploadRefPrefix = "file:"

func (s *Service) loadTranscript(ctx context.Context, rec *meeting.Record) (*transcript.Transcript, error) {
	if rec.TranscriptRef == "" {
		return nil, fmt.Errorf("meeting has no transcript reference")
	}
	if path, ok := strings.CutPrefix(rec.TranscriptRef, uploadRefPrefix); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading uploaded transcript: %w", err)
		}
		var t transcript.Transcript
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("decoding uploaded transcript: %w", err)
		}
		return &t, nil
	}

	raw, err := s.bots.FetchTranscript(ctx, rec.TranscriptRef)
	if err != nil {
		return nil, err
	}
	return transcript.Combine(raw), nil
}

// UploadTranscript accepts a user-supplied transcript for a meeting that has
// ended, normalizes it, and enqueues processing. Format is "vtt" or "txt".
func (s *Service) UploadTranscript(ctx context.Context, meetingID, format string, r io.Reader) error {
	if _, err := s.store.Get(ctx, meetingID); err != nil {
		return err
	}

	var t *transcript.Transcript
	var err error
	switch format {
	case "vtt":
		t, err = transcript.ParseVTT(r)
	case "txt", "":
		t, err = transcript.ParseText(r)
	default:
		return fmt.Errorf("%w: unsupported transcript format %q", errors.ErrValidation, format)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrValidation, err)
	}
	if t.Empty() {
		return fmt.Errorf("%w: transcript has no segments", errors.ErrValidation)
	}

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding transcript: %w", err)
	}
	refs, err := s.sink.Store(ctx, meetingID, map[string]string{"transcript.json": string(data)})
	if err != nil {
		return fmt.Errorf("persisting transcript: %w", err)
	}

	outcome, err := s.machine.MarkTranscribing(ctx, meetingID, uploadRefPrefix+refs["transcript.json"])
	if err != nil {
		return err
	}
	if outcome == meeting.OutcomeConflict {
		return errors.ErrConflict
	}
	return s.EnqueueProcessing(ctx, meetingID)
}

// RunRetentionSweep deletes expired records once. Returns the number
// removed.
func (s *Service) RunRetentionSweep(ctx context.Context) (int, error) {
	n, err := s.store.DeleteExpired(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("retention sweep removed records", logging.F("count", n))
	}
	return n, nil
}

// RetentionLoop runs the sweep on the given cadence until ctx is cancelled.
func (s *Service) RetentionLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunRetentionSweep(ctx); err != nil {
				s.logger.Error("retention sweep failed", logging.Err(err))
			}
		}
	}
}

var _ schedule.MeetingStarter = (*Service)(nil)
