package schedule

import (
	"context"
	"time"

	"github.com/meetscribe/meetscribe/pkg/logging"
	"github.com/meetscribe/meetscribe/pkg/observability"
)

// StartRequest carries everything needed to start a meeting on behalf of a
// scheduled record. It matches the interactive creation entry point.
type StartRequest struct {
	Owner          string
	SourceURL      string
	DisplayName    string
	Plugin         string
	PluginSettings map[string]interface{}
	Metadata       map[string]interface{}
}

// MeetingStarter starts a live meeting and returns its id. The executor uses
// the same entry point interactive creation does.
type MeetingStarter interface {
	StartMeeting(ctx context.Context, req StartRequest) (string, error)
}

// Executor promotes due scheduled records into live meetings. Each candidate
// is claimed with a conditional update before any work happens, so concurrent
// executor runs (overlapping ticks, or a poll racing an HTTP trigger) never
// start the same record twice.
type Executor struct {
	store    Store
	starter  MeetingStarter
	interval time.Duration
	logger   logging.Logger
	metrics  *observability.Metrics
}

// NewExecutor creates an executor polling at the given interval.
func NewExecutor(store Store, starter MeetingStarter, interval time.Duration, logger logging.Logger, metrics *observability.Metrics) *Executor {
	return &Executor{
		store:    store,
		starter:  starter,
		interval: interval,
		logger:   logger.With(logging.F("component", "schedule-executor")),
		metrics:  metrics,
	}
}

// Run polls until ctx is cancelled. The poll interval bounds how late a join
// can start; records due between ticks wait for the next tick.
func (e *Executor) Run(ctx context.Context) {
	e.logger.Info("scheduler started", logging.F("poll_interval", e.interval))
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			e.RunOnce(ctx)
		}
	}
}

// RunOnce performs one poll cycle: find due records, claim each, start its
// meeting. Safe to call concurrently with Run; claims arbitrate. Returns the
// number of records this invocation executed.
func (e *Executor) RunOnce(ctx context.Context) int {
	start := time.Now()
	defer func() {
		e.metrics.SchedulerPollSeconds.Observe(time.Since(start).Seconds())
	}()

	due, err := e.store.Due(ctx, time.Now().UTC())
	if err != nil {
		e.logger.Error("querying due meetings", logging.Err(err))
		return 0
	}

	executed := 0
	for _, rec := range due {
		claimed, err := e.store.Claim(ctx, rec.ID)
		if err != nil {
			e.logger.Error("claiming scheduled meeting",
				logging.F("schedule_id", rec.ID), logging.Err(err))
			continue
		}
		if !claimed {
			e.logger.Debug("claim lost, skipping",
				logging.F("schedule_id", rec.ID))
			e.metrics.ScheduledExecutionsTotal.WithLabelValues("claim_lost").Inc()
			continue
		}
		e.execute(ctx, rec)
		executed++
	}
	return executed
}

// execute starts the meeting for a record this invocation has claimed. Both
// outcomes are terminal; a failed scheduled join is not retried.
func (e *Executor) execute(ctx context.Context, rec *Record) {
	meetingID, err := e.starter.StartMeeting(ctx, StartRequest{
		Owner:          rec.Owner,
		SourceURL:      rec.SourceURL,
		DisplayName:    rec.DisplayName,
		Plugin:         rec.Plugin,
		PluginSettings: rec.PluginSettings,
		Metadata:       rec.Metadata,
	})
	if err != nil {
		e.logger.Warn("scheduled join failed",
			logging.F("schedule_id", rec.ID), logging.Err(err))
		e.metrics.ScheduledExecutionsTotal.WithLabelValues("failed").Inc()
		if markErr := e.store.MarkFailed(ctx, rec.ID, err.Error()); markErr != nil {
			e.logger.Error("recording scheduled failure",
				logging.F("schedule_id", rec.ID), logging.Err(markErr))
		}
		return
	}

	e.logger.Info("scheduled meeting started",
		logging.F("schedule_id", rec.ID),
		logging.F("meeting_id", meetingID),
		logging.F("late_by", time.Since(rec.ScheduledTime)))
	e.metrics.ScheduledExecutionsTotal.WithLabelValues("completed").Inc()
	if err := e.store.MarkCompleted(ctx, rec.ID, meetingID); err != nil {
		e.logger.Error("recording scheduled completion",
			logging.F("schedule_id", rec.ID), logging.Err(err))
	}
}
