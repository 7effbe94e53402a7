// Package pipeline runs the transcript processing pipeline for one meeting:
// resolve the plugin, merge its settings layers, and execute it over the
// normalized transcript. The run is a pure function of its inputs; artifact
// persistence and status transitions belong to the caller.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/meetscribe/meetscribe/pkg/llm"
	"github.com/meetscribe/meetscribe/pkg/logging"
	"github.com/meetscribe/meetscribe/pkg/observability"
	"github.com/meetscribe/meetscribe/pkg/plugin"
	"github.com/meetscribe/meetscribe/pkg/transcript"
)

// Input carries everything one pipeline run needs.
type Input struct {
	MeetingID  string
	PluginName string
	Transcript *transcript.Transcript

	// Settings layers, weakest first: the plugin's declared defaults are
	// merged beneath these two.
	OwnerPrefs      map[string]interface{}
	MeetingSettings map[string]interface{}

	Metadata map[string]interface{}
}

// Runner executes pipeline runs against a fixed registry and model provider.
type Runner struct {
	registry *plugin.Registry
	provider llm.Provider
	logger   logging.Logger
	metrics  *observability.Metrics
}

// NewRunner creates a pipeline runner.
func NewRunner(registry *plugin.Registry, provider llm.Provider, logger logging.Logger, metrics *observability.Metrics) *Runner {
	return &Runner{
		registry: registry,
		provider: provider,
		logger:   logger.With(logging.F("component", "pipeline")),
		metrics:  metrics,
	}
}

// Run executes the pipeline and returns the named artifacts. Rerunning with
// the same inputs is safe: nothing is persisted here, so a retry after a
// partial failure cannot corrupt state.
func (r *Runner) Run(ctx context.Context, in Input) (map[string]string, error) {
	p, err := r.registry.Get(in.PluginName)
	if err != nil {
		return nil, err
	}

	settings := plugin.ResolveSettings(
		plugin.Defaults(p.SettingsSchema()),
		in.OwnerPrefs,
		in.MeetingSettings,
	)
	// Settings were checked at creation, but owner preferences may have
	// changed since; reject a bad merge before spending model calls.
	if err := p.Configure(settings); err != nil {
		return nil, fmt.Errorf("plugin %q settings: %w", in.PluginName, err)
	}

	log := r.logger.With(
		logging.F("meeting_id", in.MeetingID),
		logging.F("plugin", in.PluginName))
	log.Info("pipeline run starting",
		logging.F("segments", len(in.Transcript.Segments)))

	start := time.Now()
	outputs, err := p.Process(ctx, in.Transcript, r.provider, plugin.Request{
		MeetingID: in.MeetingID,
		Settings:  settings,
		Metadata:  in.Metadata,
	})
	elapsed := time.Since(start)
	r.metrics.PipelineSeconds.WithLabelValues(in.PluginName).Observe(elapsed.Seconds())

	if err != nil {
		r.metrics.PipelineRunsTotal.WithLabelValues(in.PluginName, "failed").Inc()
		log.Error("pipeline run failed", logging.Err(err))
		return nil, fmt.Errorf("plugin %q: %w", in.PluginName, err)
	}
	if len(outputs) == 0 {
		r.metrics.PipelineRunsTotal.WithLabelValues(in.PluginName, "failed").Inc()
		return nil, fmt.Errorf("plugin %q produced no artifacts", in.PluginName)
	}

	r.metrics.PipelineRunsTotal.WithLabelValues(in.PluginName, "completed").Inc()
	log.Info("pipeline run completed",
		logging.F("artifacts", len(outputs)),
		logging.F("elapsed", elapsed))
	return outputs, nil
}
