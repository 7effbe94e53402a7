// Package server exposes the HTTP surface: the meetings and scheduling API,
// the provider webhook, and the internal endpoints the task dispatcher and
// scheduler trigger call.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meetscribe/meetscribe/pkg/errors"
	"github.com/meetscribe/meetscribe/pkg/logging"
	"github.com/meetscribe/meetscribe/pkg/meeting"
	"github.com/meetscribe/meetscribe/pkg/plugin"
	"github.com/meetscribe/meetscribe/pkg/schedule"
	"github.com/meetscribe/meetscribe/pkg/service"
)

// Runner triggers one scheduler poll cycle on demand.
type Runner interface {
	RunOnce(ctx context.Context) int
}

// Config carries the server's listen address and the bearer token guarding
// internal endpoints.
type Config struct {
	ListenAddr string
	TaskToken  string
}

// Server is the HTTP front for the meeting service.
type Server struct {
	cfg       Config
	svc       *service.Service
	schedules schedule.Store
	executor  Runner
	registry  *plugin.Registry
	webhook   http.Handler
	logger    logging.Logger

	listener net.Listener
	server   *http.Server
}

// New builds the server and its routes. gatherer backs /metrics; pass nil to
// use the default Prometheus registry.
func New(cfg Config, svc *service.Service, schedules schedule.Store, executor Runner, registry *plugin.Registry, webhook http.Handler, gatherer prometheus.Gatherer, logger logging.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		svc:       svc,
		schedules: schedules,
		executor:  executor,
		registry:  registry,
		webhook:   webhook,
		logger:    logger.With(logging.F("component", "http-server")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/meetings", s.handleMeetings)
	mux.HandleFunc("/api/meetings/", s.handleMeeting)
	mux.HandleFunc("/api/scheduled", s.handleSchedules)
	mux.HandleFunc("/api/scheduled/", s.handleSchedule)
	mux.HandleFunc("/api/plugins", s.handlePlugins)
	mux.HandleFunc("/api/plugins/", s.handlePlugin)
	mux.Handle("/webhook", webhook)
	mux.HandleFunc("/internal/process/", s.auth(s.handleProcess))
	mux.HandleFunc("/internal/scheduler/run", s.auth(s.handleSchedulerRun))
	mux.HandleFunc("/healthz", s.handleHealth)
	if gatherer == nil {
		mux.Handle("/metrics", promhttp.Handler())
	} else {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Processing callbacks run the pipeline inline.
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the route mux for tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", logging.Err(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("http server listening",
		logging.F("address", listener.Addr().String()))
	return nil
}

// Stop shuts the server down, draining in-flight requests briefly.
func (s *Server) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown", logging.Err(err))
	}
}

// auth validates the bearer token on internal endpoints. An empty configured
// token leaves them open, for local development only.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	if s.cfg.TaskToken == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") || strings.TrimPrefix(header, "Bearer ") != s.cfg.TaskToken {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// createMeetingRequest is the body for POST /api/meetings.
type createMeetingRequest struct {
	Owner          string                 `json:"owner"`
	SourceURL      string                 `json:"source_url"`
	DisplayName    string                 `json:"display_name"`
	Plugin         string                 `json:"plugin"`
	PluginSettings map[string]interface{} `json:"plugin_settings"`
	Metadata       map[string]interface{} `json:"metadata"`
}

func (s *Server) handleMeetings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req createMeetingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		rec, err := s.svc.CreateMeeting(r.Context(), schedule.StartRequest{
			Owner:          req.Owner,
			SourceURL:      req.SourceURL,
			DisplayName:    req.DisplayName,
			Plugin:         req.Plugin,
			PluginSettings: req.PluginSettings,
			Metadata:       req.Metadata,
		})
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, rec)

	case http.MethodGet:
		q := r.URL.Query()
		filter := meeting.ListFilter{
			Owner:  q.Get("owner"),
			Status: meeting.Status(q.Get("status")),
		}
		if v := q.Get("since"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				s.writeError(w, http.StatusBadRequest, "invalid since timestamp")
				return
			}
			filter.Since = t
		}
		if v := q.Get("until"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				s.writeError(w, http.StatusBadRequest, "invalid until timestamp")
				return
			}
			filter.Until = t
		}
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				s.writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			filter.Limit = n
		}
		recs, err := s.svc.ListMeetings(r.Context(), filter)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"meetings": recs})

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleMeeting(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/meetings/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		s.writeError(w, http.StatusNotFound, "meeting not found")
		return
	}

	if sub == "transcript" {
		s.handleTranscriptUpload(w, r, id)
		return
	}
	if sub != "" {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, err := s.svc.GetMeeting(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, rec)

	case http.MethodDelete:
		if err := s.svc.RemoveBot(r.Context(), id); err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "leaving"})

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleTranscriptUpload(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	format := r.URL.Query().Get("format")
	if err := s.svc.UploadTranscript(r.Context(), id, format, r.Body); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// createScheduleRequest is the body for POST /api/scheduled. Callers either
// send scheduled_time as an RFC 3339 instant, or scheduled_time_local plus an
// IANA timezone name.
type createScheduleRequest struct {
	Owner              string                 `json:"owner"`
	SourceURL          string                 `json:"source_url"`
	DisplayName        string                 `json:"display_name"`
	ScheduledTime      time.Time              `json:"scheduled_time"`
	ScheduledTimeLocal string                 `json:"scheduled_time_local"`
	Timezone           string                 `json:"timezone"`
	Plugin             string                 `json:"plugin"`
	PluginSettings     map[string]interface{} `json:"plugin_settings"`
	Metadata           map[string]interface{} `json:"metadata"`
}

// resolveScheduledTime returns the UTC instant the request names.
func (r *createScheduleRequest) resolveScheduledTime() (time.Time, error) {
	if r.ScheduledTimeLocal == "" {
		return r.ScheduledTime.UTC(), nil
	}
	loc := time.UTC
	if r.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(r.Timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("unknown timezone %q", r.Timezone)
		}
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05", r.ScheduledTimeLocal, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid scheduled_time_local: %v", err)
	}
	return t.UTC(), nil
}

func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req createScheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		when, err := req.resolveScheduledTime()
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.SourceURL == "" || when.IsZero() {
			s.writeError(w, http.StatusBadRequest, "source_url and scheduled_time are required")
			return
		}
		rec := &schedule.Record{
			ID:             uuid.New().String(),
			Owner:          req.Owner,
			SourceURL:      req.SourceURL,
			DisplayName:    req.DisplayName,
			ScheduledTime:  when,
			Plugin:         req.Plugin,
			PluginSettings: req.PluginSettings,
			Metadata:       req.Metadata,
		}
		if err := s.schedules.Create(r.Context(), rec); err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, rec)

	case http.MethodGet:
		recs, err := s.schedules.List(r.Context(), r.URL.Query().Get("owner"))
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"scheduled": recs})

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/scheduled/")
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, err := s.schedules.Get(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, rec)

	case http.MethodDelete:
		if err := s.schedules.Cancel(r.Context(), id); err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"plugins": s.registry.List()})
}

func (s *Server) handlePlugin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/plugins/")
	p, err := s.registry.Get(name)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"info":            p.Info(),
		"settings_schema": p.SettingsSchema(),
		"metadata_schema": p.MetadataSchema(),
	})
}

// handleProcess is the task callback. A non-2xx status asks the queue to
// redeliver, so only infrastructure failures return 500; pipeline failures
// are final and answer 200.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/internal/process/")
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusBadRequest, "missing meeting id")
		return
	}
	if err := s.svc.ProcessCallback(r.Context(), id); err != nil {
		s.logger.Error("processing callback failed",
			logging.F("meeting_id", id), logging.Err(err))
		s.writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSchedulerRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	executed := s.executor.RunOnce(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]int{"executed": executed})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encoding response", logging.Err(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}

// writeServiceError maps domain errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.IsNotFound(err):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.IsValidation(err) || errors.IsUnknownPlugin(err):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.IsConflict(err) || errors.IsInvalidState(err):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.IsUnauthorized(err):
		s.writeError(w, http.StatusUnauthorized, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}
