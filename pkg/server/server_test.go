package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetscribe/meetscribe/pkg/artifacts"
	"github.com/meetscribe/meetscribe/pkg/llm"
	"github.com/meetscribe/meetscribe/pkg/logging"
	"github.com/meetscribe/meetscribe/pkg/meeting"
	"github.com/meetscribe/meetscribe/pkg/observability"
	"github.com/meetscribe/meetscribe/pkg/pipeline"
	"github.com/meetscribe/meetscribe/pkg/plugin"
	"github.com/meetscribe/meetscribe/pkg/provider"
	"github.com/meetscribe/meetscribe/pkg/schedule"
	"github.com/meetscribe/meetscribe/pkg/service"
	"github.com/meetscribe/meetscribe/pkg/tasks"
	"github.com/meetscribe/meetscribe/pkg/transcript"
	"github.com/meetscribe/meetscribe/pkg/webhook"
)

const testToken = "task-token"

type env struct {
	ts        *httptest.Server
	store     *meeting.MemoryStore
	schedules *schedule.MemoryStore
	bots      *provider.FakeProvider
	model     *llm.FakeProvider
	svc       *service.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := logging.NewNopLogger()
	metrics := observability.New(nil)
	store := meeting.NewMemoryStore()
	schedules := schedule.NewMemoryStore()
	queue := tasks.NewMemoryQueue(time.Minute, 3)
	bots := provider.NewFakeProvider()
	model := llm.NewFakeProvider(`{"title":"Sync","summary":"Plan agreed.","key_points":[],"decisions":[],"action_items":[]}`)
	registry := plugin.NewRegistry(plugin.NewGeneral(), plugin.NewEducational())
	runner := pipeline.NewRunner(registry, model, logger, metrics)
	sink := artifacts.NewFSSink(t.TempDir())

	svc := service.New(service.Config{
		BotName:       "Meetscribe Notetaker",
		WebhookURL:    "https://example.test/webhook",
		DefaultPlugin: "general",
	}, store, queue, registry, runner, bots, sink, service.NewMemoryPrefs(), logger, metrics)

	executor := schedule.NewExecutor(schedules, svc, time.Minute, logger, metrics)
	wh := webhook.NewHandler("", svc.Machine(), store, bots, svc, logger, metrics)

	srv := New(Config{ListenAddr: "127.0.0.1:0", TaskToken: testToken},
		svc, schedules, executor, registry, wh, nil, logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &env{ts: ts, store: store, schedules: schedules, bots: bots, model: model, svc: svc}
}

func (e *env) do(t *testing.T, method, path, token string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.ts.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func (e *env) createMeeting(t *testing.T) string {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/meetings", "", map[string]interface{}{
		"owner":      "ana@example.com",
		"source_url": "https://meet.example.com/abc",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var rec meeting.Record
	require.NoError(t, json.Unmarshal(body, &rec))
	return rec.ID
}

// advanceToQueued walks a meeting to queued directly through the service, so
// callback tests do not depend on webhook routing.
func (e *env) advanceToQueued(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	m := e.svc.Machine()
	_, err := m.MarkEnded(ctx, id, "rec-1")
	require.NoError(t, err)
	_, err = m.MarkTranscribing(ctx, id, "tr-1")
	require.NoError(t, err)
	e.bots.Transcripts["tr-1"] = []transcript.RawSegment{
		{Speaker: "Ana", Words: []transcript.Word{{Text: "hello", Start: 0, End: 1}}},
	}
	require.NoError(t, e.svc.EnqueueProcessing(ctx, id))
}

func TestCreateAndGetMeeting(t *testing.T) {
	e := newEnv(t)
	id := e.createMeeting(t)

	resp, body := e.do(t, http.MethodGet, "/api/meetings/"+id, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rec meeting.Record
	require.NoError(t, json.Unmarshal(body, &rec))
	assert.Equal(t, meeting.StatusJoining, rec.Status)
	assert.Equal(t, "general", rec.Plugin)
}

func TestCreateMeetingUnknownPlugin(t *testing.T) {
	e := newEnv(t)
	resp, _ := e.do(t, http.MethodPost, "/api/meetings", "", map[string]interface{}{
		"source_url": "https://meet.example.com/abc",
		"plugin":     "bogus",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetMeetingNotFound(t *testing.T) {
	e := newEnv(t)
	resp, _ := e.do(t, http.MethodGet, "/api/meetings/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListMeetingsFilters(t *testing.T) {
	e := newEnv(t)
	e.createMeeting(t)

	resp, body := e.do(t, http.MethodGet, "/api/meetings?owner=ana@example.com", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Meetings []meeting.Record `json:"meetings"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Len(t, out.Meetings, 1)

	resp, body = e.do(t, http.MethodGet, "/api/meetings?owner=nobody@example.com", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Empty(t, out.Meetings)
}

func TestProcessCallbackRequiresToken(t *testing.T) {
	e := newEnv(t)
	id := e.createMeeting(t)

	resp, _ := e.do(t, http.MethodPost, "/internal/process/"+id, "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/internal/process/"+id, "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProcessCallbackIdempotent(t *testing.T) {
	e := newEnv(t)
	id := e.createMeeting(t)
	e.advanceToQueued(t, id)

	resp, _ := e.do(t, http.MethodPost, "/internal/process/"+id, testToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	calls := e.model.CallCount()

	// A duplicate delivery must answer 200 without reprocessing.
	resp, _ = e.do(t, http.MethodPost, "/internal/process/"+id, testToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, calls, e.model.CallCount())

	rec, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, meeting.StatusCompleted, rec.Status)
	assert.Contains(t, rec.Outputs, "notes.md")
}

func TestScheduleLifecycle(t *testing.T) {
	e := newEnv(t)

	resp, body := e.do(t, http.MethodPost, "/api/scheduled", "", map[string]interface{}{
		"owner":          "ana@example.com",
		"source_url":     "https://meet.example.com/abc",
		"scheduled_time": time.Now().UTC().Add(-time.Minute).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var rec schedule.Record
	require.NoError(t, json.Unmarshal(body, &rec))
	assert.Equal(t, schedule.StatusScheduled, rec.Status)

	// Trigger a poll over HTTP; the due record starts a meeting.
	resp, body = e.do(t, http.MethodPost, "/internal/scheduler/run", testToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var run struct {
		Executed int `json:"executed"`
	}
	require.NoError(t, json.Unmarshal(body, &run))
	assert.Equal(t, 1, run.Executed)

	resp, body = e.do(t, http.MethodGet, "/api/scheduled/"+rec.ID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &rec))
	assert.Equal(t, schedule.StatusCompleted, rec.Status)
	assert.NotEmpty(t, rec.ActualMeetingID)
}

func TestCancelAfterExecutionConflicts(t *testing.T) {
	e := newEnv(t)
	resp, body := e.do(t, http.MethodPost, "/api/scheduled", "", map[string]interface{}{
		"source_url":     "https://meet.example.com/abc",
		"scheduled_time": time.Now().UTC().Add(-time.Minute).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var rec schedule.Record
	require.NoError(t, json.Unmarshal(body, &rec))

	resp, _ = e.do(t, http.MethodPost, "/internal/scheduler/run", testToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = e.do(t, http.MethodDelete, "/api/scheduled/"+rec.ID, "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCancelScheduled(t *testing.T) {
	e := newEnv(t)
	resp, body := e.do(t, http.MethodPost, "/api/scheduled", "", map[string]interface{}{
		"source_url":     "https://meet.example.com/abc",
		"scheduled_time": time.Now().UTC().Add(time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var rec schedule.Record
	require.NoError(t, json.Unmarshal(body, &rec))

	resp, _ = e.do(t, http.MethodDelete, "/api/scheduled/"+rec.ID, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = e.do(t, http.MethodGet, "/api/scheduled/"+rec.ID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &rec))
	assert.Equal(t, schedule.StatusCancelled, rec.Status)
}

func TestScheduleLocalTimeWithZone(t *testing.T) {
	e := newEnv(t)
	resp, body := e.do(t, http.MethodPost, "/api/scheduled", "", map[string]interface{}{
		"source_url":           "https://meet.example.com/abc",
		"scheduled_time_local": "2026-09-01T09:30:00",
		"timezone":             "America/New_York",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var rec schedule.Record
	require.NoError(t, json.Unmarshal(body, &rec))

	// 09:30 EDT is 13:30 UTC.
	assert.Equal(t, time.Date(2026, 9, 1, 13, 30, 0, 0, time.UTC), rec.ScheduledTime.UTC())

	resp, _ = e.do(t, http.MethodPost, "/api/scheduled", "", map[string]interface{}{
		"source_url":           "https://meet.example.com/abc",
		"scheduled_time_local": "2026-09-01T09:30:00",
		"timezone":             "Mars/Olympus",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPluginsEndpoint(t *testing.T) {
	e := newEnv(t)

	resp, body := e.do(t, http.MethodGet, "/api/plugins", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Plugins []plugin.Info `json:"plugins"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Plugins, 2)
	assert.Equal(t, "educational", list.Plugins[0].Name)
	assert.Equal(t, "general", list.Plugins[1].Name)

	resp, _ = e.do(t, http.MethodGet, "/api/plugins/general", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/api/plugins/bogus", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhookRoute(t *testing.T) {
	e := newEnv(t)
	id := e.createMeeting(t)

	resp, _ := e.do(t, http.MethodPost, "/webhook", "", map[string]interface{}{
		"event_type": webhook.EventBotJoined,
		"data":       map[string]string{"meeting_ref": id},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	rec, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, meeting.StatusInMeeting, rec.Status)
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	resp, _ := e.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsExposed(t *testing.T) {
	e := newEnv(t)
	resp, body := e.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body)
}
