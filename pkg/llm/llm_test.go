package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meetscribe/meetscribe/pkg/logging"
	"github.com/meetscribe/meetscribe/pkg/observability"
)

func TestStripFences(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain json", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around object", `Here you go: {"a":1} hope that helps`, `{"a":1}`},
		{"array", "```json\n[1,2]\n```", `[1,2]`},
		{"no json at all", "sorry, I cannot do that", "sorry, I cannot do that"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StripFences(tc.in); got != tc.want {
				t.Errorf("StripFences(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	var out struct {
		Theme string `json:"theme"`
	}
	if err := DecodeJSON("```json\n{\"theme\":\"intro\"}\n```", &out); err != nil {
		t.Fatal(err)
	}
	if out.Theme != "intro" {
		t.Errorf("theme = %q", out.Theme)
	}

	err := DecodeJSON("not json", &out)
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("err = %v, want ErrMalformedResponse", err)
	}
}

func newTestOpenAI(t *testing.T, url string) *OpenAIProvider {
	t.Helper()
	metrics := observability.New(prometheus.NewRegistry())
	return NewOpenAIProvider(OpenAIConfig{
		BaseURL: url,
		APIKey:  "test-key",
		Model:   "test-model",
		Timeout: 5 * time.Second,
	}, logging.NewNopLogger(), metrics)
}

func TestOpenAIProvider_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("messages = %+v", req.Messages)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"model": "test-model",
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "hello"}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 2, "total_tokens": 12},
		})
	}))
	defer srv.Close()

	p := newTestOpenAI(t, srv.URL)
	resp, err := p.Complete(context.Background(), CompletionRequest{
		Prompt:       "say hello",
		SystemPrompt: "be brief",
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "hello" || resp.TokensUsed.Total != 12 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestOpenAIProvider_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "ok"}},
			},
		})
	}))
	defer srv.Close()

	p := newTestOpenAI(t, srv.URL)
	resp, err := p.Complete(context.Background(), CompletionRequest{Prompt: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "ok" {
		t.Errorf("content = %q", resp.Content)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestOpenAIProvider_BoundedRetries(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := newTestOpenAI(t, srv.URL)
	if _, err := p.Complete(context.Background(), CompletionRequest{Prompt: "x"}); err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want exactly 3", calls.Load())
	}
}

func TestOpenAIProvider_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	p := newTestOpenAI(t, srv.URL)
	if _, err := p.Complete(context.Background(), CompletionRequest{Prompt: "x"}); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}
