package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&Config{
		Level:       LevelDebug,
		ServiceName: "test-service",
		JSONFormat:  true,
		Output:      &buf,
	})

	log.Info("hello", F("meeting_id", "bot-123"), F("attempt", 2))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry["service_name"] != "test-service" {
		t.Errorf("service_name = %v, want test-service", entry["service_name"])
	}
	if entry["meeting_id"] != "bot-123" {
		t.Errorf("meeting_id = %v, want bot-123", entry["meeting_id"])
	}
	if entry["attempt"] != float64(2) {
		t.Errorf("attempt = %v, want 2", entry["attempt"])
	}
	if entry["message"] != "hello" {
		t.Errorf("message = %v, want hello", entry["message"])
	}
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&Config{
		Level:      LevelInfo,
		JSONFormat: true,
		Output:     &buf,
	})

	child := log.With(F("component", "executor"))
	child.Info("tick")

	if !strings.Contains(buf.String(), `"component":"executor"`) {
		t.Errorf("expected component field in output, got: %s", buf.String())
	}
}

func TestLogger_WithContext(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&Config{
		Level:      LevelInfo,
		JSONFormat: true,
		Output:     &buf,
	})

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-42")
	log.WithContext(ctx).Info("handling")

	if !strings.Contains(buf.String(), `"request_id":"req-42"`) {
		t.Errorf("expected request_id in output, got: %s", buf.String())
	}
}

func TestLogger_ErrAndDurationFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&Config{
		Level:      LevelInfo,
		JSONFormat: true,
		Output:     &buf,
	})

	log.Error("failed", Err(errors.New("boom")), F("elapsed", 250*time.Millisecond))

	out := buf.String()
	if !strings.Contains(out, `"error":"boom"`) {
		t.Errorf("expected error field in output, got: %s", out)
	}
}

func TestNopLogger(t *testing.T) {
	log := NewNopLogger()
	// Must not panic and must keep returning a usable logger.
	log.Info("ignored")
	log.With(F("k", "v")).WithContext(context.Background()).Error("ignored")
}
