package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestCompleteStructuredStrict_FirstTryClean(t *testing.T) {
	fake := NewFakeProvider(`{"theme":"intro"}`)
	var out struct {
		Theme string `json:"theme"`
	}
	if err := CompleteStructuredStrict(context.Background(), fake, CompletionRequest{Prompt: "p"}, &out); err != nil {
		t.Fatal(err)
	}
	if fake.CallCount() != 1 {
		t.Errorf("calls = %d, want 1", fake.CallCount())
	}
}

func TestCompleteStructuredStrict_RetriesOnceWithStricterPrompt(t *testing.T) {
	fake := NewFakeProvider("sorry, here is prose", `{"theme":"intro"}`)
	var out struct {
		Theme string `json:"theme"`
	}
	if err := CompleteStructuredStrict(context.Background(), fake, CompletionRequest{Prompt: "p"}, &out); err != nil {
		t.Fatal(err)
	}
	if fake.CallCount() != 2 {
		t.Fatalf("calls = %d, want 2", fake.CallCount())
	}
	if !strings.Contains(fake.Requests[1].Prompt, "ONLY a single valid JSON") {
		t.Error("retry prompt not stricter")
	}
	if out.Theme != "intro" {
		t.Errorf("theme = %q", out.Theme)
	}
}

func TestCompleteStructuredStrict_SecondFailurePropagates(t *testing.T) {
	fake := NewFakeProvider("prose one", "prose two")
	var out map[string]interface{}
	err := CompleteStructuredStrict(context.Background(), fake, CompletionRequest{Prompt: "p"}, &out)
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("err = %v, want wrapped ErrMalformedResponse", err)
	}
	if fake.CallCount() != 2 {
		t.Errorf("calls = %d, want exactly 2 (one retry)", fake.CallCount())
	}
}

func TestCompleteStructuredStrict_TransportErrorNotRetried(t *testing.T) {
	fake := NewFakeProvider()
	fake.Fail(errors.New("connection refused"))
	var out map[string]interface{}
	err := CompleteStructuredStrict(context.Background(), fake, CompletionRequest{Prompt: "p"}, &out)
	if err == nil || errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("err = %v", err)
	}
}
