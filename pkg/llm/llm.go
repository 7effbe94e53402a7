// Package llm abstracts the language model used by processing plugins.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Provider is the language model abstraction plugins call through.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Complete sends a completion request and returns the raw response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CompleteStructured sends a request expecting JSON output and decodes
	// it into target. A response that is not valid JSON for the target
	// returns ErrMalformedResponse wrapped with detail.
	CompleteStructured(ctx context.Context, req CompletionRequest, target interface{}) error

	// Close releases provider resources.
	Close() error
}

// ErrMalformedResponse marks a model response that could not be decoded into
// the requested structure. The pipeline retries such calls once with a
// stricter instruction before giving up.
var ErrMalformedResponse = fmt.Errorf("malformed model response")

// CompletionRequest is a request to the model.
type CompletionRequest struct {
	Prompt       string  `json:"prompt"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	JSONMode     bool    `json:"json_mode"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	Temperature  float32 `json:"temperature,omitempty"`
}

// CompletionResponse is a raw model response.
type CompletionResponse struct {
	Content      string     `json:"content"`
	TokensUsed   TokenUsage `json:"tokens_used"`
	Model        string     `json:"model"`
	FinishReason string     `json:"finish_reason,omitempty"`
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// DecodeJSON decodes a model response into target, tolerating a markdown
// code fence around the JSON and prose before or after it.
func DecodeJSON(content string, target interface{}) error {
	cleaned := StripFences(content)
	if err := json.Unmarshal([]byte(cleaned), target); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// StripFences removes a surrounding markdown code fence and trims to the
// outermost JSON object or array when the model wrapped it in prose.
func StripFences(content string) string {
	s := strings.TrimSpace(content)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	// Trim leading/trailing prose around the outermost JSON value.
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	var end int
	if s[start] == '{' {
		end = strings.LastIndex(s, "}")
	} else {
		end = strings.LastIndex(s, "]")
	}
	if end > start {
		return s[start : end+1]
	}
	return s
}
