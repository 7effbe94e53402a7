package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/meetscribe/meetscribe/pkg/logging"
	"github.com/meetscribe/meetscribe/pkg/observability"
)

// OpenAIConfig configures an OpenAI-compatible chat completion provider.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// OpenAIProvider implements Provider against any OpenAI-compatible chat
// completions endpoint. Transient failures (timeouts, 429, 5xx) are retried
// up to three times with backoff before surfacing.
type OpenAIProvider struct {
	cfg     OpenAIConfig
	client  *http.Client
	logger  logging.Logger
	metrics *observability.Metrics
}

const maxCallAttempts = 3

// NewOpenAIProvider creates a provider for the configured endpoint.
func NewOpenAIProvider(cfg OpenAIConfig, logger logging.Logger, metrics *observability.Metrics) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &OpenAIProvider{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger.With(logging.F("component", "model-client")),
		metrics: metrics,
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai-" + p.cfg.Model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	Temperature    float32       `json:"temperature,omitempty"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	resp, err := p.completeWithRetry(ctx, req)
	p.metrics.ModelLatencySeconds.WithLabelValues("complete").Observe(time.Since(start).Seconds())
	if err != nil {
		p.metrics.ModelCallsTotal.WithLabelValues("complete", "error").Inc()
		return nil, err
	}
	p.metrics.ModelCallsTotal.WithLabelValues("complete", "ok").Inc()
	return resp, nil
}

func (p *OpenAIProvider) completeWithRetry(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= maxCallAttempts; attempt++ {
		resp, retryable, err := p.completeOnce(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable || attempt == maxCallAttempts {
			break
		}
		p.logger.Warn("model call failed, retrying",
			logging.F("attempt", attempt), logging.Err(err))
		select {
		case <-time.After(time.Duration(attempt) * time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("model call exhausted retries: %w", lastErr)
}

func (p *OpenAIProvider) completeOnce(ctx context.Context, req CompletionRequest) (*CompletionResponse, bool, error) {
	var messages []chatMessage
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body := chatRequest{
		Model:       p.cfg.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.JSONMode {
		body.ResponseFormat = &struct {
			Type string `json:"type"`
		}{Type: "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, false, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, false, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, true, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if err != nil {
		return nil, true, fmt.Errorf("reading response: %w", err)
	}

	if httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("model endpoint returned %d", httpResp.StatusCode)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("model endpoint returned %d: %s", httpResp.StatusCode, respBody)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, false, fmt.Errorf("decoding response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, false, fmt.Errorf("model response has no choices")
	}

	return &CompletionResponse{
		Content: parsed.Choices[0].Message.Content,
		TokensUsed: TokenUsage{
			Prompt:     parsed.Usage.PromptTokens,
			Completion: parsed.Usage.CompletionTokens,
			Total:      parsed.Usage.TotalTokens,
		},
		Model:        parsed.Model,
		FinishReason: parsed.Choices[0].FinishReason,
	}, false, nil
}

func (p *OpenAIProvider) CompleteStructured(ctx context.Context, req CompletionRequest, target interface{}) error {
	req.JSONMode = true
	resp, err := p.Complete(ctx, req)
	if err != nil {
		return err
	}
	return DecodeJSON(resp.Content, target)
}

func (p *OpenAIProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

var _ Provider = (*OpenAIProvider)(nil)
