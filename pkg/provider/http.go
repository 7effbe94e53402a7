package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/meetscribe/meetscribe/pkg/logging"
	"github.com/meetscribe/meetscribe/pkg/transcript"
)

// HTTPConfig configures the HTTP bot provider client.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPProvider implements BotProvider against a Recall-style REST API.
// Transient failures (429, 5xx, transport errors) are retried up to three
// times with linear backoff.
type HTTPProvider struct {
	cfg    HTTPConfig
	client *http.Client
	logger logging.Logger
}

const maxAttempts = 3

// NewHTTPProvider creates the HTTP provider client.
func NewHTTPProvider(cfg HTTPConfig, logger logging.Logger) *HTTPProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(logging.F("component", "bot-provider")),
	}
}

func (p *HTTPProvider) CreateBot(ctx context.Context, req CreateBotRequest) (*Bot, error) {
	payload := map[string]interface{}{
		"meeting_url": req.MeetingURL,
		"bot_name":    req.BotName,
		"webhook_url": req.WebhookURL,
		"automatic_leave": map[string]int{
			"waiting_room_timeout":  600,
			"noone_joined_timeout":  600,
			"everyone_left_timeout": 2,
		},
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := p.do(ctx, http.MethodPost, "/bot/", payload, &resp); err != nil {
		return nil, fmt.Errorf("creating bot: %w", err)
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("creating bot: response carried no id")
	}
	return &Bot{ID: resp.ID}, nil
}

func (p *HTTPProvider) RequestTranscript(ctx context.Context, recordingRef string) (string, error) {
	payload := map[string]interface{}{
		"provider": map[string]interface{}{
			"speech_to_text": map[string]interface{}{
				"speaker_labels": true,
			},
		},
	}

	var resp struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/recording/%s/create_transcript/", recordingRef)
	if err := p.do(ctx, http.MethodPost, path, payload, &resp); err != nil {
		return "", fmt.Errorf("requesting transcript: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("requesting transcript: response carried no id")
	}
	return resp.ID, nil
}

func (p *HTTPProvider) FetchTranscript(ctx context.Context, transcriptRef string) ([]transcript.RawSegment, error) {
	var meta struct {
		Data struct {
			DownloadURL string `json:"download_url"`
		} `json:"data"`
	}
	path := fmt.Sprintf("/transcript/%s/", transcriptRef)
	if err := p.do(ctx, http.MethodGet, path, nil, &meta); err != nil {
		return nil, fmt.Errorf("fetching transcript metadata: %w", err)
	}
	if meta.Data.DownloadURL == "" {
		return nil, fmt.Errorf("transcript %s has no download url", transcriptRef)
	}

	body, err := p.download(ctx, meta.Data.DownloadURL)
	if err != nil {
		return nil, fmt.Errorf("downloading transcript: %w", err)
	}

	// Word-level payload: a list of participant segments with words.
	var raw []struct {
		Participant struct {
			Name string `json:"name"`
		} `json:"participant"`
		Words []struct {
			Text           string `json:"text"`
			StartTimestamp struct {
				Relative float64 `json:"relative"`
			} `json:"start_timestamp"`
			EndTimestamp struct {
				Relative float64 `json:"relative"`
			} `json:"end_timestamp"`
		} `json:"words"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding transcript: %w", err)
	}

	segments := make([]transcript.RawSegment, 0, len(raw))
	for _, seg := range raw {
		rs := transcript.RawSegment{Speaker: seg.Participant.Name}
		for _, w := range seg.Words {
			rs.Words = append(rs.Words, transcript.Word{
				Text:  w.Text,
				Start: w.StartTimestamp.Relative,
				End:   w.EndTimestamp.Relative,
			})
		}
		segments = append(segments, rs)
	}
	return segments, nil
}

func (p *HTTPProvider) RemoveBot(ctx context.Context, botID string) error {
	path := fmt.Sprintf("/bot/%s/leave_call/", botID)
	if err := p.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("removing bot: %w", err)
	}
	return nil
}

// do issues one API request with bounded retries on transient failures.
func (p *HTTPProvider) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshaling payload: %w", err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		respBody, retryable, err := p.doOnce(ctx, method, path, body)
		if err == nil {
			if out != nil && len(respBody) > 0 {
				if err := json.Unmarshal(respBody, out); err != nil {
					return fmt.Errorf("decoding response: %w", err)
				}
			}
			return nil
		}
		lastErr = err
		if !retryable || attempt == maxAttempts {
			break
		}
		p.logger.Warn("provider call failed, retrying",
			logging.F("path", path),
			logging.F("attempt", attempt),
			logging.Err(err))
		select {
		case <-time.After(time.Duration(attempt) * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func (p *HTTPProvider) doOnce(ctx context.Context, method, path string, body []byte) ([]byte, bool, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, false, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Token "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 50<<20))
	if err != nil {
		return nil, true, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("provider returned %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("provider returned %d: %s", resp.StatusCode, respBody)
	}
	return respBody, false, nil
}

func (p *HTTPProvider) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download returned %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 200<<20))
}

var _ BotProvider = (*HTTPProvider)(nil)
