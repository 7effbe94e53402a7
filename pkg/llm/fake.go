package llm

import (
	"context"
	"sync"
)

// FakeProvider is a scripted Provider for tests: responses are returned in
// order, one per call, and every request is recorded.
type FakeProvider struct {
	mu        sync.Mutex
	responses []string
	err       error
	Requests  []CompletionRequest
}

// NewFakeProvider creates a fake returning the given responses in order. The
// last response repeats once the script runs out.
func NewFakeProvider(responses ...string) *FakeProvider {
	return &FakeProvider{responses: responses}
}

// Fail makes every subsequent call return err.
func (f *FakeProvider) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *FakeProvider) Name() string { return "fake" }

func (f *FakeProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	f.Requests = append(f.Requests, req)

	content := ""
	if len(f.responses) > 0 {
		content = f.responses[0]
		if len(f.responses) > 1 {
			f.responses = f.responses[1:]
		}
	}
	return &CompletionResponse{Content: content, Model: "fake"}, nil
}

func (f *FakeProvider) CompleteStructured(ctx context.Context, req CompletionRequest, target interface{}) error {
	resp, err := f.Complete(ctx, req)
	if err != nil {
		return err
	}
	return DecodeJSON(resp.Content, target)
}

func (f *FakeProvider) Close() error { return nil }

// CallCount returns how many requests the fake has served.
func (f *FakeProvider) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Requests)
}

var _ Provider = (*FakeProvider)(nil)
