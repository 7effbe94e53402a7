package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/meetscribe/meetscribe/pkg/transcript"
)

// FakeProvider is an in-memory BotProvider for tests and dev runs without a
// vendor account.
type FakeProvider struct {
	mu          sync.Mutex
	nextID      int
	CreateErr   error
	Transcripts map[string][]transcript.RawSegment
	Created     []CreateBotRequest
	Removed     []string
}

// NewFakeProvider creates an empty fake.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{Transcripts: make(map[string][]transcript.RawSegment)}
}

func (f *FakeProvider) CreateBot(ctx context.Context, req CreateBotRequest) (*Bot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	f.nextID++
	f.Created = append(f.Created, req)
	return &Bot{ID: fmt.Sprintf("fake-bot-%d", f.nextID)}, nil
}

func (f *FakeProvider) RequestTranscript(ctx context.Context, recordingRef string) (string, error) {
	return "fake-transcript-" + recordingRef, nil
}

func (f *FakeProvider) FetchTranscript(ctx context.Context, transcriptRef string) ([]transcript.RawSegment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	segs, ok := f.Transcripts[transcriptRef]
	if !ok {
		return nil, fmt.Errorf("transcript %s not ready", transcriptRef)
	}
	return segs, nil
}

func (f *FakeProvider) RemoveBot(ctx context.Context, botID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Removed = append(f.Removed, botID)
	return nil
}

var _ BotProvider = (*FakeProvider)(nil)
