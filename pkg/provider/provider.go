// Package provider abstracts the meeting-bot vendor: creating bots that join
// calls, requesting transcripts for recordings, and fetching transcript
// content.
package provider

import (
	"context"

	"github.com/meetscribe/meetscribe/pkg/transcript"
)

// CreateBotRequest asks the vendor to send a bot into a call.
type CreateBotRequest struct {
	MeetingURL string
	BotName    string
	// WebhookURL receives lifecycle events for this bot.
	WebhookURL string
}

// Bot is the vendor's handle for a created bot. Its ID is the meeting
// record's primary key.
type Bot struct {
	ID string
}

// BotProvider is the vendor port. Implementations bound transient failures
// with their own retries; errors that escape are permanent.
type BotProvider interface {
	// CreateBot sends a bot into the meeting.
	CreateBot(ctx context.Context, req CreateBotRequest) (*Bot, error)

	// RequestTranscript asks for an async transcript of a recording and
	// returns the transcript reference.
	RequestTranscript(ctx context.Context, recordingRef string) (string, error)

	// FetchTranscript downloads a ready transcript as word-level segments.
	FetchTranscript(ctx context.Context, transcriptRef string) ([]transcript.RawSegment, error)

	// RemoveBot makes the bot leave the call. Best effort.
	RemoveBot(ctx context.Context, botID string) error
}
