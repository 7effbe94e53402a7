package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/meetscribe/meetscribe/pkg/llm"
	"github.com/meetscribe/meetscribe/pkg/transcript"
)

// General is the default plugin: one extraction pass over the whole
// transcript producing meeting notes.
type General struct{}

// NewGeneral creates the general meeting notes plugin.
func NewGeneral() *General { return &General{} }

func (p *General) Info() Info {
	return Info{
		Name:        "general",
		DisplayName: "Meeting Notes",
		Description: "Summary, key points, decisions, and action items for any meeting",
	}
}

func (p *General) MetadataSchema() []Field {
	return []Field{
		{Name: "meeting_title", Type: "string", Required: false, Description: "Title used in the notes header"},
	}
}

func (p *General) SettingsSchema() []Field {
	return []Field{
		{Name: "language", Type: "string", Default: "English", Description: "Output language"},
		{Name: "tone", Type: "string", Default: "neutral", Description: "Writing tone for the summary"},
	}
}

// Configure validates candidate settings against the schema.
func (p *General) Configure(settings map[string]interface{}) error {
	return validateSettings(p.SettingsSchema(), settings)
}

type meetingNotes struct {
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	KeyPoints   []string `json:"key_points"`
	Decisions   []string `json:"decisions"`
	ActionItems []string `json:"action_items"`
}

const notesPrompt = `Summarize this meeting transcript. Output language: %s. Tone: %s.

TRANSCRIPT:
%s

Produce a JSON object with these keys:
- "title": short title for the meeting
- "summary": 1-2 paragraph summary
- "key_points": list of strings
- "decisions": list of decisions made, empty if none
- "action_items": list of strings, each naming the owner when stated

Return ONLY valid JSON.`

func (p *General) Process(ctx context.Context, t *transcript.Transcript, provider llm.Provider, req Request) (map[string]string, error) {
	if t.Empty() {
		return nil, fmt.Errorf("transcript is empty")
	}

	language := stringSetting(req.Settings, "language", "English")
	tone := stringSetting(req.Settings, "tone", "neutral")

	chunks := transcript.WholeTranscript{}.Chunks(t, t.DominantSpeaker())

	var notes meetingNotes
	prompt := fmt.Sprintf(notesPrompt, language, tone, chunks[0].Text)
	if err := llm.CompleteStructuredStrict(ctx, provider, llm.CompletionRequest{
		Prompt:   prompt,
		JSONMode: true,
	}, &notes); err != nil {
		return nil, fmt.Errorf("summarizing transcript: %w", err)
	}

	notesJSON, err := json.MarshalIndent(notes, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding notes: %w", err)
	}

	return map[string]string{
		"notes.md":   renderNotes(&notes, t, req.Metadata),
		"notes.json": string(notesJSON),
	}, nil
}

func renderNotes(n *meetingNotes, t *transcript.Transcript, metadata map[string]interface{}) string {
	var b strings.Builder

	title := stringFromMetadata(metadata, "meeting_title")
	if title == "" {
		title = n.Title
	}
	if title == "" {
		title = "Meeting Notes"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "**Duration:** %s  \n", transcript.FormatTimestamp(t.Duration()))
	fmt.Fprintf(&b, "**Participants:** %s\n\n", strings.Join(t.Speakers(), ", "))

	if n.Summary != "" {
		b.WriteString("## Summary\n\n")
		b.WriteString(n.Summary)
		b.WriteString("\n\n")
	}
	if len(n.KeyPoints) > 0 {
		b.WriteString("## Key Points\n\n")
		for _, kp := range n.KeyPoints {
			fmt.Fprintf(&b, "- %s\n", kp)
		}
		b.WriteString("\n")
	}
	if len(n.Decisions) > 0 {
		b.WriteString("## Decisions\n\n")
		for _, d := range n.Decisions {
			fmt.Fprintf(&b, "- %s\n", d)
		}
		b.WriteString("\n")
	}
	if len(n.ActionItems) > 0 {
		b.WriteString("## Action Items\n\n")
		for _, a := range n.ActionItems {
			fmt.Fprintf(&b, "- [ ] %s\n", a)
		}
		b.WriteString("\n")
	}
	return b.String()
}

var _ Plugin = (*General)(nil)
