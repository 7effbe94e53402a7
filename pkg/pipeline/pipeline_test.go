package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meetscribe/meetscribe/pkg/errors"
	"github.com/meetscribe/meetscribe/pkg/llm"
	"github.com/meetscribe/meetscribe/pkg/logging"
	"github.com/meetscribe/meetscribe/pkg/observability"
	"github.com/meetscribe/meetscribe/pkg/plugin"
	"github.com/meetscribe/meetscribe/pkg/transcript"
)

func testTranscript() *transcript.Transcript {
	return &transcript.Transcript{Segments: []transcript.Segment{
		{Speaker: "Alice", Text: "Let us review the quarter", Start: 0, End: 10, WordCount: 5},
		{Speaker: "Bob", Text: "Numbers look good", Start: 10, End: 15, WordCount: 3},
	}}
}

func newTestRunner(provider llm.Provider) *Runner {
	registry := plugin.NewRegistry(plugin.NewGeneral(), plugin.NewEducational())
	metrics := observability.New(prometheus.NewRegistry())
	return NewRunner(registry, provider, logging.NewNopLogger(), metrics)
}

func TestRunner_Run(t *testing.T) {
	fake := llm.NewFakeProvider(`{"title":"Q3 Review","summary":"Went well.","key_points":["revenue up"],"decisions":[],"action_items":[]}`)
	runner := newTestRunner(fake)

	outputs, err := runner.Run(context.Background(), Input{
		MeetingID:  "bot-1",
		PluginName: "general",
		Transcript: testTranscript(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := outputs["notes.md"]; !ok {
		t.Error("notes.md missing")
	}
}

func TestRunner_UnknownPlugin(t *testing.T) {
	runner := newTestRunner(llm.NewFakeProvider())
	_, err := runner.Run(context.Background(), Input{
		MeetingID:  "bot-1",
		PluginName: "nope",
		Transcript: testTranscript(),
	})
	if !errors.IsUnknownPlugin(err) {
		t.Errorf("err = %v, want unknown plugin", err)
	}
}

func TestRunner_SettingsLayering(t *testing.T) {
	fake := llm.NewFakeProvider(`{"title":"t","summary":"s","key_points":[],"decisions":[],"action_items":[]}`)
	runner := newTestRunner(fake)

	_, err := runner.Run(context.Background(), Input{
		MeetingID:       "bot-1",
		PluginName:      "general",
		Transcript:      testTranscript(),
		OwnerPrefs:      map[string]interface{}{"language": "German", "tone": "formal"},
		MeetingSettings: map[string]interface{}{"language": "French"},
	})
	if err != nil {
		t.Fatal(err)
	}

	// Meeting override wins for language, owner preference for tone.
	prompt := fake.Requests[0].Prompt
	if !strings.Contains(prompt, "Output language: French") {
		t.Errorf("meeting override not applied:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Tone: formal") {
		t.Errorf("owner preference not applied:\n%s", prompt)
	}
}

func TestRunner_RerunProducesSameArtifactNames(t *testing.T) {
	resp := `{"title":"t","summary":"s","key_points":[],"decisions":[],"action_items":[]}`
	fake := llm.NewFakeProvider(resp, resp)
	runner := newTestRunner(fake)

	in := Input{MeetingID: "bot-1", PluginName: "general", Transcript: testTranscript()}
	first, err := runner.Run(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	second, err := runner.Run(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	for name := range first {
		if _, ok := second[name]; !ok {
			t.Errorf("artifact %q missing on rerun", name)
		}
	}
}
