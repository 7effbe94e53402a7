package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/meetscribe/meetscribe/pkg/llm"
	"github.com/meetscribe/meetscribe/pkg/transcript"
)

// Educational processes class recordings into a study guide. The transcript
// is split into fixed-duration chunks, each chunk is analyzed separately,
// the per-chunk extractions are merged deterministically, and one final
// model call produces the overall summary the study guide is rendered from.
type Educational struct{}

// NewEducational creates the educational plugin.
func NewEducational() *Educational { return &Educational{} }

func (p *Educational) Info() Info {
	return Info{
		Name:        "educational",
		DisplayName: "Educational Study Guide",
		Description: "Extracts concepts, Q&A, and assignments from class recordings into a study guide",
	}
}

func (p *Educational) MetadataSchema() []Field {
	return []Field{
		{Name: "course_name", Type: "string", Required: false, Description: "Course or class series name"},
		{Name: "session_date", Type: "string", Required: false, Description: "Session date, free-form"},
		{Name: "instructor", Type: "string", Required: false, Description: "Instructor name; detected from speaking time when absent"},
	}
}

func (p *Educational) SettingsSchema() []Field {
	return []Field{
		{Name: "chunk_minutes", Type: "int", Default: 10, Description: "Minutes per analysis chunk"},
		{Name: "language", Type: "string", Default: "English", Description: "Output language"},
	}
}

// Configure validates candidate settings against the schema. Chunk length
// must be positive.
func (p *Educational) Configure(settings map[string]interface{}) error {
	if err := validateSettings(p.SettingsSchema(), settings); err != nil {
		return err
	}
	if n := intSetting(settings, "chunk_minutes", 10); n < 1 {
		return fmt.Errorf("chunk_minutes must be at least 1")
	}
	return nil
}

// concept is one extracted technical concept.
type concept struct {
	Name       string   `json:"name"`
	Definition string   `json:"definition"`
	Summary    string   `json:"explanation_summary"`
	Examples   []string `json:"examples_mentioned"`
}

// qaExchange is one student/instructor question-answer pair.
type qaExchange struct {
	Question  string `json:"question"`
	AskedBy   string `json:"asked_by"`
	Answer    string `json:"answer_summary"`
	Timestamp string `json:"timestamp"`
}

// tool is one tool or framework mention.
type tool struct {
	Name    string `json:"name"`
	Context string `json:"context"`
	UseCase string `json:"use_case"`
}

// chunkAnalysis is the structured extraction for one chunk.
type chunkAnalysis struct {
	MainTheme   string       `json:"main_theme"`
	KeyConcepts []concept    `json:"key_concepts"`
	QAExchanges []qaExchange `json:"qa_exchanges"`
	Tools       []tool       `json:"tools_frameworks"`
	Assignments []string     `json:"assignments_tasks"`
	Resources   []string     `json:"resources"`

	// Carried from the chunk, not the model.
	timeRange string
}

// studyGuide is the final consolidated result.
type studyGuide struct {
	Topic              string       `json:"topic"`
	ExecutiveSummary   string       `json:"executive_summary"`
	LearningObjectives []string     `json:"learning_objectives"`
	KeyConcepts        []concept    `json:"key_concepts"`
	QASummary          []qaExchange `json:"qa_exchanges"`
	Tools              []tool       `json:"tools_frameworks"`
	Assignments        []string     `json:"assignments_tasks"`
	Resources          []string     `json:"resources"`
}

const chunkAnalysisPrompt = `You are analyzing a transcript chunk from a class taught by %s.
Time range: %s. Output language: %s.

TRANSCRIPT CHUNK:
%s

Extract structured educational content as JSON with these keys:
- "main_theme": 1-2 sentence summary of what this chunk covers
- "key_concepts": list of {name, definition, explanation_summary, examples_mentioned}
- "qa_exchanges": list of {question, asked_by, answer_summary, timestamp}
- "tools_frameworks": list of {name, context, use_case}
- "assignments_tasks": list of strings
- "resources": list of strings

Return ONLY valid JSON. Use empty lists for categories without content.`

const overallSummaryPrompt = `You are creating a study guide for a class taught by %s.
The recording was analyzed in %d chunks. Output language: %s.

CHUNK EXTRACTIONS:
%s

Produce a JSON object with these keys:
- "topic": a title for this session
- "executive_summary": 2-3 paragraph overview of the whole session
- "learning_objectives": list of strings
- "key_concepts": list of {name, definition, explanation_summary, examples_mentioned}
- "qa_exchanges": already-merged question/answer pairs, same shape as input
- "tools_frameworks": list of {name, context, use_case}
- "assignments_tasks": list of strings
- "resources": list of strings

Return ONLY valid JSON.`

func (p *Educational) Process(ctx context.Context, t *transcript.Transcript, provider llm.Provider, req Request) (map[string]string, error) {
	if t.Empty() {
		return nil, fmt.Errorf("transcript is empty")
	}

	instructor := stringFromMetadata(req.Metadata, "instructor")
	if instructor == "" {
		instructor = t.DominantSpeaker()
	}
	chunkMinutes := intSetting(req.Settings, "chunk_minutes", 10)
	language := stringSetting(req.Settings, "language", "English")

	chunker := transcript.TimeWindows{Minutes: chunkMinutes}
	chunks := chunker.Chunks(t, instructor)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("chunking produced no chunks")
	}

	// Extraction: one structured call per chunk.
	analyses := make([]chunkAnalysis, 0, len(chunks))
	for _, chunk := range chunks {
		var analysis chunkAnalysis
		prompt := fmt.Sprintf(chunkAnalysisPrompt, instructor, chunk.TimeRange, language, chunk.Text)
		if err := llm.CompleteStructuredStrict(ctx, provider, llm.CompletionRequest{
			Prompt:   prompt,
			JSONMode: true,
		}, &analysis); err != nil {
			return nil, fmt.Errorf("analyzing chunk %d: %w", chunk.Number, err)
		}
		analysis.timeRange = chunk.TimeRange
		analyses = append(analyses, analysis)
	}

	merged := consolidate(analyses)

	// Overall summary over the merged extractions.
	mergedJSON, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding merged extractions: %w", err)
	}
	var guide studyGuide
	prompt := fmt.Sprintf(overallSummaryPrompt, instructor, len(chunks), language, mergedJSON)
	if err := llm.CompleteStructuredStrict(ctx, provider, llm.CompletionRequest{
		Prompt:   prompt,
		JSONMode: true,
	}, &guide); err != nil {
		return nil, fmt.Errorf("building study guide: %w", err)
	}

	// The merged facts are authoritative for lists the model tends to trim.
	if len(guide.KeyConcepts) == 0 {
		guide.KeyConcepts = merged.KeyConcepts
	}
	if len(guide.Assignments) == 0 {
		guide.Assignments = merged.Assignments
	}
	if len(guide.Resources) == 0 {
		guide.Resources = merged.Resources
	}

	guideJSON, err := json.MarshalIndent(guide, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding study guide: %w", err)
	}

	return map[string]string{
		"study_guide.md":   renderStudyGuide(&guide, instructor, t, req.Metadata),
		"study_guide.json": string(guideJSON),
	}, nil
}

// mergedAnalysis is the deterministic consolidation of per-chunk extractions.
type mergedAnalysis struct {
	Themes      []string     `json:"themes"`
	KeyConcepts []concept    `json:"key_concepts"`
	QAExchanges []qaExchange `json:"qa_exchanges"`
	Tools       []tool       `json:"tools_frameworks"`
	Assignments []string     `json:"assignments_tasks"`
	Resources   []string     `json:"resources"`
}

// consolidate merges per-chunk extractions: concepts merge by lowercased
// name (first definition wins, examples union), Q&A dedupes by question,
// tools merge by name, assignments and resources dedupe preserving order.
// The result depends only on the input order, which chunk numbering fixes.
func consolidate(analyses []chunkAnalysis) *mergedAnalysis {
	out := &mergedAnalysis{}

	conceptIdx := make(map[string]int)
	toolIdx := make(map[string]int)
	seenQA := make(map[string]bool)
	seenString := make(map[string]bool)

	appendString := func(dst *[]string, s string) {
		key := strings.ToLower(strings.TrimSpace(s))
		if key == "" || seenString[key] {
			return
		}
		seenString[key] = true
		*dst = append(*dst, s)
	}

	for _, a := range analyses {
		if a.MainTheme != "" {
			out.Themes = append(out.Themes, fmt.Sprintf("%s: %s", a.timeRange, a.MainTheme))
		}
		for _, c := range a.KeyConcepts {
			key := strings.ToLower(strings.TrimSpace(c.Name))
			if key == "" {
				continue
			}
			if i, ok := conceptIdx[key]; ok {
				out.KeyConcepts[i].Examples = unionStrings(out.KeyConcepts[i].Examples, c.Examples)
				continue
			}
			conceptIdx[key] = len(out.KeyConcepts)
			out.KeyConcepts = append(out.KeyConcepts, c)
		}
		for _, qa := range a.QAExchanges {
			key := strings.ToLower(strings.TrimSpace(qa.Question))
			if key == "" || seenQA[key] {
				continue
			}
			seenQA[key] = true
			out.QAExchanges = append(out.QAExchanges, qa)
		}
		for _, tl := range a.Tools {
			key := strings.ToLower(strings.TrimSpace(tl.Name))
			if key == "" {
				continue
			}
			if _, ok := toolIdx[key]; ok {
				continue
			}
			toolIdx[key] = len(out.Tools)
			out.Tools = append(out.Tools, tl)
		}
		for _, s := range a.Assignments {
			appendString(&out.Assignments, s)
		}
		for _, s := range a.Resources {
			appendString(&out.Resources, s)
		}
	}
	return out
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	for _, s := range a {
		seen[strings.ToLower(s)] = true
	}
	for _, s := range b {
		if !seen[strings.ToLower(s)] {
			seen[strings.ToLower(s)] = true
			a = append(a, s)
		}
	}
	return a
}

func renderStudyGuide(g *studyGuide, instructor string, t *transcript.Transcript, metadata map[string]interface{}) string {
	var b strings.Builder

	title := g.Topic
	if title == "" {
		title = "Class Study Guide"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)

	if course := stringFromMetadata(metadata, "course_name"); course != "" {
		fmt.Fprintf(&b, "**Course:** %s  \n", course)
	}
	if date := stringFromMetadata(metadata, "session_date"); date != "" {
		fmt.Fprintf(&b, "**Date:** %s  \n", date)
	}
	fmt.Fprintf(&b, "**Instructor:** %s  \n", instructor)
	fmt.Fprintf(&b, "**Duration:** %s  \n", transcript.FormatTimestamp(t.Duration()))
	fmt.Fprintf(&b, "**Participants:** %d\n\n", len(t.Speakers()))

	if g.ExecutiveSummary != "" {
		b.WriteString("## Overview\n\n")
		b.WriteString(g.ExecutiveSummary)
		b.WriteString("\n\n")
	}

	if len(g.LearningObjectives) > 0 {
		b.WriteString("## Learning Objectives\n\n")
		for _, obj := range g.LearningObjectives {
			fmt.Fprintf(&b, "- %s\n", obj)
		}
		b.WriteString("\n")
	}

	if len(g.KeyConcepts) > 0 {
		b.WriteString("## Key Concepts\n\n")
		for _, c := range g.KeyConcepts {
			fmt.Fprintf(&b, "### %s\n\n%s\n\n", c.Name, c.Definition)
			if c.Summary != "" {
				fmt.Fprintf(&b, "%s\n\n", c.Summary)
			}
			if len(c.Examples) > 0 {
				b.WriteString("Examples:\n")
				for _, ex := range c.Examples {
					fmt.Fprintf(&b, "- %s\n", ex)
				}
				b.WriteString("\n")
			}
		}
	}

	if len(g.QASummary) > 0 {
		b.WriteString("## Questions & Answers\n\n")
		for _, qa := range g.QASummary {
			fmt.Fprintf(&b, "**Q (%s): %s**\n\n%s\n\n", qa.AskedBy, qa.Question, qa.Answer)
		}
	}

	if len(g.Tools) > 0 {
		b.WriteString("## Tools & Frameworks\n\n")
		names := make([]string, len(g.Tools))
		for i, tl := range g.Tools {
			names[i] = tl.Name
		}
		sort.Strings(names)
		for _, name := range names {
			for _, tl := range g.Tools {
				if tl.Name == name {
					fmt.Fprintf(&b, "- **%s**: %s", tl.Name, tl.Context)
					if tl.UseCase != "" {
						fmt.Fprintf(&b, " (%s)", tl.UseCase)
					}
					b.WriteString("\n")
					break
				}
			}
		}
		b.WriteString("\n")
	}

	if len(g.Assignments) > 0 {
		b.WriteString("## Assignments\n\n")
		for _, a := range g.Assignments {
			fmt.Fprintf(&b, "- [ ] %s\n", a)
		}
		b.WriteString("\n")
	}

	if len(g.Resources) > 0 {
		b.WriteString("## Resources\n\n")
		for _, r := range g.Resources {
			fmt.Fprintf(&b, "- %s\n", r)
		}
		b.WriteString("\n")
	}

	return b.String()
}

func stringFromMetadata(metadata map[string]interface{}, key string) string {
	if v, ok := metadata[key].(string); ok {
		return v
	}
	return ""
}

var _ Plugin = (*Educational)(nil)
