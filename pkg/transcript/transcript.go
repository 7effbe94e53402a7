// Package transcript holds the normalized transcript model and the chunking
// strategies used by processing plugins. A transcript is an ordered list of
// speaker segments with relative time bounds in seconds.
package transcript

import (
	"fmt"
	"strings"
)

// Word is one recognized word with its time bounds, as delivered by the
// provider's word-level transcript.
type Word struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// RawSegment is one provider segment before normalization: a speaker plus the
// words they spoke.
type RawSegment struct {
	Speaker string `json:"speaker"`
	Words   []Word `json:"words"`
}

// Segment is one normalized utterance.
type Segment struct {
	Speaker   string  `json:"speaker"`
	Text      string  `json:"text"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	WordCount int     `json:"word_count"`
}

// Transcript is the normalized input to the processing pipeline.
type Transcript struct {
	Segments []Segment `json:"segments"`
}

// Combine normalizes word-level provider segments into utterance segments.
// Segments without words are dropped.
func Combine(raw []RawSegment) *Transcript {
	var segments []Segment
	for _, rs := range raw {
		if len(rs.Words) == 0 {
			continue
		}
		parts := make([]string, len(rs.Words))
		for i, w := range rs.Words {
			parts[i] = w.Text
		}
		segments = append(segments, Segment{
			Speaker:   rs.Speaker,
			Text:      strings.Join(parts, " "),
			Start:     rs.Words[0].Start,
			End:       rs.Words[len(rs.Words)-1].End,
			WordCount: len(rs.Words),
		})
	}
	return &Transcript{Segments: segments}
}

// Empty reports whether the transcript has no segments.
func (t *Transcript) Empty() bool {
	return t == nil || len(t.Segments) == 0
}

// Duration returns the span from first segment start to last segment end, in
// seconds.
func (t *Transcript) Duration() float64 {
	if t.Empty() {
		return 0
	}
	return t.Segments[len(t.Segments)-1].End - t.Segments[0].Start
}

// Speakers returns the distinct speaker names in order of first appearance.
func (t *Transcript) Speakers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, seg := range t.Segments {
		if !seen[seg.Speaker] {
			seen[seg.Speaker] = true
			out = append(out, seg.Speaker)
		}
	}
	return out
}

// DominantSpeaker returns the speaker with the highest total word count. In
// an instructed session this is almost always the instructor. Ties break
// toward the earlier first appearance, keeping the result deterministic.
func (t *Transcript) DominantSpeaker() string {
	counts := make(map[string]int)
	for _, seg := range t.Segments {
		counts[seg.Speaker] += seg.WordCount
	}
	best := ""
	bestCount := -1
	for _, speaker := range t.Speakers() {
		if counts[speaker] > bestCount {
			best = speaker
			bestCount = counts[speaker]
		}
	}
	return best
}

// Text renders the transcript as speaker-prefixed lines with timestamps.
func (t *Transcript) Text() string {
	var b strings.Builder
	for _, seg := range t.Segments {
		fmt.Fprintf(&b, "[%s] %s: %s\n", FormatTimestamp(seg.Start), seg.Speaker, seg.Text)
	}
	return b.String()
}

// FormatTimestamp renders seconds as MM:SS.
func FormatTimestamp(seconds float64) string {
	m := int(seconds) / 60
	s := int(seconds) % 60
	return fmt.Sprintf("%02d:%02d", m, s)
}
