package transcript

import (
	"fmt"
	"strings"
)

// Chunk is one ordered slice of the transcript prepared for extraction.
type Chunk struct {
	Number    int     `json:"number"`
	TimeRange string  `json:"time_range"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	Text      string  `json:"text"`

	// Per-chunk speaking statistics.
	TotalWords      int      `json:"total_words"`
	DominantWords   int      `json:"dominant_words"`
	OtherWords      int      `json:"other_words"`
	Speakers        []string `json:"speakers"`
	HasInteraction  bool     `json:"has_interaction"`
}

// Chunker splits a transcript into ordered chunks. dominant is the dominant
// speaker name, used for the per-chunk word statistics.
type Chunker interface {
	Chunks(t *Transcript, dominant string) []Chunk
}

// WholeTranscript treats the entire transcript as one chunk.
type WholeTranscript struct{}

func (WholeTranscript) Chunks(t *Transcript, dominant string) []Chunk {
	if t.Empty() {
		return nil
	}
	start := t.Segments[0].Start
	end := t.Segments[len(t.Segments)-1].End
	return []Chunk{buildChunk(1, t.Segments, start, end, dominant)}
}

// TimeWindows splits the transcript into fixed-duration windows. A segment
// belongs to every window it overlaps, so an utterance spanning a boundary
// appears in both neighboring chunks.
type TimeWindows struct {
	// Minutes per window. Zero falls back to 10.
	Minutes int
}

func (c TimeWindows) Chunks(t *Transcript, dominant string) []Chunk {
	if t.Empty() {
		return nil
	}
	minutes := c.Minutes
	if minutes <= 0 {
		minutes = 10
	}
	windowSeconds := float64(minutes * 60)

	meetingStart := t.Segments[0].Start
	meetingEnd := t.Segments[len(t.Segments)-1].End

	var chunks []Chunk
	number := 1
	for cur := meetingStart; cur < meetingEnd; cur += windowSeconds {
		windowEnd := cur + windowSeconds
		if windowEnd > meetingEnd {
			windowEnd = meetingEnd
		}

		var segs []Segment
		for _, seg := range t.Segments {
			if seg.Start < windowEnd && seg.End > cur {
				segs = append(segs, seg)
			}
		}
		if len(segs) == 0 {
			continue
		}
		chunks = append(chunks, buildChunk(number, segs, cur, windowEnd, dominant))
		number++
	}
	return chunks
}

func buildChunk(number int, segs []Segment, start, end float64, dominant string) Chunk {
	var b strings.Builder
	totalWords := 0
	dominantWords := 0
	seen := make(map[string]bool)
	var speakers []string

	for _, seg := range segs {
		fmt.Fprintf(&b, "[%s] %s: %s\n", FormatTimestamp(seg.Start), seg.Speaker, seg.Text)
		totalWords += seg.WordCount
		if seg.Speaker == dominant {
			dominantWords += seg.WordCount
		}
		if !seen[seg.Speaker] {
			seen[seg.Speaker] = true
			speakers = append(speakers, seg.Speaker)
		}
	}

	return Chunk{
		Number:         number,
		TimeRange:      fmt.Sprintf("%s - %s", FormatTimestamp(start), FormatTimestamp(end)),
		Start:          start,
		End:            end,
		Text:           b.String(),
		TotalWords:     totalWords,
		DominantWords:  dominantWords,
		OtherWords:     totalWords - dominantWords,
		Speakers:       speakers,
		HasInteraction: len(speakers) > 1,
	}
}
