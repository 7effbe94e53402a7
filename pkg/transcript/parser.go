package transcript

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ParseVTT parses a WebVTT caption file into a transcript. Cue text of the
// form "Speaker: words" yields the speaker name; otherwise the speaker is
// "Unknown". Consecutive cues from the same speaker are merged into one
// segment.
func ParseVTT(r io.Reader) (*Transcript, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var segments []Segment
	var cueStart, cueEnd float64
	inCue := false

	flushText := func(text string) {
		speaker := "Unknown"
		if idx := strings.Index(text, ":"); idx > 0 && idx < 64 {
			speaker = strings.TrimSpace(text[:idx])
			text = strings.TrimSpace(text[idx+1:])
		}
		if text == "" {
			return
		}
		words := len(strings.Fields(text))
		if n := len(segments); n > 0 && segments[n-1].Speaker == speaker {
			segments[n-1].Text += " " + text
			segments[n-1].End = cueEnd
			segments[n-1].WordCount += words
			return
		}
		segments = append(segments, Segment{
			Speaker:   speaker,
			Text:      text,
			Start:     cueStart,
			End:       cueEnd,
			WordCount: words,
		})
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "" || line == "WEBVTT" || strings.HasPrefix(line, "NOTE"):
			inCue = false
		case strings.Contains(line, "-->"):
			parts := strings.SplitN(line, "-->", 2)
			start, err := parseVTTTime(strings.Fields(parts[0])[0])
			if err != nil {
				return nil, fmt.Errorf("parsing cue start: %w", err)
			}
			end, err := parseVTTTime(strings.Fields(parts[1])[0])
			if err != nil {
				return nil, fmt.Errorf("parsing cue end: %w", err)
			}
			cueStart, cueEnd = start, end
			inCue = true
		case inCue:
			flushText(line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading vtt: %w", err)
	}
	return &Transcript{Segments: segments}, nil
}

// parseVTTTime parses HH:MM:SS.mmm or MM:SS.mmm into seconds.
func parseVTTTime(s string) (float64, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("malformed timestamp %q", s)
	}
	var total float64
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return 0, fmt.Errorf("malformed timestamp %q", s)
		}
		total = total*60 + v
	}
	return total, nil
}

// ParseText parses a plain-text transcript with one utterance per line,
// "Speaker: words". Lines without a speaker prefix continue the previous
// utterance. Time bounds are synthesized at one line per five seconds so
// time-window chunking still produces proportionate chunks.
func ParseText(r io.Reader) (*Transcript, error) {
	const secondsPerLine = 5.0

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var segments []Segment
	lineNum := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		at := float64(lineNum) * secondsPerLine
		lineNum++

		speaker := ""
		text := line
		if idx := strings.Index(line, ":"); idx > 0 && idx < 64 {
			speaker = strings.TrimSpace(line[:idx])
			text = strings.TrimSpace(line[idx+1:])
		}
		words := len(strings.Fields(text))

		if speaker == "" {
			if n := len(segments); n > 0 {
				segments[n-1].Text += " " + text
				segments[n-1].End = at + secondsPerLine
				segments[n-1].WordCount += words
				continue
			}
			speaker = "Unknown"
		}
		segments = append(segments, Segment{
			Speaker:   speaker,
			Text:      text,
			Start:     at,
			End:       at + secondsPerLine,
			WordCount: words,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading transcript: %w", err)
	}
	return &Transcript{Segments: segments}, nil
}
