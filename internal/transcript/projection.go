package transcript

import (
	"strings"

	"github.com/yegors/co-scribe/internal/audio"
)

// Label is the speaker label used in rendered transcripts
func Label(source audio.Source) string {
	if source == audio.Microphone {
		return "Me"
	}
	return "Others"
}

// Collapse joins runs of adjacent final segments from the same source into
// one segment. The input is not modified.
func Collapse(segments []Segment) []Segment {
	out := make([]Segment, 0, len(segments))
	for _, s := range segments {
		if n := len(out); n > 0 && s.IsFinal && out[n-1].IsFinal && out[n-1].Source == s.Source {
			out[n-1].Text = joinText(out[n-1].Text, s.Text)
			continue
		}
		out = append(out, s)
	}
	return out
}

func joinText(a, b string) string {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}

// Render produces a labelled plain-text transcript, one block per speaker turn
func Render(segments []Segment) string {
	var sb strings.Builder
	for _, s := range Collapse(segments) {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		sb.WriteString(Label(s.Source))
		sb.WriteString(": ")
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String()
}

// Finals returns only the final segments
func Finals(segments []Segment) []Segment {
	out := make([]Segment, 0, len(segments))
	for _, s := range segments {
		if s.IsFinal {
			out = append(out, s)
		}
	}
	return out
}
