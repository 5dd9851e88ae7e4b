package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/yegors/co-scribe/internal/storage/sqlite"
	"github.com/yegors/co-scribe/internal/transcript"
)

type Formatter struct {
	w io.Writer
}

func NewFormatter(w io.Writer) *Formatter {
	return &Formatter{w: w}
}

func (f *Formatter) RecordingStarted(documentID string) {
	fmt.Fprintf(f.w, "🎙️  Recording into %s (Ctrl+C to stop)\n\n", documentID)
}

func (f *Formatter) RecordingStopped(duration time.Duration) {
	fmt.Fprintf(f.w, "\n⏹️  Recording stopped (%s)\n", formatDuration(duration))
}

// Segment prints one final transcript line
func (f *Formatter) Segment(s transcript.Segment) {
	text := strings.TrimSpace(s.Text)
	if text == "" {
		return
	}
	fmt.Fprintf(f.w, "[%s] %s: %s\n", s.Timestamp.Local().Format("15:04:05"), transcript.Label(s.Source), text)
}

func (f *Formatter) Transcript(rendered string) {
	if rendered == "" {
		fmt.Fprintf(f.w, "(empty transcript)\n")
		return
	}
	fmt.Fprint(f.w, rendered)
}

func (f *Formatter) Summarizing() {
	fmt.Fprintf(f.w, "🤖 Generating notes...\n")
}

func (f *Formatter) Notes(content string) {
	fmt.Fprintf(f.w, "\n%s\n", strings.TrimSpace(content))
}

func (f *Formatter) Serving(addr string) {
	fmt.Fprintf(f.w, "🌐 API listening on http://%s/api/v1\n", addr)
}

func (f *Formatter) Error(msg string) {
	fmt.Fprintf(f.w, "❌ %s\n", msg)
}

func (f *Formatter) Info(msg string) {
	fmt.Fprintf(f.w, "ℹ️  %s\n", msg)
}

func (f *Formatter) Success(msg string) {
	fmt.Fprintf(f.w, "✅ %s\n", msg)
}

func (f *Formatter) Warning(msg string) {
	fmt.Fprintf(f.w, "⚠️  %s\n", msg)
}

func (f *Formatter) DocumentListHeader() {
	fmt.Fprintf(f.w, "📁 Documents:\n\n")
}

func (f *Formatter) DocumentListItem(doc *sqlite.DocumentRecord) {
	status := ""
	if doc.HasNotes {
		status = " ✅"
	}
	fmt.Fprintf(f.w, "  %s  %3d segments  %s%s\n",
		doc.UpdatedAt.Local().Format("2006-01-02 15:04"), doc.SegmentCount, doc.ID, status)
}

func (f *Formatter) SetupCheck(name string, ok bool, detail string) {
	if ok {
		fmt.Fprintf(f.w, "  ✅ %s: %s\n", name, detail)
	} else {
		fmt.Fprintf(f.w, "  ❌ %s: %s\n", name, detail)
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
