// Package transcript owns the ordered, per-document transcript and the rules
// that fold interim and final transcription events into it.
package transcript

import (
	"sync"
	"time"

	"github.com/yegors/co-scribe/internal/audio"
	"github.com/yegors/co-scribe/internal/transcription"
)

// Segment is the persisted unit of transcript data
type Segment struct {
	Timestamp time.Time    `json:"timestamp"`
	Source    audio.Source `json:"source"`
	Text      string       `json:"text"`
	IsFinal   bool         `json:"is_final"`
}

// Reconciler keeps segments in arrival order with at most one interim
// segment per source. It is safe for concurrent use.
type Reconciler struct {
	mu       sync.Mutex
	segments []Segment
	pending  map[audio.Source]string
	now      func() time.Time
}

// NewReconciler creates an empty reconciler
func NewReconciler() *Reconciler {
	return &Reconciler{
		pending: make(map[audio.Source]string),
		now:     time.Now,
	}
}

// Apply folds one event for source into the transcript and returns a snapshot
func (r *Reconciler) Apply(ev transcription.Event, source audio.Source) []Segment {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := ev.ReceivedAt
	if ts.IsZero() {
		ts = r.now()
	}

	switch ev.Kind {
	case transcription.EventDelta:
		r.pending[source] += ev.Text
		r.replaceInterim(source, ts)
	case transcription.EventInterim:
		r.pending[source] = ev.Text
		r.replaceInterim(source, ts)
	case transcription.EventFinal:
		r.dropInterim(source)
		r.segments = append(r.segments, Segment{
			Timestamp: ts,
			Source:    source,
			Text:      ev.Text,
			IsFinal:   true,
		})
		delete(r.pending, source)
	}

	return r.snapshot()
}

func (r *Reconciler) replaceInterim(source audio.Source, ts time.Time) {
	r.dropInterim(source)
	r.segments = append(r.segments, Segment{
		Timestamp: ts,
		Source:    source,
		Text:      r.pending[source],
	})
}

func (r *Reconciler) dropInterim(source audio.Source) {
	kept := r.segments[:0]
	for _, s := range r.segments {
		if s.Source == source && !s.IsFinal {
			continue
		}
		kept = append(kept, s)
	}
	// clear the tail so dropped segments are not retained
	for i := len(kept); i < len(r.segments); i++ {
		r.segments[i] = Segment{}
	}
	r.segments = kept
}

// Load replaces the transcript with previously persisted segments. Interim
// segments left over from an interrupted session are promoted to final.
func (r *Reconciler) Load(segments []Segment) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.segments = make([]Segment, len(segments))
	for i, s := range segments {
		s.IsFinal = true
		r.segments[i] = s
	}
	r.pending = make(map[audio.Source]string)
}

// Seal promotes every open interim segment to final and clears the
// accumulators. Used when recording stops mid-utterance.
func (r *Reconciler) Seal() []Segment {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.segments {
		r.segments[i].IsFinal = true
	}
	r.pending = make(map[audio.Source]string)
	return r.snapshot()
}

// Snapshot returns a copy of the current transcript
func (r *Reconciler) Snapshot() []Segment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

// Pending returns the interim accumulator for a source
func (r *Reconciler) Pending(source audio.Source) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending[source]
}

func (r *Reconciler) snapshot() []Segment {
	out := make([]Segment, len(r.segments))
	copy(out, r.segments)
	return out
}
