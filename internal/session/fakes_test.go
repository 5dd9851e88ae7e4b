package session

import (
	"context"
	"sync"
	"time"

	"github.com/yegors/co-scribe/internal/audio"
	"github.com/yegors/co-scribe/internal/capture"
	"github.com/yegors/co-scribe/internal/transcript"
	"github.com/yegors/co-scribe/internal/transcription"
)

type fakeTap struct {
	source   audio.Source
	startErr error

	mu        sync.Mutex
	started   bool
	stopped   bool
	onBlock   func(audio.RawBlock)
	onFailure func(error)
}

func (t *fakeTap) Source() audio.Source { return t.source }

func (t *fakeTap) Start(onBlock func(audio.RawBlock), onFailure func(error)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.startErr != nil {
		return t.startErr
	}
	t.started = true
	t.onBlock = onBlock
	t.onFailure = onFailure
	return nil
}

func (t *fakeTap) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *fakeTap) isStarted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

func (t *fakeTap) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *fakeTap) emit(block audio.RawBlock) {
	t.mu.Lock()
	onBlock := t.onBlock
	t.mu.Unlock()
	onBlock(block)
}

func (t *fakeTap) fail(err error) {
	t.mu.Lock()
	onFailure := t.onFailure
	t.mu.Unlock()
	onFailure(err)
}

type fakeCaptures struct {
	mu       sync.Mutex
	taps     map[audio.Source][]*fakeTap
	startErr map[audio.Source]error
}

func newFakeCaptures() *fakeCaptures {
	return &fakeCaptures{
		taps:     make(map[audio.Source][]*fakeTap),
		startErr: make(map[audio.Source]error),
	}
}

func (f *fakeCaptures) factory(source audio.Source) (capture.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tap := &fakeTap{source: source, startErr: f.startErr[source]}
	f.taps[source] = append(f.taps[source], tap)
	return tap, nil
}

func (f *fakeCaptures) setStartErr(source audio.Source, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr[source] = err
}

func (f *fakeCaptures) count(source audio.Source) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.taps[source])
}

func (f *fakeCaptures) last(source audio.Source) *fakeTap {
	f.mu.Lock()
	defer f.mu.Unlock()
	taps := f.taps[source]
	if len(taps) == 0 {
		return nil
	}
	return taps[len(taps)-1]
}

type fakeChannel struct {
	source audio.Source

	mu       sync.Mutex
	handlers transcription.Handlers
	closed   bool
	sent     []audio.CanonicalBlock
}

func (c *fakeChannel) Connect(h transcription.Handlers) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = h
}

func (c *fakeChannel) Send(block audio.CanonicalBlock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, block)
}

func (c *fakeChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeChannel) SampleRate() int { return 16000 }

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) sentBlocks() []audio.CanonicalBlock {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audio.CanonicalBlock(nil), c.sent...)
}

func (c *fakeChannel) h() transcription.Handlers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlers
}

func (c *fakeChannel) event(kind transcription.EventKind, text string) {
	c.h().OnEvent(transcription.Event{Kind: kind, Text: text, ReceivedAt: time.Now()})
}

type fakeChannels struct {
	mu       sync.Mutex
	channels map[audio.Source][]*fakeChannel
}

func newFakeChannels() *fakeChannels {
	return &fakeChannels{channels: make(map[audio.Source][]*fakeChannel)}
}

func (f *fakeChannels) factory(source audio.Source) (transcription.ChannelInterface, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := &fakeChannel{source: source}
	f.channels[source] = append(f.channels[source], ch)
	return ch, nil
}

func (f *fakeChannels) count(source audio.Source) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.channels[source])
}

func (f *fakeChannels) last(source audio.Source) *fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	chs := f.channels[source]
	if len(chs) == 0 {
		return nil
	}
	return chs[len(chs)-1]
}

type fakeStore struct {
	mu       sync.Mutex
	docs     map[string][]transcript.Segment
	persists int
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: make(map[string][]transcript.Segment)}
}

func (s *fakeStore) LoadCurrentTranscript(_ context.Context, documentID string) ([]transcript.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transcript.Segment(nil), s.docs[documentID]...), nil
}

func (s *fakeStore) Persist(_ context.Context, documentID string, segments []transcript.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[documentID] = append([]transcript.Segment(nil), segments...)
	s.persists++
	return nil
}

func (s *fakeStore) get(documentID string) []transcript.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[documentID]
}

type fakeTimer struct{}

func (fakeTimer) Stop() bool { return true }

// fakeTimers records every scheduled delay. In manual mode callbacks are
// held until fire is called, otherwise they run immediately.
type fakeTimers struct {
	mu      sync.Mutex
	manual  bool
	delays  []time.Duration
	pending []func()
}

func (f *fakeTimers) afterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays = append(f.delays, d)
	if f.manual {
		f.pending = append(f.pending, fn)
	} else {
		go fn()
	}
	return fakeTimer{}
}

func (f *fakeTimers) count(d time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, got := range f.delays {
		if got == d {
			n++
		}
	}
	return n
}

func (f *fakeTimers) fire() {
	f.mu.Lock()
	pending := f.pending
	f.pending = nil
	f.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}
