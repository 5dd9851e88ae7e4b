package cli

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/co-scribe/internal/audio"
	"github.com/yegors/co-scribe/internal/config"
	"github.com/yegors/co-scribe/internal/output"
	"github.com/yegors/co-scribe/internal/session"
	"github.com/yegors/co-scribe/internal/transcript"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakeRecorder struct {
	notifications chan session.Notification
	startErr      error
	started       chan struct{}

	mu      sync.Mutex
	stopped bool
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		notifications: make(chan session.Notification, 8),
		started:       make(chan struct{}),
	}
}

func (f *fakeRecorder) Start(context.Context, string) error {
	if f.startErr != nil {
		return f.startErr
	}
	close(f.started)
	return nil
}

func (f *fakeRecorder) Stop(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeRecorder) Subscribe() (<-chan session.Notification, func()) {
	return f.notifications, func() {}
}

func seg(source audio.Source, text string, final bool) transcript.Segment {
	return transcript.Segment{Timestamp: time.Date(2026, 1, 2, 10, 0, 0, 0, time.Local), Source: source, Text: text, IsFinal: final}
}

func TestRunRecording(t *testing.T) {
	rec := newFakeRecorder()
	var out syncBuffer
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- runRecording(ctx, rec, "doc", output.NewFormatter(&out)) }()

	<-rec.started
	rec.notifications <- session.Notification{Kind: session.NotifyTranscript, Segments: []transcript.Segment{
		seg(audio.Microphone, "hello", true),
		seg(audio.System, "typ", false),
	}}
	rec.notifications <- session.Notification{Kind: session.NotifyTranscript, Segments: []transcript.Segment{
		seg(audio.Microphone, "hello", true),
		seg(audio.System, "typing", true),
	}}
	rec.notifications <- session.Notification{Kind: session.NotifyError, Error: "mic degraded"}

	require.Eventually(t, func() bool {
		s := out.String()
		return bytes.Contains([]byte(s), []byte("mic degraded"))
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	s := out.String()
	assert.Contains(t, s, "Recording into doc")
	assert.Equal(t, 1, bytes.Count([]byte(s), []byte("Me: hello")))
	assert.Contains(t, s, "Others: typing")
	assert.NotContains(t, s, "Others: typ\n")
	assert.Contains(t, s, "Recording stopped")

	rec.mu.Lock()
	assert.True(t, rec.stopped)
	rec.mu.Unlock()
}

func TestRunRecording_StartError(t *testing.T) {
	rec := newFakeRecorder()
	rec.startErr = errors.New("denied")
	var out bytes.Buffer

	err := runRecording(context.Background(), rec, "doc", output.NewFormatter(&out))
	assert.EqualError(t, err, "denied")
	assert.Empty(t, out.String())
}

func TestFinalPrinter_ResetsOnShorterTranscript(t *testing.T) {
	var out bytes.Buffer
	p := &finalPrinter{formatter: output.NewFormatter(&out)}

	p.print([]transcript.Segment{seg(audio.Microphone, "a", true), seg(audio.Microphone, "b", true)})
	p.print([]transcript.Segment{seg(audio.System, "c", true)})
	assert.Equal(t, "[10:00:00] Me: a\n[10:00:00] Me: b\n[10:00:00] Others: c\n", out.String())
}

func TestRunDoctor(t *testing.T) {
	cfg := config.Default()
	var out bytes.Buffer

	missing := func(string) (string, error) { return "", errors.New("not found") }
	assert.False(t, runDoctor(cfg, output.NewFormatter(&out), missing))
	assert.Contains(t, out.String(), "❌ ffmpeg")
	assert.Contains(t, out.String(), "❌ Transcription (realtime)")

	out.Reset()
	cfg.Transcription.OpenAIAPIKey = "key"
	found := func(name string) (string, error) { return "/usr/bin/" + name, nil }
	assert.True(t, runDoctor(cfg, output.NewFormatter(&out), found))
	assert.Contains(t, out.String(), "✅ ffmpeg: /usr/bin/ffmpeg")
	assert.Contains(t, out.String(), "24000Hz")
	assert.Contains(t, out.String(), "✅ Notes")
}

func TestVersionCmd(t *testing.T) {
	cmd := NewRootCmd(&Dependencies{})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "co-scribe dev")
}
