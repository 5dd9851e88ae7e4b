package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yegors/co-scribe/internal/audio"
	"github.com/yegors/co-scribe/pkg/logger"
)

// DefaultStartupGrace is how long Start waits for the first samples or an
// early exit before declaring the tap running
const DefaultStartupGrace = 500 * time.Millisecond

// Config describes how a tap opens its device
type Config struct {
	FFmpegPath   string
	InputFormat  string // avfoundation, pulse, dshow, alsa
	Device       string
	Format       audio.Format // device-native stream requested from ffmpeg
	BlockFrames  int
	StartupGrace time.Duration
	ExtraArgs    []string
}

// DefaultConfig returns platform defaults for a source
func DefaultConfig(source audio.Source) Config {
	cfg := Config{
		FFmpegPath:   "ffmpeg",
		BlockFrames:  audio.DefaultBlockFrames,
		StartupGrace: DefaultStartupGrace,
		Format:       audio.Format{SampleRate: 48000, Channels: 1, Encoding: audio.F32LE},
	}
	if source == audio.System {
		cfg.Format.Channels = 2
	}

	switch runtime.GOOS {
	case "darwin":
		cfg.InputFormat = "avfoundation"
		cfg.Device = ":default"
		if source == audio.System {
			// needs a loopback driver such as BlackHole
			cfg.Device = ":BlackHole 2ch"
		}
	case "windows":
		cfg.InputFormat = "dshow"
		cfg.Device = "audio=default"
		if source == audio.System {
			cfg.Device = "audio=Stereo Mix"
		}
	default:
		cfg.InputFormat = "pulse"
		cfg.Device = "default"
		if source == audio.System {
			cfg.Device = "@DEFAULT_MONITOR@"
		}
	}
	return cfg
}

// Args builds the ffmpeg command line for the tap
func (c Config) Args() []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	args = append(args, c.ExtraArgs...)
	args = append(args,
		"-f", c.InputFormat,
		"-i", c.Device,
		"-ac", strconv.Itoa(c.Format.Channels),
		"-ar", strconv.Itoa(c.Format.SampleRate),
		"-f", string(c.Format.Encoding),
		"pipe:1",
	)
	return args
}

type commandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Tap is a capture source backed by an ffmpeg child process
type Tap struct {
	source  audio.Source
	cfg     Config
	logger  *logger.Logger
	command commandFunc

	mu          sync.Mutex
	started     bool
	stopped     bool
	startupDone bool
	exitErr     error
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewTap creates a tap for one source. The device is not opened until Start.
func NewTap(source audio.Source, cfg Config, log *logger.Logger) *Tap {
	if cfg.StartupGrace <= 0 {
		cfg.StartupGrace = DefaultStartupGrace
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	return &Tap{
		source:  source,
		cfg:     cfg,
		logger:  log.Named("capture-" + source.Short()),
		command: exec.CommandContext,
	}
}

// NewFactory returns a Factory that builds taps from per-source configs
func NewFactory(configs map[audio.Source]Config, log *logger.Logger) Factory {
	return func(source audio.Source) (Source, error) {
		cfg, ok := configs[source]
		if !ok {
			return nil, fmt.Errorf("no capture configured for %s", source)
		}
		return NewTap(source, cfg, log), nil
	}
}

// Source implements Source
func (t *Tap) Source() audio.Source {
	return t.source
}

// Start implements Source
func (t *Tap) Start(onBlock func(audio.RawBlock), onFailure func(error)) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return &Error{Source: t.source, Kind: ErrAlreadyStarted}
	}
	t.started = true
	t.mu.Unlock()

	chunker, err := audio.NewChunker(t.source, t.cfg.Format, t.cfg.BlockFrames)
	if err != nil {
		return &Error{Source: t.source, Kind: ErrDeviceUnavailable, Err: err}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := t.command(ctx, t.cfg.FFmpegPath, t.cfg.Args()...)
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return &Error{Source: t.source, Kind: ErrDeviceUnavailable, Err: err}
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return &Error{Source: t.source, Kind: ErrDeviceUnavailable, Err: err}
	}

	done := make(chan struct{})
	firstData := make(chan struct{})
	t.mu.Lock()
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	t.logger.Info("Started audio tap",
		logger.String("input_format", t.cfg.InputFormat),
		logger.String("device", t.cfg.Device),
		logger.String("format", t.cfg.Format.String()))

	go t.readLoop(ctx, cmd, stdout, chunker, stderr, firstData, done, onBlock, onFailure)

	select {
	case <-firstData:
	case <-done:
	case <-time.After(t.cfg.StartupGrace):
	}

	t.mu.Lock()
	t.startupDone = true
	exitErr := t.exitErr
	t.mu.Unlock()

	if exitErr != nil {
		return exitErr
	}
	return nil
}

func (t *Tap) readLoop(
	ctx context.Context,
	cmd *exec.Cmd,
	stdout io.Reader,
	chunker *audio.Chunker,
	stderr *tailBuffer,
	firstData chan struct{},
	done chan struct{},
	onBlock func(audio.RawBlock),
	onFailure func(error),
) {
	buf := make([]byte, chunker.BlockBytes())
	gotData := false
	var readErr error

	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if !gotData {
				gotData = true
				close(firstData)
			}
			blocks, cerr := chunker.ProcessChunk(buf[:n])
			if cerr != nil {
				readErr = cerr
				break
			}
			for _, block := range blocks {
				if t.isStopped() {
					break
				}
				onBlock(block)
			}
		}
		if err != nil {
			break
		}
	}

	waitErr := cmd.Wait()

	var failure error
	if ctx.Err() == nil {
		failure = t.classify(gotData, readErr, waitErr, stderr.String())
	}

	t.mu.Lock()
	running := t.startupDone
	if !t.startupDone {
		t.exitErr = failure
		if failure == nil && ctx.Err() != nil {
			t.exitErr = &Error{Source: t.source, Kind: ErrDeviceUnavailable, Err: ctx.Err()}
		}
	}
	t.mu.Unlock()

	if failure != nil {
		t.logger.Warn("Audio tap ended unexpectedly",
			logger.Error(failure),
			logger.Int("pending_bytes", chunker.Pending()))
	}

	// Stop waits on done, so onFailure runs before it and never after Stop returns
	if failure != nil && running && onFailure != nil && !t.isStopped() {
		onFailure(failure)
	}
	close(done)
}

func (t *Tap) classify(gotData bool, readErr, waitErr error, diagnostics string) error {
	cause := readErr
	if cause == nil {
		cause = waitErr
	}
	if diagnostics != "" {
		if cause == nil {
			cause = errors.New(strings.TrimSpace(diagnostics))
		} else {
			cause = fmt.Errorf("%w: %s", cause, strings.TrimSpace(diagnostics))
		}
	}

	switch {
	case isPermissionMessage(diagnostics):
		return &Error{Source: t.source, Kind: ErrPermissionDenied, Err: cause}
	case !gotData:
		return &Error{Source: t.source, Kind: ErrDeviceUnavailable, Err: cause}
	default:
		if cause == nil {
			cause = errors.New("stream ended")
		}
		return &Error{Source: t.source, Kind: ErrMalformedBuffer, Err: cause}
	}
}

func (t *Tap) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Stop implements Source
func (t *Tap) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	cancel, done := t.cancel, t.done
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	t.logger.Info("Stopped audio tap")
}

var permissionMarkers = []string{
	"permission denied",
	"operation not permitted",
	"not authorized",
	"access denied",
	"access is denied",
}

func isPermissionMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range permissionMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
