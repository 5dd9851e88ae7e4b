package capture

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yegors/co-scribe/internal/audio"
	"github.com/yegors/co-scribe/pkg/logger"
)

func scriptTap(t *testing.T, source audio.Source, script string) *Tap {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	cfg := Config{
		FFmpegPath:   "ffmpeg",
		InputFormat:  "lavfi",
		Device:       "anullsrc",
		Format:       audio.Format{SampleRate: 16000, Channels: 1, Encoding: audio.S16LE},
		BlockFrames:  4,
		StartupGrace: 2 * time.Second,
	}
	tap := NewTap(source, cfg, logger.NewNop())
	tap.command = func(ctx context.Context, _ string, _ ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", "-c", script)
	}
	return tap
}

func TestConfig_Args(t *testing.T) {
	cfg := Config{
		InputFormat: "pulse",
		Device:      "@DEFAULT_MONITOR@",
		Format:      audio.Format{SampleRate: 48000, Channels: 2, Encoding: audio.F32LE},
	}
	assert.Equal(t, []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", "pulse", "-i", "@DEFAULT_MONITOR@",
		"-ac", "2", "-ar", "48000", "-f", "f32le", "pipe:1",
	}, cfg.Args())
}

func TestDefaultConfig(t *testing.T) {
	mic := DefaultConfig(audio.Microphone)
	sys := DefaultConfig(audio.System)
	assert.Equal(t, 1, mic.Format.Channels)
	assert.Equal(t, 2, sys.Format.Channels)
	assert.NotEqual(t, mic.Device, sys.Device)
	assert.Equal(t, audio.DefaultBlockFrames, mic.BlockFrames)
}

func TestTap_DeliversBlocksUntilStopped(t *testing.T) {
	tap := scriptTap(t, audio.Microphone, "head -c 64 /dev/zero; exec sleep 30")

	var mu sync.Mutex
	var blocks []audio.RawBlock
	var failures atomic.Int32

	err := tap.Start(func(b audio.RawBlock) {
		mu.Lock()
		blocks = append(blocks, b)
		mu.Unlock()
	}, func(error) { failures.Add(1) })
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(blocks) == 8
	}, 2*time.Second, 10*time.Millisecond)

	tap.Stop()
	tap.Stop()

	mu.Lock()
	defer mu.Unlock()
	for _, b := range blocks {
		assert.Equal(t, audio.Microphone, b.Source)
		assert.Equal(t, 4, b.Frames)
		assert.Len(t, b.Data, 8)
	}
	assert.Zero(t, failures.Load())
}

func TestTap_StartTwice(t *testing.T) {
	tap := scriptTap(t, audio.System, "head -c 16 /dev/zero; exec sleep 30")
	require.NoError(t, tap.Start(func(audio.RawBlock) {}, nil))
	defer tap.Stop()

	err := tap.Start(func(audio.RawBlock) {}, nil)
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestTap_PermissionDeniedAtStart(t *testing.T) {
	tap := scriptTap(t, audio.Microphone, `echo "Could not open input device: Permission denied" >&2; exit 1`)

	err := tap.Start(func(audio.RawBlock) {}, func(error) {
		t.Error("onFailure must not fire for a start failure")
	})
	require.Error(t, err)
	assert.True(t, IsPermission(err))

	var capErr *Error
	require.True(t, errors.As(err, &capErr))
	assert.Equal(t, audio.Microphone, capErr.Source)
	tap.Stop()
}

func TestTap_DeviceUnavailableAtStart(t *testing.T) {
	tap := scriptTap(t, audio.System, "exit 1")
	err := tap.Start(func(audio.RawBlock) {}, nil)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.False(t, IsPermission(err))
}

func TestTap_MissingBinary(t *testing.T) {
	cfg := DefaultConfig(audio.Microphone)
	cfg.FFmpegPath = "/nonexistent/ffmpeg"
	tap := NewTap(audio.Microphone, cfg, logger.NewNop())
	err := tap.Start(func(audio.RawBlock) {}, nil)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestTap_ReportsRuntimeFailureOnce(t *testing.T) {
	tap := scriptTap(t, audio.System, "head -c 32 /dev/zero; sleep 0.3; exit 0")

	failures := make(chan error, 4)
	require.NoError(t, tap.Start(func(audio.RawBlock) {}, func(err error) { failures <- err }))

	select {
	case err := <-failures:
		assert.ErrorIs(t, err, ErrMalformedBuffer)
	case <-time.After(3 * time.Second):
		t.Fatal("expected a runtime failure")
	}

	tap.Stop()
	assert.Len(t, failures, 0)
}

// pausingLogger blocks the read loop on its exit warning until release is closed
func pausingLogger(ended chan<- struct{}, release <-chan struct{}) *logger.Logger {
	core, _ := observer.New(zapcore.InfoLevel)
	return &logger.Logger{Logger: zap.New(core, zap.Hooks(func(e zapcore.Entry) error {
		if e.Message == "Audio tap ended unexpectedly" {
			close(ended)
			<-release
		}
		return nil
	}))}
}

func TestTap_NoFailureAfterStopReturns(t *testing.T) {
	tap := scriptTap(t, audio.System, "head -c 32 /dev/zero; sleep 0.2; exit 0")
	ended := make(chan struct{})
	release := make(chan struct{})
	tap.logger = pausingLogger(ended, release)

	var failures atomic.Int32
	require.NoError(t, tap.Start(func(audio.RawBlock) {}, func(error) { failures.Add(1) }))

	select {
	case <-ended:
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not end")
	}

	var stopReturned atomic.Bool
	go func() {
		tap.Stop()
		stopReturned.Store(true)
	}()
	require.Eventually(t, tap.isStopped, time.Second, 5*time.Millisecond)
	assert.False(t, stopReturned.Load())

	close(release)
	require.Eventually(t, stopReturned.Load, time.Second, 5*time.Millisecond)
	assert.Zero(t, failures.Load())
}

func TestTap_StopWaitsForFailureCallback(t *testing.T) {
	tap := scriptTap(t, audio.System, "head -c 32 /dev/zero; sleep 0.2; exit 0")

	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	require.NoError(t, tap.Start(func(audio.RawBlock) {}, func(error) {
		close(entered)
		<-release
		finished.Store(true)
	}))

	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("expected a runtime failure")
	}

	stopped := make(chan struct{})
	go func() {
		tap.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while the failure callback was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
	assert.True(t, finished.Load())
}

func TestNewFactory(t *testing.T) {
	factory := NewFactory(map[audio.Source]Config{
		audio.Microphone: DefaultConfig(audio.Microphone),
	}, logger.NewNop())

	src, err := factory(audio.Microphone)
	require.NoError(t, err)
	assert.Equal(t, audio.Microphone, src.Source())

	a, _ := factory(audio.Microphone)
	assert.NotSame(t, src, a)

	_, err = factory(audio.System)
	assert.Error(t, err)
}

func TestIsPermissionMessage(t *testing.T) {
	assert.True(t, isPermissionMessage("AVFoundation: Operation not permitted"))
	assert.True(t, isPermissionMessage("Access is denied."))
	assert.False(t, isPermissionMessage("No such device"))
}
