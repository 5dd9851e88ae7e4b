package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yegors/co-scribe/internal/audio"
	"github.com/yegors/co-scribe/internal/capture"
	"github.com/yegors/co-scribe/internal/transcription"
	"github.com/yegors/co-scribe/pkg/logger"
)

const convertWarnEvery = 5 * time.Second

// pipeline is one source's capture -> convert -> send path for one session.
// Retry bookkeeping lives on the controller under its lock; the fields here
// are reached from the capture goroutine and guarded by mu.
type pipeline struct {
	source audio.Source
	logger *logger.Logger

	// guarded by Controller.mu
	captureRetries int
	channelRetries int
	serverRetried  bool
	degraded       bool

	mu          sync.Mutex
	closed      bool
	tap         capture.Source
	channel     transcription.ChannelInterface
	sampleRate  int
	archive     *audio.WAVWriter
	convertErrs int
	lastWarn    time.Time
	audioSent   time.Duration
}

func newPipeline(source audio.Source, log *logger.Logger) *pipeline {
	return &pipeline{source: source, logger: log.WithSource(source.String())}
}

// handleBlock converts one raw block and forwards it. It runs on the capture
// goroutine and never blocks on the network.
func (p *pipeline) handleBlock(block audio.RawBlock) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.sampleRate == 0 {
		return
	}

	out, err := audio.Convert(block, audio.Canonical(p.sampleRate))
	if err != nil {
		p.convertErrs++
		if now := time.Now(); now.Sub(p.lastWarn) >= convertWarnEvery {
			p.logger.Warn("Dropping unconvertible audio block",
				logger.Error(err),
				logger.Int("dropped", p.convertErrs))
			p.lastWarn = now
		}
		return
	}

	if p.channel != nil {
		p.channel.Send(out)
		p.audioSent += out.Duration()
	}
	if p.archive != nil {
		if err := p.archive.WriteBlock(out); err != nil {
			p.logger.Warn("Failed to archive audio, archive disabled", logger.Error(err))
			p.archive.Close()
			p.archive = nil
		}
	}
}

// setTap installs a started tap. It reports false when the pipeline is
// already shut down and the caller still owns the tap.
func (p *pipeline) setTap(tap capture.Source) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.tap = tap
	return true
}

// takeTap detaches the current tap if it is the given one
func (p *pipeline) takeTap(tap capture.Source) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tap != tap {
		return false
	}
	p.tap = nil
	return true
}

func (p *pipeline) setChannel(ch transcription.ChannelInterface) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.channel = ch
	p.sampleRate = ch.SampleRate()
	return true
}

// takeChannel detaches the current channel if it is the given one
func (p *pipeline) takeChannel(ch transcription.ChannelInterface) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != ch {
		return false
	}
	p.channel = nil
	return true
}

func (p *pipeline) isChannel(ch transcription.ChannelInterface) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel == ch
}

// openArchive starts the WAV archive for this pipeline once the sample rate is known
func (p *pipeline) openArchive(dir, documentID, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.archive != nil || p.sampleRate == 0 {
		return nil
	}

	docDir := filepath.Join(dir, documentID)
	if err := os.MkdirAll(docDir, 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}
	path := filepath.Join(docDir, fmt.Sprintf("%s-%s.wav", sessionID, p.source))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	w, err := audio.NewWAVWriter(f, p.sampleRate)
	if err != nil {
		f.Close()
		return err
	}
	p.archive = w
	p.logger.Info("Archiving audio", logger.String("path", path))
	return nil
}

// shutdown marks the pipeline closed and releases everything it owns
func (p *pipeline) shutdown() {
	p.mu.Lock()
	p.closed = true
	tap, ch, archive := p.tap, p.channel, p.archive
	p.tap, p.channel, p.archive = nil, nil, nil
	sent := p.audioSent
	p.mu.Unlock()

	// the tap goes first so no block reaches a closing channel
	if tap != nil {
		tap.Stop()
	}
	if ch != nil {
		ch.Close()
	}
	if archive != nil {
		if err := archive.Close(); err != nil {
			p.logger.Warn("Failed to finalise audio archive", logger.Error(err))
		}
	}
	p.logger.Info("Audio pipeline closed", logger.Duration("audio_sent", sent))
}
