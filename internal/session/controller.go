// Package session orchestrates one logical recording: two capture taps, two
// transcription channels and the transcript they feed.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yegors/co-scribe/internal/audio"
	"github.com/yegors/co-scribe/internal/capture"
	"github.com/yegors/co-scribe/internal/transcript"
	"github.com/yegors/co-scribe/internal/transcription"
	"github.com/yegors/co-scribe/pkg/logger"
)

// ErrStale is returned when an operation belongs to a session that is no
// longer current
var ErrStale = errors.New("session no longer active")

// Timer is a pending delayed callback
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Controller owns the recording session lifecycle
type Controller struct {
	cfg       Config
	captures  capture.Factory
	channels  transcription.Factory
	store     Store
	logger    *logger.Logger
	afterFunc AfterFunc
	newID     func() string

	// opMu serialises Start, Stop and scheduled restarts
	opMu  sync.Mutex
	async sync.WaitGroup

	mu         sync.Mutex
	state      State
	sessionID  string
	documentID string
	reconciler *transcript.Reconciler
	pipelines  map[audio.Source]*pipeline
	timers     []Timer
	lastError  string

	subMu       sync.Mutex
	subscribers map[chan Notification]struct{}
}

// NewController creates a controller. store may be nil to keep transcripts in memory only.
func NewController(
	cfg Config,
	captures capture.Factory,
	channels transcription.Factory,
	store Store,
	log *logger.Logger,
) *Controller {
	return &Controller{
		cfg:         cfg.withDefaults(),
		captures:    captures,
		channels:    channels,
		store:       store,
		logger:      log.Named("session-ctl"),
		afterFunc:   realAfterFunc,
		newID:       func() string { return uuid.NewString() },
		reconciler:  transcript.NewReconciler(),
		pipelines:   make(map[audio.Source]*pipeline),
		subscribers: make(map[chan Notification]struct{}),
	}
}

// Start begins recording into documentID, resuming its stored transcript.
// Any previous session is torn down first. Start returns once the microphone
// tap is running; system audio joins asynchronously.
func (c *Controller) Start(ctx context.Context, documentID string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.teardown(ctx)

	id := c.newID()
	log := c.logger.WithSession(id).With(logger.String("document_id", documentID))

	c.mu.Lock()
	c.state = Starting
	c.sessionID = id
	c.documentID = documentID
	c.lastError = ""
	c.mu.Unlock()
	c.publish(Notification{Kind: NotifyState, State: Starting})

	log.Info("Starting recording session")

	var segments []transcript.Segment
	if c.store != nil {
		var err error
		segments, err = c.store.LoadCurrentTranscript(ctx, documentID)
		if err != nil {
			c.abortStart(unexpectedMessage(err))
			return fmt.Errorf("failed to load transcript: %w", err)
		}
	}
	c.reconciler.Load(segments)
	c.publish(Notification{Kind: NotifyTranscript, Segments: c.reconciler.Snapshot()})

	pipelines := make(map[audio.Source]*pipeline, 2)
	for _, source := range audio.Sources() {
		pipelines[source] = newPipeline(source, log)
	}
	c.mu.Lock()
	c.pipelines = pipelines
	c.mu.Unlock()

	for _, source := range audio.Sources() {
		c.connectChannel(id, pipelines[source])
	}

	if err := c.startCapture(id, pipelines[audio.Microphone]); err != nil && capture.IsPermission(err) {
		log.Warn("Microphone permission denied, aborting session", logger.Error(err))
		c.teardown(ctx)
		return err
	}

	c.mu.Lock()
	if c.sessionID != id {
		c.mu.Unlock()
		return ErrStale
	}
	c.state = Recording
	c.mu.Unlock()
	c.publish(Notification{Kind: NotifyState, State: Recording})

	c.async.Add(1)
	go func() {
		defer c.async.Done()
		c.startCapture(id, pipelines[audio.System])
	}()

	log.Info("Recording session started")
	return nil
}

func (c *Controller) abortStart(message string) {
	c.mu.Lock()
	c.state = Idle
	c.sessionID = ""
	c.lastError = message
	c.mu.Unlock()
	c.publish(Notification{Kind: NotifyError, State: Idle, Error: message})
}

// Stop halts both sources, closes both channels and persists the transcript.
// It is safe to call when idle and any number of times.
func (c *Controller) Stop(ctx context.Context) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.teardown(ctx)
}

// teardown releases every resource of the current session. Callers hold opMu.
func (c *Controller) teardown(ctx context.Context) {
	c.mu.Lock()
	if c.sessionID == "" && len(c.pipelines) == 0 {
		c.mu.Unlock()
		return
	}
	id := c.sessionID
	documentID := c.documentID
	pipelines := c.pipelines
	timers := c.timers
	c.pipelines = make(map[audio.Source]*pipeline)
	c.timers = nil
	c.sessionID = ""
	c.state = Idle
	c.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
	for _, p := range pipelines {
		p.shutdown()
	}
	c.async.Wait()

	segments := c.reconciler.Seal()
	if c.store != nil && documentID != "" {
		persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.PersistTimeout)
		if err := c.store.Persist(persistCtx, documentID, segments); err != nil {
			c.logger.Error("Failed to persist transcript on stop", logger.Error(err))
		}
		cancel()
	}

	c.logger.WithSession(id).Info("Recording session stopped")
	c.publish(Notification{Kind: NotifyState, State: Idle, Segments: segments})
}

// startCapture builds and starts a fresh tap for p
func (c *Controller) startCapture(id string, p *pipeline) error {
	// failures reported before the tap is installed wait for it
	ready := make(chan struct{})
	defer close(ready)

	tap, err := c.captures(p.source)
	if err == nil {
		err = tap.Start(p.handleBlock, func(failure error) {
			go func() {
				<-ready
				c.handleCaptureFailure(id, p, tap, failure)
			}()
		})
	}
	if err != nil {
		c.handleCaptureFailure(id, p, nil, err)
		return err
	}

	c.mu.Lock()
	current := c.sessionID == id
	if current {
		p.captureRetries = 0
	}
	c.mu.Unlock()

	if !current || !p.setTap(tap) {
		tap.Stop()
		return ErrStale
	}
	p.logger.Info("Capture started")
	return nil
}

// handleCaptureFailure applies the source-scoped restart policy. tap is nil
// when the failure happened during Start.
func (c *Controller) handleCaptureFailure(id string, p *pipeline, tap capture.Source, failure error) {
	if tap != nil && !p.takeTap(tap) {
		// already replaced or shut down
		return
	}
	if tap != nil {
		defer tap.Stop()
	}

	c.mu.Lock()
	if c.sessionID != id {
		c.mu.Unlock()
		return
	}

	var message string
	switch {
	case capture.IsPermission(failure):
		message = permissionMessage(p.source)
	case p.captureRetries >= c.cfg.MaxCaptureRetries:
		if !p.degraded {
			p.degraded = true
			message = degradedMessage(p.source)
		}
	default:
		p.captureRetries++
		attempt := p.captureRetries
		c.schedule(c.cfg.CaptureRestartDelay, func() { c.restartCapture(id, p) })
		p.logger.Warn("Capture failed, scheduling restart",
			logger.Error(failure),
			logger.Int("attempt", attempt),
			logger.Int("max_retries", c.cfg.MaxCaptureRetries))
	}
	if message != "" {
		c.lastError = message
	}
	state := c.state
	c.mu.Unlock()

	if message != "" {
		p.logger.Error("Capture failed permanently", logger.Error(failure))
		c.publish(Notification{Kind: NotifyError, State: state, Error: message})
	}
}

func (c *Controller) restartCapture(id string, p *pipeline) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	stale := c.sessionID != id
	c.mu.Unlock()
	if stale {
		return
	}

	p.logger.Info("Restarting capture")
	c.startCapture(id, p)
}

// connectChannel builds a fresh channel for p and starts connecting it
func (c *Controller) connectChannel(id string, p *pipeline) {
	ch, err := c.channels(p.source)
	if err != nil {
		c.surface(id, unexpectedMessage(err))
		return
	}

	c.mu.Lock()
	current := c.sessionID == id
	documentID := c.documentID
	c.mu.Unlock()
	if !current || !p.setChannel(ch) {
		ch.Close()
		return
	}

	if c.cfg.ArchiveDir != "" {
		if err := p.openArchive(c.cfg.ArchiveDir, documentID, id); err != nil {
			p.logger.Warn("Audio archive disabled", logger.Error(err))
		}
	}

	ch.Connect(transcription.Handlers{
		OnOpen: func() { c.handleChannelOpen(id, p, ch) },
		OnEvent: func(ev transcription.Event) {
			c.handleEvent(id, p.source, ev)
		},
		OnError: func(chErr *transcription.ChannelError) {
			go c.handleChannelError(id, p, ch, chErr)
		},
	})
}

func (c *Controller) handleChannelOpen(id string, p *pipeline, ch transcription.ChannelInterface) {
	if !p.isChannel(ch) {
		return
	}
	c.mu.Lock()
	if c.sessionID == id {
		p.channelRetries = 0
	}
	c.mu.Unlock()
}

func (c *Controller) handleChannelError(id string, p *pipeline, ch transcription.ChannelInterface, chErr *transcription.ChannelError) {
	if !p.takeChannel(ch) {
		return
	}
	defer ch.Close()

	c.mu.Lock()
	if c.sessionID != id {
		c.mu.Unlock()
		return
	}

	retry := chErr.Retryable()
	if chErr.Category == transcription.CategoryServerError {
		if p.serverRetried {
			retry = false
		}
		p.serverRetried = true
	}

	var message string
	if retry && p.channelRetries < c.cfg.MaxChannelRetries {
		p.channelRetries++
		attempt := p.channelRetries
		c.schedule(c.cfg.ReconnectDelay, func() { c.reconnectChannel(id, p) })
		p.logger.Warn("Transcription channel failed, scheduling reconnect",
			logger.String("category", chErr.Category.String()),
			logger.Int("attempt", attempt))
	} else {
		message = chErr.Message()
		c.lastError = message
	}
	state := c.state
	c.mu.Unlock()

	if message != "" {
		p.logger.Error("Transcription channel failed permanently",
			logger.String("category", chErr.Category.String()),
			logger.Error(chErr))
		c.publish(Notification{Kind: NotifyError, State: state, Error: message})
	}
}

func (c *Controller) reconnectChannel(id string, p *pipeline) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	stale := c.sessionID != id
	c.mu.Unlock()
	if stale {
		return
	}

	p.logger.Info("Reconnecting transcription channel")
	c.connectChannel(id, p)
}

// handleEvent folds an event into the transcript. Finals are persisted in
// order under the controller lock.
func (c *Controller) handleEvent(id string, source audio.Source, ev transcription.Event) {
	c.mu.Lock()
	if c.sessionID != id {
		c.mu.Unlock()
		return
	}
	segments := c.reconciler.Apply(ev, source)
	if ev.Kind == transcription.EventFinal && c.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PersistTimeout)
		if err := c.store.Persist(ctx, c.documentID, segments); err != nil {
			c.logger.Error("Failed to persist transcript", logger.Error(err))
		}
		cancel()
	}
	state := c.state
	c.mu.Unlock()

	c.publish(Notification{Kind: NotifyTranscript, State: state, Segments: segments})
}

// schedule registers a delayed callback that teardown cancels. Callers hold mu.
func (c *Controller) schedule(d time.Duration, f func()) {
	c.timers = append(c.timers, c.afterFunc(d, f))
}

func (c *Controller) surface(id, message string) {
	c.mu.Lock()
	if c.sessionID != id {
		c.mu.Unlock()
		return
	}
	c.lastError = message
	state := c.state
	c.mu.Unlock()
	c.publish(Notification{Kind: NotifyError, State: state, Error: message})
}

// State returns the current recording state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the current session identity, empty when idle
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// DocumentID returns the document of the current or last session
func (c *Controller) DocumentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.documentID
}

// Transcript returns a snapshot of the ordered transcript
func (c *Controller) Transcript() []transcript.Segment {
	return c.reconciler.Snapshot()
}

// LastError returns the current user-facing error, empty when none
func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// DismissError clears the current error
func (c *Controller) DismissError() {
	c.mu.Lock()
	c.lastError = ""
	state := c.state
	c.mu.Unlock()
	c.publish(Notification{Kind: NotifyError, State: state})
}

// Subscribe returns a channel of notifications and a function that ends the
// subscription. Slow subscribers miss notifications rather than block.
func (c *Controller) Subscribe() (<-chan Notification, func()) {
	ch := make(chan Notification, 64)
	c.subMu.Lock()
	c.subscribers[ch] = struct{}{}
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subscribers, ch)
			c.subMu.Unlock()
			close(ch)
		})
	}
}

func (c *Controller) publish(n Notification) {
	c.mu.Lock()
	if n.SessionID == "" {
		n.SessionID = c.sessionID
	}
	n.DocumentID = c.documentID
	c.mu.Unlock()
	if n.At.IsZero() {
		n.At = time.Now()
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subscribers {
		select {
		case ch <- n:
		default:
		}
	}
}
