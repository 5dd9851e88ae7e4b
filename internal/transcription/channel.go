package transcription

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yegors/co-scribe/internal/audio"
	"github.com/yegors/co-scribe/pkg/logger"
)

const (
	closeWait       = time.Second
	dropWarnEvery   = 5 * time.Second
	maxMessageBytes = 1 << 20
)

type frame struct {
	messageType int
	data        []byte
}

// Channel is one persistent WebSocket connection to the transcription backend.
// A channel is single-use: once closed or failed it is discarded.
type Channel struct {
	source   audio.Source
	cfg      Config
	protocol Protocol
	dialer   *websocket.Dialer
	logger   *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closing  atomic.Bool
	reported atomic.Bool
	wake     chan struct{}

	mu           sync.Mutex
	started      bool
	open         bool
	conn         *websocket.Conn
	handlers     Handlers
	watchdog     *time.Timer
	queue        []frame
	dropped      int
	lastDropWarn time.Time
}

// NewChannel creates a channel for a source. Nothing is dialed until Connect.
func NewChannel(source audio.Source, cfg Config, log *logger.Logger) (*Channel, error) {
	cfg = cfg.withDefaults()
	protocol, err := NewProtocol(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		source:   source,
		cfg:      cfg,
		protocol: protocol,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.ConnectTimeout,
		},
		logger: log.Named("channel-" + source.Short()).With(logger.String("backend", protocol.Name())),
		ctx:    ctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
	}, nil
}

// SampleRate is the canonical rate the backend expects
func (c *Channel) SampleRate() int {
	return c.protocol.SampleRate()
}

// Connect starts dialing in the background and returns immediately. Handlers
// fire from channel goroutines and must not call Close synchronously.
func (c *Channel) Connect(h Handlers) {
	c.mu.Lock()
	if c.started || c.closing.Load() {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.handlers = h
	c.watchdog = time.AfterFunc(c.cfg.ConnectTimeout, c.onWatchdog)
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run()
}

func (c *Channel) run() {
	defer c.wg.Done()

	endpoint, err := c.protocol.Endpoint()
	if err != nil {
		c.report(&ChannelError{Category: CategoryUnexpected, Err: err})
		return
	}

	c.logger.Info("Connecting to transcription backend")

	conn, resp, err := c.dialer.DialContext(c.ctx, endpoint, c.protocol.Header())
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.report(classifyDial(err, resp))
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	handshake, err := c.protocol.Handshake()
	if err != nil {
		conn.Close()
		c.report(&ChannelError{Category: CategoryUnexpected, Err: err})
		return
	}
	if handshake != nil {
		conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, handshake); err != nil {
			conn.Close()
			c.report(classifyNetwork(err))
			return
		}
	}

	c.mu.Lock()
	if c.closing.Load() || c.reported.Load() {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.open = true
	if c.watchdog != nil {
		c.watchdog.Stop()
	}
	onOpen := c.handlers.OnOpen
	c.mu.Unlock()

	c.logger.Info("Transcription channel open")
	if onOpen != nil {
		onOpen()
	}

	c.wg.Add(1)
	go c.writeLoop(conn)
	c.readLoop(conn)
}

// readLoop receives and dispatches messages until the connection ends
func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.report(classifyRead(err))
			return
		}

		events, fault, err := c.protocol.Decode(data)
		if err != nil {
			c.logger.Warn("Ignoring inbound message", logger.Error(err))
			continue
		}
		if fault != nil {
			c.report(fault)
			return
		}

		c.mu.Lock()
		onEvent := c.handlers.OnEvent
		c.mu.Unlock()
		for _, ev := range events {
			if c.closing.Load() {
				return
			}
			if onEvent != nil {
				onEvent(ev)
			}
		}
	}
}

// writeLoop drains the outbound queue. It is the only data writer on conn.
func (c *Channel) writeLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.wake:
		}

		for {
			f, ok := c.dequeue()
			if !ok {
				break
			}
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := conn.WriteMessage(f.messageType, f.data); err != nil {
				if c.closing.Load() || c.ctx.Err() != nil {
					return
				}
				c.logger.Warn("Failed to send audio", logger.Error(err))
			}
		}
	}
}

// Send queues a block for transmission and never blocks on the network
func (c *Channel) Send(block audio.CanonicalBlock) {
	if c.closing.Load() || c.reported.Load() {
		return
	}

	messageType, data, err := c.protocol.EncodeAudio(block)
	if err != nil {
		c.logger.Warn("Failed to encode audio", logger.Error(err))
		return
	}

	c.mu.Lock()
	if len(c.queue) >= c.cfg.QueueSize {
		c.queue[0] = frame{}
		c.queue = c.queue[1:]
		c.dropped++
		if now := time.Now(); now.Sub(c.lastDropWarn) >= dropWarnEvery {
			c.logger.Warn("Outbound queue full, dropping oldest audio",
				logger.Int("dropped", c.dropped),
				logger.Int("queue_size", c.cfg.QueueSize))
			c.lastDropWarn = now
		}
	}
	c.queue = append(c.queue, frame{messageType: messageType, data: data})
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Channel) dequeue() (frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return frame{}, false
	}
	f := c.queue[0]
	c.queue[0] = frame{}
	c.queue = c.queue[1:]
	return f, true
}

// Dropped returns how many queued messages were discarded by backpressure
func (c *Channel) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

func (c *Channel) onWatchdog() {
	c.mu.Lock()
	open := c.open
	c.mu.Unlock()
	if open {
		return
	}
	c.report(&ChannelError{
		Category: CategoryTimeout,
		Err:      fmt.Errorf("connection not open after %s", c.cfg.ConnectTimeout),
	})
}

// report surfaces the first failure and tears the connection down. Failures
// after Close are suppressed.
func (c *Channel) report(err *ChannelError) {
	if c.closing.Load() || !c.reported.CompareAndSwap(false, true) {
		return
	}

	c.cancel()
	c.mu.Lock()
	conn := c.conn
	onError := c.handlers.OnError
	if c.watchdog != nil {
		c.watchdog.Stop()
	}
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}

	c.logger.Warn("Transcription channel failed",
		logger.String("category", err.Category.String()),
		logger.Int("code", err.Code),
		logger.Error(err))

	if onError != nil && !c.closing.Load() {
		onError(err)
	}
}

// Close sends a normal closure frame, releases the connection and waits for
// the channel goroutines. It is idempotent.
func (c *Channel) Close() {
	if !c.closing.CompareAndSwap(false, true) {
		c.wg.Wait()
		return
	}

	c.mu.Lock()
	if c.watchdog != nil {
		c.watchdog.Stop()
	}
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait)); err != nil {
			c.logger.Debug("Close frame not delivered", logger.Error(err))
		}
	}
	c.cancel()
	if conn != nil {
		conn.Close()
	}
	c.wg.Wait()

	c.mu.Lock()
	c.queue = nil
	c.mu.Unlock()
	c.logger.Info("Transcription channel closed")
}
