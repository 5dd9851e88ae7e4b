package transcription

import (
	"time"
)

// EventKind discriminates inbound transcription events
type EventKind int

const (
	// EventDelta carries incremental text to append to the interim hypothesis
	EventDelta EventKind = iota
	// EventInterim carries a full interim hypothesis that replaces the previous one
	EventInterim
	// EventFinal carries text the backend will not revise
	EventFinal
)

func (k EventKind) String() string {
	switch k {
	case EventDelta:
		return "delta"
	case EventInterim:
		return "interim"
	case EventFinal:
		return "final"
	}
	return "unknown"
}

// Event represents a transcription event
type Event struct {
	Kind       EventKind
	Text       string
	ReceivedAt time.Time
}

// Handlers receives channel lifecycle callbacks. They are invoked from the
// channel's own goroutines and must not block for long.
type Handlers struct {
	OnOpen  func()
	OnEvent func(Event)
	OnError func(*ChannelError)
}

// Backend names
const (
	BackendRealtime  = "realtime"
	BackendStreaming = "streaming"
)

// Defaults
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultQueueSize      = 64
	DefaultWriteTimeout   = 5 * time.Second
)

// Config represents the configuration for a transcription channel
type Config struct {
	Backend           string
	APIKey            string
	URL               string // endpoint override, mostly for tests and proxies
	Model             string
	Language          string
	Prompt            string
	NoiseReduction    string
	TurnDetectionType string
	VADThreshold      float64
	PrefixPaddingMs   int
	SilenceDurationMs int
	SampleRate        int // 0 selects the backend's native rate
	ConnectTimeout    time.Duration
	WriteTimeout      time.Duration
	QueueSize         int
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	return c
}
