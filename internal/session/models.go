package session

import (
	"context"
	"fmt"
	"time"

	"github.com/yegors/co-scribe/internal/audio"
	"github.com/yegors/co-scribe/internal/transcript"
)

// State is the recording state of the controller
type State int

const (
	Idle State = iota
	Starting
	Recording
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Recording:
		return "recording"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Store is the document storage the controller loads from and persists to
type Store interface {
	LoadCurrentTranscript(ctx context.Context, documentID string) ([]transcript.Segment, error)
	Persist(ctx context.Context, documentID string, segments []transcript.Segment) error
}

// Defaults
const (
	DefaultMaxRetries          = 3
	DefaultCaptureRestartDelay = time.Second
	DefaultReconnectDelay      = 2 * time.Second
	DefaultPersistTimeout      = 5 * time.Second
)

// Config holds the controller's retry policy and archive settings
type Config struct {
	MaxCaptureRetries   int
	MaxChannelRetries   int
	CaptureRestartDelay time.Duration
	ReconnectDelay      time.Duration
	PersistTimeout      time.Duration
	ArchiveDir          string // empty disables the WAV archive
}

func (c Config) withDefaults() Config {
	if c.MaxCaptureRetries <= 0 {
		c.MaxCaptureRetries = DefaultMaxRetries
	}
	if c.MaxChannelRetries <= 0 {
		c.MaxChannelRetries = DefaultMaxRetries
	}
	if c.CaptureRestartDelay <= 0 {
		c.CaptureRestartDelay = DefaultCaptureRestartDelay
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = DefaultPersistTimeout
	}
	return c
}

// NotificationKind discriminates controller notifications
type NotificationKind string

const (
	NotifyState      NotificationKind = "state"
	NotifyTranscript NotificationKind = "transcript"
	NotifyError      NotificationKind = "error"
)

// Notification is published to subscribers on every observable change
type Notification struct {
	Kind       NotificationKind     `json:"kind"`
	SessionID  string               `json:"session_id,omitempty"`
	DocumentID string               `json:"document_id,omitempty"`
	State      State                `json:"state"`
	Segments   []transcript.Segment `json:"segments,omitempty"`
	Error      string               `json:"error,omitempty"`
	At         time.Time            `json:"at"`
}

func permissionMessage(source audio.Source) string {
	if source == audio.Microphone {
		return "Microphone access was denied. Allow microphone access in your system settings to record."
	}
	return "System audio capture was denied. Allow screen and system audio recording in your system settings."
}

func degradedMessage(source audio.Source) string {
	if source == audio.Microphone {
		return "The microphone stopped working and could not be restarted. Recording continues with system audio only."
	}
	return "System audio capture stopped working and could not be restarted. Recording continues with the microphone only."
}

func unexpectedMessage(err error) string {
	return "unexpected error: " + err.Error()
}
