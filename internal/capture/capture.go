// Package capture owns the hardware audio taps. Each tap is a single-use
// ffmpeg child process that writes the device-native sample stream to stdout.
package capture

import (
	"errors"
	"fmt"

	"github.com/yegors/co-scribe/internal/audio"
)

// Capture failure kinds
var (
	// ErrPermissionDenied means the OS refused access to the device. Never retried.
	ErrPermissionDenied = errors.New("audio capture permission denied")
	// ErrDeviceUnavailable means the device or stream could not be opened
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	// ErrMalformedBuffer means the running stream produced unusable data
	ErrMalformedBuffer = errors.New("malformed audio buffer")
	// ErrAlreadyStarted is returned when Start is called twice on one tap
	ErrAlreadyStarted = errors.New("capture already started")
)

// Error carries the failing source alongside the failure kind
type Error struct {
	Source audio.Source
	Kind   error
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s capture: %v: %v", e.Source, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s capture: %v", e.Source, e.Kind)
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// IsPermission reports whether err is a permission denial
func IsPermission(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

// Source is one audio tap
type Source interface {
	// Source identifies which stream this tap produces
	Source() audio.Source
	// Start opens the device. onBlock receives fixed-size raw blocks and
	// onFailure is invoked at most once if the stream dies after starting.
	// It must not call Stop synchronously.
	Start(onBlock func(audio.RawBlock), onFailure func(error)) error
	// Stop releases the device. It is idempotent and no callback fires
	// after it returns.
	Stop()
}

// Factory builds a fresh tap for a source. Taps are never reused across
// restarts.
type Factory func(source audio.Source) (Source, error)
