package audio

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Source identifies where a capture or transcription stream comes from
type Source int

const (
	// Microphone is the local input device
	Microphone Source = iota
	// System is the desktop/loopback output mix
	System
)

// Sources lists every source in a stable order
func Sources() []Source {
	return []Source{Microphone, System}
}

func (s Source) String() string {
	switch s {
	case Microphone:
		return "microphone"
	case System:
		return "system"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// Short returns the abbreviated name used in logger names
func (s Source) Short() string {
	switch s {
	case Microphone:
		return "mic"
	case System:
		return "system"
	default:
		return s.String()
	}
}

// ParseSource parses the String form of a Source
func ParseSource(name string) (Source, error) {
	switch name {
	case "microphone", "mic":
		return Microphone, nil
	case "system":
		return System, nil
	default:
		return 0, fmt.Errorf("unknown audio source: %q", name)
	}
}

// MarshalText implements encoding.TextMarshaler
func (s Source) MarshalText() ([]byte, error) {
	switch s {
	case Microphone, System:
		return []byte(s.String()), nil
	}
	return nil, fmt.Errorf("unknown audio source: %d", int(s))
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Source) UnmarshalText(text []byte) error {
	parsed, err := ParseSource(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Encoding is the sample encoding of an interleaved PCM stream
type Encoding string

const (
	// S16LE is signed 16-bit little-endian
	S16LE Encoding = "s16le"
	// S32LE is signed 32-bit little-endian
	S32LE Encoding = "s32le"
	// F32LE is IEEE float 32-bit little-endian
	F32LE Encoding = "f32le"
)

// BytesPerSample returns the width of one sample, or 0 for unknown encodings
func (e Encoding) BytesPerSample() int {
	switch e {
	case S16LE:
		return 2
	case S32LE, F32LE:
		return 4
	default:
		return 0
	}
}

// Format describes an interleaved PCM stream
type Format struct {
	SampleRate int
	Channels   int
	Encoding   Encoding
}

// FrameSize is the number of bytes that hold one sample for every channel
func (f Format) FrameSize() int {
	return f.Channels * f.Encoding.BytesPerSample()
}

func (f Format) String() string {
	return fmt.Sprintf("%s/%dHz/%dch", f.Encoding, f.SampleRate, f.Channels)
}

// Canonical returns the transcription-ready format at the given rate
func Canonical(sampleRate int) Format {
	return Format{SampleRate: sampleRate, Channels: 1, Encoding: S16LE}
}

// RawBlock is a block of device-native samples as delivered by a capture tap
type RawBlock struct {
	Source     Source
	Format     Format
	Data       []byte
	Frames     int
	CapturedAt time.Time
}

// CanonicalBlock is mono signed 16-bit PCM at the backend sample rate
type CanonicalBlock struct {
	Source     Source
	SampleRate int
	Samples    []int16
	CapturedAt time.Time
}

// Frames returns the number of mono frames in the block
func (b CanonicalBlock) Frames() int {
	return len(b.Samples)
}

// Bytes encodes the samples as little-endian PCM16
func (b CanonicalBlock) Bytes() []byte {
	out := make([]byte, len(b.Samples)*2)
	for i, s := range b.Samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Duration returns the playback length of the block
func (b CanonicalBlock) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}
