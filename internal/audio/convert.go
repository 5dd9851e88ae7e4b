package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Conversion failures
var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrIncompleteOutput  = errors.New("incomplete conversion output")
)

// maxChannels bounds the channel layouts the downmixer accepts
const maxChannels = 8

// ConversionError reports why a block could not be converted
type ConversionError struct {
	Kind   error // ErrUnsupportedFormat, or ErrIncompleteOutput for a truncated input block
	From   Format
	To     Format
	Reason string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("%v: %s -> %s: %s", e.Kind, e.From, e.To, e.Reason)
}

func (e *ConversionError) Unwrap() error {
	return e.Kind
}

// OutputFrames returns round(inputFrames * targetRate / sourceRate)
func OutputFrames(inputFrames, sourceRate, targetRate int) int {
	if sourceRate <= 0 {
		return 0
	}
	return int(math.Round(float64(inputFrames) * float64(targetRate) / float64(sourceRate)))
}

// Convert downmixes, resamples and quantizes a raw block into the canonical
// target format in a single pass. It keeps no state between calls.
func Convert(block RawBlock, target Format) (CanonicalBlock, error) {
	src := block.Format
	if err := checkPair(src, target); err != nil {
		return CanonicalBlock{}, err
	}

	frameSize := src.FrameSize()
	if len(block.Data)%frameSize != 0 {
		return CanonicalBlock{}, &ConversionError{
			Kind: ErrIncompleteOutput, From: src, To: target,
			Reason: fmt.Sprintf("%d bytes is not a whole number of %d-byte frames", len(block.Data), frameSize),
		}
	}

	inFrames := len(block.Data) / frameSize
	if block.Frames > 0 && inFrames < block.Frames {
		return CanonicalBlock{}, &ConversionError{
			Kind: ErrIncompleteOutput, From: src, To: target,
			Reason: fmt.Sprintf("block declares %d frames but holds %d", block.Frames, inFrames),
		}
	}

	mono := downmix(block.Data, src, inFrames)
	outFrames := OutputFrames(inFrames, src.SampleRate, target.SampleRate)
	return CanonicalBlock{
		Source:     block.Source,
		SampleRate: target.SampleRate,
		Samples:    resample(mono, outFrames),
		CapturedAt: block.CapturedAt,
	}, nil
}

func checkPair(src, target Format) error {
	unsupported := func(reason string) error {
		return &ConversionError{Kind: ErrUnsupportedFormat, From: src, To: target, Reason: reason}
	}
	switch {
	case src.Encoding.BytesPerSample() == 0:
		return unsupported("unknown source encoding")
	case src.SampleRate <= 0 || target.SampleRate <= 0:
		return unsupported("sample rate must be positive")
	case src.Channels < 1 || src.Channels > maxChannels:
		return unsupported(fmt.Sprintf("cannot downmix %d channels", src.Channels))
	case target.Channels != 1 || target.Encoding != S16LE:
		return unsupported("target must be mono s16le")
	}
	return nil
}

// downmix averages all channels of each frame into one normalized sample
func downmix(data []byte, f Format, frames int) []float64 {
	width := f.Encoding.BytesPerSample()
	mono := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		base := i * f.FrameSize()
		for ch := 0; ch < f.Channels; ch++ {
			sum += decodeSample(data[base+ch*width:], f.Encoding)
		}
		mono[i] = sum / float64(f.Channels)
	}
	return mono
}

func decodeSample(b []byte, enc Encoding) float64 {
	switch enc {
	case S16LE:
		return float64(int16(binary.LittleEndian.Uint16(b))) / 32768
	case S32LE:
		return float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648
	case F32LE:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	}
	return 0
}

// resample maps in onto exactly outFrames samples with linear interpolation
func resample(in []float64, outFrames int) []int16 {
	out := make([]int16, outFrames)
	if len(in) == 0 || outFrames == 0 {
		return out
	}
	if len(in) == outFrames {
		for i, v := range in {
			out[i] = quantize(v)
		}
		return out
	}

	step := float64(len(in)) / float64(outFrames)
	last := len(in) - 1
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= last {
			out[i] = quantize(in[last])
			continue
		}
		frac := pos - float64(idx)
		out[i] = quantize(in[idx]*(1-frac) + in[idx+1]*frac)
	}
	return out
}

func quantize(v float64) int16 {
	if math.IsNaN(v) {
		return 0
	}
	s := math.Round(v * 32768)
	if s > math.MaxInt16 {
		return math.MaxInt16
	}
	if s < math.MinInt16 {
		return math.MinInt16
	}
	return int16(s)
}
