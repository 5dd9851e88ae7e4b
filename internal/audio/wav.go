package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

const wavHeaderSize = 44

// WAVHeader represents a WAV file header
type WAVHeader struct {
	// RIFF chunk descriptor
	ChunkID   [4]byte // "RIFF"
	ChunkSize uint32  // 36 + Subchunk2Size
	Format    [4]byte // "WAVE"

	// "fmt " sub-chunk
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample/8
	BlockAlign    uint16 // NumChannels * BitsPerSample/8
	BitsPerSample uint16

	// "data" sub-chunk
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // bytes of sample data
}

func newWAVHeader(sampleRate, channels int, dataSize uint32) WAVHeader {
	bitsPerSample := uint16(16)
	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * channels * int(bitsPerSample/8)),
		BlockAlign:    uint16(channels * int(bitsPerSample/8)),
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// Bytes serializes the header in little-endian RIFF layout
func (h WAVHeader) Bytes() []byte {
	b := make([]byte, wavHeaderSize)
	copy(b[0:4], h.ChunkID[:])
	binary.LittleEndian.PutUint32(b[4:8], h.ChunkSize)
	copy(b[8:12], h.Format[:])
	copy(b[12:16], h.Subchunk1ID[:])
	binary.LittleEndian.PutUint32(b[16:20], h.Subchunk1Size)
	binary.LittleEndian.PutUint16(b[20:22], h.AudioFormat)
	binary.LittleEndian.PutUint16(b[22:24], h.NumChannels)
	binary.LittleEndian.PutUint32(b[24:28], h.SampleRate)
	binary.LittleEndian.PutUint32(b[28:32], h.ByteRate)
	binary.LittleEndian.PutUint16(b[32:34], h.BlockAlign)
	binary.LittleEndian.PutUint16(b[34:36], h.BitsPerSample)
	copy(b[36:40], h.Subchunk2ID[:])
	binary.LittleEndian.PutUint32(b[40:44], h.Subchunk2Size)
	return b
}

// WAVWriter archives canonical blocks into a mono PCM16 WAV stream. The data
// size fields are patched when the writer is closed.
type WAVWriter struct {
	mu         sync.Mutex
	w          io.WriteSeeker
	sampleRate int
	dataBytes  uint32
	closed     bool
}

// NewWAVWriter writes a placeholder header and returns a writer for blocks
func NewWAVWriter(w io.WriteSeeker, sampleRate int) (*WAVWriter, error) {
	if _, err := w.Write(newWAVHeader(sampleRate, 1, 0).Bytes()); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	return &WAVWriter{w: w, sampleRate: sampleRate}, nil
}

// WriteBlock appends the samples of a canonical block
func (ww *WAVWriter) WriteBlock(block CanonicalBlock) error {
	ww.mu.Lock()
	defer ww.mu.Unlock()

	if ww.closed {
		return io.ErrClosedPipe
	}
	if block.SampleRate != ww.sampleRate {
		return fmt.Errorf("block rate %d does not match archive rate %d", block.SampleRate, ww.sampleRate)
	}

	n, err := ww.w.Write(block.Bytes())
	ww.dataBytes += uint32(n)
	return err
}

// Close finalizes the header sizes and closes the underlying writer if it
// is an io.Closer
func (ww *WAVWriter) Close() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()

	if ww.closed {
		return nil
	}
	ww.closed = true

	var errs []error
	if _, err := ww.w.Seek(0, io.SeekStart); err != nil {
		errs = append(errs, fmt.Errorf("failed to rewind WAV archive: %w", err))
	} else if _, err := ww.w.Write(newWAVHeader(ww.sampleRate, 1, ww.dataBytes).Bytes()); err != nil {
		errs = append(errs, fmt.Errorf("failed to patch WAV header: %w", err))
	}
	if c, ok := ww.w.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
