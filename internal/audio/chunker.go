package audio

import (
	"bytes"
	"fmt"
	"time"
)

// DefaultBlockFrames is the number of frames a capture tap delivers per block
const DefaultBlockFrames = 1024

// Chunker cuts a continuous byte stream into fixed-size, frame-aligned blocks
type Chunker struct {
	source      Source
	format      Format
	blockFrames int
	blockBytes  int
	buffer      *bytes.Buffer
	now         func() time.Time
}

// NewChunker creates a chunker for a stream in the given format
func NewChunker(source Source, format Format, blockFrames int) (*Chunker, error) {
	if format.FrameSize() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if blockFrames <= 0 {
		blockFrames = DefaultBlockFrames
	}

	return &Chunker{
		source:      source,
		format:      format,
		blockFrames: blockFrames,
		blockBytes:  blockFrames * format.FrameSize(),
		buffer:      bytes.NewBuffer(nil),
		now:         time.Now,
	}, nil
}

// BlockBytes is the size in bytes of every block the chunker emits
func (c *Chunker) BlockBytes() int {
	return c.blockBytes
}

// ProcessChunk buffers data and returns every complete block now available
func (c *Chunker) ProcessChunk(data []byte) ([]RawBlock, error) {
	if _, err := c.buffer.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}

	var blocks []RawBlock
	for c.buffer.Len() >= c.blockBytes {
		chunk := make([]byte, c.blockBytes)
		n, err := c.buffer.Read(chunk)
		if err != nil {
			return nil, fmt.Errorf("failed to read from buffer: %w", err)
		}
		if n < c.blockBytes {
			return nil, fmt.Errorf("%w: short read of %d bytes", ErrIncompleteOutput, n)
		}
		blocks = append(blocks, RawBlock{
			Source:     c.source,
			Format:     c.format,
			Data:       chunk,
			Frames:     c.blockFrames,
			CapturedAt: c.now(),
		})
	}

	return blocks, nil
}

// Pending returns the number of buffered bytes not yet emitted
func (c *Chunker) Pending() int {
	return c.buffer.Len()
}
