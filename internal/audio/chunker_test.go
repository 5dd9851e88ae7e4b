package audio

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunker_EmitsFrameAlignedBlocks(t *testing.T) {
	format := Format{SampleRate: 48000, Channels: 2, Encoding: F32LE}
	c, err := NewChunker(System, format, 4)
	require.NoError(t, err)
	assert.Equal(t, 32, c.BlockBytes())

	blocks, err := c.ProcessChunk(make([]byte, 20))
	require.NoError(t, err)
	assert.Empty(t, blocks)
	assert.Equal(t, 20, c.Pending())

	blocks, err = c.ProcessChunk(make([]byte, 50))
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	for _, b := range blocks {
		assert.Equal(t, 4, b.Frames)
		assert.Len(t, b.Data, 32)
		assert.Equal(t, System, b.Source)
		assert.Equal(t, format, b.Format)
		assert.False(t, b.CapturedAt.IsZero())
	}
	assert.Equal(t, 6, c.Pending())
}

func TestChunker_DefaultsAndValidation(t *testing.T) {
	c, err := NewChunker(Microphone, Canonical(16000), 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultBlockFrames*2, c.BlockBytes())

	_, err = NewChunker(Microphone, Format{SampleRate: 16000, Channels: 1, Encoding: "alaw"}, 10)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestWAVWriter_PatchesSizesOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mic.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	w, err := NewWAVWriter(f, 16000)
	require.NoError(t, err)
	require.NoError(t, w.WriteBlock(CanonicalBlock{SampleRate: 16000, Samples: []int16{1, 2, 3}}))
	require.NoError(t, w.WriteBlock(CanonicalBlock{SampleRate: 16000, Samples: []int16{4}}))
	assert.Error(t, w.WriteBlock(CanonicalBlock{SampleRate: 24000, Samples: []int16{4}}))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, data, wavHeaderSize+8)

	want := newWAVHeader(16000, 1, 8).Bytes()
	assert.True(t, bytes.Equal(want, data[:wavHeaderSize]))
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "data", string(data[36:40]))
	assert.Equal(t, []byte{1, 0, 2, 0, 3, 0, 4, 0}, data[wavHeaderSize:])

	assert.Error(t, w.WriteBlock(CanonicalBlock{SampleRate: 16000, Samples: []int16{1}}))
}
