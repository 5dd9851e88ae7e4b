package transcription

import (
	"github.com/yegors/co-scribe/internal/audio"
	"github.com/yegors/co-scribe/pkg/logger"
)

// ChannelInterface defines the interface for per-source transcription channels
type ChannelInterface interface {
	Connect(h Handlers)
	Send(block audio.CanonicalBlock)
	Close()
	SampleRate() int
}

// Ensure the channel implements the interface
var _ ChannelInterface = (*Channel)(nil)

// Factory builds a fresh channel for a source. Channels are single-use.
type Factory func(source audio.Source) (ChannelInterface, error)

// NewFactory returns a Factory producing WebSocket channels with a shared config
func NewFactory(cfg Config, log *logger.Logger) Factory {
	return func(source audio.Source) (ChannelInterface, error) {
		return NewChannel(source, cfg, log)
	}
}
