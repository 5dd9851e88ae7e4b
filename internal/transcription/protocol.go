package transcription

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yegors/co-scribe/internal/audio"
)

// Protocol encodes and decodes one backend's wire format
type Protocol interface {
	Name() string
	// SampleRate is the canonical rate audio must be converted to
	SampleRate() int
	Endpoint() (string, error)
	Header() http.Header
	// Handshake returns the configuration message sent right after the
	// connection opens, or nil when the configuration travels in the URL
	Handshake() ([]byte, error)
	EncodeAudio(block audio.CanonicalBlock) (messageType int, data []byte, err error)
	// Decode parses one inbound message. A non-nil fault is a backend error
	// that must be surfaced. Unknown message types yield no events.
	Decode(data []byte) (events []Event, fault *ChannelError, err error)
}

// NewProtocol selects the wire protocol for cfg.Backend
func NewProtocol(cfg Config) (Protocol, error) {
	switch cfg.Backend {
	case BackendRealtime, "":
		return &realtimeProtocol{cfg: cfg}, nil
	case BackendStreaming:
		return &streamingProtocol{cfg: cfg}, nil
	}
	return nil, fmt.Errorf("unknown transcription backend %q", cfg.Backend)
}

// SampleRateFor returns the canonical sample rate the backend expects
func SampleRateFor(cfg Config) (int, error) {
	p, err := NewProtocol(cfg)
	if err != nil {
		return 0, err
	}
	return p.SampleRate(), nil
}

const (
	realtimeURL        = "wss://api.openai.com/v1/realtime?intent=transcription"
	realtimeModel      = "gpt-4o-transcribe"
	realtimeSampleRate = 24000
)

// realtimeProtocol speaks the OpenAI realtime transcription protocol
type realtimeProtocol struct {
	cfg Config
}

type sessionUpdate struct {
	Type    string               `json:"type"`
	Session transcriptionSession `json:"session"`
}

type transcriptionSession struct {
	InputAudioFormat         string                  `json:"input_audio_format"`
	InputAudioTranscription  inputAudioTranscription `json:"input_audio_transcription"`
	TurnDetection            *turnDetection          `json:"turn_detection,omitempty"`
	InputAudioNoiseReduction *noiseReduction         `json:"input_audio_noise_reduction,omitempty"`
}

type inputAudioTranscription struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
}

type turnDetection struct {
	Type              string   `json:"type"`
	Threshold         *float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   *int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs *int     `json:"silence_duration_ms,omitempty"`
}

type noiseReduction struct {
	Type string `json:"type"`
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type realtimeEvent struct {
	Type       string         `json:"type"`
	Delta      string         `json:"delta"`
	Transcript string         `json:"transcript"`
	Error      *realtimeError `json:"error"`
}

type realtimeError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// realtimeErrorCodes maps backend error codes to categories. Codes not listed
// here are logged but not surfaced.
var realtimeErrorCodes = map[string]Category{
	"invalid_api_key":     CategoryInvalidCredential,
	"insufficient_quota":  CategoryInsufficientFunds,
	"rate_limit_exceeded": CategoryRateLimited,
	"model_not_found":     CategoryEndpointNotFound,
}

func (p *realtimeProtocol) Name() string { return BackendRealtime }

func (p *realtimeProtocol) SampleRate() int {
	if p.cfg.SampleRate > 0 {
		return p.cfg.SampleRate
	}
	return realtimeSampleRate
}

func (p *realtimeProtocol) Endpoint() (string, error) {
	if p.cfg.URL != "" {
		return p.cfg.URL, nil
	}
	return realtimeURL, nil
}

func (p *realtimeProtocol) Header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+p.cfg.APIKey)
	h.Set("OpenAI-Beta", "realtime=v1")
	return h
}

func (p *realtimeProtocol) Handshake() ([]byte, error) {
	model := p.cfg.Model
	if model == "" {
		model = realtimeModel
	}

	session := transcriptionSession{
		InputAudioFormat: "pcm16",
		InputAudioTranscription: inputAudioTranscription{
			Model:    model,
			Language: p.cfg.Language,
			Prompt:   p.cfg.Prompt,
		},
	}

	// empty or "none" turns server-side turn detection off
	if p.cfg.TurnDetectionType != "" && p.cfg.TurnDetectionType != "none" {
		td := &turnDetection{Type: p.cfg.TurnDetectionType}
		if p.cfg.VADThreshold > 0 {
			threshold := p.cfg.VADThreshold
			td.Threshold = &threshold
		}
		if p.cfg.PrefixPaddingMs > 0 {
			padding := p.cfg.PrefixPaddingMs
			td.PrefixPaddingMs = &padding
		}
		if p.cfg.SilenceDurationMs > 0 {
			silence := p.cfg.SilenceDurationMs
			td.SilenceDurationMs = &silence
		}
		session.TurnDetection = td
	}

	if p.cfg.NoiseReduction != "" && p.cfg.NoiseReduction != "none" {
		session.InputAudioNoiseReduction = &noiseReduction{Type: p.cfg.NoiseReduction}
	}

	data, err := json.Marshal(sessionUpdate{Type: "transcription_session.update", Session: session})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session update: %w", err)
	}
	return data, nil
}

func (p *realtimeProtocol) EncodeAudio(block audio.CanonicalBlock) (int, []byte, error) {
	data, err := json.Marshal(audioAppend{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(block.Bytes()),
	})
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal audio append: %w", err)
	}
	return websocket.TextMessage, data, nil
}

func (p *realtimeProtocol) Decode(data []byte) ([]Event, *ChannelError, error) {
	var msg realtimeEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal realtime event: %w", err)
	}

	now := time.Now()
	switch msg.Type {
	case "conversation.item.input_audio_transcription.delta":
		return []Event{{Kind: EventDelta, Text: msg.Delta, ReceivedAt: now}}, nil, nil
	case "conversation.item.input_audio_transcription.completed":
		return []Event{{Kind: EventFinal, Text: msg.Transcript, ReceivedAt: now}}, nil, nil
	case "error":
		if msg.Error == nil {
			return nil, nil, fmt.Errorf("error event without payload")
		}
		backendErr := fmt.Errorf("%s: %s", msg.Error.Code, msg.Error.Message)
		if category, ok := realtimeErrorCodes[msg.Error.Code]; ok {
			return nil, &ChannelError{Category: category, Err: backendErr}, nil
		}
		if msg.Error.Type == "server_error" {
			return nil, &ChannelError{Category: CategoryServerError, Err: backendErr}, nil
		}
		return nil, nil, fmt.Errorf("backend reported %s error: %w", msg.Error.Type, backendErr)
	}
	return nil, nil, nil
}

const (
	streamingURL        = "wss://api.deepgram.com/v1/listen"
	streamingModel      = "nova-2"
	streamingSampleRate = 16000
)

// streamingProtocol speaks the Deepgram live streaming protocol. Each
// non-final result is a complete hypothesis for the current utterance.
type streamingProtocol struct {
	cfg Config
	// pendingInterim is only touched from the read loop
	pendingInterim bool
}

type streamingResult struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (p *streamingProtocol) Name() string { return BackendStreaming }

func (p *streamingProtocol) SampleRate() int {
	if p.cfg.SampleRate > 0 {
		return p.cfg.SampleRate
	}
	return streamingSampleRate
}

func (p *streamingProtocol) Endpoint() (string, error) {
	base := p.cfg.URL
	if base == "" {
		base = streamingURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid streaming endpoint: %w", err)
	}

	model := p.cfg.Model
	if model == "" {
		model = streamingModel
	}

	q := u.Query()
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(p.SampleRate()))
	q.Set("channels", "1")
	q.Set("model", model)
	q.Set("interim_results", "true")
	if p.cfg.Language != "" {
		q.Set("language", p.cfg.Language)
	}
	if p.cfg.SilenceDurationMs > 0 {
		q.Set("endpointing", strconv.Itoa(p.cfg.SilenceDurationMs))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (p *streamingProtocol) Header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Token "+p.cfg.APIKey)
	return h
}

func (p *streamingProtocol) Handshake() ([]byte, error) {
	return nil, nil
}

func (p *streamingProtocol) EncodeAudio(block audio.CanonicalBlock) (int, []byte, error) {
	return websocket.BinaryMessage, block.Bytes(), nil
}

func (p *streamingProtocol) Decode(data []byte) ([]Event, *ChannelError, error) {
	var msg streamingResult
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal streaming result: %w", err)
	}
	if msg.Type != "Results" {
		return nil, nil, nil
	}

	text := ""
	if len(msg.Channel.Alternatives) > 0 {
		text = msg.Channel.Alternatives[0].Transcript
	}

	now := time.Now()
	if !msg.IsFinal {
		if text == "" {
			return nil, nil, nil
		}
		p.pendingInterim = true
		return []Event{{Kind: EventInterim, Text: text, ReceivedAt: now}}, nil, nil
	}

	// empty finals are sent for every stretch of silence; only the ones that
	// close an open hypothesis matter
	if text == "" && !p.pendingInterim {
		return nil, nil, nil
	}
	p.pendingInterim = false
	return []Event{{Kind: EventFinal, Text: text, ReceivedAt: now}}, nil, nil
}
