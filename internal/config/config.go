// Package config loads the co-scribe TOML configuration and maps it onto the
// settings of each component.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/yegors/co-scribe/internal/audio"
	"github.com/yegors/co-scribe/internal/capture"
	"github.com/yegors/co-scribe/internal/notes"
	"github.com/yegors/co-scribe/internal/session"
	"github.com/yegors/co-scribe/internal/transcription"
	"github.com/yegors/co-scribe/pkg/logger"
)

// Environment overrides
const (
	EnvOpenAIKey   = "CO_SCRIBE_OPENAI_API_KEY"
	EnvDeepgramKey = "CO_SCRIBE_DEEPGRAM_API_KEY"
	EnvDBPath      = "CO_SCRIBE_DB_PATH"
	EnvLogLevel    = "CO_SCRIBE_LOG_LEVEL"
)

// Config is the complete application configuration
type Config struct {
	Log           LogConfig           `toml:"log"`
	Server        ServerConfig        `toml:"server"`
	Storage       StorageConfig       `toml:"storage"`
	Capture       CaptureConfig       `toml:"capture"`
	Transcription TranscriptionConfig `toml:"transcription"`
	Session       SessionConfig       `toml:"session"`
	Notes         NotesConfig         `toml:"notes"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Output string `toml:"output"`
}

// ServerConfig holds the local HTTP API settings
type ServerConfig struct {
	Address            string   `toml:"address"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`
}

// StorageConfig holds the document database settings
type StorageConfig struct {
	DBPath string `toml:"db_path"`
}

// DeviceConfig describes one capture device
type DeviceConfig struct {
	InputFormat string `toml:"input_format"`
	Device      string `toml:"device"`
	SampleRate  int    `toml:"sample_rate"`
	Channels    int    `toml:"channels"`
	Encoding    string `toml:"encoding"`
}

// CaptureConfig holds the ffmpeg capture settings
type CaptureConfig struct {
	FFmpegPath     string       `toml:"ffmpeg_path"`
	BlockFrames    int          `toml:"block_frames"`
	StartupGraceMs int          `toml:"startup_grace_ms"`
	ExtraArgs      []string     `toml:"extra_args"`
	Microphone     DeviceConfig `toml:"microphone"`
	System         DeviceConfig `toml:"system"`
}

// TranscriptionConfig holds the streaming transcription settings
type TranscriptionConfig struct {
	Backend               string  `toml:"backend"`
	OpenAIAPIKey          string  `toml:"openai_api_key"`
	DeepgramAPIKey        string  `toml:"deepgram_api_key"`
	URL                   string  `toml:"url"`
	Model                 string  `toml:"model"`
	Language              string  `toml:"language"`
	Prompt                string  `toml:"prompt"`
	NoiseReduction        string  `toml:"noise_reduction"`
	TurnDetection         string  `toml:"turn_detection"`
	VADThreshold          float64 `toml:"vad_threshold"`
	PrefixPaddingMs       int     `toml:"prefix_padding_ms"`
	SilenceDurationMs     int     `toml:"silence_duration_ms"`
	ConnectTimeoutSeconds int     `toml:"connect_timeout_seconds"`
	QueueSize             int     `toml:"queue_size"`
}

// SessionConfig holds the recording retry policy
type SessionConfig struct {
	MaxCaptureRetries     int    `toml:"max_capture_retries"`
	MaxChannelRetries     int    `toml:"max_channel_retries"`
	CaptureRestartDelayMs int    `toml:"capture_restart_delay_ms"`
	ReconnectDelayMs      int    `toml:"reconnect_delay_ms"`
	ArchiveDir            string `toml:"archive_dir"`
}

// NotesConfig holds the note generation settings
type NotesConfig struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Prompt         string `toml:"prompt"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Default returns the built-in configuration
func Default() *Config {
	mic := capture.DefaultConfig(audio.Microphone)
	sys := capture.DefaultConfig(audio.System)
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Server: ServerConfig{
			Address: "127.0.0.1:8765",
		},
		Storage: StorageConfig{
			DBPath: filepath.Join(dataDir(), "co-scribe.db"),
		},
		Capture: CaptureConfig{
			FFmpegPath:     mic.FFmpegPath,
			BlockFrames:    mic.BlockFrames,
			StartupGraceMs: int(mic.StartupGrace / time.Millisecond),
			Microphone:     deviceFrom(mic),
			System:         deviceFrom(sys),
		},
		Transcription: TranscriptionConfig{
			Backend:               transcription.BackendRealtime,
			ConnectTimeoutSeconds: int(transcription.DefaultConnectTimeout / time.Second),
			QueueSize:             transcription.DefaultQueueSize,
		},
		Session: SessionConfig{
			MaxCaptureRetries:     session.DefaultMaxRetries,
			MaxChannelRetries:     session.DefaultMaxRetries,
			CaptureRestartDelayMs: int(session.DefaultCaptureRestartDelay / time.Millisecond),
			ReconnectDelayMs:      int(session.DefaultReconnectDelay / time.Millisecond),
		},
		Notes: NotesConfig{
			Model:          notes.DefaultModel,
			TimeoutSeconds: int(notes.DefaultTimeout / time.Second),
		},
	}
}

func deviceFrom(c capture.Config) DeviceConfig {
	return DeviceConfig{
		InputFormat: c.InputFormat,
		Device:      c.Device,
		SampleRate:  c.Format.SampleRate,
		Channels:    c.Format.Channels,
		Encoding:    string(c.Format.Encoding),
	}
}

// Load reads the configuration at path over the defaults. An empty path uses
// DefaultPath when that file exists and the defaults otherwise.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if p := DefaultPath(); p != "" {
			if _, err := os.Stat(p); err == nil {
				path = p
			}
		}
	}

	if path != "" {
		md, err := toml.DecodeFile(expandTilde(path), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	cfg.applyEnvOverrides()
	cfg.Storage.DBPath = expandTilde(cfg.Storage.DBPath)
	cfg.Session.ArchiveDir = expandTilde(cfg.Session.ArchiveDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvOpenAIKey); v != "" {
		c.Transcription.OpenAIAPIKey = v
	}
	if v := os.Getenv(EnvDeepgramKey); v != "" {
		c.Transcription.DeepgramAPIKey = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

// Validate checks the configuration for values no component can work with
func (c *Config) Validate() error {
	var errs []error

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	switch c.Log.Output {
	case "stdout", "stderr":
	default:
		errs = append(errs, fmt.Errorf("log.output: must be stdout or stderr, got %q", c.Log.Output))
	}

	switch c.Transcription.Backend {
	case transcription.BackendRealtime, transcription.BackendStreaming:
	default:
		errs = append(errs, fmt.Errorf("transcription.backend: must be %q or %q, got %q",
			transcription.BackendRealtime, transcription.BackendStreaming, c.Transcription.Backend))
	}
	if c.Transcription.QueueSize <= 0 {
		errs = append(errs, errors.New("transcription.queue_size: must be positive"))
	}

	for name, d := range map[string]DeviceConfig{"microphone": c.Capture.Microphone, "system": c.Capture.System} {
		if d.SampleRate <= 0 || d.Channels <= 0 {
			errs = append(errs, fmt.Errorf("capture.%s: sample_rate and channels must be positive", name))
		}
		if audio.Encoding(d.Encoding).BytesPerSample() == 0 {
			errs = append(errs, fmt.Errorf("capture.%s.encoding: unsupported encoding %q", name, d.Encoding))
		}
	}
	if c.Capture.BlockFrames <= 0 {
		errs = append(errs, errors.New("capture.block_frames: must be positive"))
	}

	if c.Storage.DBPath == "" {
		errs = append(errs, errors.New("storage.db_path: must not be empty"))
	}

	return errors.Join(errs...)
}

// TranscriptionAPIKey returns the key for the configured backend
func (c *Config) TranscriptionAPIKey() string {
	if c.Transcription.Backend == transcription.BackendStreaming {
		return c.Transcription.DeepgramAPIKey
	}
	return c.Transcription.OpenAIAPIKey
}

// RequireTranscriptionKey reports a missing key for the configured backend
func (c *Config) RequireTranscriptionKey() error {
	if c.TranscriptionAPIKey() != "" {
		return nil
	}
	if c.Transcription.Backend == transcription.BackendStreaming {
		return fmt.Errorf("transcription API key not set: set %s or transcription.deepgram_api_key", EnvDeepgramKey)
	}
	return fmt.Errorf("transcription API key not set: set %s or transcription.openai_api_key", EnvOpenAIKey)
}

// LoggerConfig maps the log section
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Log.Level,
		Format: c.Log.Format,
		Output: c.Log.Output,
	}
}

// CaptureConfigs maps the capture section to one tap config per source
func (c *Config) CaptureConfigs() map[audio.Source]capture.Config {
	build := func(source audio.Source, d DeviceConfig) capture.Config {
		cfg := capture.DefaultConfig(source)
		cfg.FFmpegPath = c.Capture.FFmpegPath
		cfg.BlockFrames = c.Capture.BlockFrames
		cfg.StartupGrace = time.Duration(c.Capture.StartupGraceMs) * time.Millisecond
		cfg.ExtraArgs = c.Capture.ExtraArgs
		cfg.InputFormat = d.InputFormat
		cfg.Device = d.Device
		cfg.Format = audio.Format{
			SampleRate: d.SampleRate,
			Channels:   d.Channels,
			Encoding:   audio.Encoding(d.Encoding),
		}
		return cfg
	}
	return map[audio.Source]capture.Config{
		audio.Microphone: build(audio.Microphone, c.Capture.Microphone),
		audio.System:     build(audio.System, c.Capture.System),
	}
}

// TranscriptionConfig maps the transcription section
func (c *Config) TranscriptionConfig() transcription.Config {
	t := c.Transcription
	return transcription.Config{
		Backend:           t.Backend,
		APIKey:            c.TranscriptionAPIKey(),
		URL:               t.URL,
		Model:             t.Model,
		Language:          t.Language,
		Prompt:            t.Prompt,
		NoiseReduction:    t.NoiseReduction,
		TurnDetectionType: t.TurnDetection,
		VADThreshold:      t.VADThreshold,
		PrefixPaddingMs:   t.PrefixPaddingMs,
		SilenceDurationMs: t.SilenceDurationMs,
		ConnectTimeout:    time.Duration(t.ConnectTimeoutSeconds) * time.Second,
		QueueSize:         t.QueueSize,
	}
}

// SessionConfig maps the session section
func (c *Config) SessionConfig() session.Config {
	s := c.Session
	return session.Config{
		MaxCaptureRetries:   s.MaxCaptureRetries,
		MaxChannelRetries:   s.MaxChannelRetries,
		CaptureRestartDelay: time.Duration(s.CaptureRestartDelayMs) * time.Millisecond,
		ReconnectDelay:      time.Duration(s.ReconnectDelayMs) * time.Millisecond,
		ArchiveDir:          s.ArchiveDir,
	}
}

// NotesConfig maps the notes section. The OpenAI transcription key is used
// when no dedicated notes key is set.
func (c *Config) NotesConfig() notes.Config {
	key := c.Notes.APIKey
	if key == "" {
		key = c.Transcription.OpenAIAPIKey
	}
	return notes.Config{
		APIKey:  key,
		BaseURL: c.Notes.BaseURL,
		Model:   c.Notes.Model,
		Prompt:  c.Notes.Prompt,
		Timeout: time.Duration(c.Notes.TimeoutSeconds) * time.Second,
	}
}

// DefaultPath returns the per-user config file location
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "co-scribe", "config.toml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "co-scribe", "config.toml")
	}
	return ""
}

func dataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "co-scribe")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "co-scribe")
	}
	return "."
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
