// Package notes turns a rendered meeting transcript into written notes with
// a chat completion model.
package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/yegors/co-scribe/pkg/logger"
)

// DefaultPrompt is used when no custom system prompt is configured
const DefaultPrompt = `You are a meeting note taker. The transcript labels the local participant as "Me" and everyone else as "Others". Produce concise notes in markdown with these sections:

## Summary
Two or three sentences on what the meeting was about.

## Key Points
The main topics and conclusions as bullet points.

## Decisions
Decisions that were made, or "None" if there were none.

## Action Items
Follow-ups with an owner where one was named, or "None".

Do not invent content that is not in the transcript.`

// Defaults
const (
	DefaultModel      = "gpt-4o-mini"
	DefaultTimeout    = 60 * time.Second
	DefaultMaxRetries = 2
)

// ErrEmptyTranscript is returned when there is nothing to summarise
var ErrEmptyTranscript = errors.New("transcript is empty")

// Config holds the note generation settings
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Prompt     string
	Timeout    time.Duration
	MaxRetries int
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Prompt == "" {
		c.Prompt = DefaultPrompt
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	return c
}

// Generator produces notes through the chat completions API
type Generator struct {
	client openai.Client
	config Config
	logger *logger.Logger
}

// NewGenerator creates a note generator
func NewGenerator(cfg Config, log *logger.Logger) (*Generator, error) {
	cfg = cfg.withDefaults()
	if cfg.APIKey == "" {
		return nil, errors.New("notes API key not set: set CO_SCRIBE_OPENAI_API_KEY or notes.api_key in config")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Generator{
		client: openai.NewClient(opts...),
		config: cfg,
		logger: log.Named("notes"),
	}, nil
}

// Model returns the configured model name
func (g *Generator) Model() string {
	return g.config.Model
}

// Generate writes notes for a rendered transcript
func (g *Generator) Generate(ctx context.Context, transcript string) (string, error) {
	if strings.TrimSpace(transcript) == "" {
		return "", ErrEmptyTranscript
	}

	start := time.Now()
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.config.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(g.config.Prompt),
			openai.UserMessage("Here is the meeting transcript:\n\n" + transcript),
		},
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("notes API error (HTTP %d): %w", apiErr.StatusCode, err)
		}
		return "", fmt.Errorf("failed to call notes API: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("empty response from notes API")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("empty response from notes API")
	}

	g.logger.Info("Generated notes",
		logger.String("model", g.config.Model),
		logger.Int("transcript_chars", len(transcript)),
		logger.Int64("completion_tokens", resp.Usage.CompletionTokens),
		logger.Duration("took", time.Since(start)))

	return content, nil
}
