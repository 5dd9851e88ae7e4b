package notes

import (
	"context"
	"fmt"

	"github.com/yegors/co-scribe/internal/transcript"
	"github.com/yegors/co-scribe/pkg/logger"
)

// Store is the document storage notes are read from and written to
type Store interface {
	LoadCurrentTranscript(ctx context.Context, documentID string) ([]transcript.Segment, error)
	SaveNotes(ctx context.Context, documentID, content, model string) error
}

// Writer generates notes from a rendered transcript
type Writer interface {
	Generate(ctx context.Context, transcript string) (string, error)
	Model() string
}

// Service generates and stores notes for stored documents
type Service struct {
	store  Store
	writer Writer
	logger *logger.Logger
}

// NewService creates a notes service
func NewService(store Store, writer Writer, log *logger.Logger) *Service {
	return &Service{
		store:  store,
		writer: writer,
		logger: log.Named("notes-svc"),
	}
}

// GenerateForDocument renders the stored transcript of documentID, generates
// notes for it and stores them alongside the document
func (s *Service) GenerateForDocument(ctx context.Context, documentID string) (string, error) {
	segments, err := s.store.LoadCurrentTranscript(ctx, documentID)
	if err != nil {
		return "", fmt.Errorf("failed to load transcript: %w", err)
	}

	rendered := transcript.Render(segments)
	if rendered == "" {
		return "", ErrEmptyTranscript
	}

	s.logger.Info("Generating notes",
		logger.String("document_id", documentID),
		logger.Int("segments", len(segments)))

	content, err := s.writer.Generate(ctx, rendered)
	if err != nil {
		return "", err
	}

	if err := s.store.SaveNotes(ctx, documentID, content, s.writer.Model()); err != nil {
		return "", fmt.Errorf("failed to store notes: %w", err)
	}
	return content, nil
}
