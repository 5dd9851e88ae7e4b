package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/yegors/co-scribe/internal/audio"
	"github.com/yegors/co-scribe/internal/transcript"
	"github.com/yegors/co-scribe/pkg/logger"
)

// TranscriptStorage handles storage of per-document transcripts and notes
type TranscriptStorage struct {
	db     *sql.DB
	logger *logger.Logger
	now    func() time.Time
}

// NewTranscriptStorage creates a new SQLite transcript storage
func NewTranscriptStorage(db *sql.DB, log *logger.Logger) (*TranscriptStorage, error) {
	storage := &TranscriptStorage{
		db:     db,
		logger: log.Named("sqlite-transcripts"),
		now:    time.Now,
	}

	// Initialize database
	if err := storage.initDB(); err != nil {
		return nil, err
	}

	return storage, nil
}

// initDB initializes the database tables
func (s *TranscriptStorage) initDB() error {
	statements := []struct {
		name string
		sql  string
	}{
		{"documents table", `
			CREATE TABLE IF NOT EXISTS documents (
				id TEXT PRIMARY KEY,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`},
		{"segments table", `
			CREATE TABLE IF NOT EXISTS transcript_segments (
				document_id TEXT NOT NULL,
				position INTEGER NOT NULL,
				source TEXT NOT NULL,
				text TEXT NOT NULL,
				is_final INTEGER NOT NULL,
				timestamp TEXT NOT NULL,
				PRIMARY KEY (document_id, position),
				FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
			)`},
		{"notes table", `
			CREATE TABLE IF NOT EXISTS notes (
				document_id TEXT PRIMARY KEY,
				content TEXT NOT NULL,
				model TEXT NOT NULL,
				created_at TEXT NOT NULL,
				FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
			)`},
		{"documents index", `CREATE INDEX IF NOT EXISTS idx_documents_updated_at ON documents(updated_at)`},
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt.sql); err != nil {
			return fmt.Errorf("failed to create %s: %w", stmt.name, err)
		}
	}

	return nil
}

// LoadCurrentTranscript returns the stored transcript for a document in
// arrival order. An unknown document has an empty transcript.
func (s *TranscriptStorage) LoadCurrentTranscript(ctx context.Context, documentID string) ([]transcript.Segment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, text, is_final, timestamp
		FROM transcript_segments
		WHERE document_id = ?
		ORDER BY position ASC`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}
	defer rows.Close()

	var segments []transcript.Segment
	for rows.Next() {
		var seg transcript.Segment
		var source, timestamp string
		if err := rows.Scan(&source, &seg.Text, &seg.IsFinal, &timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}

		if seg.Source, err = audio.ParseSource(source); err != nil {
			return nil, fmt.Errorf("failed to parse segment source: %w", err)
		}
		if seg.Timestamp, err = time.Parse(time.RFC3339Nano, timestamp); err != nil {
			return nil, fmt.Errorf("failed to parse timestamp: %w", err)
		}
		segments = append(segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate segments: %w", err)
	}

	return segments, nil
}

// Persist replaces the stored transcript for a document
func (s *TranscriptStorage) Persist(ctx context.Context, documentID string, segments []transcript.Segment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (id, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		documentID, now, now,
	); err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_segments WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("failed to clear transcript: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO transcript_segments (document_id, position, source, text, is_final, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare segment insert: %w", err)
	}
	defer stmt.Close()

	for i, seg := range segments {
		if _, err := stmt.ExecContext(ctx,
			documentID,
			i,
			seg.Source.String(),
			seg.Text,
			seg.IsFinal,
			seg.Timestamp.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("failed to insert segment %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transcript: %w", err)
	}

	s.logger.Debug("Persisted transcript",
		logger.String("document_id", documentID),
		logger.Int("segments", len(segments)))
	return nil
}

// ListDocuments returns every stored document, most recently updated first
func (s *TranscriptStorage) ListDocuments(ctx context.Context) ([]*DocumentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.created_at, d.updated_at,
			(SELECT COUNT(*) FROM transcript_segments t WHERE t.document_id = d.id),
			EXISTS (SELECT 1 FROM notes n WHERE n.document_id = d.id)
		FROM documents d
		ORDER BY d.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var records []*DocumentRecord
	for rows.Next() {
		var record DocumentRecord
		var createdAt, updatedAt string
		if err := rows.Scan(&record.ID, &createdAt, &updatedAt, &record.SegmentCount, &record.HasNotes); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}

		if record.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		if record.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, fmt.Errorf("failed to parse updated_at: %w", err)
		}
		records = append(records, &record)
	}

	return records, rows.Err()
}

// SaveNotes stores generated notes for a document, replacing earlier notes
func (s *TranscriptStorage) SaveNotes(ctx context.Context, documentID, content, model string) error {
	now := s.now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notes (document_id, content, model, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET content = excluded.content, model = excluded.model, created_at = excluded.created_at`,
		documentID, content, model, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save notes: %w", err)
	}
	return nil
}

// GetNotes returns the stored notes for a document
func (s *TranscriptStorage) GetNotes(ctx context.Context, documentID string) (*NotesRecord, error) {
	var record NotesRecord
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT document_id, content, model, created_at FROM notes WHERE document_id = ?`,
		documentID,
	).Scan(&record.DocumentID, &record.Content, &record.Model, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}

	if record.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return &record, nil
}

// DeleteDocument removes a document with its transcript and notes
func (s *TranscriptStorage) DeleteDocument(ctx context.Context, documentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
