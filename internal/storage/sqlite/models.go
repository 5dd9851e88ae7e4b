package sqlite

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a document or its notes do not exist
var ErrNotFound = errors.New("not found")

// DocumentRecord summarises one stored meeting document
type DocumentRecord struct {
	ID           string    `json:"id"`
	SegmentCount int       `json:"segment_count"`
	HasNotes     bool      `json:"has_notes"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NotesRecord holds generated notes for a document
type NotesRecord struct {
	DocumentID string    `json:"document_id"`
	Content    string    `json:"content"`
	Model      string    `json:"model"`
	CreatedAt  time.Time `json:"created_at"`
}
