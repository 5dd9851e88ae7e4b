package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/yegors/co-scribe/internal/capture"
	"github.com/yegors/co-scribe/internal/notes"
	"github.com/yegors/co-scribe/internal/session"
	"github.com/yegors/co-scribe/internal/storage/sqlite"
	"github.com/yegors/co-scribe/internal/transcript"
	"github.com/yegors/co-scribe/pkg/logger"
)

// Recorder is the recording session surface the API drives
type Recorder interface {
	Start(ctx context.Context, documentID string) error
	Stop(ctx context.Context)
	State() session.State
	SessionID() string
	DocumentID() string
	Transcript() []transcript.Segment
	LastError() string
	DismissError()
	Subscribe() (<-chan session.Notification, func())
}

// Documents is the stored document surface
type Documents interface {
	ListDocuments(ctx context.Context) ([]*sqlite.DocumentRecord, error)
	LoadCurrentTranscript(ctx context.Context, documentID string) ([]transcript.Segment, error)
	GetNotes(ctx context.Context, documentID string) (*sqlite.NotesRecord, error)
	DeleteDocument(ctx context.Context, documentID string) error
}

// NotesGenerator generates and stores notes for a document
type NotesGenerator interface {
	GenerateForDocument(ctx context.Context, documentID string) (string, error)
}

// Handler holds the HTTP handlers
type Handler struct {
	recorder  Recorder
	documents Documents
	notes     NotesGenerator
	logger    *logger.Logger
	startedAt time.Time
}

// NewHandler creates a new handler
func NewHandler(recorder Recorder, documents Documents, notes NotesGenerator, log *logger.Logger) *Handler {
	return &Handler{
		recorder:  recorder,
		documents: documents,
		notes:     notes,
		logger:    log.Named("api-handler"),
		startedAt: time.Now(),
	}
}

// StateResponse describes the recording session
type StateResponse struct {
	State      session.State `json:"state"`
	SessionID  string        `json:"session_id,omitempty"`
	DocumentID string        `json:"document_id,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// TranscriptResponse carries a transcript with its rendered text
type TranscriptResponse struct {
	DocumentID string               `json:"document_id,omitempty"`
	Segments   []transcript.Segment `json:"segments"`
	Text       string               `json:"text"`
}

// StartRequest is the body of a start request
type StartRequest struct {
	DocumentID string `json:"document_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// GetHealth reports liveness
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// GetState returns the current recording state
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.state())
}

func (h *Handler) state() StateResponse {
	return StateResponse{
		State:      h.recorder.State(),
		SessionID:  h.recorder.SessionID(),
		DocumentID: h.recorder.DocumentID(),
		Error:      h.recorder.LastError(),
	}
}

// GetTranscript returns the live transcript. collapsed=true merges adjacent
// finals from the same speaker.
func (h *Handler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, transcriptResponse(h.recorder.DocumentID(), h.recorder.Transcript(), collapsed(r)))
}

func collapsed(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("collapsed"))
	return v
}

func transcriptResponse(documentID string, segments []transcript.Segment, collapse bool) TranscriptResponse {
	if segments == nil {
		segments = []transcript.Segment{}
	}
	resp := TranscriptResponse{
		DocumentID: documentID,
		Segments:   segments,
		Text:       transcript.Render(segments),
	}
	if collapse {
		resp.Segments = transcript.Collapse(segments)
	}
	return resp
}

// StartRecording starts a session for the requested document, or a new one
func (h *Handler) StartRecording(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.DocumentID == "" {
		req.DocumentID = uuid.NewString()
	}

	if err := h.recorder.Start(r.Context(), req.DocumentID); err != nil {
		h.logger.Warn("Failed to start recording",
			logger.String("document_id", req.DocumentID),
			logger.Error(err))
		status := http.StatusInternalServerError
		if capture.IsPermission(err) {
			status = http.StatusForbidden
		}
		message := h.recorder.LastError()
		if message == "" {
			message = err.Error()
		}
		h.writeError(w, status, message)
		return
	}

	h.writeJSON(w, http.StatusOK, h.state())
}

// StopRecording stops the current session
func (h *Handler) StopRecording(w http.ResponseWriter, r *http.Request) {
	h.recorder.Stop(r.Context())
	h.writeJSON(w, http.StatusOK, h.state())
}

// DismissError clears the current user-facing error
func (h *Handler) DismissError(w http.ResponseWriter, r *http.Request) {
	h.recorder.DismissError()
	w.WriteHeader(http.StatusNoContent)
}

// ListDocuments lists stored documents
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.documents.ListDocuments(r.Context())
	if err != nil {
		h.logger.Error("Failed to list documents", logger.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	if docs == nil {
		docs = []*sqlite.DocumentRecord{}
	}
	h.writeJSON(w, http.StatusOK, docs)
}

// GetDocumentTranscript returns the stored transcript of a document
func (h *Handler) GetDocumentTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	segments, err := h.documents.LoadCurrentTranscript(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to load transcript", logger.String("document_id", id), logger.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to load transcript")
		return
	}
	h.writeJSON(w, http.StatusOK, transcriptResponse(id, segments, collapsed(r)))
}

// GetNotes returns the stored notes of a document
func (h *Handler) GetNotes(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, err := h.documents.GetNotes(r.Context(), id)
	if errors.Is(err, sqlite.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "no notes for document")
		return
	}
	if err != nil {
		h.logger.Error("Failed to load notes", logger.String("document_id", id), logger.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to load notes")
		return
	}
	h.writeJSON(w, http.StatusOK, record)
}

// GenerateNotes generates and stores notes for a document
func (h *Handler) GenerateNotes(w http.ResponseWriter, r *http.Request) {
	if h.notes == nil {
		h.writeError(w, http.StatusServiceUnavailable, "note generation is not configured")
		return
	}

	id := chi.URLParam(r, "id")
	content, err := h.notes.GenerateForDocument(r.Context(), id)
	if errors.Is(err, notes.ErrEmptyTranscript) {
		h.writeError(w, http.StatusUnprocessableEntity, "document has no transcript")
		return
	}
	if err != nil {
		h.logger.Error("Failed to generate notes", logger.String("document_id", id), logger.Error(err))
		h.writeError(w, http.StatusBadGateway, "failed to generate notes")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"document_id": id, "content": content})
}

// DeleteDocument removes a stored document that is not being recorded
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.recorder.State() != session.Idle && h.recorder.DocumentID() == id {
		h.writeError(w, http.StatusConflict, "document is being recorded")
		return
	}

	err := h.documents.DeleteDocument(r.Context(), id)
	if errors.Is(err, sqlite.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to delete document", logger.String("document_id", id), logger.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to delete document")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", logger.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Error: message})
}
