package notes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/co-scribe/internal/audio"
	"github.com/yegors/co-scribe/internal/transcript"
	"github.com/yegors/co-scribe/pkg/logger"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newChatServer(t *testing.T, status int, reply string, got *chatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if got != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(got))
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error","code":"invalid_api_key"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestGenerator(t *testing.T, srv *httptest.Server, prompt string) *Generator {
	t.Helper()
	g, err := NewGenerator(Config{
		APIKey:  "test-key",
		BaseURL: srv.URL + "/v1/",
		Prompt:  prompt,
	}, logger.NewNop())
	require.NoError(t, err)
	return g
}

func TestGenerator_Generate(t *testing.T) {
	var req chatRequest
	srv := newChatServer(t, http.StatusOK, "  ## Summary\nShort.  ", &req)
	g := newTestGenerator(t, srv, "")

	out, err := g.Generate(context.Background(), "Me: hello\nOthers: hi\n")
	require.NoError(t, err)
	assert.Equal(t, "## Summary\nShort.", out)

	assert.Equal(t, DefaultModel, req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, DefaultPrompt, req.Messages[0].Content)
	assert.Equal(t, "user", req.Messages[1].Role)
	assert.Contains(t, req.Messages[1].Content, "Me: hello\nOthers: hi\n")
}

func TestGenerator_CustomPrompt(t *testing.T) {
	var req chatRequest
	srv := newChatServer(t, http.StatusOK, "notes", &req)
	g := newTestGenerator(t, srv, "be brief")

	_, err := g.Generate(context.Background(), "Me: hello\n")
	require.NoError(t, err)
	assert.Equal(t, "be brief", req.Messages[0].Content)
}

func TestGenerator_Errors(t *testing.T) {
	t.Run("empty transcript", func(t *testing.T) {
		srv := newChatServer(t, http.StatusOK, "unused", nil)
		g := newTestGenerator(t, srv, "")
		_, err := g.Generate(context.Background(), "  \n")
		assert.ErrorIs(t, err, ErrEmptyTranscript)
	})

	t.Run("api error", func(t *testing.T) {
		srv := newChatServer(t, http.StatusUnauthorized, "", nil)
		g := newTestGenerator(t, srv, "")
		_, err := g.Generate(context.Background(), "Me: hello\n")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "HTTP 401")
	})

	t.Run("empty reply", func(t *testing.T) {
		srv := newChatServer(t, http.StatusOK, "   ", nil)
		g := newTestGenerator(t, srv, "")
		_, err := g.Generate(context.Background(), "Me: hello\n")
		assert.EqualError(t, err, "empty response from notes API")
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := NewGenerator(Config{}, logger.NewNop())
		assert.Error(t, err)
	})
}

type memoryStore struct {
	segments []transcript.Segment
	loadErr  error
	saved    map[string]string
	model    string
}

func (m *memoryStore) LoadCurrentTranscript(context.Context, string) ([]transcript.Segment, error) {
	return m.segments, m.loadErr
}

func (m *memoryStore) SaveNotes(_ context.Context, documentID, content, model string) error {
	if m.saved == nil {
		m.saved = make(map[string]string)
	}
	m.saved[documentID] = content
	m.model = model
	return nil
}

type stubWriter struct {
	got string
	out string
	err error
}

func (w *stubWriter) Generate(_ context.Context, transcript string) (string, error) {
	w.got = transcript
	return w.out, w.err
}

func (w *stubWriter) Model() string { return "stub-model" }

func TestService_GenerateForDocument(t *testing.T) {
	store := &memoryStore{segments: []transcript.Segment{
		{Source: audio.Microphone, Text: "hello", IsFinal: true},
		{Source: audio.Microphone, Text: "there", IsFinal: true},
		{Source: audio.System, Text: "hi", IsFinal: true},
	}}
	writer := &stubWriter{out: "notes"}
	svc := NewService(store, writer, logger.NewNop())

	out, err := svc.GenerateForDocument(context.Background(), "doc")
	require.NoError(t, err)
	assert.Equal(t, "notes", out)
	assert.Equal(t, "Me: hello there\nOthers: hi\n", writer.got)
	assert.Equal(t, "notes", store.saved["doc"])
	assert.Equal(t, "stub-model", store.model)
}

func TestService_GenerateForDocumentFailures(t *testing.T) {
	t.Run("empty document", func(t *testing.T) {
		store := &memoryStore{}
		svc := NewService(store, &stubWriter{}, logger.NewNop())
		_, err := svc.GenerateForDocument(context.Background(), "doc")
		assert.ErrorIs(t, err, ErrEmptyTranscript)
		assert.Empty(t, store.saved)
	})

	t.Run("load error", func(t *testing.T) {
		boom := errors.New("boom")
		svc := NewService(&memoryStore{loadErr: boom}, &stubWriter{}, logger.NewNop())
		_, err := svc.GenerateForDocument(context.Background(), "doc")
		assert.ErrorIs(t, err, boom)
	})

	t.Run("generation error is not stored", func(t *testing.T) {
		store := &memoryStore{segments: []transcript.Segment{{Source: audio.System, Text: "hi", IsFinal: true}}}
		svc := NewService(store, &stubWriter{err: errors.New("down")}, logger.NewNop())
		_, err := svc.GenerateForDocument(context.Background(), "doc")
		assert.EqualError(t, err, "down")
		assert.Empty(t, store.saved)
	})
}
