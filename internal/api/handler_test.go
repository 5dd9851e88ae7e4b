package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/co-scribe/internal/audio"
	"github.com/yegors/co-scribe/internal/capture"
	"github.com/yegors/co-scribe/internal/notes"
	"github.com/yegors/co-scribe/internal/session"
	"github.com/yegors/co-scribe/internal/storage/sqlite"
	"github.com/yegors/co-scribe/internal/transcript"
	"github.com/yegors/co-scribe/pkg/logger"
)

type fakeRecorder struct {
	mu        sync.Mutex
	state     session.State
	docID     string
	lastError string
	startErr  error
	segments  []transcript.Segment
	subs      []chan session.Notification
}

func (f *fakeRecorder) Start(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.state = session.Recording
	f.docID = documentID
	return nil
}

func (f *fakeRecorder) Stop(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = session.Idle
}

func (f *fakeRecorder) State() session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeRecorder) SessionID() string {
	if f.State() == session.Idle {
		return ""
	}
	return "session-1"
}

func (f *fakeRecorder) DocumentID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docID
}

func (f *fakeRecorder) Transcript() []transcript.Segment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.segments
}

func (f *fakeRecorder) LastError() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastError
}

func (f *fakeRecorder) DismissError() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastError = ""
}

func (f *fakeRecorder) Subscribe() (<-chan session.Notification, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan session.Notification, 8)
	f.subs = append(f.subs, ch)
	return ch, func() {}
}

func (f *fakeRecorder) publish(n session.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		ch <- n
	}
}

func (f *fakeRecorder) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type fakeDocuments struct {
	docs    map[string][]transcript.Segment
	notes   map[string]*sqlite.NotesRecord
	listErr error
}

func (f *fakeDocuments) ListDocuments(context.Context) ([]*sqlite.DocumentRecord, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*sqlite.DocumentRecord
	for id, segs := range f.docs {
		out = append(out, &sqlite.DocumentRecord{ID: id, SegmentCount: len(segs)})
	}
	return out, nil
}

func (f *fakeDocuments) LoadCurrentTranscript(_ context.Context, id string) ([]transcript.Segment, error) {
	return f.docs[id], nil
}

func (f *fakeDocuments) GetNotes(_ context.Context, id string) (*sqlite.NotesRecord, error) {
	if n, ok := f.notes[id]; ok {
		return n, nil
	}
	return nil, sqlite.ErrNotFound
}

func (f *fakeDocuments) DeleteDocument(_ context.Context, id string) error {
	if _, ok := f.docs[id]; !ok {
		return sqlite.ErrNotFound
	}
	delete(f.docs, id)
	return nil
}

type fakeNotes struct {
	content string
	err     error
}

func (f *fakeNotes) GenerateForDocument(context.Context, string) (string, error) {
	return f.content, f.err
}

func newTestServer(t *testing.T, rec *fakeRecorder, docs *fakeDocuments, gen NotesGenerator) *httptest.Server {
	t.Helper()
	router := NewRouter(rec, docs, gen, RouterConfig{}, logger.NewNop())
	srv := httptest.NewServer(router.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func TestHandler_RecordingLifecycle(t *testing.T) {
	rec := &fakeRecorder{}
	srv := newTestServer(t, rec, &fakeDocuments{}, nil)

	resp, body := doRequest(t, http.MethodGet, srv.URL+"/api/v1/state", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "idle", body["state"])

	resp, body = doRequest(t, http.MethodPost, srv.URL+"/api/v1/recording/start", `{"document_id":"standup"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "recording", body["state"])
	assert.Equal(t, "standup", body["document_id"])

	resp, body = doRequest(t, http.MethodPost, srv.URL+"/api/v1/recording/stop", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "idle", body["state"])
}

func TestHandler_StartGeneratesDocumentID(t *testing.T) {
	rec := &fakeRecorder{}
	srv := newTestServer(t, rec, &fakeDocuments{}, nil)

	resp, body := doRequest(t, http.MethodPost, srv.URL+"/api/v1/recording/start", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["document_id"], 36)
}

func TestHandler_StartErrors(t *testing.T) {
	denied := &fakeRecorder{
		startErr:  &capture.Error{Source: audio.Microphone, Kind: capture.ErrPermissionDenied},
		lastError: "Microphone access was denied.",
	}
	srv := newTestServer(t, denied, &fakeDocuments{}, nil)
	resp, body := doRequest(t, http.MethodPost, srv.URL+"/api/v1/recording/start", `{"document_id":"d"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Microphone access was denied.", body["error"])

	resp, _ = doRequest(t, http.MethodPost, srv.URL+"/api/v1/recording/start", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	broken := &fakeRecorder{startErr: errors.New("db gone")}
	srv = newTestServer(t, broken, &fakeDocuments{}, nil)
	resp, body = doRequest(t, http.MethodPost, srv.URL+"/api/v1/recording/start", `{"document_id":"d"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "db gone", body["error"])
}

func TestHandler_TranscriptAndError(t *testing.T) {
	rec := &fakeRecorder{
		lastError: "boom",
		segments: []transcript.Segment{
			{Source: audio.Microphone, Text: "a", IsFinal: true},
			{Source: audio.Microphone, Text: "b", IsFinal: true},
			{Source: audio.System, Text: "c", IsFinal: false},
		},
	}
	srv := newTestServer(t, rec, &fakeDocuments{}, nil)

	_, body := doRequest(t, http.MethodGet, srv.URL+"/api/v1/transcript", "")
	assert.Len(t, body["segments"], 3)
	assert.Equal(t, "Me: a b\nOthers: c\n", body["text"])

	_, body = doRequest(t, http.MethodGet, srv.URL+"/api/v1/transcript?collapsed=true", "")
	segs := body["segments"].([]any)
	require.Len(t, segs, 2)
	assert.Equal(t, "microphone", segs[0].(map[string]any)["source"])

	_, body = doRequest(t, http.MethodGet, srv.URL+"/api/v1/state", "")
	assert.Equal(t, "boom", body["error"])

	resp, _ := doRequest(t, http.MethodDelete, srv.URL+"/api/v1/error", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, rec.LastError())
}

func TestHandler_Documents(t *testing.T) {
	docs := &fakeDocuments{
		docs: map[string][]transcript.Segment{
			"doc": {{Source: audio.System, Text: "hello", IsFinal: true}},
		},
		notes: map[string]*sqlite.NotesRecord{
			"doc": {DocumentID: "doc", Content: "## Summary", Model: "m"},
		},
	}
	rec := &fakeRecorder{}
	srv := newTestServer(t, rec, docs, &fakeNotes{content: "generated"})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/documents", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	var list []sqlite.DocumentRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].SegmentCount)

	_, body := doRequest(t, http.MethodGet, srv.URL+"/api/v1/documents/doc/transcript", "")
	assert.Equal(t, "Others: hello\n", body["text"])

	_, body = doRequest(t, http.MethodGet, srv.URL+"/api/v1/documents/doc/notes", "")
	assert.Equal(t, "## Summary", body["content"])

	resp, _ = doRequest(t, http.MethodGet, srv.URL+"/api/v1/documents/other/notes", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = doRequest(t, http.MethodPost, srv.URL+"/api/v1/documents/doc/notes", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "generated", body["content"])

	// the document under recording cannot be deleted
	rec.Start(context.Background(), "doc")
	resp, _ = doRequest(t, http.MethodDelete, srv.URL+"/api/v1/documents/doc", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	rec.Stop(context.Background())

	resp, _ = doRequest(t, http.MethodDelete, srv.URL+"/api/v1/documents/doc", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = doRequest(t, http.MethodDelete, srv.URL+"/api/v1/documents/doc", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_NotesErrors(t *testing.T) {
	docs := &fakeDocuments{listErr: errors.New("locked")}

	srv := newTestServer(t, &fakeRecorder{}, docs, nil)
	resp, _ := doRequest(t, http.MethodPost, srv.URL+"/api/v1/documents/doc/notes", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, _ = doRequest(t, http.MethodGet, srv.URL+"/api/v1/documents", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	srv = newTestServer(t, &fakeRecorder{}, docs, &fakeNotes{err: notes.ErrEmptyTranscript})
	resp, _ = doRequest(t, http.MethodPost, srv.URL+"/api/v1/documents/doc/notes", "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	srv = newTestServer(t, &fakeRecorder{}, docs, &fakeNotes{err: errors.New("upstream")})
	resp, _ = doRequest(t, http.MethodPost, srv.URL+"/api/v1/documents/doc/notes", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestMiddleware_CORS(t *testing.T) {
	router := NewRouter(&fakeRecorder{}, &fakeDocuments{}, nil, RouterConfig{CORSAllowedOrigins: []string{"http://app.local"}}, logger.NewNop())
	srv := httptest.NewServer(router.Routes())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/state", nil)
	req.Header.Set("Origin", "http://app.local")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://app.local", resp.Header.Get("Access-Control-Allow-Origin"))

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.local")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestHandler_WebSocketStream(t *testing.T) {
	rec := &fakeRecorder{state: session.Recording, docID: "doc"}
	srv := newTestServer(t, rec, &fakeDocuments{}, nil)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first map[string]any
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "state", first["kind"])
	assert.Equal(t, "recording", first["state"])
	assert.Equal(t, "doc", first["document_id"])

	require.Eventually(t, func() bool { return rec.subscribers() == 1 }, time.Second, 5*time.Millisecond)
	rec.publish(session.Notification{
		Kind:     session.NotifyTranscript,
		State:    session.Recording,
		Segments: []transcript.Segment{{Source: audio.Microphone, Text: "hi", IsFinal: true}},
	})

	var next map[string]any
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, "transcript", next["kind"])
	segs := next["segments"].([]any)
	require.Len(t, segs, 1)
	assert.Equal(t, "hi", segs[0].(map[string]any)["text"])
}
