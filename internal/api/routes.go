package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yegors/co-scribe/pkg/logger"
)

// RouterConfig holds the HTTP surface settings
type RouterConfig struct {
	CORSAllowedOrigins []string
}

// Router is the API router
type Router struct {
	handler    *Handler
	middleware *Middleware
	config     RouterConfig
}

// NewRouter creates a new API router. notes may be nil when note generation
// is not configured.
func NewRouter(recorder Recorder, documents Documents, notes NotesGenerator, config RouterConfig, log *logger.Logger) *Router {
	return &Router{
		handler:    NewHandler(recorder, documents, notes, log),
		middleware: NewMiddleware(log),
		config:     config,
	}
}

// Routes returns the API routes
func (r *Router) Routes() http.Handler {
	router := chi.NewRouter()

	router.Use(r.middleware.RequestID)
	router.Use(r.middleware.Logger)
	router.Use(r.middleware.Recoverer)
	router.Use(r.middleware.CORS(r.config.CORSAllowedOrigins))

	router.Route("/api/v1", func(router chi.Router) {
		router.Get("/health", r.handler.GetHealth)

		// Recording session
		router.Get("/state", r.handler.GetState)
		router.Get("/transcript", r.handler.GetTranscript)
		router.Post("/recording/start", r.handler.StartRecording)
		router.Post("/recording/stop", r.handler.StopRecording)
		router.Delete("/error", r.handler.DismissError)

		// Stored documents
		router.Get("/documents", r.handler.ListDocuments)
		router.Get("/documents/{id}/transcript", r.handler.GetDocumentTranscript)
		router.Get("/documents/{id}/notes", r.handler.GetNotes)
		router.Post("/documents/{id}/notes", r.handler.GenerateNotes)
		router.Delete("/documents/{id}", r.handler.DeleteDocument)

		// Notification stream
		router.Get("/ws", r.handler.HandleWebSocket)
	})

	return router
}
