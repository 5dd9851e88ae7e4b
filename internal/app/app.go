package app

import (
	"database/sql"
	"fmt"

	"github.com/yegors/co-scribe/internal/api"
	"github.com/yegors/co-scribe/internal/capture"
	"github.com/yegors/co-scribe/internal/config"
	"github.com/yegors/co-scribe/internal/notes"
	"github.com/yegors/co-scribe/internal/session"
	"github.com/yegors/co-scribe/internal/storage/sqlite"
	"github.com/yegors/co-scribe/internal/transcription"
	"github.com/yegors/co-scribe/pkg/logger"
)

// App holds the wired components shared by every command
type App struct {
	Config     *config.Config
	Logger     *logger.Logger
	Storage    *sqlite.TranscriptStorage
	Controller *session.Controller
	// Notes is nil when no notes API key is configured
	Notes *notes.Service

	db *sql.DB
}

// New wires the application from cfg
func New(cfg *config.Config) (*App, error) {
	log, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	db, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}

	storage, err := sqlite.NewTranscriptStorage(db, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	controller := session.NewController(
		cfg.SessionConfig(),
		capture.NewFactory(cfg.CaptureConfigs(), log),
		transcription.NewFactory(cfg.TranscriptionConfig(), log),
		storage,
		log,
	)

	a := &App{
		Config:     cfg,
		Logger:     log,
		Storage:    storage,
		Controller: controller,
		db:         db,
	}

	if notesCfg := cfg.NotesConfig(); notesCfg.APIKey != "" {
		generator, err := notes.NewGenerator(notesCfg, log)
		if err != nil {
			db.Close()
			return nil, err
		}
		a.Notes = notes.NewService(storage, generator, log)
	} else {
		log.Debug("Notes API key not set, note generation disabled")
	}

	return a, nil
}

// Router builds the HTTP API over the app's components
func (a *App) Router() *api.Router {
	var gen api.NotesGenerator
	if a.Notes != nil {
		gen = a.Notes
	}
	return api.NewRouter(a.Controller, a.Storage, gen, api.RouterConfig{
		CORSAllowedOrigins: a.Config.Server.CORSAllowedOrigins,
	}, a.Logger)
}

// Close releases the database and flushes the logger
func (a *App) Close() error {
	a.Logger.Sync()
	return a.db.Close()
}
