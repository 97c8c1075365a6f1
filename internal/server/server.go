// Package server provides the HTTP API for sync status, run history and
// exported files.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/tradelog/internal/archive"
	"github.com/aristath/tradelog/internal/locale"
	"github.com/aristath/tradelog/internal/reliability"
	"github.com/aristath/tradelog/internal/scheduler"
	"github.com/aristath/tradelog/internal/timeline"
)

// RunStore is the archive as seen by the API
type RunStore interface {
	ListRuns(limit int) ([]archive.Run, error)
	LastSuccessfulRun() (*archive.Run, error)
	Since(cutoff time.Time) ([]timeline.RawTransaction, error)
	Count() (int, error)
}

// SyncController runs and reports syncs
type SyncController interface {
	RunContext(ctx context.Context) error
	Status() scheduler.SyncStatus
}

// BackupLister lists archive snapshots
type BackupLister interface {
	List() ([]reliability.Backup, error)
}

// Config holds server configuration
type Config struct {
	Log      zerolog.Logger
	Port     int
	DevMode  bool
	DataDir  string
	CSVPath  string
	Language string // default language of rendered exports
	// SystemLocale resolves "auto"; defaults to the process environment
	SystemLocale func() string
	Runs         RunStore
	Sync         SyncController // optional
	Backups      BackupLister   // optional
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	port           int
	csvPath        string
	language       string
	systemLocale   func() string
	runs           RunStore
	sync           SyncController
	backups        BackupLister
	systemHandlers *SystemHandlers
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	if cfg.SystemLocale == nil {
		cfg.SystemLocale = func() string { return locale.SystemLocale(os.LookupEnv) }
	}

	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		port:           cfg.Port,
		csvPath:        cfg.CSVPath,
		language:       cfg.Language,
		systemLocale:   cfg.SystemLocale,
		runs:           cfg.Runs,
		sync:           cfg.Sync,
		backups:        cfg.Backups,
		systemHandlers: NewSystemHandlers(cfg.Log, cfg.DataDir, cfg.Runs, cfg.Sync),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.systemHandlers.HandleSystemStatus)
		r.Get("/runs", s.handleListRuns)
		r.Get("/backups", s.handleListBackups)
		r.Post("/sync", s.handleTriggerSync)
		r.Get("/export.csv", s.handleExportFile)
		r.Get("/transactions.csv", s.handleRenderTransactions)
	})
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
