// Package api serves the local HTTP API used by the host bridge and the
// configuration UI.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/tabnova/internal/monitor"
	"github.com/goodtune/tabnova/internal/pipeline"
	"github.com/goodtune/tabnova/internal/shield"
	"github.com/goodtune/tabnova/internal/storage"
	"github.com/goodtune/tabnova/internal/usage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Config holds the API server configuration.
type Config struct {
	ListenAddr string
	Token      string // empty disables authentication
}

// Deps are the services exposed over the API.
type Deps struct {
	Store    storage.Store
	Tracker  *usage.Tracker
	Pipeline *pipeline.Pipeline
	Monitor  *monitor.Service
	Shields  *shield.Manager
}

// Server represents the local API server.
type Server struct {
	config   Config
	deps     Deps
	server   *http.Server
	router   *mux.Router
	listener net.Listener
	logger   zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg Config, deps Deps, logger zerolog.Logger) *Server {
	s := &Server{
		config: cfg,
		deps:   deps,
		router: mux.NewRouter(),
		logger: logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	v1 := s.router.PathPrefix("/v1").Subrouter()
	if s.config.Token != "" {
		v1.Use(TokenAuthMiddleware(s.config.Token))
	}

	eventHandler := NewEventHandler(s.deps.Pipeline, s.deps.Store.Events(), s.deps.Store.Apps(), s.deps.Tracker.Clock(), s.logger)
	v1.HandleFunc("/events", eventHandler.Create).Methods("POST")
	v1.HandleFunc("/events", eventHandler.List).Methods("GET")

	usageHandler := NewUsageHandler(s.deps.Tracker, s.logger)
	v1.HandleFunc("/usage/today", usageHandler.Today).Methods("GET")
	v1.HandleFunc("/usage/{package}/{date}", usageHandler.Get).Methods("GET")

	appHandler := NewAppHandler(s.deps.Store.Apps(), s.deps.Monitor, s.deps.Shields, s.logger)
	v1.HandleFunc("/apps", appHandler.List).Methods("GET")
	v1.HandleFunc("/apps", appHandler.Create).Methods("POST")
	v1.HandleFunc("/apps/{package}", appHandler.Get).Methods("GET")
	v1.HandleFunc("/apps/{package}", appHandler.Delete).Methods("DELETE")
	v1.HandleFunc("/apps/{package}/limit", appHandler.SetLimit).Methods("PUT")
	v1.HandleFunc("/apps/{package}/unblock", appHandler.Unblock).Methods("POST")
	v1.HandleFunc("/apps/{package}/plan", appHandler.Plan).Methods("GET")

	syncHandler := NewSyncHandler(s.deps.Monitor, s.deps.Pipeline, s.logger)
	v1.HandleFunc("/sync", syncHandler.Sync).Methods("POST")
	v1.HandleFunc("/resync", syncHandler.Resync).Methods("POST")
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info().
		Str("addr", s.config.ListenAddr).
		Bool("auth", s.config.Token != "").
		Msg("Starting API server")

	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated API listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"date":   s.deps.Tracker.Today(),
	})
}
