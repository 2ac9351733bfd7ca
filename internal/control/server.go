package control

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/ktrack/internal/session"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Config holds the control server configuration.
type Config struct {
	ListenAddr string
}

// Server is the local HTTP surface a host view uses to drive and watch the
// tracking session.
type Server struct {
	config   Config
	session  *session.Session
	hub      *LiveHub
	detach   func()
	server   *http.Server
	router   *mux.Router
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
	started  time.Time
	logger   zerolog.Logger
}

// NewServer creates a control server for sess and attaches the live hub to
// its event streams.
func NewServer(cfg Config, sess *session.Session, logger zerolog.Logger) *Server {
	router := mux.NewRouter()

	s := &Server{
		config:  cfg,
		session: sess,
		router:  router,
		started: time.Now(),
		logger:  logger.With().Str("component", "control").Logger(),
	}
	s.hub = NewLiveHub(s.logger)
	s.detach = s.hub.Attach(sess)

	s.setupRoutes()

	// No WriteTimeout: the live stream is long-lived and sets its own
	// per-message deadlines.
	s.server = &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/api/session", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/api/session/start", s.handleStart).Methods("POST")
	s.router.HandleFunc("/api/session/pause", s.handlePause).Methods("POST")
	s.router.HandleFunc("/api/session/resume", s.handleResume).Methods("POST")
	s.router.HandleFunc("/api/session/stop", s.handleStop).Methods("POST")
	s.router.HandleFunc("/api/session/reset", s.handleReset).Methods("POST")

	s.router.HandleFunc("/api/consent", s.handleConsent).Methods("POST")
	s.router.HandleFunc("/api/checkpoint/interval", s.handleCheckpointInterval).Methods("PUT")

	s.router.HandleFunc("/api/live", s.handleLive).Methods("GET")
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the live event hub.
func (s *Server) Hub() *LiveHub {
	return s.hub
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the control HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting control server")

	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated control listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Control server error")
		}
	}()

	return nil
}

// Stop detaches from the session, closes live clients and shuts the server
// down.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping control server")

	s.detach()
	s.hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("control server shutdown: %w", err)
	}

	return nil
}
