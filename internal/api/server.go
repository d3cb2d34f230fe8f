package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dgnsrekt/voxline/internal/config"
	"github.com/dgnsrekt/voxline/internal/directive"
	"github.com/dgnsrekt/voxline/internal/params"
	"github.com/dgnsrekt/voxline/internal/tts"
)

// Session is the speech session the API drives.
type Session interface {
	Submit(seq []directive.Directive) (string, error)
	Cancel()
	Pause(paused bool) error
	SetParameter(name params.Name, value int) error
	SetVoice(id string)
	Parameters() params.Parameters
	Speaking() bool
	Voices(ctx context.Context, refresh bool) ([]tts.Voice, error)
	Subscribe(fn directive.NotifyFunc) func()
	Err() error
}

// Server handles HTTP API requests.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	server   *http.Server
	session  Session
	upgrader websocket.Upgrader
}

// New creates a new API server. metrics is served on /metrics when non-nil.
func New(cfg *config.Config, logger *slog.Logger, session Session, metrics http.Handler) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		session: session,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/healthz", s.handleHealthz)
	mux.HandleFunc("POST /v1/speak", s.withAuth(s.handleSpeak))
	mux.HandleFunc("POST /v1/cancel", s.withAuth(s.handleCancel))
	mux.HandleFunc("POST /v1/pause", s.withAuth(s.handlePause))
	mux.HandleFunc("GET /v1/params", s.withAuth(s.handleGetParams))
	mux.HandleFunc("PUT /v1/params", s.withAuth(s.handleSetParam))
	mux.HandleFunc("GET /v1/voices", s.withAuth(s.handleVoices))
	mux.HandleFunc("GET /v1/events", s.withAuth(s.handleEvents))
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      s.withLogging(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
