// Package server exposes research sessions over HTTP: a blocking REST API,
// read endpoints for stored sessions and a WebSocket stream of live events.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ppiankov/verity/internal/agent"
	"github.com/ppiankov/verity/internal/embed"
	"github.com/ppiankov/verity/internal/logging"
	"github.com/ppiankov/verity/internal/model"
	"github.com/ppiankov/verity/internal/pipeline"
	"github.com/ppiankov/verity/internal/store"
)

const (
	shutdownTimeout = 30 * time.Second
	writeWait       = 10 * time.Second
	eventBuffer     = 64
)

// Runner drives one session to a terminal phase
type Runner interface {
	Run(ctx context.Context, sess *model.ResearchSession, emit pipeline.Emitter) *model.ResearchSession
}

// Planner backs the interactive planning endpoints
type Planner interface {
	Understand(ctx context.Context, query string) agent.Understanding
	Angles(ctx context.Context, query, domain string) []string
	Decompose(ctx context.Context, query string, angles []string) []string
}

// Option tunes a Server
type Option func(*Server)

// WithCORS sets the allowed origins. Empty disables CORS headers.
func WithCORS(origins string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithEmbedder sets the embedder used when a stored graph is rebuilt for
// claims persisted without an embedding
func WithEmbedder(e embed.Embedder) Option {
	return func(s *Server) { s.embedder = e }
}

// WithTargetSources sets the target used when a request names none
func WithTargetSources(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.targetSources = n
		}
	}
}

// Server serves the research API
type Server struct {
	runner        Runner
	store         store.Store
	planner       Planner
	embedder      embed.Embedder
	logger        *zap.Logger
	upgrader      websocket.Upgrader
	corsOrigins   string
	targetSources int
}

// New creates a server. planner may be nil, in which case the static
// planning fallbacks answer the planning endpoints.
func New(runner Runner, st store.Store, planner Planner, logger *zap.Logger, opts ...Option) *Server {
	logger = logging.OrNop(logger)
	if planner == nil {
		planner = agent.NewPlanner(nil, logger)
	}
	s := &Server{
		runner:        runner,
		store:         st,
		planner:       planner,
		logger:        logger,
		targetSources: 30,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler wrapped in recovery, CORS and request
// logging middleware
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("POST /api/research", s.handleResearch)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/sessions/{id}/report", s.handleReport)
	mux.HandleFunc("GET /api/sessions/{id}/graph", s.handleGraph)
	mux.HandleFunc("GET /api/sessions/{id}/graph.dot", s.handleGraphDOT)
	mux.HandleFunc("GET /api/sessions/{id}/graph/clusters", s.handleClusters)
	mux.HandleFunc("GET /api/sessions/{id}/sources", s.handleSources)
	mux.HandleFunc("GET /api/sessions/{id}/claims", s.handleClaims)
	mux.HandleFunc("GET /api/sessions/{id}/claims/{claim_id}/context", s.handleClaimContext)
	mux.HandleFunc("POST /api/planning/understand", s.handleUnderstand)
	mux.HandleFunc("POST /api/planning/angles", s.handleAngles)
	mux.HandleFunc("POST /api/planning/decompose", s.handleDecompose)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /ws/research", s.handleResearchStream)

	var h http.Handler = mux
	h = s.logMiddleware(h)
	h = corsMiddleware(s.corsOrigins, h)
	h = s.recoveryMiddleware(h)
	return h
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // POST /api/research blocks for the whole session
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

// newSession builds a session from request parameters, applying the
// server's default target when none is given
func (s *Server) newSession(query, mode string, targetSources int) *model.ResearchSession {
	if targetSources <= 0 {
		targetSources = s.targetSources
	}
	return model.NewSession(query, model.ParseMode(mode), targetSources)
}
