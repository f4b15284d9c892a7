// Package server provides the ztpserver HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/HerbHall/ztpserver/internal/history"
	"github.com/HerbHall/ztpserver/internal/provision"
	"github.com/HerbHall/ztpserver/internal/version"
)

// NodeService runs the provisioning workflows.
// Defined here (consumer-side) rather than importing the concrete controller.
type NodeService interface {
	Create(ctx context.Context, body []byte) (provision.Response, error)
	Show(ctx context.Context, resource string) (provision.Response, error)
	GetStartupConfig(ctx context.Context, resource string) ([]byte, error)
	PutStartupConfig(ctx context.Context, resource string, body []byte) (created bool, err error)
}

// HistoryLister lists journaled provisioning events for a node.
type HistoryLister interface {
	ListByNode(ctx context.Context, nodeID string, limit int) ([]history.Entry, error)
}

// ReadinessChecker verifies that the server is ready to serve traffic.
// Returns nil if ready, an error describing why not otherwise.
type ReadinessChecker func(ctx context.Context) error

// Options configures the listener and the per-IP rate limit.
type Options struct {
	Addr      string
	RateRPS   float64
	RateBurst int
	// TrustForwarded keys the rate limit on X-Forwarded-For.
	TrustForwarded bool
	// Events serves GET /events when set.
	Events http.Handler
}

// Server is the ztpserver HTTP server.
type Server struct {
	httpServer *http.Server
	nodes      NodeService
	history    HistoryLister
	logger     *zap.Logger
	mux        *http.ServeMux
	ready      ReadinessChecker
}

// operationalPaths skip request logging and rate limiting.
var operationalPaths = []string{"/healthz", "/readyz", "/metrics"}

// New creates a new Server with middleware and routes. history and ready
// may be nil.
func New(opts Options, nodes NodeService, hist HistoryLister, ready ReadinessChecker, logger *zap.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		nodes:   nodes,
		history: hist,
		logger:  logger,
		mux:     mux,
		ready:   ready,
	}
	s.registerRoutes(opts.Events)

	if opts.RateRPS <= 0 {
		opts.RateRPS = 50
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 100
	}

	// Middleware chain: outermost listed first.
	handler := Chain(mux,
		RecoveryMiddleware(logger),
		RequestIDMiddleware,
		LoggingMiddleware(logger, operationalPaths),
		SecurityHeadersMiddleware,
		VersionHeaderMiddleware,
		RateLimitMiddleware(opts.RateRPS, opts.RateBurst, opts.TrustForwarded, operationalPaths),
	)

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) registerRoutes(events http.Handler) {
	// Operational endpoints.
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /readyz", s.handleReadyz)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("GET /version", s.handleVersion)

	// Provisioning endpoints.
	s.mux.HandleFunc("POST /nodes", s.handleCreateNode)
	s.mux.HandleFunc("GET /nodes/{resource}", s.handleShowNode)
	s.mux.HandleFunc("GET /nodes/{resource}/startup-config", s.handleGetStartupConfig)
	s.mux.HandleFunc("PUT /nodes/{resource}/startup-config", s.handlePutStartupConfig)
	if s.history != nil {
		s.mux.HandleFunc("GET /nodes/{resource}/history", s.handleNodeHistory)
	}
	if events != nil {
		s.mux.Handle("GET /events", events)
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// handleHealthz is a liveness probe -- returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
}

// handleReadyz checks readiness -- returns 200 if the server can serve traffic.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
	}

	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(version.Map())
}
