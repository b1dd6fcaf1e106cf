// Package server exposes the healing engine over HTTP: failure intake,
// the approval queue, decisions, rollback, audit queries, health, and
// Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jskelly/gomend/pkg/approval"
	"github.com/jskelly/gomend/pkg/config"
	"github.com/jskelly/gomend/pkg/engine"
)

// Server wraps the HTTP server and lifecycle helpers.
type Server struct {
	cfg        config.ServerConfig
	httpServer *http.Server
	listener   net.Listener
	logger     *slog.Logger
}

// NewServer constructs an HTTP server bound to the configured address.
// Passing a nil gatherer serves /metrics from the default registry.
func NewServer(cfg config.ServerConfig, eng *engine.Engine, gw *approval.Gateway, gatherer prometheus.Gatherer, logger *slog.Logger) (*Server, error) {
	if eng == nil || gw == nil {
		return nil, fmt.Errorf("engine and gateway are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	lis, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Address, err)
	}

	h := &handlers{engine: eng, gateway: gw, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/failures", h.submitFailure)
	mux.HandleFunc("GET /api/v1/pending", h.listPending)
	mux.HandleFunc("GET /api/v1/records/{id}", h.getRecord)
	mux.HandleFunc("POST /api/v1/records/{id}/decision", h.decide)
	mux.HandleFunc("POST /api/v1/records/{id}/rollback", h.rollback)
	mux.HandleFunc("POST /api/v1/records/{id}/cancel", h.cancel)
	mux.HandleFunc("GET /api/v1/audit", h.queryAudit)
	mux.HandleFunc("GET /api/v1/records/{id}/audit", h.recordAudit)
	mux.HandleFunc("GET /healthz", h.healthz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	var root http.Handler = mux
	if cfg.AuthToken != "" {
		root = bearerAuth(cfg.AuthToken, mux)
	}

	return &Server{
		cfg:        cfg,
		httpServer: &http.Server{Handler: root},
		listener:   lis,
		logger:     logger,
	}, nil
}

// Start serves requests until Shutdown is invoked.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "address", s.Address())
	if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown attempts a graceful shutdown within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cfg.GracefulTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.GracefulTimeout)
		defer cancel()
	}
	return s.httpServer.Shutdown(ctx)
}

// Address exposes the bound listener address (useful for tests).
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// bearerAuth requires a static bearer token on every route except health
// and metrics, which probes and scrapers hit unauthenticated.
func bearerAuth(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
