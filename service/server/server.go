package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/atomiqlabs/atomiq-chain-solana/service/cursor"
	"github.com/atomiqlabs/atomiq-chain-solana/service/events"
	"github.com/atomiqlabs/atomiq-chain-solana/service/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ListenerRegistry is the part of the event pipeline the server needs to attach
// streaming clients.
type ListenerRegistry interface {
	RegisterListener(l events.Listener) events.ListenerID
	UnregisterListener(id events.ListenerID) bool
}

// Server represents the HTTP server for the event service.
type Server struct {
	addr     string
	program  string
	registry ListenerRegistry
	store    cursor.Store
	metrics  *metrics.Metrics
	logger   *slog.Logger
	server   *http.Server
	streams  *streamSet
}

// New creates a new HTTP server.
// The store is optional - if nil, the cursor endpoint reports that persistence is disabled.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr, program string, registry ListenerRegistry, store cursor.Store, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:     addr,
		program:  program,
		registry: registry,
		store:    store,
		metrics:  m,
		logger:   logger.With("component", "http"),
		streams:  newStreamSet(),
	}
}

// Handler builds the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /api/v1/cursor", s.metrics.Instrument("/api/v1/cursor", handleGetCursor(s.program, s.store, s.logger)))
	mux.Handle("GET /api/v1/stream/events", s.metrics.Instrument("/api/v1/stream/events",
		handleStreamEvents(s.program, s.registry, s.streams, s.metrics, s.logger)))

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server and blocks until it is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until the server is shut down.
func (s *Server) Serve(ln net.Listener) error {
	s.server = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// No write timeout: event streams are long-lived responses.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", ln.Addr().String())
	if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close event streams first so Shutdown does not wait on them.
	s.streams.closeAll()

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
