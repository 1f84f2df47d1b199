// Package server is the reference POS backend: catalog reads, sales, and
// inventory counts, deduplicated by idempotency token.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Server is the HTTP API server for posync-server
type Server struct {
	config  Config
	http    *http.Server
	store   *Store
	metrics *Metrics
	handler http.Handler
	addr    string
}

// NewServer creates a Server with the given config and store
func NewServer(cfg Config, store *Store) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("server: nil store")
	}
	s := &Server{
		config:  cfg,
		store:   store,
		metrics: NewMetrics(),
	}
	s.handler = s.routes()
	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s, nil
}

// Handler returns the server's root handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Metrics returns the server's counters
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Start begins listening for HTTP requests (non-blocking)
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.addr = ln.Addr().String()

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()
	return nil
}

// Addr returns the address the server listens on once started
func (s *Server) Addr() string {
	return s.addr
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metricz", s.handleMetrics)

	mux.HandleFunc("GET /products", s.requireAuth(s.handleListProducts))
	mux.HandleFunc("GET /clients", s.requireAuth(s.handleListClients))
	mux.HandleFunc("GET /categories", s.requireAuth(s.handleListCategories))
	mux.HandleFunc("GET /inventory-sessions/{id}", s.requireAuth(s.handleGetSession))
	mux.HandleFunc("POST /inventory-sessions/{id}/close", s.requireAuth(s.handleCloseSession))

	mux.HandleFunc("POST /sales", s.requireAuth(s.handleCreateSale))
	mux.HandleFunc("POST /inventory-sessions/{id}/items", s.requireAuth(s.handleAddInventoryItem))

	return chain(mux, recoveryMiddleware, requestIDMiddleware, loggerMiddleware, metricsMiddleware(s.metrics), loggingMiddleware, maxBytesMiddleware(1<<20))
}

// handleHealth pings the store so an unusable database reads as unavailable
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "detail": "db unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}
