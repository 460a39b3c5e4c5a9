// Package server exposes scans over HTTP with a Server-Sent Events push channel.
package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/subarg/internal/config"
	"github.com/subarg/internal/jobs"
	"github.com/subarg/internal/metrics"
	"github.com/subarg/internal/report"
)

//go:embed static/index.html
var staticFiles embed.FS

const (
	recentResultsLimit = 10
	maxRequestBody     = 1 << 20
	keepAliveInterval  = 15 * time.Second
)

// ToolDetector reports which external tools are installed
type ToolDetector interface {
	Detect() map[string]bool
}

// Dependencies wires the server's collaborators. Gatherer defaults to the
// global Prometheus registry; HealthCheck may be nil.
type Dependencies struct {
	Config      config.ServerConfig
	Manager     *jobs.Manager
	Writer      *report.Writer
	Tools       ToolDetector
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	HealthCheck func(ctx context.Context) error
}

// Server is the HTTP API
type Server struct {
	deps      Dependencies
	router    *mux.Router
	keepAlive time.Duration
}

// New creates a server with all routes registered
func New(deps Dependencies) *Server {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{deps: deps, router: mux.NewRouter(), keepAlive: keepAliveInterval}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.requestMiddleware)

	r.HandleFunc("/", s.handleIndex).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/scan", s.handleStartScan).Methods("POST")
	api.HandleFunc("/scan/{id}", s.handleGetScan).Methods("GET")
	api.HandleFunc("/scans", s.handleListScans).Methods("GET")
	api.HandleFunc("/results", s.handleRecentResults).Methods("GET")
	api.HandleFunc("/download/{filename}", s.handleDownload).Methods("GET")
	api.HandleFunc("/installed_tools", s.handleInstalledTools).Methods("GET")
	api.HandleFunc("/events", s.handleEvents).Methods("GET")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, jobs.ErrorResponse{Error: "Not found"})
	})
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is done, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.deps.Config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.deps.Config.Addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is done
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.deps.Config.ReadTimeout,
		ReadHeaderTimeout: s.deps.Config.ReadTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("HTTP server listening on %s", listener.Addr())
		errCh <- srv.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logrus.Info("Shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.deps.Config.ShutdownTimeout)
	defer cancel()

	s.deps.Manager.Broker().Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}

	logrus.Info("HTTP server stopped")
	return nil
}
