// Package api is the thin HTTP translation layer (component G): it
// turns REST calls into store, queue and GPU registry operations and
// exposes the Prometheus exposition format for scraping. Routing is
// github.com/go-chi/chi/v5, CORS is github.com/go-chi/cors, and request
// body validation for §6.1's generation parameters is delegated to the
// params package's use of github.com/go-playground/validator/v10.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kamalhaddad/texttovideo-orchestrator/lifecycle"
	"github.com/kamalhaddad/texttovideo-orchestrator/metrics"
	"github.com/kamalhaddad/texttovideo-orchestrator/store"
)

// ActiveJobsSource reports how many executors are currently running on
// this replica. *dispatch.Dispatcher satisfies it.
type ActiveJobsSource interface {
	ActiveJobs() int
}

// GPUSource reports this replica's GPU slot accounting.
// *gpu.Registry satisfies it.
type GPUSource interface {
	Available() int
	Capacity() int
}

// Config parameterizes a Server.
type Config struct {
	Addr        string
	CORSOrigins []string
	ArtifactDir string
}

// Server hosts the orchestrator's HTTP surface.
type Server struct {
	lifecycle.Base

	store   store.Store
	queue   store.Queue
	gpuReg  GPUSource
	active  ActiveJobsSource
	metrics *metrics.Metrics
	log     *slog.Logger

	artifactDir string
	httpServer  *http.Server
}

// New builds a Server. It is not started automatically.
func New(st store.Store, q store.Queue, gpuReg GPUSource, active ActiveJobsSource, m *metrics.Metrics, cfg *Config, log *slog.Logger) *Server {
	s := &Server{
		store:       st,
		queue:       q,
		gpuReg:      gpuReg,
		active:      active,
		metrics:     m,
		log:         log,
		artifactDir: cfg.ArtifactDir,
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg.CORSOrigins),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	}))

	r.Route("/api/jobs", func(r chi.Router) {
		r.Post("/submit", s.handleSubmit)
		r.Get("/list", s.handleList)
		r.Get("/{id}/status", s.handleStatus)
		r.Get("/{id}/download", s.handleDownload)
		r.Delete("/{id}", s.handleCancel)
	})
	r.Get("/api/system/status", s.handleSystemStatus)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:    cfg.Addr,
		Handler: r,
	}
	return s
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// Start begins serving HTTP requests in the background.
func (s *Server) Start(ctx context.Context) error {
	if err := s.TryStart(); err != nil {
		return err
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server exited unexpectedly", "err", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the HTTP server down, waiting up to timeout
// for in-flight requests to finish.
func (s *Server) Stop(timeout time.Duration) error {
	return s.TryStop(timeout, func() <-chan struct{} {
		done := make(chan struct{})
		go func() {
			defer close(done)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				s.log.Error("http server shutdown failed", "err", err)
			}
		}()
		return done
	})
}
