package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/junctionhq/junction/pkg/bus"
	"github.com/junctionhq/junction/pkg/deintegration"
	"github.com/junctionhq/junction/pkg/discovery"
	"github.com/junctionhq/junction/pkg/log"
	"github.com/junctionhq/junction/pkg/metrics"
	"github.com/junctionhq/junction/pkg/registry"
)

// Server exposes the hub's request surface over HTTP.
type Server struct {
	registry *registry.Registry
	manager  *deintegration.Manager
	bus      *bus.Bus
	// scanner is nil when auto-discovery is disabled.
	scanner *discovery.Scanner

	http   *http.Server
	logger zerolog.Logger
}

// Options configures a Server.
type Options struct {
	Registry *registry.Registry
	Manager  *deintegration.Manager
	Bus      *bus.Bus
	Scanner  *discovery.Scanner
}

// NewServer creates a Server. Call Start to begin serving.
func NewServer(opts Options) *Server {
	s := &Server{
		registry: opts.Registry,
		manager:  opts.Manager,
		bus:      opts.Bus,
		scanner:  opts.Scanner,
		logger:   log.WithComponent("api"),
	}
	return s
}

// Router builds the route tree. Exposed for tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/integrations", func(r chi.Router) {
			r.Post("/", s.handleRegister)
			r.Get("/", s.handleList)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGet)
				r.Patch("/", s.handleUpdateConfig)
				r.Delete("/", s.handleDeintegrate)
				r.Post("/enable", s.handleEnable)
				r.Post("/disable", s.handleDisable)
				r.Post("/test", s.handleTest)
				r.Post("/actions/{action}", s.handleAction)
				r.Get("/metrics", s.handleIntegrationMetrics)
			})
		})

		r.Route("/deintegrations", func(r chi.Router) {
			r.Get("/", s.handleListDeintegrations)
			r.Get("/{id}", s.handleGetDeintegration)
			r.Post("/{id}/confirm", s.handleConfirmManual)
			r.Post("/{id}/reintegrate", s.handleReintegrate)
		})

		r.Get("/events", s.handleEventHistory)
		r.Post("/discovery/scan", s.handleScan)
	})

	return r
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("api listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"node":   s.bus.NodeID(),
	})
}

// instrument wraps every request with structured logging and the
// request counters.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(ww.status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method).Observe(elapsed.Seconds())

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.status).
			Dur("elapsed", elapsed).
			Msg("request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
