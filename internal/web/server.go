// Package web exposes the export service over HTTP.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/formexport/internal/config"
	"github.com/JonMunkholm/formexport/internal/core"
	"github.com/JonMunkholm/formexport/internal/export"
	"github.com/JonMunkholm/formexport/internal/web/middleware"
)

// ExportService is what the handlers need from core.Service.
type ExportService interface {
	Export(ctx context.Context, formID string, req export.Request) (*export.Result, error)
	ExportFields(ctx context.Context, formID string, req export.Request) ([]string, error)
	ExportWithReservation(ctx context.Context, formID string, req export.Request, owner string) (core.Reservation, error)
	ReadReservation(ctx context.Context, id string) (core.Reservation, error)
	ListReservations(ctx context.Context, filter core.ReservationFilter) ([]core.Reservation, error)
	ReleaseReservation(ctx context.Context, id string) error
	OpenArtifact(ctx context.Context, id string) (io.ReadCloser, core.StoredFile, error)
}

var _ ExportService = (*core.Service)(nil)

// maxBodySize bounds JSON request bodies.
const maxBodySize = 1 << 20

// Server is the HTTP server for the export API.
type Server struct {
	service ExportService
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server

	metrics http.Handler
	ping    func(context.Context) error
	limits  []*rateLimiter
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics serves h on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithHealthCheck makes /healthz report ping failures as 503.
func WithHealthCheck(ping func(context.Context) error) Option {
	return func(s *Server) { s.ping = ping }
}

// NewServer builds the router. Close releases the rate limiters.
func NewServer(service ExportService, cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		service: service,
		cfg:     cfg,
		router:  chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	proxies := middleware.ParseProxies(s.cfg.Security.TrustedProxies)

	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.Identity(s.cfg.Security.OwnerHeader, proxies))
	s.router.Use(middleware.TrustedRealIP(proxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders(s.cfg.Security.EnableCSP))
	if s.cfg.Server.RequestTimeout > 0 {
		s.router.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))
	}
	if s.cfg.Rate.Enabled {
		s.router.Use(s.limiter(s.cfg.Rate.RequestsPerMinute))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics)
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(s.cfg.Security))

		r.Group(func(r chi.Router) {
			if s.cfg.Rate.Enabled {
				r.Use(s.limiter(s.cfg.Rate.ExportLimit))
			}
			r.Get("/forms/{formId}/export", s.handleExport)
			r.Post("/forms/{formId}/export/fields", s.handleExportBody)
			r.Post("/forms/{formId}/export/reservations", s.handleExportWithReservation)
		})
		r.Get("/forms/{formId}/csvexport/fields", s.handleExportFields)

		r.Get("/reservations", s.handleListReservations)
		r.Get("/reservations/{id}", s.handleGetReservation)
		r.Get("/reservations/{id}/download", s.handleDownload)
		r.Delete("/reservations/{id}", s.handleReleaseReservation)
	})
}

func (s *Server) limiter(perMinute int) func(http.Handler) http.Handler {
	rl := newRateLimiter(perMinute, time.Minute)
	s.limits = append(s.limits, rl)
	return rl.middleware
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.Close()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Close stops background cleanup of the rate limiters.
func (s *Server) Close() {
	for _, rl := range s.limits {
		rl.stop()
	}
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ping(ctx); err != nil {
			slog.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// securityHeaders adds hardening headers to every response.
func securityHeaders(csp bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			if csp {
				h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeJSON encodes v with the given status. Encoding errors can only be
// logged since the header is already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
