// Package http is the REST surface of the service: consents, onboarding,
// provider token flows and sync, behind API key or session authentication.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driving"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/metrics"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds server configuration
type Config struct {
	Host    string
	Port    int
	Version string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// SessionCookie is read when no Authorization header is present.
	SessionCookie string

	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer // default: prometheus.DefaultGatherer
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		Version:         "dev",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    2 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		SessionCookie:   "session",
	}
}

// Services bundles the driving ports the handlers call.
type Services struct {
	Auth     driving.AuthService
	Consents driving.ConsentService
	OAuth    driving.OAuthService
	Sync     driving.SyncOrchestrator
}

// Server represents the HTTP server
type Server struct {
	cfg        Config
	svc        Services
	checks     map[string]Pinger
	logger     *slog.Logger
	metrics    *metrics.Metrics
	router     chi.Router
	httpServer *http.Server
}

// NewServer wires routes and middleware. checks are pinged by /ready.
func NewServer(cfg Config, svc Services, checks map[string]Pinger) *Server {
	def := DefaultConfig()
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.SessionCookie == "" {
		cfg.SessionCookie = def.SessionCookie
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		svc:     svc,
		checks:  checks,
		logger:  logger,
		metrics: cfg.Metrics,
		router:  chi.NewRouter(),
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(s.recoverer)
	r.Use(s.requestLogger)
	r.Use(s.instrument)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/version", s.handleVersion)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	r.Get("/swagger/doc.json", s.handleOpenAPI)

	auth := newAuthMiddleware(s.svc.Auth, s.cfg.SessionCookie)

	r.Route("/api/v1", func(r chi.Router) {
		// Redeeming a code is how anonymous onboarding callers get a session.
		r.Post("/onboarding/{code}", s.handleRedeemOneTimeCode)

		r.Group(func(r chi.Router) {
			r.Use(auth.authenticate)
			r.Use(auth.rateLimit)

			r.Route("/consents", func(r chi.Router) {
				r.With(requireTenantCredential).Post("/", s.handleCreateConsent)
				r.With(requireTenantCredential).Get("/", s.handleListConsents)

				r.Route("/{id}", func(r chi.Router) {
					r.Use(requireConsentAccess)
					r.Get("/", s.handleGetConsent)
					r.Patch("/", s.handleUpdateConsent)
					r.With(requireTenantCredential).Delete("/", s.handleDeleteConsent)
					r.With(requireTenantCredential).Post("/one-time-codes", s.handleCreateOneTimeCode)
					r.Post("/sync", s.handleTriggerSync)
					r.Get("/sync/status", s.handleSyncStatus)
					r.Get("/records", s.handleListRecords)
				})
			})

			r.Get("/providers", s.handleListProviders)

			r.Route("/auth/{provider}", func(r chi.Router) {
				r.Get("/url", s.handleAuthorizationURL)
				r.Post("/exchange", s.handleExchange)
				r.Post("/refresh", s.handleRefreshToken)
				r.Post("/revoke", s.handleRevokeToken)
			})

			r.Route("/api-keys", func(r chi.Router) {
				r.Use(requireTenantCredential)
				r.Post("/", s.handleIssueAPIKey)
				r.Delete("/{id}", s.handleRevokeAPIKey)
			})
		})
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
