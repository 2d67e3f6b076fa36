// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the admin HTTP surface: jobs, assets, rules, config,
// roles and system introspection backed by the sqlite state store.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/netutil"

	"github.com/ManuGH/streamops/internal/asset"
	"github.com/ManuGH/streamops/internal/config"
	"github.com/ManuGH/streamops/internal/guard"
	"github.com/ManuGH/streamops/internal/health"
	"github.com/ManuGH/streamops/internal/jobs"
	"github.com/ManuGH/streamops/internal/log"
	"github.com/ManuGH/streamops/internal/media"
	"github.com/ManuGH/streamops/internal/opserr"
	"github.com/ManuGH/streamops/internal/rules"
)

// Deps collects the stores and services the handlers reach into. Guard and
// GPU may be nil; the affected fields simply drop out of the stats payload.
type Deps struct {
	Version  string
	Queue    *jobs.Queue
	Assets   *asset.Store
	Events   *asset.EventLog
	Rules    *rules.Store
	Settings *config.Settings
	Roles    *config.Roles
	Guard    *guard.Guard
	GPU      *media.GPUDetector
	Health   *health.Manager

	// OnRulesChanged runs after a successful rule upsert or delete. The
	// daemon points this at the engine reload so the live rule set follows
	// the store.
	OnRulesChanged func(context.Context) error
}

// Server is the admin HTTP server.
type Server struct {
	cfg     config.Config
	deps    Deps
	router  chi.Router
	httpSrv *http.Server
	logger  zerolog.Logger
	started time.Time
}

// NewServer wires the admin server. The router is ready immediately;
// Start binds the listener.
func NewServer(cfg config.Config, deps Deps) *Server {
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		logger:  log.WithComponent("api"),
		started: time.Now(),
	}
	s.router = s.buildRouter()
	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           otelhttp.NewHandler(s.router, "admin-api"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}
	return s
}

// Handler exposes the routed handler for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(requestID)
	r.Use(requestLogger)
	r.Use(httprate.Limit(
		600, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(rateLimited),
	))

	r.Get("/healthz", s.deps.Health.ServeHealth)
	r.Get("/readyz", s.deps.Health.ServeReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Get("/{id}", s.handleGetJob)
			r.Post("/{id}/cancel", s.handleCancelJob)
		})
		r.Route("/assets", func(r chi.Router) {
			r.Get("/", s.handleListAssets)
			r.Get("/search", s.handleSearchAssets)
			r.Get("/{id}", s.handleGetAsset)
			r.Get("/{id}/timeline", s.handleGetTimeline)
		})
		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleUpsertRule)
			r.Delete("/{id}", s.handleDeleteRule)
		})
		r.Route("/config", func(r chi.Router) {
			r.Get("/", s.handleGetConfig)
			r.Post("/", s.handleBulkUpdateConfig)
			r.Get("/export", s.handleExportConfig)
			r.Post("/import", s.handleImportConfig)
			r.Get("/{key}", s.handleGetConfigKey)
			r.Put("/{key}", s.handleSetConfig)
		})
		r.Route("/roles", func(r chi.Router) {
			r.Get("/", s.handleGetRoles)
			r.Put("/{role}", s.handleSetRole)
			r.Delete("/{role}", s.handleDeleteRole)
		})
		r.Route("/system", func(r chi.Router) {
			r.Get("/stats", s.handleSystemStats)
			r.Get("/health", s.handleSystemHealth)
		})
	})

	return r
}

// Start binds the admin listener and serves until Shutdown. MaxConns caps
// concurrent connections at the listener.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return opserr.Wrap(err, opserr.KindIO, "api.start", "bind admin listener")
	}
	if s.cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConns)
	}

	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Int("max_conns", s.cfg.MaxConns).
		Msg("admin api listening")

	if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
