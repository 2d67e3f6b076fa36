// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon owns the process lifecycle: it serves the admin API and
// the metrics listener, supervises the long-lived component loops
// (dispatcher, guard sampler, watcher) and tears everything down in LIFO
// order on shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamops/internal/config"
)

// ShutdownHook is a cleanup function run during graceful shutdown. Hooks
// run in reverse registration order (LIFO).
type ShutdownHook func(ctx context.Context) error

// Manager manages the daemon lifecycle: starting servers and runners,
// handling shutdown.
type Manager interface {
	// Start starts all servers and runners and blocks until shutdown.
	Start(ctx context.Context) error

	// Shutdown gracefully stops servers, runners and hooks.
	Shutdown(ctx context.Context) error

	// RegisterShutdownHook registers a function to be called during shutdown.
	RegisterShutdownHook(name string, hook ShutdownHook)
}

type manager struct {
	cfg  config.Config
	deps Deps

	metricsServer *http.Server

	// Shutdown hooks (LIFO order)
	shutdownHooks []namedHook

	started  bool
	stopping bool
	mu       sync.Mutex

	logger zerolog.Logger
}

type namedHook struct {
	name string
	hook ShutdownHook
}

// NewManager creates a daemon manager for the given configuration and
// dependencies.
func NewManager(cfg config.Config, deps Deps) (Manager, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}

	return &manager{
		cfg:           cfg,
		deps:          deps,
		logger:        deps.Logger.With().Str("component", "manager").Logger(),
		shutdownHooks: make([]namedHook, 0),
	}, nil
}

// Start starts the metrics server, the component runners and the admin API
// server, then blocks until the context is cancelled or a server fails.
func (m *manager) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("start context is nil")
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("manager already started")
	}
	m.started = true
	m.mu.Unlock()

	m.logger.Info().
		Str("listen", m.cfg.ListenAddr).
		Str("metrics_listen", m.deps.MetricsAddr).
		Int("runners", len(m.deps.Runners)).
		Dur("shutdown_timeout", m.shutdownTimeout()).
		Msg("starting daemon manager")

	errChan := make(chan error, len(m.deps.Runners)+2)

	m.startMetricsServer(errChan)

	// Runners before the API server: the stores and loops behind the
	// handlers are live before the first request can arrive.
	for _, r := range m.deps.Runners {
		m.launchRunner(ctx, errChan, r)
	}

	m.startAPIServer(errChan)

	select {
	case err := <-errChan:
		m.logger.Error().Err(err).Msg("component failed, initiating shutdown")
		// Detached but bounded so shutdown completes even though the
		// parent may already be cancelled.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.shutdownTimeout())
		defer cancel()
		if shutdownErr := m.Shutdown(shutdownCtx); shutdownErr != nil {
			return fmt.Errorf("component error and shutdown failure: %w", errors.Join(err, shutdownErr))
		}
		return err
	case <-ctx.Done():
		m.logger.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.shutdownTimeout())
		defer cancel()
		return m.Shutdown(shutdownCtx)
	}
}

func (m *manager) shutdownTimeout() time.Duration {
	if m.cfg.ShutdownTimeout > 0 {
		return m.cfg.ShutdownTimeout
	}
	return 30 * time.Second
}

// startAPIServer serves the admin API. The server binds its own listener,
// so a failed bind surfaces through errChan.
func (m *manager) startAPIServer(errChan chan<- error) {
	go func() {
		if err := m.deps.API.Start(); err != nil {
			m.logger.Error().
				Err(err).
				Str("event", "api.server.failed").
				Msg("admin api server failed")
			errChan <- fmt.Errorf("admin api server: %w", err)
		}
	}()
}

// startMetricsServer starts the Prometheus metrics listener when
// configured.
func (m *manager) startMetricsServer(errChan chan<- error) {
	if m.deps.MetricsAddr == "" || m.deps.MetricsHandler == nil {
		return
	}

	m.metricsServer = &http.Server{
		Addr:              m.deps.MetricsAddr,
		Handler:           m.deps.MetricsHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		m.logger.Info().
			Str("addr", m.deps.MetricsAddr).
			Msg("metrics server listening")

		if err := m.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error().
				Err(err).
				Str("event", "metrics.server.failed").
				Msg("metrics server failed")
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()
}

// launchRunner starts one component loop and registers the hook that stops
// it during shutdown. A runner that returns a non-cancellation error brings
// the daemon down through errChan.
func (m *manager) launchRunner(ctx context.Context, errChan chan<- error, r Runner) {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	m.RegisterShutdownHook(r.Name+"_stop", func(shutdownCtx context.Context) error {
		cancel()
		select {
		case <-shutdownCtx.Done():
			return fmt.Errorf("timeout waiting for %s to stop: %w", r.Name, shutdownCtx.Err())
		case <-done:
			return nil
		}
	})

	go func() {
		defer close(done)
		m.logger.Info().Str("runner", r.Name).Msg("runner started")
		if err := r.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error().Err(err).Str("runner", r.Name).Msg("runner exited unexpectedly")
			errChan <- fmt.Errorf("%s: %w", r.Name, err)
		}
	}()
}

func (m *manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("shutdown context is nil")
	}

	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	if !m.started {
		m.mu.Unlock()
		return ErrManagerNotStarted
	}
	m.stopping = true
	m.mu.Unlock()

	m.logger.Info().Msg("shutting down daemon manager")

	// Bounded shutdown context independent from caller cancellation.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.shutdownTimeout())
	defer cancel()

	var errs []error

	// Servers first: stop accepting work before the runners and stores
	// behind them go away.
	if m.deps.API != nil {
		m.logger.Debug().Msg("shutting down admin api server")
		if err := m.deps.API.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("admin api shutdown: %w", err))
		}
	}

	if m.metricsServer != nil {
		m.logger.Debug().Msg("shutting down metrics server")
		if err := m.metricsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	m.mu.Lock()
	hooks := make([]namedHook, len(m.shutdownHooks))
	copy(hooks, m.shutdownHooks)
	m.mu.Unlock()

	m.logger.Debug().Int("hooks", len(hooks)).Msg("executing shutdown hooks")
	for i := len(hooks) - 1; i >= 0; i-- {
		hook := hooks[i]

		hookStart := time.Now()
		if err := hook.hook(shutdownCtx); err != nil {
			m.logger.Error().
				Err(err).
				Str("hook", hook.name).
				Dur("duration", time.Since(hookStart)).
				Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", hook.name, err))
		} else {
			m.logger.Debug().
				Str("hook", hook.name).
				Dur("duration", time.Since(hookStart)).
				Msg("shutdown hook completed")
		}
	}

	if len(errs) > 0 {
		m.logger.Error().
			Int("error_count", len(errs)).
			Msg("shutdown completed with errors")
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	m.logger.Info().Msg("daemon manager stopped cleanly")
	return nil
}

// RegisterShutdownHook registers a cleanup function to be called during
// shutdown. Hooks run in reverse registration order (LIFO).
func (m *manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shutdownHooks = append(m.shutdownHooks, namedHook{
		name: name,
		hook: hook,
	})
	m.logger.Debug().Str("hook", name).Msg("registered shutdown hook")
}
