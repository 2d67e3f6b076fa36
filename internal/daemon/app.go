// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// App owns the long-lived runtime wiring around the Manager: the reload
// signal and the server lifecycle.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	reloadRules  func(ctx context.Context) error
	reloadSignal os.Signal
}

// NewApp creates a new App orchestrator. reloadRules may be nil when
// there is nothing to reload.
func NewApp(logger zerolog.Logger, manager Manager, reloadRules func(ctx context.Context) error) *App {
	return &App{
		logger:       logger,
		manager:      manager,
		reloadRules:  reloadRules,
		reloadSignal: syscall.SIGHUP,
	}
}

// Run starts the owned background loops and blocks until ctx is cancelled
// or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	// SIGHUP trigger for a manual rule reload.
	if a.reloadRules != nil && a.reloadSignal != nil {
		g.Go(func() error {
			hupChan := make(chan os.Signal, 1)
			signal.Notify(hupChan, a.reloadSignal)
			defer signal.Stop(hupChan)

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hupChan:
					a.logger.Info().
						Str("event", "rules.reload_signal").
						Str("signal", a.reloadSignal.String()).
						Msg("received reload signal, reloading rules")

					if err := a.reloadRules(context.Background()); err != nil {
						a.logger.Warn().
							Err(err).
							Str("event", "rules.reload_failed").
							Msg("rule reload failed")
					}
				}
			}
		})
	}

	// Main server lifecycle.
	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}
