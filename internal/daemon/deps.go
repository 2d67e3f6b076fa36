// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
)

// APIServer is the admin server surface the manager drives. It binds its
// own listener so the connection cap lives next to the router.
type APIServer interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// Runner is one long-lived component loop the manager supervises: the job
// dispatcher, the guard sampler, the role watcher. Run blocks until its
// context ends; returning any other error stops the daemon.
type Runner struct {
	Name string
	Run  func(ctx context.Context) error
}

// Deps contains dependencies required by the daemon Manager.
// This allows for clean dependency injection and easier testing.
type Deps struct {
	// Logger is the structured logger for the daemon
	Logger zerolog.Logger

	// API is the admin HTTP server
	API APIServer

	// MetricsHandler serves Prometheus metrics; empty MetricsAddr
	// disables the listener
	MetricsHandler http.Handler
	MetricsAddr    string

	// Runners are the supervised component loops, started in order
	Runners []Runner
}

// Validate checks if the dependencies are valid.
func (d *Deps) Validate() error {
	if d.Logger.GetLevel() == zerolog.Disabled {
		return ErrMissingLogger
	}
	if d.API == nil {
		return ErrMissingAPIServer
	}
	for _, r := range d.Runners {
		if r.Name == "" || r.Run == nil {
			return ErrInvalidRunner
		}
	}
	return nil
}
