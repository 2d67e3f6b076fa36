// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package watcher turns filesystem churn into file_closed events. One
// recursive watch runs per enabled role; a file counts as closed once it
// carried a supported extension, sat unchanged for the quiet period and
// held its size across two samples taken a second apart. A reconciler
// keeps the set of live watches in step with the role store.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamops/internal/config"
	"github.com/ManuGH/streamops/internal/log"
	"github.com/ManuGH/streamops/internal/metrics"
)

// DefaultExtensions are the container suffixes recorders emit. Anything
// else in a watched tree is ignored.
var DefaultExtensions = []string{".mp4", ".mov", ".mkv", ".avi", ".flv", ".ts", ".m2ts"}

const (
	defaultQuietPeriod = 45 * time.Second
	defaultTick        = 5 * time.Second
	defaultReconcile   = 5 * time.Second
	defaultSettleDelay = time.Second
)

// FileEvent reports one file that passed the stability check.
type FileEvent struct {
	Role    string
	Path    string
	Size    int64
	ModTime time.Time
}

// EmitFunc receives stability events. It is called from the role watch
// goroutine and should hand off quickly.
type EmitFunc func(ctx context.Context, ev FileEvent)

// RoleSource is the slice of the role store the watcher polls.
type RoleSource interface {
	Watched(ctx context.Context) ([]config.Role, error)
}

// SettingsSource resolves the runtime quiet period. config.Settings
// satisfies it; a nil source pins the option default.
type SettingsSource interface {
	GetDuration(ctx context.Context, key string) (time.Duration, error)
}

// Options tune the watcher's clocks. Zero values take the defaults; tests
// shrink them to milliseconds.
type Options struct {
	// QuietPeriod is the fallback when the quiet_period_sec setting is
	// unavailable.
	QuietPeriod time.Duration
	// TickInterval is how often tracked paths are checked for elapsed
	// quiet periods.
	TickInterval time.Duration
	// ReconcileInterval is how often the role store is re-read.
	ReconcileInterval time.Duration
	// SettleDelay separates the two size samples of the stability check.
	SettleDelay time.Duration
	// Extensions overrides DefaultExtensions.
	Extensions []string
}

func (o *Options) fillDefaults() {
	if o.QuietPeriod <= 0 {
		o.QuietPeriod = defaultQuietPeriod
	}
	if o.TickInterval <= 0 {
		o.TickInterval = defaultTick
	}
	if o.ReconcileInterval <= 0 {
		o.ReconcileInterval = defaultReconcile
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = defaultSettleDelay
	}
	if len(o.Extensions) == 0 {
		o.Extensions = DefaultExtensions
	}
}

// Watcher supervises one roleWatch per enabled role.
type Watcher struct {
	roles    RoleSource
	settings SettingsSource
	emit     EmitFunc
	opts     Options
	logger   zerolog.Logger

	exts map[string]struct{}

	mu   sync.Mutex
	live map[string]*roleWatch
	wg   sync.WaitGroup
}

func New(roles RoleSource, settings SettingsSource, emit EmitFunc, opts Options) *Watcher {
	opts.fillDefaults()
	exts := make(map[string]struct{}, len(opts.Extensions))
	for _, e := range opts.Extensions {
		exts[strings.ToLower(e)] = struct{}{}
	}
	return &Watcher{
		roles:    roles,
		settings: settings,
		emit:     emit,
		opts:     opts,
		logger:   log.WithComponent("watcher"),
		exts:     exts,
		live:     make(map[string]*roleWatch),
	}
}

// Run reconciles once immediately, then keeps the live watches in step
// with the role store until ctx ends. Role watches are stopped and waited
// for before Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	w.reconcile(ctx)

	ticker := time.NewTicker(w.opts.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.stopAll()
			return ctx.Err()
		case <-ticker.C:
			w.reconcile(ctx)
		}
	}
}

// reconcile starts watches for newly enabled roles and stops watches whose
// role was disabled, repointed or whose directory vanished.
func (w *Watcher) reconcile(ctx context.Context) {
	want, err := w.roles.Watched(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("could not read roles")
		}
		return
	}

	desired := make(map[string]config.Role, len(want))
	for _, r := range want {
		if info, err := os.Stat(r.AbsPath); err != nil || !info.IsDir() {
			w.logger.Warn().
				Str(log.FieldRole, r.Role).
				Str(log.FieldPath, r.AbsPath).
				Msg("role path is not a watchable directory")
			continue
		}
		desired[r.Role] = r
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for name, rw := range w.live {
		r, keep := desired[name]
		if keep && r.AbsPath == rw.role.AbsPath {
			continue
		}
		rw.cancel()
		delete(w.live, name)
		if keep {
			// Path changed: the restart below picks up the new root.
			w.logger.Info().Str(log.FieldRole, name).Str(log.FieldPath, r.AbsPath).Msg("role repointed, restarting watch")
		} else {
			w.logger.Info().Str(log.FieldRole, name).Msg("role watch removed")
		}
	}

	for name, r := range desired {
		if _, running := w.live[name]; running {
			continue
		}
		rw := newRoleWatch(w, r)
		rctx, cancel := context.WithCancel(ctx)
		rw.cancel = cancel
		w.live[name] = rw
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			rw.run(rctx)
		}()
	}

	metrics.SetWatcherActiveRoles(len(w.live))
}

func (w *Watcher) stopAll() {
	w.mu.Lock()
	for name, rw := range w.live {
		rw.cancel()
		delete(w.live, name)
	}
	w.mu.Unlock()
	w.wg.Wait()
	metrics.SetWatcherActiveRoles(0)
}

// Active returns the names of roles with a running watch, for the stats
// endpoint.
func (w *Watcher) Active() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.live))
	for name := range w.live {
		out = append(out, name)
	}
	return out
}

func (w *Watcher) supportedExt(path string) bool {
	_, ok := w.exts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// quietPeriod prefers the runtime setting so operators can tune it without
// a restart.
func (w *Watcher) quietPeriod(ctx context.Context) time.Duration {
	if w.settings != nil {
		if d, err := w.settings.GetDuration(ctx, "quiet_period_sec"); err == nil && d > 0 {
			return d
		}
	}
	return w.opts.QuietPeriod
}
