// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/ManuGH/streamops/internal/config"
	"github.com/ManuGH/streamops/internal/log"
	"github.com/ManuGH/streamops/internal/metrics"
)

// roleWatch owns one recursive directory watch: the fsnotify instance, the
// tracker of paths waiting out their quiet period and the stability ticker.
type roleWatch struct {
	role   config.Role
	parent *Watcher
	logger zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	tracked map[string]time.Time // path → first seen
}

func newRoleWatch(parent *Watcher, role config.Role) *roleWatch {
	return &roleWatch{
		role:    role,
		parent:  parent,
		logger:  log.WithComponent("watcher").With().Str(log.FieldRole, role.Role).Logger(),
		done:    make(chan struct{}),
		tracked: make(map[string]time.Time),
	}
}

// run watches the role's tree until ctx ends. fsnotify only watches single
// directories, so every subdirectory is added explicitly, including ones
// created while we are running.
func (rw *roleWatch) run(ctx context.Context) {
	defer close(rw.done)
	defer metrics.SetWatcherTrackedFiles(rw.role.Role, 0)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		rw.logger.Error().Err(err).Msg("could not create directory watcher")
		return
	}
	defer func() { _ = fsw.Close() }()

	if err := rw.addTree(fsw, rw.role.AbsPath); err != nil {
		rw.logger.Error().Err(err).Str(log.FieldPath, rw.role.AbsPath).Msg("could not watch role root")
		return
	}
	rw.logger.Info().Str(log.FieldPath, rw.role.AbsPath).Msg("role watch started")

	ticker := time.NewTicker(rw.parent.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rw.logger.Info().Msg("role watch stopped")
			return

		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			rw.handleEvent(fsw, ev)

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			rw.logger.Warn().Err(err).Msg("watch backend error")

		case <-ticker.C:
			rw.sweep(ctx)
		}
	}
}

// handleEvent feeds the tracker. New directories join the watch; files with
// a supported extension start (or keep) their quiet-period clock; removed
// paths are forgotten.
func (rw *roleWatch) handleEvent(fsw *fsnotify.Watcher, ev fsnotify.Event) {
	switch {
	case ev.Op.Has(fsnotify.Create):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			// A directory moved in wholesale produces no per-file events,
			// so the walk below also picks up anything already inside.
			if err := rw.addTree(fsw, ev.Name); err != nil {
				rw.logger.Warn().Err(err).Str(log.FieldPath, ev.Name).Msg("could not watch new directory")
			}
			return
		}
		rw.track(ev.Name)

	case ev.Op.Has(fsnotify.Write):
		rw.track(ev.Name)

	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		rw.forget(ev.Name)
	}
}

// addTree watches dir and every subdirectory beneath it, and begins
// tracking media files that already exist there. Dot directories are
// skipped; recorders drop thumbnail and lock droppings in those.
func (rw *roleWatch) addTree(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// The tree can shift under the walk; a vanished entry is not
			// a reason to give up on the rest.
			rw.logger.Debug().Err(err).Str(log.FieldPath, path).Msg("walk entry skipped")
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			if err := fsw.Add(path); err != nil {
				rw.logger.Warn().Err(err).Str(log.FieldPath, path).Msg("could not watch directory")
			}
			return nil
		}
		rw.track(path)
		return nil
	})
}

// track starts the quiet-period clock for a path. A path already in the
// tracker keeps its original first-seen time: ongoing writes are caught by
// the size sampling, not by resetting the clock on every event.
func (rw *roleWatch) track(path string) {
	if !rw.parent.supportedExt(path) {
		return
	}
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if _, seen := rw.tracked[path]; seen {
		return
	}
	rw.tracked[path] = time.Now()
	metrics.SetWatcherTrackedFiles(rw.role.Role, len(rw.tracked))
}

func (rw *roleWatch) forget(path string) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if _, seen := rw.tracked[path]; !seen {
		return
	}
	delete(rw.tracked, path)
	metrics.SetWatcherTrackedFiles(rw.role.Role, len(rw.tracked))
}

// sweep runs the stability check over every path whose quiet period has
// elapsed. Stable paths are emitted and dropped; paths still being written
// get their clock reset; vanished paths are dropped silently.
func (rw *roleWatch) sweep(ctx context.Context) {
	quiet := rw.parent.quietPeriod(ctx)
	now := time.Now()

	rw.mu.Lock()
	var due []string
	for path, firstSeen := range rw.tracked {
		if now.Sub(firstSeen) >= quiet {
			due = append(due, path)
		}
	}
	rw.mu.Unlock()
	sort.Strings(due)

	for _, path := range due {
		if ctx.Err() != nil {
			return
		}
		settled, s, err := sizeSettled(ctx, path, rw.parent.opts.SettleDelay)
		switch {
		case err != nil && ctx.Err() != nil:
			return
		case err != nil && os.IsNotExist(err):
			rw.forget(path)
		case err != nil:
			metrics.IncWatcherStatError()
			rw.logger.Warn().Err(err).Str(log.FieldPath, path).Msg("size sample failed, dropping path")
			rw.forget(path)
		case settled:
			rw.forget(path)
			metrics.IncWatcherFileClosed(rw.role.Role)
			rw.logger.Info().
				Str(log.FieldPath, path).
				Int64("size", s.size).
				Msg("file closed")
			rw.parent.emit(ctx, FileEvent{
				Role:    rw.role.Role,
				Path:    path,
				Size:    s.size,
				ModTime: s.mtime,
			})
		default:
			rw.mu.Lock()
			rw.tracked[path] = time.Now()
			rw.mu.Unlock()
		}
	}
}

// trackedCount is read by tests and the reconciler's debug logging.
func (rw *roleWatch) trackedCount() int {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return len(rw.tracked)
}
