// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/streamops/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeRoles struct {
	mu    sync.Mutex
	roles []config.Role
}

func (f *fakeRoles) set(roles ...config.Role) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles = roles
}

func (f *fakeRoles) Watched(context.Context) ([]config.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]config.Role(nil), f.roles...), nil
}

type fakeSettings struct {
	quiet time.Duration
	err   error
}

func (f *fakeSettings) GetDuration(context.Context, string) (time.Duration, error) {
	return f.quiet, f.err
}

// eventRecorder collects emitted events so tests can wait on them.
type eventRecorder struct {
	mu     sync.Mutex
	events []FileEvent
}

func (r *eventRecorder) emit(_ context.Context, ev FileEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) snapshot() []FileEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]FileEvent(nil), r.events...)
}

func (r *eventRecorder) waitFor(t *testing.T, n int) []FileEvent {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if evs := r.snapshot(); len(evs) >= n {
			return evs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d file events, have %d", n, len(r.snapshot()))
	return nil
}

func newTestWatcher(t *testing.T) (*Watcher, *fakeRoles, *eventRecorder) {
	t.Helper()
	roles := &fakeRoles{}
	rec := &eventRecorder{}
	w := New(roles, nil, rec.emit, Options{
		QuietPeriod:       40 * time.Millisecond,
		TickInterval:      10 * time.Millisecond,
		ReconcileInterval: 15 * time.Millisecond,
		SettleDelay:       5 * time.Millisecond,
	})
	return w, roles, rec
}

func startWatcher(t *testing.T, w *Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("watcher did not stop")
		}
	})
}

func waitActive(t *testing.T, w *Watcher, n int) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if len(w.Active()) == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d active role watches, have %v", n, w.Active())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWatcherEmitsOnceWhenFileSettles(t *testing.T) {
	w, roles, rec := newTestWatcher(t)
	dir := t.TempDir()
	roles.set(config.Role{Role: "recordings", AbsPath: dir, Watch: true})
	startWatcher(t, w)
	waitActive(t, w, 1)

	path := filepath.Join(dir, "show.mkv")
	writeFile(t, path, "recorded payload")

	evs := rec.waitFor(t, 1)
	assert.Equal(t, "recordings", evs[0].Role)
	assert.Equal(t, path, evs[0].Path)
	assert.Equal(t, int64(len("recorded payload")), evs[0].Size)
	assert.False(t, evs[0].ModTime.IsZero())

	// The emit dropped the path from the tracker, so nothing follows.
	time.Sleep(150 * time.Millisecond)
	assert.Len(t, rec.snapshot(), 1)
}

func TestWatcherSeesPreexistingFiles(t *testing.T) {
	w, roles, rec := newTestWatcher(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "old.mp4")
	writeFile(t, path, "already on disk")

	roles.set(config.Role{Role: "recordings", AbsPath: dir, Watch: true})
	startWatcher(t, w)

	evs := rec.waitFor(t, 1)
	assert.Equal(t, path, evs[0].Path, "the initial walk tracks files that predate the watch")
}

func TestWatcherIgnoresUnsupportedExtensions(t *testing.T) {
	w, roles, rec := newTestWatcher(t)
	dir := t.TempDir()
	roles.set(config.Role{Role: "recordings", AbsPath: dir, Watch: true})
	startWatcher(t, w)
	waitActive(t, w, 1)

	writeFile(t, filepath.Join(dir, "clip.partial"), "in flight")
	writeFile(t, filepath.Join(dir, "notes.txt"), "metadata")
	path := filepath.Join(dir, "clip.mp4")
	writeFile(t, path, "video")

	evs := rec.waitFor(t, 1)
	assert.Equal(t, path, evs[0].Path)

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, rec.snapshot(), 1, "sidecar files never produce events")
}

func TestWatcherPicksUpNewSubdirectories(t *testing.T) {
	w, roles, rec := newTestWatcher(t)
	dir := t.TempDir()
	roles.set(config.Role{Role: "recordings", AbsPath: dir, Watch: true})
	startWatcher(t, w)
	waitActive(t, w, 1)

	path := filepath.Join(dir, "sub", "deeper", "ep1.ts")
	writeFile(t, path, "episode")

	evs := rec.waitFor(t, 1)
	assert.Equal(t, path, evs[0].Path)
}

func TestWatcherDeletedFileNeverEmits(t *testing.T) {
	w, roles, rec := newTestWatcher(t)
	dir := t.TempDir()
	roles.set(config.Role{Role: "recordings", AbsPath: dir, Watch: true})
	startWatcher(t, w)
	waitActive(t, w, 1)

	path := filepath.Join(dir, "aborted.mkv")
	writeFile(t, path, "partial")
	time.Sleep(15 * time.Millisecond)
	require.NoError(t, os.Remove(path))

	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}

func TestWatcherReconcileAddsAndRemovesRoles(t *testing.T) {
	w, roles, rec := newTestWatcher(t)
	startWatcher(t, w)
	assert.Empty(t, w.Active())

	dir := t.TempDir()
	roles.set(config.Role{Role: "recordings", AbsPath: dir, Watch: true})
	waitActive(t, w, 1)

	roles.set()
	waitActive(t, w, 0)

	writeFile(t, filepath.Join(dir, "late.mkv"), "after removal")
	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, rec.snapshot(), "a removed role's directory is no longer watched")
}

func TestWatcherReconcileRepointsRole(t *testing.T) {
	w, roles, rec := newTestWatcher(t)
	dir1, dir2 := t.TempDir(), t.TempDir()
	roles.set(config.Role{Role: "recordings", AbsPath: dir1, Watch: true})
	startWatcher(t, w)
	waitActive(t, w, 1)

	writeFile(t, filepath.Join(dir1, "a.mkv"), "first root")
	rec.waitFor(t, 1)

	roles.set(config.Role{Role: "recordings", AbsPath: dir2, Watch: true})
	writeFile(t, filepath.Join(dir2, "b.mkv"), "second root")

	evs := rec.waitFor(t, 2)
	assert.Equal(t, filepath.Join(dir2, "b.mkv"), evs[1].Path, "the restarted watch covers the new root")
}

func TestWatcherSkipsMissingRoleDir(t *testing.T) {
	w, roles, rec := newTestWatcher(t)
	missing := filepath.Join(t.TempDir(), "not-yet")
	roles.set(config.Role{Role: "recordings", AbsPath: missing, Watch: true})
	startWatcher(t, w)

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, w.Active(), "a role without a directory gets no watch")

	require.NoError(t, os.MkdirAll(missing, 0o755))
	waitActive(t, w, 1)

	writeFile(t, filepath.Join(missing, "x.mp4"), "video")
	rec.waitFor(t, 1)
}

func TestWatcherQuietPeriodPrefersSetting(t *testing.T) {
	emit := func(context.Context, FileEvent) {}
	ctx := context.Background()

	w := New(&fakeRoles{}, &fakeSettings{quiet: 30 * time.Second}, emit, Options{})
	assert.Equal(t, 30*time.Second, w.quietPeriod(ctx))

	w = New(&fakeRoles{}, &fakeSettings{err: errors.New("db closed")}, emit, Options{QuietPeriod: 7 * time.Second})
	assert.Equal(t, 7*time.Second, w.quietPeriod(ctx), "a failing settings read falls back to the option")

	w = New(&fakeRoles{}, nil, emit, Options{QuietPeriod: 7 * time.Second})
	assert.Equal(t, 7*time.Second, w.quietPeriod(ctx))
}

func TestWatcherSupportedExt(t *testing.T) {
	w := New(&fakeRoles{}, nil, func(context.Context, FileEvent) {}, Options{})
	assert.True(t, w.supportedExt("/a/b.mkv"))
	assert.True(t, w.supportedExt("/a/B.MKV"))
	assert.True(t, w.supportedExt("/a/b.m2ts"))
	assert.False(t, w.supportedExt("/a/b.nfo"))
	assert.False(t, w.supportedExt("/a/mkv"))
}
