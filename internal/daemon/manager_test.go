// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/streamops/internal/config"
	"github.com/ManuGH/streamops/internal/log"
)

// fakeAPI stands in for the admin server: Start blocks until Shutdown.
type fakeAPI struct {
	startErr error

	mu       sync.Mutex
	started  bool
	stopped  bool
	shutdown chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{shutdown: make(chan struct{})}
}

func (f *fakeAPI) Start() error {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	<-f.shutdown
	return nil
}

func (f *fakeAPI) Shutdown(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stopped {
		f.stopped = true
		close(f.shutdown)
	}
	return nil
}

func (f *fakeAPI) wasStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func testConfig() config.Config {
	return config.Config{
		ListenAddr:      "127.0.0.1:0",
		ShutdownTimeout: 2 * time.Second,
	}
}

func blockingRunner(name string) (Runner, *sync.WaitGroup) {
	var wg sync.WaitGroup
	wg.Add(1)
	return Runner{
		Name: name,
		Run: func(ctx context.Context) error {
			defer wg.Done()
			<-ctx.Done()
			return ctx.Err()
		},
	}, &wg
}

func TestNewManagerValidDeps(t *testing.T) {
	mgr, err := NewManager(testConfig(), Deps{
		Logger: log.WithComponent("test"),
		API:    newFakeAPI(),
	})
	require.NoError(t, err)
	require.NotNil(t, mgr)
}

func TestNewManagerMissingLogger(t *testing.T) {
	_, err := NewManager(testConfig(), Deps{
		Logger: zerolog.Nop(),
		API:    newFakeAPI(),
	})
	require.ErrorIs(t, err, ErrMissingLogger)
}

func TestNewManagerMissingAPI(t *testing.T) {
	_, err := NewManager(testConfig(), Deps{
		Logger: log.WithComponent("test"),
	})
	require.ErrorIs(t, err, ErrMissingAPIServer)
}

func TestNewManagerInvalidRunner(t *testing.T) {
	_, err := NewManager(testConfig(), Deps{
		Logger:  log.WithComponent("test"),
		API:     newFakeAPI(),
		Runners: []Runner{{Name: "nameless"}},
	})
	require.ErrorIs(t, err, ErrInvalidRunner)
}

func TestManagerStartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	api := newFakeAPI()
	r, wg := blockingRunner("loop")
	mgr, err := NewManager(testConfig(), Deps{
		Logger:  log.WithComponent("test"),
		API:     api,
		Runners: []Runner{r},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		errChan <- mgr.Start(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errChan:
		assert.NoError(t, err, "a signal-driven stop is a clean exit")
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
	wg.Wait()
	assert.True(t, api.wasStopped())
}

func TestManagerRunnerFailureStopsDaemon(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	api := newFakeAPI()
	boom := errors.New("sqlite is gone")
	mgr, err := NewManager(testConfig(), Deps{
		Logger: log.WithComponent("test"),
		API:    api,
		Runners: []Runner{{
			Name: "dispatcher",
			Run: func(ctx context.Context) error {
				return boom
			},
		}},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = mgr.Start(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, api.wasStopped(), "a runner failure shuts the servers down")
}

func TestManagerRunnerCancelIsNotFailure(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	r, wg := blockingRunner("watcher")
	mgr, err := NewManager(testConfig(), Deps{
		Logger:  log.WithComponent("test"),
		API:     newFakeAPI(),
		Runners: []Runner{r},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		errChan <- mgr.Start(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errChan:
		assert.NoError(t, err, "context.Canceled from a runner is not an error")
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return")
	}
	wg.Wait()
}

func TestManagerShutdownHooksLIFO(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	mgr, err := NewManager(testConfig(), Deps{
		Logger: log.WithComponent("test"),
		API:    newFakeAPI(),
	})
	require.NoError(t, err)

	var mu sync.Mutex
	var order []string
	hook := func(name string) ShutdownHook {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}
	mgr.RegisterShutdownHook("db_close", hook("db_close"))
	mgr.RegisterShutdownHook("cache_close", hook("cache_close"))
	mgr.RegisterShutdownHook("engine_drain", hook("engine_drain"))

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		errChan <- mgr.Start(ctx)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errChan:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"engine_drain", "cache_close", "db_close"}, order)
}

func TestManagerHookFailureSurfaces(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	mgr, err := NewManager(testConfig(), Deps{
		Logger: log.WithComponent("test"),
		API:    newFakeAPI(),
	})
	require.NoError(t, err)

	mgr.RegisterShutdownHook("flaky", func(context.Context) error {
		return errors.New("badger refused to close")
	})

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		errChan <- mgr.Start(ctx)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errChan:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "badger refused to close")
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return")
	}
}

func TestManagerAPIFailureStopsDaemon(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	api := newFakeAPI()
	api.startErr = errors.New("listen tcp :8591: address already in use")
	r, wg := blockingRunner("dispatcher")
	mgr, err := NewManager(testConfig(), Deps{
		Logger:  log.WithComponent("test"),
		API:     api,
		Runners: []Runner{r},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = mgr.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address already in use")
	wg.Wait()
}

func TestManagerShutdownNotStarted(t *testing.T) {
	mgr, err := NewManager(testConfig(), Deps{
		Logger: log.WithComponent("test"),
		API:    newFakeAPI(),
	})
	require.NoError(t, err)

	err = mgr.Shutdown(context.Background())
	assert.ErrorIs(t, err, ErrManagerNotStarted)
}

func TestManagerShutdownIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var calls int
	var mu sync.Mutex
	mgr, err := NewManager(testConfig(), Deps{
		Logger: log.WithComponent("test"),
		API:    newFakeAPI(),
	})
	require.NoError(t, err)
	mgr.RegisterShutdownHook("counter", func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		errChan <- mgr.Start(ctx)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errChan:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return")
	}

	// A second shutdown is a no-op, not a second hook pass.
	require.NoError(t, mgr.Shutdown(context.Background()))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestManagerMetricsServer(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	metricsAddr := ln.Addr().String()
	require.NoError(t, ln.Close())

	mgr, err := NewManager(testConfig(), Deps{
		Logger: log.WithComponent("test"),
		API:    newFakeAPI(),
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# HELP streamops_test_metric\n"))
		}),
		MetricsAddr: metricsAddr,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		errChan <- mgr.Start(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	var resp *http.Response
	for time.Now().Before(deadline) {
		resp, err = http.Get("http://" + metricsAddr + "/metrics") //nolint:noctx
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, err, "metrics listener never came up")
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errChan:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return")
	}
}
