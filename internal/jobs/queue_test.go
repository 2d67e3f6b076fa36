// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package jobs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/streamops/internal/config"
	"github.com/ManuGH/streamops/internal/opserr"
	"github.com/ManuGH/streamops/internal/persistence/sqlite"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "streamops.db"), sqlite.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlite.Migrate(context.Background(), db))

	settings, err := config.NewSettings(db, nil)
	require.NoError(t, err)
	return NewQueue(NewStore(db), settings)
}

func noopHandler() HandlerFunc {
	return func(ctx context.Context, job *Job, progress ProgressFunc) (map[string]any, error) {
		return nil, nil
	}
}

func TestRegisterDuplicate(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Register("remux", noopHandler()))
	err := q.Register("remux", noopHandler())
	assert.Equal(t, opserr.KindConflict, opserr.KindOf(err))
}

func TestTypesSorted(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Register("transcode", noopHandler()))
	require.NoError(t, q.Register("move", noopHandler()))
	require.NoError(t, q.Register("remux", noopHandler()))
	assert.Equal(t, []string{"move", "remux", "transcode"}, q.Types())
}

func TestEnqueueUnknownType(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Enqueue(context.Background(), EnqueueRequest{Type: "remux"})
	assert.Equal(t, opserr.KindValidation, opserr.KindOf(err))
}

func TestEnqueueDefaults(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Register("remux", noopHandler()))

	j, err := q.Enqueue(context.Background(), EnqueueRequest{
		Type:    "remux",
		AssetID: "asset-1",
		Params:  map[string]any{"container": "mp4"},
	})
	require.NoError(t, err)
	assert.Equal(t, PriorityNormal, j.Priority)
	assert.Equal(t, 3, j.MaxRetries)
	assert.Equal(t, StateQueued, j.State)
	assert.Contains(t, j.ID, "remux_")
}

func TestEnqueueMaxRetriesOverride(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Register("remux", noopHandler()))

	zero := 0
	j, err := q.Enqueue(context.Background(), EnqueueRequest{
		Type:       "remux",
		AssetID:    "asset-1",
		MaxRetries: &zero,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, j.MaxRetries)
}

func TestEnqueueBadPriority(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Register("remux", noopHandler()))

	_, err := q.Enqueue(context.Background(), EnqueueRequest{Type: "remux", Priority: "asap"})
	assert.Equal(t, opserr.KindValidation, opserr.KindOf(err))
}

func TestEnqueueCoalesces(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Register("remux", noopHandler()))
	ctx := context.Background()

	req := EnqueueRequest{Type: "remux", AssetID: "asset-1", Params: map[string]any{"container": "mp4"}}
	a, err := q.Enqueue(ctx, req)
	require.NoError(t, err)
	b, err := q.Enqueue(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	_, total, err := q.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestCancelQueued(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Register("remux", noopHandler()))
	ctx := context.Background()

	j, err := q.Enqueue(ctx, EnqueueRequest{Type: "remux", AssetID: "asset-1"})
	require.NoError(t, err)

	cancelled, err := q.Cancel(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, cancelled.State)

	_, err = q.Cancel(ctx, j.ID)
	assert.Equal(t, opserr.KindConflict, opserr.KindOf(err))
}

func TestCancelMissing(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Cancel(context.Background(), "remux_nope")
	assert.Equal(t, opserr.KindNotFound, opserr.KindOf(err))
}

func TestWaitAlreadyTerminal(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Register("remux", noopHandler()))
	ctx := context.Background()

	j, err := q.Enqueue(ctx, EnqueueRequest{Type: "remux", AssetID: "asset-1"})
	require.NoError(t, err)
	_, err = q.store.ClaimNext(ctx)
	require.NoError(t, err)
	_, err = q.store.MarkCompleted(ctx, j.ID, nil)
	require.NoError(t, err)

	done, err := q.Wait(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, done.State)
}

func TestWaitWakesOnNotify(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Register("remux", noopHandler()))
	ctx := context.Background()

	j, err := q.Enqueue(ctx, EnqueueRequest{Type: "remux", AssetID: "asset-1"})
	require.NoError(t, err)

	got := make(chan *Job, 1)
	errs := make(chan error, 1)
	go func() {
		done, err := q.Wait(ctx, j.ID)
		errs <- err
		got <- done
	}()

	// Give the waiter a moment to register, then finish the job.
	time.Sleep(50 * time.Millisecond)
	_, err = q.store.ClaimNext(ctx)
	require.NoError(t, err)
	done, err := q.store.MarkCompleted(ctx, j.ID, nil)
	require.NoError(t, err)
	q.notifyTerminal(done)

	select {
	case err := <-errs:
		require.NoError(t, err)
		assert.Equal(t, StateCompleted, (<-got).State)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter did not wake")
	}
}

func TestWaitHonorsContext(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Register("remux", noopHandler()))

	j, err := q.Enqueue(context.Background(), EnqueueRequest{Type: "remux", AssetID: "asset-1"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = q.Wait(ctx, j.ID)
	assert.Equal(t, opserr.KindTimeout, opserr.KindOf(err))
}
