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

	"github.com/ManuGH/streamops/internal/opserr"
	"github.com/ManuGH/streamops/internal/persistence/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "streamops.db"), sqlite.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlite.Migrate(context.Background(), db))
	return NewStore(db)
}

func testJob(id, jobType string, prio Priority, maxRetries int) *Job {
	return &Job{
		ID:         id,
		Type:       jobType,
		AssetID:    "asset-1",
		Params:     map[string]any{"n": id},
		Priority:   prio,
		MaxRetries: maxRetries,
	}
}

func mustEnqueue(t *testing.T, s *Store, j *Job) *Job {
	t.Helper()
	stored, fresh, err := s.Enqueue(context.Background(), j)
	require.NoError(t, err)
	require.True(t, fresh)
	return stored
}

func TestEnqueueInsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := mustEnqueue(t, s, testJob("remux_1", "remux", PriorityHigh, 3))
	assert.Equal(t, StateQueued, j.State)
	assert.Equal(t, PriorityHigh, j.Priority)
	assert.Equal(t, 0, j.RetryCount)
	assert.Equal(t, 3, j.MaxRetries)
	assert.False(t, j.CreatedAt.IsZero())
	assert.True(t, j.StartedAt.IsZero())

	got, err := s.Get(ctx, "remux_1")
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)
	assert.Equal(t, map[string]any{"n": "remux_1"}, got.Params)
}

func TestEnqueueLiveCoalesces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustEnqueue(t, s, testJob("remux_1", "remux", PriorityNormal, 3))
	_, fresh, err := s.Enqueue(ctx, testJob("remux_1", "remux", PriorityNormal, 3))
	require.NoError(t, err)
	assert.False(t, fresh)

	_, total, err := s.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestEnqueueResurrectsTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustEnqueue(t, s, testJob("remux_1", "remux", PriorityNormal, 3))
	claimed, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	_, err = s.MarkCompleted(ctx, "remux_1", map[string]any{"path": "/x"})
	require.NoError(t, err)

	again, fresh, err := s.Enqueue(ctx, testJob("remux_1", "remux", PriorityNormal, 3))
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, StateQueued, again.State)
	assert.Equal(t, 0, again.RetryCount)
	assert.Zero(t, again.Progress)
	assert.Nil(t, again.Result)
	assert.Empty(t, again.Error)
	assert.True(t, again.StartedAt.IsZero())
	assert.True(t, again.CompletedAt.IsZero())
}

func TestClaimOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustEnqueue(t, s, testJob("j_low", "transcode", PriorityLow, 0))
	mustEnqueue(t, s, testJob("j_norm1", "transcode", PriorityNormal, 0))
	mustEnqueue(t, s, testJob("j_crit", "transcode", PriorityCritical, 0))
	mustEnqueue(t, s, testJob("j_norm2", "transcode", PriorityNormal, 0))
	mustEnqueue(t, s, testJob("j_high", "transcode", PriorityHigh, 0))

	var order []string
	for {
		j, err := s.ClaimNext(ctx)
		require.NoError(t, err)
		if j == nil {
			break
		}
		order = append(order, j.ID)
	}
	// Priority first, insertion order within one class.
	assert.Equal(t, []string{"j_crit", "j_high", "j_norm1", "j_norm2", "j_low"}, order)
}

func TestClaimNextEmpty(t *testing.T) {
	s := newTestStore(t)
	j, err := s.ClaimNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, j)
}

func TestClaimKeepsFirstStartedAt(t *testing.T) {
	s := newTestStore(t)
	s.backoff = func(int) time.Duration { return 0 }
	ctx := context.Background()

	mustEnqueue(t, s, testJob("remux_1", "remux", PriorityNormal, 3))
	first, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.False(t, first.StartedAt.IsZero())

	_, retrying, err := s.MarkFailed(ctx, "remux_1", "boom")
	require.NoError(t, err)
	require.True(t, retrying)

	n, err := s.RequeueDue(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	second, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.StartedAt, second.StartedAt)
}

func TestMarkCompleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustEnqueue(t, s, testJob("remux_1", "remux", PriorityNormal, 3))
	_, err := s.ClaimNext(ctx)
	require.NoError(t, err)

	done, err := s.MarkCompleted(ctx, "remux_1", map[string]any{"output": "/data/a.mp4"})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, done.State)
	assert.Equal(t, float64(100), done.Progress)
	assert.Equal(t, map[string]any{"output": "/data/a.mp4"}, done.Result)
	assert.False(t, done.CompletedAt.IsZero())

	// Terminal states absorb every further transition.
	_, err = s.MarkCompleted(ctx, "remux_1", nil)
	assert.Equal(t, opserr.KindConflict, opserr.KindOf(err))
	_, _, err = s.MarkFailed(ctx, "remux_1", "late")
	assert.Equal(t, opserr.KindConflict, opserr.KindOf(err))
	_, err = s.MarkCancelledRunning(ctx, "remux_1")
	assert.Equal(t, opserr.KindConflict, opserr.KindOf(err))
}

func TestMarkCompletedRequiresRunning(t *testing.T) {
	s := newTestStore(t)
	mustEnqueue(t, s, testJob("remux_1", "remux", PriorityNormal, 3))
	_, err := s.MarkCompleted(context.Background(), "remux_1", nil)
	assert.Equal(t, opserr.KindConflict, opserr.KindOf(err))
}

func TestMarkFailedRetrySchedule(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustEnqueue(t, s, testJob("remux_1", "remux", PriorityNormal, 2))

	// First failure: retry 1 due in 5s.
	_, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	j, retrying, err := s.MarkFailed(ctx, "remux_1", "tool exited 1")
	require.NoError(t, err)
	assert.True(t, retrying)
	assert.Equal(t, StateRetrying, j.State)
	assert.Equal(t, 1, j.RetryCount)
	assert.Equal(t, "tool exited 1", j.Error)
	assert.WithinDuration(t, time.Now().Add(5*time.Second), j.RetryAt, 2*time.Second)

	// Second failure: retry 2 due in 10s.
	_, err = s.RequeueDue(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	_, err = s.ClaimNext(ctx)
	require.NoError(t, err)
	j, retrying, err = s.MarkFailed(ctx, "remux_1", "tool exited 1")
	require.NoError(t, err)
	assert.True(t, retrying)
	assert.Equal(t, 2, j.RetryCount)
	assert.WithinDuration(t, time.Now().Add(10*time.Second), j.RetryAt, 2*time.Second)

	// Third failure exhausts the budget of 2 and lands in failed.
	_, err = s.RequeueDue(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	_, err = s.ClaimNext(ctx)
	require.NoError(t, err)
	j, retrying, err = s.MarkFailed(ctx, "remux_1", "tool exited 1")
	require.NoError(t, err)
	assert.False(t, retrying)
	assert.Equal(t, StateFailed, j.State)
	assert.Equal(t, 2, j.RetryCount)
	assert.False(t, j.CompletedAt.IsZero())
}

func TestMarkFailedZeroBudget(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustEnqueue(t, s, testJob("remux_1", "remux", PriorityNormal, 0))
	_, err := s.ClaimNext(ctx)
	require.NoError(t, err)

	j, retrying, err := s.MarkFailed(ctx, "remux_1", "boom")
	require.NoError(t, err)
	assert.False(t, retrying)
	assert.Equal(t, StateFailed, j.State)
	assert.Equal(t, 0, j.RetryCount)
}

func TestCancelPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustEnqueue(t, s, testJob("remux_1", "remux", PriorityNormal, 3))
	changed, err := s.CancelPending(ctx, "remux_1")
	require.NoError(t, err)
	assert.True(t, changed)

	j, err := s.Get(ctx, "remux_1")
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, j.State)
	assert.False(t, j.CompletedAt.IsZero())

	changed, err = s.CancelPending(ctx, "remux_1")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestCancelPendingSkipsRunning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustEnqueue(t, s, testJob("remux_1", "remux", PriorityNormal, 3))
	_, err := s.ClaimNext(ctx)
	require.NoError(t, err)

	changed, err := s.CancelPending(ctx, "remux_1")
	require.NoError(t, err)
	assert.False(t, changed)

	j, err := s.MarkCancelledRunning(ctx, "remux_1")
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, j.State)
}

func TestRequeueDue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustEnqueue(t, s, testJob("remux_1", "remux", PriorityNormal, 3))
	_, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	_, _, err = s.MarkFailed(ctx, "remux_1", "boom")
	require.NoError(t, err)

	// Backoff has not elapsed yet.
	n, err := s.RequeueDue(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.RequeueDue(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	j, err := s.Get(ctx, "remux_1")
	require.NoError(t, err)
	assert.Equal(t, StateQueued, j.State)
	assert.Equal(t, 1, j.RetryCount)
}

func TestResetRunning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustEnqueue(t, s, testJob("j_1", "remux", PriorityNormal, 3))
	mustEnqueue(t, s, testJob("j_2", "remux", PriorityNormal, 3))
	mustEnqueue(t, s, testJob("j_3", "remux", PriorityNormal, 3))
	_, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	_, err = s.ClaimNext(ctx)
	require.NoError(t, err)

	n, err := s.ResetRunning(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	counts, err := s.CountByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[State]int{StateQueued: 3}, counts)
}

func TestProgressMerge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustEnqueue(t, s, testJob("proxy_1", "proxy", PriorityNormal, 3))
	_, err := s.ClaimNext(ctx)
	require.NoError(t, err)

	require.NoError(t, s.SetProgress(ctx, "proxy_1", 42.5, "encoding"))
	j, err := s.Get(ctx, "proxy_1")
	require.NoError(t, err)
	assert.Equal(t, 42.5, j.Progress)
	assert.Equal(t, "encoding", j.Message)

	// Completion pins 100 even though the live row still says 42.5.
	done, err := s.MarkCompleted(ctx, "proxy_1", nil)
	require.NoError(t, err)
	assert.Equal(t, float64(100), done.Progress)
}

func TestSetProgressClamps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustEnqueue(t, s, testJob("proxy_1", "proxy", PriorityNormal, 3))
	_, err := s.ClaimNext(ctx)
	require.NoError(t, err)

	require.NoError(t, s.SetProgress(ctx, "proxy_1", 180, ""))
	j, err := s.Get(ctx, "proxy_1")
	require.NoError(t, err)
	assert.Equal(t, float64(100), j.Progress)
}

func TestListFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustEnqueue(t, s, &Job{ID: "remux_1", Type: "remux", AssetID: "a1", MaxRetries: 3})
	mustEnqueue(t, s, &Job{ID: "remux_2", Type: "remux", AssetID: "a2", MaxRetries: 3})
	mustEnqueue(t, s, &Job{ID: "proxy_1", Type: "proxy", AssetID: "a1", MaxRetries: 3})
	_, err := s.ClaimNext(ctx)
	require.NoError(t, err)

	byType, total, err := s.List(ctx, ListOptions{Type: "remux"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, byType, 2)

	byAsset, total, err := s.List(ctx, ListOptions{AssetID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, byAsset, 2)

	queued, total, err := s.List(ctx, ListOptions{State: StateQueued})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, queued, 2)

	page, total, err := s.List(ctx, ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page, 2)
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "remux_nope")
	assert.Equal(t, opserr.KindNotFound, opserr.KindOf(err))
}
