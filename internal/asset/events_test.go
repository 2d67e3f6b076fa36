package asset

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Events reference their asset row, so each test seeds one first.
func seedAsset(t *testing.T, store *Store, path string) *Asset {
	t.Helper()
	a := testAsset(path)
	require.NoError(t, store.Upsert(context.Background(), a))
	return a
}

func TestEmitIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	events := NewEventLog(db)
	ctx := context.Background()

	a := seedAsset(t, store, "/media/ingest/clip.mkv")

	// Three emits of the same (asset, type, job) triple: one row.
	for i := 0; i < 3; i++ {
		ok, err := events.Emit(ctx, a.ID, EventRemuxCompleted, map[string]any{"container": "mov"}, "remux_abc")
		require.NoError(t, err)
		assert.True(t, ok, "emit %d must report success", i)
	}

	timeline, err := events.Timeline(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, timeline, 1)
	assert.Equal(t, EventRemuxCompleted, timeline[0].Type)
	assert.Equal(t, "remux_abc", timeline[0].JobID)
}

func TestEmitDistinguishesJobs(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	events := NewEventLog(db)
	ctx := context.Background()

	a := seedAsset(t, store, "/media/ingest/clip.mkv")

	_, err := events.Emit(ctx, a.ID, EventError, map[string]any{"message": "boom"}, "remux_1")
	require.NoError(t, err)
	_, err = events.Emit(ctx, a.ID, EventError, map[string]any{"message": "boom again"}, "remux_2")
	require.NoError(t, err)

	timeline, err := events.Timeline(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, timeline, 2, "different jobs yield different event ids")
}

func TestTimelineKeepsInsertOrder(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	events := NewEventLog(db)
	ctx := context.Background()

	a := seedAsset(t, store, "/media/ingest/clip.mkv")

	// All inserts land within the same second, ordering must still hold.
	sequence := []string{EventRecorded, EventRemuxCompleted, EventMoveCompleted}
	for _, typ := range sequence {
		_, err := events.Emit(ctx, a.ID, typ, nil, "")
		require.NoError(t, err)
	}

	timeline, err := events.Timeline(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, timeline, len(sequence))
	for i, typ := range sequence {
		assert.Equal(t, typ, timeline[i].Type)
	}
}

func TestEmitPayloadRoundTrip(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	events := NewEventLog(db)
	ctx := context.Background()

	a := seedAsset(t, store, "/media/ingest/clip.mkv")

	payload := map[string]any{
		"action":  "remux",
		"message": "ffmpeg exited 1",
		"stage":   "execute",
	}
	_, err := events.Emit(ctx, a.ID, EventError, payload, "remux_f00")
	require.NoError(t, err)

	timeline, err := events.Timeline(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, timeline, 1)
	assert.Equal(t, payload, timeline[0].Payload)
}

func TestSubscribersFireOncePerFreshEvent(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	events := NewEventLog(db)
	ctx := context.Background()

	a := seedAsset(t, store, "/media/ingest/clip.mkv")

	var calls atomic.Int64
	events.Subscribe(func(ev Event) {
		calls.Add(1)
		assert.Equal(t, a.ID, ev.AssetID)
	})

	_, err := events.Emit(ctx, a.ID, EventRecorded, nil, "")
	require.NoError(t, err)
	_, err = events.Emit(ctx, a.ID, EventRecorded, nil, "")
	require.NoError(t, err)
	_, err = events.Emit(ctx, a.ID, EventProxyCompleted, nil, "proxy_1")
	require.NoError(t, err)

	assert.Equal(t, int64(2), calls.Load(), "duplicate emits must not reach subscribers")
}

func TestTimelineEmptyAsset(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	events := NewEventLog(db)

	a := seedAsset(t, store, "/media/ingest/clip.mkv")

	timeline, err := events.Timeline(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Empty(t, timeline)
}
