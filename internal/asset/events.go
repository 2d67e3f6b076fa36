package asset

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamops/internal/log"
	"github.com/ManuGH/streamops/internal/metrics"
)

// Subscriber receives every freshly inserted timeline event. Duplicate emits
// do not fire subscribers.
type Subscriber func(Event)

// EventLog is the append-only per-asset timeline. Event ids are derived from
// (asset, type, job), so workers can emit completion events without checking
// whether a retry already wrote them.
type EventLog struct {
	db     *sql.DB
	logger zerolog.Logger

	mu   sync.RWMutex
	subs []Subscriber
}

func NewEventLog(db *sql.DB) *EventLog {
	return &EventLog{
		db:     db,
		logger: log.WithComponent("asset.events"),
	}
}

// Subscribe registers fn for future events. Subscribers run synchronously on
// the emitting goroutine and must not block.
func (l *EventLog) Subscribe(fn Subscriber) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = append(l.subs, fn)
}

// Emit appends an event to the asset's timeline. Emitting an event that
// already exists is a no-op; the call reports success either way.
func (l *EventLog) Emit(ctx context.Context, assetID, eventType string, payload map[string]any, jobID string) (bool, error) {
	id := EventID(assetID, eventType, jobID)

	payloadJSON := "{}"
	if len(payload) > 0 {
		b, err := json.Marshal(payload)
		if err != nil {
			return false, fmt.Errorf("event %s: encode payload: %w", id, err)
		}
		payloadJSON = string(b)
	}

	now := time.Now().UTC()
	res, err := l.db.ExecContext(ctx, `
	INSERT OR IGNORE INTO so_asset_events (id, asset_id, event_type, payload, job_id, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		id, assetID, eventType, payloadJSON, strOrNil(jobID), now.Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("event %s: insert: %w", id, err)
	}

	inserted, _ := res.RowsAffected()
	if inserted == 0 {
		return true, nil
	}

	metrics.IncAssetEvent(eventType)
	l.logger.Debug().
		Str(log.FieldAssetID, assetID).
		Str(log.FieldEvent, eventType).
		Str(log.FieldJobID, jobID).
		Msg("event recorded")

	ev := Event{
		ID:        id,
		AssetID:   assetID,
		Type:      eventType,
		Payload:   payload,
		JobID:     jobID,
		CreatedAt: now,
	}
	l.mu.RLock()
	subs := l.subs
	l.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
	return true, nil
}

// Timeline returns an asset's events oldest first. Rows sharing a creation
// second keep insert order.
func (l *EventLog) Timeline(ctx context.Context, assetID string) ([]Event, error) {
	rows, err := l.db.QueryContext(ctx, `
	SELECT id, asset_id, event_type, payload, job_id, created_at
	FROM so_asset_events
	WHERE asset_id = ?
	ORDER BY created_at ASC, rowid ASC`, assetID)
	if err != nil {
		return nil, fmt.Errorf("timeline %s: %w", assetID, err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var (
			ev          Event
			payloadJSON string
			jobID       sql.NullString
			createdAt   string
		)
		if err := rows.Scan(&ev.ID, &ev.AssetID, &ev.Type, &payloadJSON, &jobID, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payloadJSON), &ev.Payload); err != nil {
			return nil, fmt.Errorf("event %s: decode payload: %w", ev.ID, err)
		}
		ev.JobID = jobID.String
		ev.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}
