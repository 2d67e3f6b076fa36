// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package jobs

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/ManuGH/streamops/internal/normalize"
	"github.com/ManuGH/streamops/internal/opserr"
)

// State of a job. The machine is
//
//	queued → running → completed | failed | cancelled
//	running → retrying → queued    (failure with retry budget left)
//
// completed, cancelled and failed are terminal and absorb every further
// transition. A failure only lands in failed once the retry budget is
// spent; before that the job parks in retrying until its retry_at is due.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateRetrying  State = "retrying"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state accepts no further transitions.
// Re-enqueueing identical work resurrects a terminal row as a fresh run.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Priority orders dispatch. Within one class jobs leave the queue oldest
// first.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// ParsePriority validates a priority string. The empty string maps to
// normal so callers can leave it unset.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(s); p {
	case PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow:
		return p, nil
	case "":
		return PriorityNormal, nil
	default:
		return "", opserr.Newf(opserr.KindValidation, "jobs.priority", "unknown priority %q", s)
	}
}

// Job is one unit of pipeline work. The id is deterministic over type,
// asset and parameters, so emitting the same work twice coalesces onto
// the same row instead of queueing a duplicate.
type Job struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	AssetID     string         `json:"asset_id,omitempty"`
	Params      map[string]any `json:"params"`
	State       State          `json:"state"`
	Priority    Priority       `json:"priority"`
	Progress    float64        `json:"progress"`
	Message     string         `json:"message,omitempty"`
	RetryCount  int            `json:"retry_count"`
	MaxRetries  int            `json:"max_retries"`
	TimeoutSec  int            `json:"timeout_sec,omitempty"`
	RetryAt     time.Time      `json:"retry_at"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// NewID derives the deterministic job id from the type, the asset and the
// canonical parameter encoding. The first 16 hex digits of the digest keep
// ids short enough for logs while leaving collisions out of reach.
func NewID(jobType, assetID string, params map[string]any) (string, error) {
	canonical, err := normalize.MapHash(params)
	if err != nil {
		return "", opserr.Wrap(err, opserr.KindValidation, "jobs.id", "encode params")
	}
	sum := sha256.Sum256([]byte(jobType + "|" + assetID + "|" + canonical))
	return jobType + "_" + hex.EncodeToString(sum[:8]), nil
}

// Backoff returns the delay before retry n (zero-based): 5s doubling per
// attempt, capped at ten minutes.
func Backoff(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	if n > 7 {
		n = 7
	}
	d := 5 * time.Second << n
	if d > 10*time.Minute {
		d = 10 * time.Minute
	}
	return d
}
