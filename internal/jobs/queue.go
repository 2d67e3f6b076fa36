// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamops/internal/config"
	"github.com/ManuGH/streamops/internal/log"
	"github.com/ManuGH/streamops/internal/metrics"
	"github.com/ManuGH/streamops/internal/opserr"
)

// ProgressFunc reports handler progress in percent with an optional short
// message. Calls are rate limited before they reach storage, so handlers
// can report as often as their tool emits.
type ProgressFunc func(pct float64, message string)

// Handler executes one job type. The context is cancelled on user cancel,
// timeout and shutdown; handlers are expected to unwind promptly and
// return the context error.
type Handler interface {
	Execute(ctx context.Context, job *Job, progress ProgressFunc) (map[string]any, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *Job, progress ProgressFunc) (map[string]any, error)

func (f HandlerFunc) Execute(ctx context.Context, job *Job, progress ProgressFunc) (map[string]any, error) {
	return f(ctx, job, progress)
}

// Cancel causes let the worker tell a watchdog kill, a user cancel and a
// process shutdown apart when the handler context dies.
var (
	errTimedOut        = errors.New("job timed out")
	errCancelRequested = errors.New("job cancel requested")
)

// Queue is the front of the job system: handler registration, enqueueing
// with dedup, cancellation and completion waiting. A Dispatcher attached
// to the same Queue does the actual running.
type Queue struct {
	store    *Store
	settings *config.Settings
	logger   zerolog.Logger

	mu       sync.Mutex
	handlers map[string]Handler
	running  map[string]*runningJob
	waiters  map[string][]chan *Job
}

type runningJob struct {
	cancel   context.CancelCauseFunc
	deadline time.Time // zero when the job carries no timeout
}

func NewQueue(store *Store, settings *config.Settings) *Queue {
	return &Queue{
		store:    store,
		settings: settings,
		logger:   log.WithComponent("jobs"),
		handlers: make(map[string]Handler),
		running:  make(map[string]*runningJob),
		waiters:  make(map[string][]chan *Job),
	}
}

// Register wires a handler for a job type. Double registration is a
// programming error and rejected.
func (q *Queue) Register(jobType string, h Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.handlers[jobType]; ok {
		return opserr.Newf(opserr.KindConflict, "jobs.register", "handler for %q already registered", jobType)
	}
	q.handlers[jobType] = h
	return nil
}

// Types returns the registered job types, sorted.
func (q *Queue) Types() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.handlers))
	for t := range q.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (q *Queue) handler(jobType string) (Handler, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	h, ok := q.handlers[jobType]
	return h, ok
}

// EnqueueRequest describes work to queue. A nil MaxRetries falls back to
// the max_retries setting; TimeoutSec 0 means the job runs without a
// deadline.
type EnqueueRequest struct {
	Type       string
	AssetID    string
	Params     map[string]any
	Priority   Priority
	MaxRetries *int
	TimeoutSec int
}

// Enqueue queues work, deduplicating on the deterministic id: a live job
// with the same type, asset and params is returned as-is, a terminal one
// is restarted from scratch.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (*Job, error) {
	const op = "jobs.enqueue"
	if req.Type == "" {
		return nil, opserr.New(opserr.KindValidation, op, "job type is required")
	}
	if _, ok := q.handler(req.Type); !ok {
		return nil, opserr.Newf(opserr.KindValidation, op, "no handler for job type %q", req.Type)
	}
	prio, err := ParsePriority(string(req.Priority))
	if err != nil {
		return nil, err
	}

	id, err := NewID(req.Type, req.AssetID, req.Params)
	if err != nil {
		return nil, err
	}
	maxRetries := q.defaultMaxRetries(ctx)
	if req.MaxRetries != nil && *req.MaxRetries >= 0 {
		maxRetries = *req.MaxRetries
	}

	job := &Job{
		ID:         id,
		Type:       req.Type,
		AssetID:    req.AssetID,
		Params:     req.Params,
		Priority:   prio,
		MaxRetries: maxRetries,
		TimeoutSec: req.TimeoutSec,
	}
	stored, fresh, err := q.store.Enqueue(ctx, job)
	if err != nil {
		return nil, err
	}
	if !fresh {
		q.logger.Debug().
			Str(log.FieldJobID, stored.ID).
			Str(log.FieldNewState, string(stored.State)).
			Msg("job already live, coalesced")
		return stored, nil
	}

	metrics.IncJobEnqueued(req.Type, string(prio))
	q.logger.Info().
		Str(log.FieldJobID, stored.ID).
		Str(log.FieldJobType, req.Type).
		Str(log.FieldAssetID, req.AssetID).
		Str("priority", string(prio)).
		Msg("job enqueued")
	return stored, nil
}

func (q *Queue) defaultMaxRetries(ctx context.Context) int {
	n, err := q.settings.GetInt(ctx, "max_retries")
	if err != nil || n < 0 {
		return 3
	}
	return n
}

func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	return q.store.Get(ctx, id)
}

func (q *Queue) List(ctx context.Context, opts ListOptions) ([]Job, int, error) {
	return q.store.List(ctx, opts)
}

func (q *Queue) Stats(ctx context.Context) (map[State]int, error) {
	return q.store.CountByState(ctx)
}

// Cancel stops a job. Jobs still waiting flip to cancelled immediately;
// running jobs get their context cancelled and finalize through the
// worker, so the returned row may still read running for a moment.
func (q *Queue) Cancel(ctx context.Context, id string) (*Job, error) {
	const op = "jobs.cancel"
	j, err := q.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.State.Terminal() {
		return nil, opserr.Newf(opserr.KindConflict, op, "job %s is already %s", id, j.State)
	}

	changed, err := q.store.CancelPending(ctx, id)
	if err != nil {
		return nil, err
	}
	if changed {
		fresh, err := q.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		metrics.IncJobFinished(fresh.Type, "cancelled")
		q.logger.Info().Str(log.FieldJobID, id).Msg("queued job cancelled")
		q.notifyTerminal(fresh)
		return fresh, nil
	}

	if q.cancelRunning(id, errCancelRequested) {
		q.logger.Info().Str(log.FieldJobID, id).Msg("cancel requested, unwinding worker")
	}
	return q.store.Get(ctx, id)
}

// Wait blocks until the job reaches a terminal state or the context ends.
// The waiter registers before the state check, so a completion racing the
// call cannot be missed.
func (q *Queue) Wait(ctx context.Context, id string) (*Job, error) {
	ch := make(chan *Job, 1)
	q.addWaiter(id, ch)
	defer q.removeWaiter(id, ch)

	j, err := q.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.State.Terminal() {
		return j, nil
	}

	select {
	case <-ctx.Done():
		err := ctx.Err()
		return nil, opserr.Wrap(err, opserr.KindOf(err), "jobs.wait", "wait for "+id)
	case done := <-ch:
		return done, nil
	}
}

func (q *Queue) addWaiter(id string, ch chan *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.waiters[id] = append(q.waiters[id], ch)
}

func (q *Queue) removeWaiter(id string, ch chan *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	list := q.waiters[id]
	for i, c := range list {
		if c == ch {
			q.waiters[id] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(q.waiters[id]) == 0 {
		delete(q.waiters, id)
	}
}

// notifyTerminal wakes everyone waiting on the job. Waiter channels are
// buffered, the send never blocks.
func (q *Queue) notifyTerminal(j *Job) {
	q.mu.Lock()
	list := q.waiters[j.ID]
	delete(q.waiters, j.ID)
	q.mu.Unlock()

	for _, ch := range list {
		select {
		case ch <- j:
		default:
		}
	}
}

func (q *Queue) trackRunning(id string, cancel context.CancelCauseFunc, deadline time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.running[id] = &runningJob{cancel: cancel, deadline: deadline}
}

func (q *Queue) untrackRunning(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.running, id)
}

func (q *Queue) cancelRunning(id string, cause error) bool {
	q.mu.Lock()
	rj, ok := q.running[id]
	q.mu.Unlock()
	if ok {
		rj.cancel(cause)
	}
	return ok
}

// expireOverdue cancels running jobs past their deadline and returns how
// many it hit. The dispatcher calls this from its maintenance tick.
func (q *Queue) expireOverdue(now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, rj := range q.running {
		if !rj.deadline.IsZero() && now.After(rj.deadline) {
			rj.cancel(errTimedOut)
			n++
		}
	}
	return n
}
