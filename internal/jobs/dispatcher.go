// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamops/internal/log"
	"github.com/ManuGH/streamops/internal/metrics"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultTickInterval = time.Second
	progressMinInterval = 500 * time.Millisecond
)

// Dispatcher pulls queued jobs from the store and runs them on a bounded
// worker pool. A maintenance ticker requeues elapsed retries, enforces job
// timeouts and refreshes the queue gauges.
type Dispatcher struct {
	queue        *Queue
	workers      int
	pollInterval time.Duration
	tickInterval time.Duration
	logger       zerolog.Logger
}

func NewDispatcher(queue *Queue, workers int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		queue:        queue,
		workers:      workers,
		pollInterval: defaultPollInterval,
		tickInterval: defaultTickInterval,
		logger:       log.WithComponent("dispatch"),
	}
}

// Run blocks until the context ends. Jobs left running by a previous
// process are requeued first; on shutdown, in-flight handlers are
// cancelled through their context and their rows stay running so the next
// boot picks them up again.
func (d *Dispatcher) Run(ctx context.Context) error {
	n, err := d.queue.store.ResetRunning(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		d.logger.Info().Int("requeued", n).Msg("recovered jobs left running by previous process")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.maintain(ctx)
	}()

	sem := make(chan struct{}, d.workers)
	for ctx.Err() == nil {
		if d.paused(ctx) {
			d.sleep(ctx, d.pollInterval)
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			continue
		}

		j, err := d.queue.store.ClaimNext(ctx)
		if err != nil {
			<-sem
			if ctx.Err() == nil {
				d.logger.Error().Err(err).Msg("claim failed")
				d.sleep(ctx, d.pollInterval)
			}
			continue
		}
		if j == nil {
			<-sem
			d.sleep(ctx, d.pollInterval)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			d.runJob(ctx, j)
		}()
	}

	wg.Wait()
	return ctx.Err()
}

func (d *Dispatcher) runJob(parent context.Context, j *Job) {
	start := time.Now()
	logger := d.logger.With().
		Str(log.FieldJobID, j.ID).
		Str(log.FieldJobType, j.Type).
		Logger()
	logger.Info().Int("attempt", j.RetryCount+1).Msg("job started")

	h, ok := d.queue.handler(j.Type)
	if !ok {
		d.finishFailure(parent, j, "no handler registered", start, &logger)
		return
	}

	jobCtx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	var deadline time.Time
	if j.TimeoutSec > 0 {
		deadline = time.Now().Add(time.Duration(j.TimeoutSec) * time.Second)
	}
	d.queue.trackRunning(j.ID, cancel, deadline)
	defer d.queue.untrackRunning(j.ID)

	sink := newProgressSink(d.queue.store, j.ID)
	result, err := h.Execute(log.ContextWithJobID(jobCtx, j.ID), j, sink.report)
	if err == nil {
		d.finishSuccess(parent, j, result, start, &logger)
		return
	}

	cause := context.Cause(jobCtx)
	switch {
	case errors.Is(cause, errTimedOut):
		logger.Warn().Dur("elapsed", time.Since(start)).Msg("job hit its deadline")
		d.finishFailure(parent, j, "timeout", start, &logger)
	case errors.Is(cause, errCancelRequested):
		d.finishCancelled(parent, j, start, &logger)
	case jobCtx.Err() != nil && parent.Err() != nil:
		// Shutdown. The row stays running so boot recovery requeues it.
		logger.Info().Msg("job interrupted by shutdown, left for recovery")
	default:
		d.finishFailure(parent, j, err.Error(), start, &logger)
	}
}

// Finalization writes survive a shutdown that races the handler's return:
// a completed job must never be re-run because the process was quitting.
func (d *Dispatcher) finishSuccess(parent context.Context, j *Job, result map[string]any, start time.Time, logger *zerolog.Logger) {
	ctx := context.WithoutCancel(parent)
	done, err := d.queue.store.MarkCompleted(ctx, j.ID, result)
	if err != nil {
		logger.Warn().Err(err).Msg("could not record completion")
		return
	}
	metrics.IncJobFinished(j.Type, "completed")
	metrics.ObserveJobDuration(j.Type, time.Since(start).Seconds())
	logger.Info().Dur("elapsed", time.Since(start)).Msg("job completed")
	d.queue.notifyTerminal(done)
}

func (d *Dispatcher) finishFailure(parent context.Context, j *Job, message string, start time.Time, logger *zerolog.Logger) {
	ctx := context.WithoutCancel(parent)
	done, retrying, err := d.queue.store.MarkFailed(ctx, j.ID, message)
	if err != nil {
		logger.Warn().Err(err).Msg("could not record failure")
		return
	}
	metrics.ObserveJobDuration(j.Type, time.Since(start).Seconds())
	if retrying {
		metrics.IncJobRetried(j.Type)
		logger.Warn().
			Str("error", message).
			Int("retry", done.RetryCount).
			Time("retry_at", done.RetryAt).
			Msg("job failed, retry scheduled")
		return
	}
	metrics.IncJobFinished(j.Type, "failed")
	logger.Error().Str("error", message).Msg("job failed")
	d.queue.notifyTerminal(done)
}

func (d *Dispatcher) finishCancelled(parent context.Context, j *Job, start time.Time, logger *zerolog.Logger) {
	ctx := context.WithoutCancel(parent)
	done, err := d.queue.store.MarkCancelledRunning(ctx, j.ID)
	if err != nil {
		logger.Warn().Err(err).Msg("could not record cancellation")
		return
	}
	metrics.IncJobFinished(j.Type, "cancelled")
	metrics.ObserveJobDuration(j.Type, time.Since(start).Seconds())
	logger.Info().Dur("elapsed", time.Since(start)).Msg("job cancelled")
	d.queue.notifyTerminal(done)
}

func (d *Dispatcher) maintain(ctx context.Context) {
	t := time.NewTicker(d.tickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := d.queue.expireOverdue(now); n > 0 {
				d.logger.Warn().Int("jobs", n).Msg("watchdog cancelled overdue jobs")
			}
			if n, err := d.queue.store.RequeueDue(ctx, now); err != nil {
				if ctx.Err() == nil {
					d.logger.Error().Err(err).Msg("requeue failed")
				}
			} else if n > 0 {
				d.logger.Info().Int("jobs", n).Msg("retry backoff elapsed, requeued")
			}
			d.updateGauges(ctx)
		}
	}
}

func (d *Dispatcher) updateGauges(ctx context.Context) {
	counts, err := d.queue.store.CountByState(ctx)
	if err != nil {
		return
	}
	metrics.SetJobsQueued(counts[StateQueued] + counts[StateRetrying])
	metrics.SetJobsRunning(counts[StateRunning])
}

func (d *Dispatcher) paused(ctx context.Context) bool {
	v, err := d.queue.settings.GetBool(ctx, "queue_paused")
	return err == nil && v
}

func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// progressSink rate limits handler progress writes. ffmpeg emits stats
// several times per second; one write per half second per job is plenty.
// A report of 100 always goes through so the final value is never lost.
type progressSink struct {
	store *Store
	jobID string

	mu   sync.Mutex
	last time.Time
}

func newProgressSink(store *Store, jobID string) *progressSink {
	return &progressSink{store: store, jobID: jobID}
}

func (p *progressSink) report(pct float64, message string) {
	p.mu.Lock()
	now := time.Now()
	if pct < 100 && now.Sub(p.last) < progressMinInterval {
		p.mu.Unlock()
		return
	}
	p.last = now
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = p.store.SetProgress(ctx, p.jobID, pct, message)
}
