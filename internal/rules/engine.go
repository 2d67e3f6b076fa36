// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package rules

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/ManuGH/streamops/internal/log"
)

// Engine holds the active rule list and fans events out to the executor.
// Rules for one event run sequentially in priority order; distinct events
// run concurrently up to the pool size.
type Engine struct {
	store    *Store
	executor *Executor
	logger   zerolog.Logger

	rules atomic.Pointer[[]Rule]
	sem   *semaphore.Weighted
	wg    sync.WaitGroup
}

func NewEngine(store *Store, executor *Executor, parallel int) *Engine {
	if parallel < 1 {
		parallel = 1
	}
	e := &Engine{
		store:    store,
		executor: executor,
		logger:   log.WithComponent("rules"),
		sem:      semaphore.NewWeighted(int64(parallel)),
	}
	empty := []Rule{}
	e.rules.Store(&empty)
	return e
}

// Reload swaps in the current enabled rule set in one step. Executions
// already in flight keep the list they started with.
func (e *Engine) Reload(ctx context.Context) error {
	list, err := e.store.LoadEnabled(ctx)
	if err != nil {
		return err
	}
	e.rules.Store(&list)
	e.logger.Info().Int("rules", len(list)).Msg("rule set loaded")
	return nil
}

// Rules returns the active list. Callers must not mutate it.
func (e *Engine) Rules() []Rule {
	return *e.rules.Load()
}

// HandleEvent runs every matching rule sequentially and returns when all
// finished. A rule failure is contained to that rule; only context
// cancellation aborts the sweep.
func (e *Engine) HandleEvent(ctx context.Context, ev Event) error {
	for _, r := range e.Rules() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !r.Matches(ev) {
			continue
		}
		if err := e.executor.ExecuteRule(ctx, r, ev); err != nil {
			e.logger.Warn().Err(err).
				Str("rule", r.Name).
				Str(log.FieldEvent, ev.Type).
				Msg("rule execution stopped")
		}
	}
	return nil
}

// Submit queues the event for asynchronous handling. The call never
// blocks: execution waits for a pool slot in its own goroutine, so an
// event emitted from inside a running action cannot deadlock the pool.
func (e *Engine) Submit(ctx context.Context, ev Event) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer e.sem.Release(1)
		if err := e.HandleEvent(ctx, ev); err != nil && ctx.Err() == nil {
			e.logger.Error().Err(err).Str(log.FieldEvent, ev.Type).Msg("event handling failed")
		}
	}()
}

// Drain waits for every submitted event to finish or abort.
func (e *Engine) Drain() {
	e.wg.Wait()
}
