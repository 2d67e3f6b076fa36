// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package rules

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamops/internal/config"
	"github.com/ManuGH/streamops/internal/guard"
	"github.com/ManuGH/streamops/internal/jobs"
	"github.com/ManuGH/streamops/internal/log"
	"github.com/ManuGH/streamops/internal/metrics"
	"github.com/ManuGH/streamops/internal/opserr"
)

// JobRunner is the slice of the job queue the executor needs.
type JobRunner interface {
	Enqueue(ctx context.Context, req jobs.EnqueueRequest) (*jobs.Job, error)
	Wait(ctx context.Context, id string) (*jobs.Job, error)
}

// GuardChecker gates each action on host pressure.
type GuardChecker interface {
	Check(ctx context.Context, o guard.Overrides) error
}

// EventSink records rule failures on the asset timeline.
type EventSink interface {
	Emit(ctx context.Context, assetID, eventType string, payload map[string]any, jobID string) (bool, error)
}

// Executor runs one rule's actions in order. Each action becomes a job;
// the executor waits for its terminal state and threads the primary
// output into the next action's templates as the new active artifact.
type Executor struct {
	jobs     JobRunner
	guard    GuardChecker
	events   EventSink
	settings *config.Settings
	logger   zerolog.Logger

	deferInterval time.Duration
}

func NewExecutor(runner JobRunner, g GuardChecker, events EventSink, settings *config.Settings) *Executor {
	return &Executor{
		jobs:          runner,
		guard:         g,
		events:        events,
		settings:      settings,
		logger:        log.WithComponent("rules"),
		deferInterval: time.Second,
	}
}

// ExecuteRule runs the rule against the event. An action failure stops
// this rule only; the caller keeps going with other rules.
func (x *Executor) ExecuteRule(ctx context.Context, r Rule, ev Event) error {
	const op = "rules.execute"
	metrics.IncRuleMatched(r.Name)
	logger := x.logger.With().
		Str(log.FieldRuleID, r.ID).
		Str("rule", r.Name).
		Str(log.FieldEvent, ev.Type).
		Logger()
	logger.Info().Str(log.FieldPath, ev.Path).Msg("rule matched")

	ctx, cancel := context.WithTimeout(ctx, x.ruleDeadline(ctx))
	defer cancel()
	ctx = log.ContextWithRuleID(ctx, r.ID)

	rctx := NewRuleContext(ev)
	assetID := ev.AssetID

	for i, action := range r.Actions {
		if err := x.awaitGuards(ctx, r); err != nil {
			x.reportFailure(assetID, action.Type, i, err.Error(), "")
			logger.Warn().Err(err).Str(log.FieldAction, action.Type).Msg("rule abandoned, guard never cleared")
			return err
		}

		params := expandParams(action.Params, rctx)
		params["input"] = rctx.Active.Path

		j, err := x.jobs.Enqueue(ctx, jobs.EnqueueRequest{
			Type:     action.Type,
			AssetID:  assetID,
			Params:   params,
			Priority: jobPriority(r.Priority),
		})
		if err != nil {
			x.reportFailure(assetID, action.Type, i, err.Error(), "")
			return err
		}

		done, err := x.jobs.Wait(ctx, j.ID)
		if err != nil {
			x.reportFailure(assetID, action.Type, i, err.Error(), j.ID)
			return err
		}

		switch done.State {
		case jobs.StateCompleted:
			metrics.IncAction(action.Type, "completed")
		case jobs.StateCancelled:
			metrics.IncAction(action.Type, "cancelled")
			x.reportFailure(assetID, action.Type, i, "cancelled", done.ID)
			return opserr.Newf(opserr.KindCancelled, op, "action %s cancelled", action.Type)
		default:
			metrics.IncAction(action.Type, "failed")
			x.reportFailure(assetID, action.Type, i, done.Error, done.ID)
			return opserr.Newf(opserr.KindInternal, op, "action %s failed: %s", action.Type, done.Error)
		}

		// The first index of a fresh file tells us which asset this is.
		if id, ok := done.Result["asset_id"].(string); ok && id != "" && assetID == "" {
			assetID = id
			rctx.Vars["asset_id"] = id
		}
		if out, ok := done.Result["primary_output_path"].(string); ok && out != "" {
			rctx.UpdateActive(NewArtifact(out))
			logger.Debug().Str(log.FieldAction, action.Type).Str(log.FieldPath, out).Msg("active artifact advanced")
		}
	}

	logger.Info().Int("actions", len(r.Actions)).Msg("rule completed")
	return nil
}

// awaitGuards blocks until every guard clears, re-checking on a fixed
// interval. When the rule deadline fires first, the last guard error
// comes back as the reason.
func (x *Executor) awaitGuards(ctx context.Context, r Rule) error {
	t := time.NewTicker(x.deferInterval)
	defer t.Stop()
	for {
		err := x.guard.Check(ctx, r.Guardrails)
		if err == nil {
			return nil
		}
		if opserr.KindOf(err) != opserr.KindGuarded {
			return err
		}
		select {
		case <-ctx.Done():
			return opserr.Wrap(err, opserr.KindGuarded, "rules.guard", "deadline expired while deferred")
		case <-t.C:
		}
	}
}

// reportFailure records the abort on the asset timeline. Failures before
// the first index have no asset row yet and only reach the log.
func (x *Executor) reportFailure(assetID, action string, stage int, message, jobID string) {
	if assetID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := x.events.Emit(ctx, assetID, "error", map[string]any{
		"action":  action,
		"message": message,
		"stage":   stage,
	}, jobID); err != nil {
		x.logger.Error().Err(err).Str(log.FieldAssetID, assetID).Msg("could not record failure event")
	}
}

func (x *Executor) ruleDeadline(ctx context.Context) time.Duration {
	if d, err := x.settings.GetDuration(ctx, "rule_deadline_sec"); err == nil && d > 0 {
		return d
	}
	return 10 * time.Minute
}

// expandParams resolves template tokens in every top-level string value.
func expandParams(in map[string]any, rctx *RuleContext) map[string]any {
	out := make(map[string]any, len(in)+1)
	for k, v := range in {
		if s, ok := v.(string); ok {
			out[k] = Expand(s, rctx)
			continue
		}
		out[k] = v
	}
	return out
}

// jobPriority maps the rule's numeric priority onto a queue class, so a
// high-priority rule's jobs also jump the queue.
func jobPriority(rulePriority int) jobs.Priority {
	switch {
	case rulePriority >= 100:
		return jobs.PriorityCritical
	case rulePriority >= 50:
		return jobs.PriorityHigh
	case rulePriority < 0:
		return jobs.PriorityLow
	default:
		return jobs.PriorityNormal
	}
}
