// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package actions

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamops/internal/asset"
	"github.com/ManuGH/streamops/internal/config"
	"github.com/ManuGH/streamops/internal/fsutil"
	"github.com/ManuGH/streamops/internal/jobs"
	"github.com/ManuGH/streamops/internal/log"
	"github.com/ManuGH/streamops/internal/opserr"
)

// resolveTarget turns the target parameter into a concrete destination.
// A trailing separator or a suffix-less target is a directory and gets the
// input's file name appended. Templates were already expanded by the rule
// executor; what arrives here is a literal path.
func resolveTarget(target, input string) string {
	if strings.HasSuffix(target, string(filepath.Separator)) || filepath.Ext(target) == "" {
		return filepath.Join(target, filepath.Base(input))
	}
	return target
}

// bwLimit reads the copy throughput cap in bytes per second. Zero means
// unthrottled; a missing or malformed setting falls back to that.
func bwLimit(ctx context.Context, s *config.Settings) int64 {
	mbps, err := s.GetInt(ctx, "copy_bwlimit_mbps")
	if err != nil || mbps <= 0 {
		return 0
	}
	return int64(mbps) * 1024 * 1024
}

// Move relocates the active file. Rename first; a cross-device rename
// degrades to copy-then-remove inside fsutil.SafeMove.
type Move struct {
	d      Deps
	logger zerolog.Logger
}

func NewMove(d Deps) *Move {
	return &Move{d: d, logger: log.WithComponent("actions.move")}
}

func (a *Move) Execute(ctx context.Context, job *jobs.Job, _ jobs.ProgressFunc) (map[string]any, error) {
	const op = "actions.move"

	input, err := inputPath(op, job.Params)
	if err != nil {
		return nil, err
	}
	target := strParam(job.Params, "target", "")
	if target == "" {
		return nil, opserr.New(opserr.KindValidation, op, "missing target path")
	}
	dest := resolveTarget(target, input)

	if _, statErr := os.Stat(input); os.IsNotExist(statErr) {
		// Re-run after the move already happened.
		if _, destErr := os.Stat(dest); destErr == nil {
			return a.finish(ctx, job, input, dest)
		}
		return nil, opserr.Newf(opserr.KindNotFound, op, "input %s does not exist", input)
	}

	if err := fsutil.EnsureDir(filepath.Dir(dest)); err != nil {
		return nil, opserr.Wrap(err, opserr.KindIO, op, "create target directory")
	}
	if err := fsutil.SafeMoveThrottled(ctx, input, dest, bwLimit(ctx, a.d.Settings)); err != nil {
		return nil, opserr.Wrap(err, opserr.KindIO, op, "move to "+dest)
	}
	return a.finish(ctx, job, input, dest)
}

func (a *Move) finish(ctx context.Context, job *jobs.Job, input, dest string) (map[string]any, error) {
	if job.AssetID != "" {
		if err := a.d.Assets.SetCurrentPath(ctx, job.AssetID, dest); err != nil {
			return nil, err
		}
		payload := map[string]any{"path": dest, "from": input}
		if _, err := a.d.Events.Emit(ctx, job.AssetID, asset.EventMoveCompleted, payload, job.ID); err != nil {
			return nil, err
		}
	}

	a.logger.Info().
		Str(log.FieldJobID, job.ID).
		Str(log.FieldSourcePath, input).
		Str(log.FieldTargetPath, dest).
		Msg("move done")

	return map[string]any{
		"primary_output_path": dest,
		"outputs":             map[string]any{"move": dest},
	}, nil
}

// Copy duplicates the active file. Unlike Move it leaves the original and
// the active artifact alone: the copy is a side output only.
type Copy struct {
	d      Deps
	logger zerolog.Logger
}

func NewCopy(d Deps) *Copy {
	return &Copy{d: d, logger: log.WithComponent("actions.copy")}
}

func (a *Copy) Execute(ctx context.Context, job *jobs.Job, _ jobs.ProgressFunc) (map[string]any, error) {
	const op = "actions.copy"

	input, err := inputPath(op, job.Params)
	if err != nil {
		return nil, err
	}
	target := strParam(job.Params, "target", "")
	if target == "" {
		return nil, opserr.New(opserr.KindValidation, op, "missing target path")
	}
	dest := resolveTarget(target, input)

	if err := fsutil.EnsureDir(filepath.Dir(dest)); err != nil {
		return nil, opserr.Wrap(err, opserr.KindIO, op, "create target directory")
	}
	if err := fsutil.CopyFileThrottled(ctx, input, dest, bwLimit(ctx, a.d.Settings)); err != nil {
		return nil, opserr.Wrap(err, opserr.KindIO, op, "copy to "+dest)
	}

	if job.AssetID != "" {
		payload := map[string]any{"path": dest, "from": input}
		if _, err := a.d.Events.Emit(ctx, job.AssetID, asset.EventCopyCompleted, payload, job.ID); err != nil {
			return nil, err
		}
	}

	a.logger.Info().
		Str(log.FieldJobID, job.ID).
		Str(log.FieldSourcePath, input).
		Str(log.FieldTargetPath, dest).
		Msg("copy done")

	return map[string]any{
		"outputs": map[string]any{"copy": dest},
	}, nil
}
