// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package actions

import (
	"context"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamops/internal/asset"
	"github.com/ManuGH/streamops/internal/fsutil"
	"github.com/ManuGH/streamops/internal/jobs"
	"github.com/ManuGH/streamops/internal/log"
	"github.com/ManuGH/streamops/internal/media"
	"github.com/ManuGH/streamops/internal/opserr"
)

// Remux rewraps a file into another container without re-encoding. The
// output lands next to the input with the new suffix; the encode goes to
// staging first so the final path appears in one rename.
type Remux struct {
	d      Deps
	logger zerolog.Logger
}

func NewRemux(d Deps) *Remux {
	return &Remux{d: d, logger: log.WithComponent("actions.remux")}
}

func (a *Remux) Execute(ctx context.Context, job *jobs.Job, progress jobs.ProgressFunc) (map[string]any, error) {
	const op = "actions.remux"

	input, err := inputPath(op, job.Params)
	if err != nil {
		return nil, err
	}
	container := strings.TrimPrefix(strParam(job.Params, "container", a.defaultContainer(ctx)), ".")
	output := siblingPath(input, stem(input)+"."+container)

	// A re-run after the original was already consumed is a success, not
	// a missing-input failure.
	if _, statErr := os.Stat(input); os.IsNotExist(statErr) {
		if _, outErr := os.Stat(output); outErr == nil {
			return a.finish(ctx, job, input, output, container, false)
		}
		return nil, opserr.Newf(opserr.KindNotFound, op, "input %s does not exist", input)
	}

	probe, err := a.d.Probe.Probe(ctx, input)
	if err != nil {
		return nil, err
	}

	staged := a.d.Staging.Path(job.ID, "remux."+container)
	defer func() { _ = a.d.Staging.Cleanup(job.ID) }()

	args := []string{"-y", "-i", input, "-map", "0", "-c", "copy"}
	if boolParam(job.Params, "faststart", true) && (container == "mp4" || container == "mov") {
		args = append(args, "-movflags", "+faststart")
	}
	args = append(args, staged)

	parser := media.TimeParser{TotalSec: probe.DurationSec}
	onProgress := func(pct float64) { progress(pct, "remuxing") }
	if _, err := a.d.FFmpeg.Run(ctx, args, parser, onProgress); err != nil {
		return nil, err
	}

	if err := fsutil.SafeMove(staged, output); err != nil {
		return nil, opserr.Wrap(err, opserr.KindIO, op, "place output at "+output)
	}

	removeOriginal := boolParam(job.Params, "remove_original", false) && input != output
	return a.finish(ctx, job, input, output, container, removeOriginal)
}

func (a *Remux) finish(ctx context.Context, job *jobs.Job, input, output, container string, removeOriginal bool) (map[string]any, error) {
	const op = "actions.remux"

	if removeOriginal {
		if err := os.Remove(input); err != nil && !os.IsNotExist(err) {
			return nil, opserr.Wrap(err, opserr.KindIO, op, "remove original "+input)
		}
	}

	if job.AssetID != "" {
		if err := a.d.Assets.SetCurrentPath(ctx, job.AssetID, output); err != nil {
			return nil, err
		}
		payload := map[string]any{"path": output, "container": container}
		if _, err := a.d.Events.Emit(ctx, job.AssetID, asset.EventRemuxCompleted, payload, job.ID); err != nil {
			return nil, err
		}
	}

	a.logger.Info().
		Str(log.FieldJobID, job.ID).
		Str(log.FieldSourcePath, input).
		Str(log.FieldTargetPath, output).
		Str(log.FieldContainer, container).
		Msg("remux done")

	return map[string]any{
		"primary_output_path": output,
		"outputs":             map[string]any{"remux": output},
		"container":           container,
	}, nil
}

func (a *Remux) defaultContainer(ctx context.Context) string {
	if v, err := a.d.Settings.Get(ctx, "default_remux_container"); err == nil && v != "" {
		return v
	}
	return "mov"
}
