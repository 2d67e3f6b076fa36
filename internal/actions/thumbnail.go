// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package actions

import (
	"context"
	"fmt"
	"math"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamops/internal/asset"
	"github.com/ManuGH/streamops/internal/fsutil"
	"github.com/ManuGH/streamops/internal/jobs"
	"github.com/ManuGH/streamops/internal/log"
	"github.com/ManuGH/streamops/internal/opserr"
)

const (
	defaultSpriteCount   = 9
	defaultHoverDuration = 3.0
)

// Thumbnail renders the asset's preview set: a poster frame, a tiled
// sprite sheet and a short silent hover clip, all under the thumbs
// directory keyed by asset id. Progress is stepped per artifact.
type Thumbnail struct {
	d      Deps
	logger zerolog.Logger
}

func NewThumbnail(d Deps) *Thumbnail {
	return &Thumbnail{d: d, logger: log.WithComponent("actions.thumbnail")}
}

func (a *Thumbnail) Execute(ctx context.Context, job *jobs.Job, progress jobs.ProgressFunc) (map[string]any, error) {
	const op = "actions.thumbnail"

	if job.AssetID == "" {
		return nil, opserr.New(opserr.KindValidation, op, "thumbnails need an indexed asset")
	}
	input, err := inputPath(op, job.Params)
	if err != nil {
		return nil, err
	}

	probe, err := a.d.Probe.Probe(ctx, input)
	if err != nil {
		return nil, err
	}
	if !probe.HasVideo {
		return nil, opserr.Newf(opserr.KindValidation, op, "%s has no video stream", input)
	}
	progress(10, "probed")

	dir := filepath.Join(a.d.ThumbsDir, job.AssetID)
	if err := fsutil.EnsureDir(dir); err != nil {
		return nil, opserr.Wrap(err, opserr.KindIO, op, "create thumbs directory")
	}
	poster := filepath.Join(dir, "poster.jpg")
	sprite := filepath.Join(dir, "sprite.jpg")
	hover := filepath.Join(dir, "hover.mp4")

	posterTime := floatParam(job.Params, "poster_time", probe.DurationSec/4)
	posterTime = clampTime(posterTime, probe.DurationSec)
	if _, err := a.d.FFmpeg.Run(ctx, posterArgs(input, poster, posterTime), nil, nil); err != nil {
		return nil, err
	}
	progress(40, "poster")

	n := intParam(job.Params, "sprite_count", defaultSpriteCount)
	if n < 1 {
		n = 1
	}
	if _, err := a.d.FFmpeg.Run(ctx, spriteArgs(input, sprite, n, probe.DurationSec), nil, nil); err != nil {
		return nil, err
	}
	progress(70, "sprite")

	hoverDur := floatParam(job.Params, "hover_duration", defaultHoverDuration)
	if _, err := a.d.FFmpeg.Run(ctx, hoverArgs(input, hover, hoverDur, probe.DurationSec), nil, nil); err != nil {
		return nil, err
	}
	progress(100, "hover")

	payload := map[string]any{"poster": poster, "sprite": sprite, "hover": hover}
	if _, err := a.d.Events.Emit(ctx, job.AssetID, asset.EventThumbnailCompleted, payload, job.ID); err != nil {
		return nil, err
	}

	a.logger.Info().
		Str(log.FieldJobID, job.ID).
		Str(log.FieldAssetID, job.AssetID).
		Str(log.FieldPath, dir).
		Msg("thumbnails done")

	return map[string]any{"outputs": payload}, nil
}

func posterArgs(input, output string, at float64) []string {
	return []string{
		"-y",
		"-ss", fmtSeconds(at),
		"-i", input,
		"-frames:v", "1",
		"-q:v", "2",
		output,
	}
}

// spriteArgs tiles n frames sampled at equal intervals into a mosaic with
// ceil(sqrt(n)) columns.
func spriteArgs(input, output string, n int, durationSec float64) []string {
	cols := int(math.Ceil(math.Sqrt(float64(n))))
	rows := (n + cols - 1) / cols
	interval := durationSec / float64(n)
	if interval <= 0 {
		interval = 1
	}
	filter := fmt.Sprintf("fps=1/%s,scale=320:-2,tile=%dx%d", fmtSeconds(interval), cols, rows)
	return []string{
		"-y",
		"-i", input,
		"-vf", filter,
		"-frames:v", "1",
		"-q:v", "3",
		output,
	}
}

// hoverArgs cuts a short silent H.264 clip centered on the midpoint.
func hoverArgs(input, output string, hoverSec, durationSec float64) []string {
	if hoverSec <= 0 {
		hoverSec = defaultHoverDuration
	}
	if hoverSec > durationSec {
		hoverSec = durationSec
	}
	start := durationSec/2 - hoverSec/2
	if start < 0 {
		start = 0
	}
	return []string{
		"-y",
		"-ss", fmtSeconds(start),
		"-t", fmtSeconds(hoverSec),
		"-i", input,
		"-an",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "28",
		"-vf", "scale=480:-2",
		"-movflags", "+faststart",
		output,
	}
}

func clampTime(t, total float64) float64 {
	if t < 0 {
		return 0
	}
	if total > 0 && t > total {
		return total
	}
	return t
}
