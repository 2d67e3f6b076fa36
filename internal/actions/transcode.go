// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamops/internal/asset"
	"github.com/ManuGH/streamops/internal/fsutil"
	"github.com/ManuGH/streamops/internal/jobs"
	"github.com/ManuGH/streamops/internal/log"
	"github.com/ManuGH/streamops/internal/media"
	"github.com/ManuGH/streamops/internal/opserr"
)

// Transcode re-encodes the input with a named preset from the embedded
// table, or an inline custom_preset. The GPU path swaps the software
// encoder for its NVENC counterpart when the host can actually use it.
type Transcode struct {
	d      Deps
	logger zerolog.Logger
}

func NewTranscode(d Deps) *Transcode {
	return &Transcode{d: d, logger: log.WithComponent("actions.transcode")}
}

func (a *Transcode) Execute(ctx context.Context, job *jobs.Job, progress jobs.ProgressFunc) (map[string]any, error) {
	const op = "actions.transcode"

	input, err := inputPath(op, job.Params)
	if err != nil {
		return nil, err
	}
	presetName, preset, err := resolvePreset(job.Params)
	if err != nil {
		return nil, err
	}

	probe, err := a.d.Probe.Probe(ctx, input)
	if err != nil {
		return nil, err
	}

	start := floatParam(job.Params, "start_time", 0)
	end := floatParam(job.Params, "end_time", 0)
	if end > 0 && end <= start {
		return nil, opserr.Newf(opserr.KindValidation, op, "end_time %.1f not after start_time %.1f", end, start)
	}
	totalSec := probe.DurationSec - start
	if end > 0 {
		totalSec = end - start
	}

	output := siblingPath(input, stem(input)+"_"+presetName+"."+preset.Container)
	staged := a.d.Staging.Path(job.ID, "transcode."+preset.Container)
	defer func() { _ = a.d.Staging.Cleanup(job.ID) }()

	args := a.buildArgs(input, staged, preset, start, end, boolParam(job.Params, "use_gpu", false))

	parser := media.TimeParser{TotalSec: totalSec}
	onProgress := func(pct float64) { progress(pct, "transcoding") }
	if _, err := a.d.FFmpeg.Run(ctx, args, parser, onProgress); err != nil {
		return nil, err
	}

	if err := fsutil.SafeMove(staged, output); err != nil {
		return nil, opserr.Wrap(err, opserr.KindIO, op, "place output at "+output)
	}

	if job.AssetID != "" {
		payload := map[string]any{"path": output, "preset": presetName}
		if _, err := a.d.Events.Emit(ctx, job.AssetID, asset.EventTranscodeCompleted, payload, job.ID); err != nil {
			return nil, err
		}
	}

	a.logger.Info().
		Str(log.FieldJobID, job.ID).
		Str(log.FieldTargetPath, output).
		Str("preset", presetName).
		Msg("transcode done")

	return map[string]any{
		"outputs": map[string]any{"transcode": output},
		"preset":  presetName,
	}, nil
}

func (a *Transcode) buildArgs(input, output string, p media.TranscodePreset, start, end float64, useGPU bool) []string {
	args := []string{"-y"}
	if start > 0 {
		args = append(args, "-ss", fmtSeconds(start))
	}
	args = append(args, "-i", input)
	if end > 0 {
		args = append(args, "-t", fmtSeconds(end-start))
	}
	args = append(args, "-map", "0:v:0", "-map", "0:a?")

	if p.ScaleHeight > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=-2:%d", p.ScaleHeight))
	}

	videoCodec := p.VideoCodec
	gpu := false
	if useGPU && a.d.GPU != nil && a.d.GPU.Caps().Usable() {
		if enc, ok := media.GPUEncoder(p.VideoCodec); ok {
			videoCodec = enc
			gpu = true
		}
	}
	args = append(args, "-c:v", videoCodec)
	if gpu {
		// NVENC ignores -crf; -cq is its constant-quality knob.
		args = append(args, "-preset", "p5")
		if p.CRF > 0 {
			args = append(args, "-cq", strconv.Itoa(p.CRF))
		}
	} else {
		if p.Preset != "" {
			args = append(args, "-preset", p.Preset)
		}
		if p.CRF > 0 {
			args = append(args, "-crf", strconv.Itoa(p.CRF))
		}
	}
	if p.VideoBitrate != "" {
		args = append(args, "-b:v", p.VideoBitrate)
	}
	if p.PixFmt != "" {
		args = append(args, "-pix_fmt", p.PixFmt)
	}

	args = append(args, "-c:a", p.AudioCodec)
	if p.AudioBitrate != "" {
		args = append(args, "-b:a", p.AudioBitrate)
	}
	if p.Container == "mp4" || p.Container == "mov" {
		args = append(args, "-movflags", "+faststart")
	}
	return append(args, output)
}

// resolvePreset picks the named preset or decodes an inline custom one.
func resolvePreset(params map[string]any) (string, media.TranscodePreset, error) {
	const op = "actions.transcode"

	if custom, ok := params["custom_preset"].(map[string]any); ok {
		raw, err := json.Marshal(custom)
		if err != nil {
			return "", media.TranscodePreset{}, opserr.Wrap(err, opserr.KindValidation, op, "encode custom_preset")
		}
		var p media.TranscodePreset
		if err := json.Unmarshal(raw, &p); err != nil {
			return "", media.TranscodePreset{}, opserr.Wrap(err, opserr.KindValidation, op, "decode custom_preset")
		}
		if p.VideoCodec == "" || p.AudioCodec == "" || p.Container == "" {
			return "", media.TranscodePreset{}, opserr.New(opserr.KindValidation, op, "custom_preset needs video_codec, audio_codec and container")
		}
		return "custom", p, nil
	}

	name := strParam(params, "preset", "")
	if name == "" {
		return "", media.TranscodePreset{}, opserr.New(opserr.KindValidation, op, "missing preset")
	}
	p, err := media.LookupPreset(name)
	if err != nil {
		return "", media.TranscodePreset{}, err
	}
	return name, p, nil
}
