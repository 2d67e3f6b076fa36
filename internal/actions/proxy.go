// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package actions

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamops/internal/asset"
	"github.com/ManuGH/streamops/internal/fsutil"
	"github.com/ManuGH/streamops/internal/jobs"
	"github.com/ManuGH/streamops/internal/log"
	"github.com/ManuGH/streamops/internal/media"
	"github.com/ManuGH/streamops/internal/opserr"
)

// DNxHR profiles the proxy action accepts.
var dnxhrProfiles = map[string]bool{
	"dnxhr_lb": true,
	"dnxhr_sq": true,
	"dnxhr_hq": true,
}

// Proxy renders an edit-friendly DNxHR sidecar next to the input. Clips
// shorter than proxy.min_duration_sec are skipped without an event.
type Proxy struct {
	d      Deps
	logger zerolog.Logger
}

func NewProxy(d Deps) *Proxy {
	return &Proxy{d: d, logger: log.WithComponent("actions.proxy")}
}

func (a *Proxy) Execute(ctx context.Context, job *jobs.Job, progress jobs.ProgressFunc) (map[string]any, error) {
	const op = "actions.proxy"

	input, err := inputPath(op, job.Params)
	if err != nil {
		return nil, err
	}
	profile := strParam(job.Params, "profile", "dnxhr_lb")
	if !dnxhrProfiles[profile] {
		return nil, opserr.Newf(opserr.KindValidation, op, "unknown proxy profile %q", profile)
	}
	height, err := parseResolution(strParam(job.Params, "resolution", "1080"))
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

	if minDur := a.minDuration(ctx); probe.DurationSec < minDur {
		a.logger.Info().
			Str(log.FieldJobID, job.ID).
			Str(log.FieldPath, input).
			Float64(log.FieldDuration, probe.DurationSec).
			Msg("proxy skipped, clip below minimum duration")
		return map[string]any{
			"skipped": true,
			"reason":  fmt.Sprintf("duration %.1fs below minimum %.1fs", probe.DurationSec, minDur),
		}, nil
	}

	output := siblingPath(input, stem(input)+"_proxy.mov")
	staged := a.d.Staging.Path(job.ID, "proxy.mov")
	defer func() { _ = a.d.Staging.Cleanup(job.ID) }()

	args := a.buildArgs(input, staged, profile, height, job.Params)

	parser := media.FrameParser{TotalFrames: probe.TotalFrames()}
	onProgress := func(pct float64) { progress(pct, "encoding proxy") }
	if _, err := a.d.FFmpeg.Run(ctx, args, parser, onProgress); err != nil {
		return nil, err
	}

	if err := fsutil.SafeMove(staged, output); err != nil {
		return nil, opserr.Wrap(err, opserr.KindIO, op, "place proxy at "+output)
	}

	if job.AssetID != "" {
		payload := map[string]any{"path": output, "profile": profile}
		if _, err := a.d.Events.Emit(ctx, job.AssetID, asset.EventProxyCompleted, payload, job.ID); err != nil {
			return nil, err
		}
	}

	a.logger.Info().
		Str(log.FieldJobID, job.ID).
		Str(log.FieldTargetPath, output).
		Str("profile", profile).
		Msg("proxy done")

	return map[string]any{
		"outputs": map[string]any{"proxy": output},
		"profile": profile,
	}, nil
}

// buildArgs assembles the FFmpeg invocation. The CUDA path decodes and
// scales on the GPU, then downloads for the CPU-only DNxHR encoder.
func (a *Proxy) buildArgs(input, output, profile string, height int, params map[string]any) []string {
	useGPU := boolParam(params, "use_gpu", false)
	caps := media.GPUCaps{}
	if a.d.GPU != nil {
		caps = a.d.GPU.Caps()
	}
	cuda := useGPU && caps.Usable() && caps.ScaleCUDA

	args := []string{"-y"}
	if cuda {
		args = append(args, "-hwaccel", "cuda", "-hwaccel_output_format", "cuda")
	}
	args = append(args, "-i", input)

	var filter string
	if cuda {
		filter = fmt.Sprintf("scale_cuda=-2:%d,hwdownload,format=yuv422p", height)
	} else {
		filter = fmt.Sprintf("scale=-2:%d,format=yuv422p", height)
	}
	args = append(args,
		"-map", "0:v:0",
		"-map", "0:a?",
		"-vf", filter,
		"-c:v", "dnxhd",
		"-profile:v", profile,
		"-c:a", "pcm_s16le",
	)
	if ch := intParam(params, "audio_channels", 0); ch > 0 {
		args = append(args, "-ac", strconv.Itoa(ch))
	}
	if tc := strParam(params, "timecode_start", ""); tc != "" {
		args = append(args, "-timecode", tc)
	}
	return append(args, output)
}

func (a *Proxy) minDuration(ctx context.Context) float64 {
	if v, err := a.d.Settings.GetFloat(ctx, "proxy.min_duration_sec"); err == nil {
		return v
	}
	return 5
}

// parseResolution accepts a bare height ("1080") or a WxH pair
// ("1920x1080") and returns the target height.
func parseResolution(res string) (int, error) {
	s := res
	if i := strings.IndexByte(s, 'x'); i >= 0 {
		s = s[i+1:]
	}
	h, err := strconv.Atoi(s)
	if err != nil || h <= 0 {
		return 0, opserr.Newf(opserr.KindValidation, "actions.proxy", "bad resolution %q", res)
	}
	return h, nil
}
