// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package media

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamops/internal/log"
	"github.com/ManuGH/streamops/internal/metrics"
)

const gpuDetectTimeout = 10 * time.Second

// GPUCaps describes the NVIDIA encode capability of the host.
type GPUCaps struct {
	DriverPresent bool `json:"driver_present"`
	H264NVENC     bool `json:"h264_nvenc"`
	HEVCNVENC     bool `json:"hevc_nvenc"`
	ScaleCUDA     bool `json:"scale_cuda"`
}

// Usable reports whether GPU encoding can actually be used: the driver must
// respond and at least one NVENC encoder must be compiled into ffmpeg.
func (c GPUCaps) Usable() bool {
	return c.DriverPresent && (c.H264NVENC || c.HEVCNVENC)
}

// GPUDetector probes hardware capability lazily, once per process. Nothing
// touches nvidia-smi or spawns ffmpeg until the first job asks for GPU.
type GPUDetector struct {
	ffmpegBin string
	smiBin    string
	once      sync.Once
	caps      GPUCaps
	logger    zerolog.Logger
}

func NewGPUDetector(ffmpegBin string) *GPUDetector {
	return &GPUDetector{
		ffmpegBin: ffmpegBin,
		smiBin:    "nvidia-smi",
		logger:    log.WithComponent("media.gpu"),
	}
}

// Caps returns the detected capability, probing on first call.
func (d *GPUDetector) Caps() GPUCaps {
	d.once.Do(d.detect)
	return d.caps
}

func (d *GPUDetector) detect() {
	ctx, cancel := context.WithTimeout(context.Background(), gpuDetectTimeout)
	defer cancel()

	var caps GPUCaps
	if _, err := exec.LookPath(d.smiBin); err == nil {
		caps.DriverPresent = exec.CommandContext(ctx, d.smiBin, "-L").Run() == nil
	}

	if out, err := exec.CommandContext(ctx, d.ffmpegBin, "-hide_banner", "-encoders").Output(); err == nil {
		caps.H264NVENC, caps.HEVCNVENC = parseEncoderCaps(string(out))
	}
	if out, err := exec.CommandContext(ctx, d.ffmpegBin, "-hide_banner", "-filters").Output(); err == nil {
		caps.ScaleCUDA = parseFilterCaps(string(out))
	}

	d.caps = caps
	metrics.SetGPUAvailable(caps.Usable())
	d.logger.Info().
		Bool("driver", caps.DriverPresent).
		Bool("h264_nvenc", caps.H264NVENC).
		Bool("hevc_nvenc", caps.HEVCNVENC).
		Bool("scale_cuda", caps.ScaleCUDA).
		Msg("gpu capability detected")
}

func parseEncoderCaps(encoders string) (h264, hevc bool) {
	return strings.Contains(encoders, "h264_nvenc"), strings.Contains(encoders, "hevc_nvenc")
}

func parseFilterCaps(filters string) bool {
	return strings.Contains(filters, "scale_cuda")
}
