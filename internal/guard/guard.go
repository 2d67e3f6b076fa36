// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package guard defers heavy pipeline work while the host is busy. A
// background sampler snapshots CPU and GPU utilization and the external
// recording flag; rule execution checks the snapshot before every action and
// backs off with a Guarded error instead of competing with a live encode.
package guard

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ManuGH/streamops/internal/config"
	"github.com/ManuGH/streamops/internal/log"
	"github.com/ManuGH/streamops/internal/metrics"
	"github.com/ManuGH/streamops/internal/opserr"
)

// Guard names used in metrics labels and deferral logs.
const (
	GuardCPU       = "cpu"
	GuardGPU       = "gpu"
	GuardRecording = "recording"
	GuardPaused    = "paused"
)

const defaultSampleInterval = 2 * time.Second

// Snapshot is one observation of host state. CPU and GPU are percentages;
// zero means idle or unknown, which never trips a guard.
type Snapshot struct {
	CPUPct    float64   `json:"cpu_pct"`
	GPUPct    float64   `json:"gpu_pct"`
	Recording bool      `json:"recording"`
	SampledAt time.Time `json:"sampled_at"`
}

// Overrides carries per-rule guard thresholds. Nil fields inherit the
// configured defaults.
type Overrides struct {
	CPUPct             *int  `json:"cpu_guard_pct,omitempty"`
	GPUPct             *int  `json:"gpu_guard_pct,omitempty"`
	PauseWhenRecording *bool `json:"pause_when_recording,omitempty"`
}

// Options configures a Guard. The zero value samples /proc every two seconds
// and queries nvidia-smi for GPU load.
type Options struct {
	Interval time.Duration
	ProcRoot string
	// GPUUtil replaces the nvidia-smi query; the bool reports whether a
	// reading was obtained.
	GPUUtil func(ctx context.Context) (float64, bool)
	// Redis enables the external recording-flag source. Nil means the
	// config flag is the only source.
	Redis *redis.Client
}

// Guard samples host state and answers whether work may proceed right now.
type Guard struct {
	settings *config.Settings
	cpu      *cpuSampler
	gpuUtil  func(ctx context.Context) (float64, bool)
	redis    *redis.Client
	interval time.Duration

	snap        atomic.Pointer[Snapshot]
	noRedisWarn sync.Once
	logger      zerolog.Logger
}

func New(settings *config.Settings, opts Options) *Guard {
	logger := log.WithComponent("guard")

	interval := opts.Interval
	if interval <= 0 {
		interval = defaultSampleInterval
	}
	procRoot := opts.ProcRoot
	if procRoot == "" {
		procRoot = "/proc"
	}

	cpu, err := newCPUSampler(procRoot)
	if err != nil {
		// Host without procfs: the CPU guard reads 0 and never trips.
		logger.Warn().Err(err).Str("proc_root", procRoot).Msg("cpu sampling unavailable")
		cpu = nil
	}

	gpuUtil := opts.GPUUtil
	if gpuUtil == nil {
		gpuUtil = newGPUReader("nvidia-smi").utilization
	}

	return &Guard{
		settings: settings,
		cpu:      cpu,
		gpuUtil:  gpuUtil,
		redis:    opts.Redis,
		interval: interval,
		logger:   logger,
	}
}

// Run samples until ctx is cancelled. The first sample is taken immediately
// so checks right after startup see real numbers.
func (g *Guard) Run(ctx context.Context) error {
	g.sample(ctx)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.sample(ctx)
		}
	}
}

// Snapshot returns the latest observation. Before the first sample it
// returns a zero Snapshot, which trips nothing.
func (g *Guard) Snapshot() Snapshot {
	if s := g.snap.Load(); s != nil {
		return *s
	}
	return Snapshot{}
}

func (g *Guard) sample(ctx context.Context) {
	snap := Snapshot{SampledAt: time.Now().UTC()}

	if g.cpu != nil {
		pct, err := g.cpu.utilization()
		if err != nil {
			g.logger.Debug().Err(err).Msg("cpu sample failed")
		} else {
			snap.CPUPct = pct
		}
	}
	if pct, ok := g.gpuUtil(ctx); ok {
		snap.GPUPct = pct
	}
	snap.Recording = g.recordingActive(ctx)

	g.snap.Store(&snap)
	metrics.SetSystemCPU(snap.CPUPct)
	metrics.SetSystemGPU(snap.GPUPct)
	metrics.SetRecordingActive(snap.Recording)
}

// Check reports whether guarded work may start. A Guarded error names the
// tripped guard; callers defer and retry rather than fail.
func (g *Guard) Check(ctx context.Context, o Overrides) error {
	if paused, err := g.settings.GetBool(ctx, "queue_paused"); err == nil && paused {
		metrics.IncGuardDeferral(GuardPaused)
		return opserr.New(opserr.KindGuarded, "guard.check", "job queue is paused")
	}

	snap := g.Snapshot()

	pauseRec, err := g.settings.GetBool(ctx, "pause_when_recording")
	if err != nil {
		pauseRec = true
	}
	if o.PauseWhenRecording != nil {
		pauseRec = *o.PauseWhenRecording
	}
	if pauseRec && snap.Recording {
		metrics.IncGuardDeferral(GuardRecording)
		return opserr.New(opserr.KindGuarded, "guard.check", "recording in progress")
	}

	cpuLimit := g.intSetting(ctx, "cpu_guard_pct", o.CPUPct)
	if cpuLimit > 0 && snap.CPUPct >= float64(cpuLimit) {
		metrics.IncGuardDeferral(GuardCPU)
		return opserr.Newf(opserr.KindGuarded, "guard.check", "cpu at %.0f%%, guard at %d%%", snap.CPUPct, cpuLimit)
	}

	gpuLimit := g.intSetting(ctx, "gpu_guard_pct", o.GPUPct)
	if gpuLimit > 0 && snap.GPUPct >= float64(gpuLimit) {
		metrics.IncGuardDeferral(GuardGPU)
		return opserr.Newf(opserr.KindGuarded, "guard.check", "gpu at %.0f%%, guard at %d%%", snap.GPUPct, gpuLimit)
	}

	return nil
}

func (g *Guard) intSetting(ctx context.Context, key string, override *int) int {
	if override != nil {
		return *override
	}
	v, err := g.settings.GetInt(ctx, key)
	if err != nil {
		return 0
	}
	return v
}
