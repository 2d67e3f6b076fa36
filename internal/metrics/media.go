// SPDX-License-Identifier: MIT
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	toolInvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamops_tool_invocations_total",
		Help: "External tool invocations by tool and outcome",
	}, []string{"tool", "outcome"}) // outcome=success|failure|killed

	toolDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "streamops_tool_duration_seconds",
		Help:    "External tool wall time by tool",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 1200, 3600},
	}, []string{"tool"})

	toolSignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamops_tool_signals_total",
		Help: "Signals delivered to tool process groups on cancellation",
	}, []string{"signal"}) // signal=term|kill

	probeCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamops_probe_cache_total",
		Help: "Probe cache lookups by result",
	}, []string{"result"}) // result=hit|miss

	gpuAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamops_gpu_available",
		Help: "Whether NVENC hardware encoding is available (1) or not (0)",
	})
)

// tool ∈ {ffmpeg,ffprobe,unknown}
func normalizeToolLabel(tool string) string {
	switch v := strings.ToLower(strings.TrimSpace(tool)); v {
	case "ffmpeg", "ffprobe":
		return v
	default:
		return "unknown"
	}
}

func IncToolInvocation(tool, outcome string) {
	toolInvocationsTotal.WithLabelValues(normalizeToolLabel(tool), outcome).Inc()
}

func ObserveToolDuration(tool string, seconds float64) {
	toolDurationSeconds.WithLabelValues(normalizeToolLabel(tool)).Observe(seconds)
}

func IncToolSignal(signal string) {
	toolSignalsTotal.WithLabelValues(signal).Inc()
}

func IncProbeCache(result string) {
	probeCacheTotal.WithLabelValues(result).Inc()
}

func SetGPUAvailable(ok bool) {
	if ok {
		gpuAvailable.Set(1)
		return
	}
	gpuAvailable.Set(0)
}
