// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	systemCPUPct = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamops_system_cpu_pct",
		Help: "CPU utilization percent from the last guard sample",
	})

	systemGPUPct = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamops_system_gpu_pct",
		Help: "GPU utilization percent from the last guard sample",
	})

	recordingActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamops_recording_active",
		Help: "1 while the recording flag is set",
	})
)

func SetSystemCPU(pct float64) { systemCPUPct.Set(pct) }

func SetSystemGPU(pct float64) { systemGPUPct.Set(pct) }

func SetRecordingActive(on bool) {
	if on {
		recordingActive.Set(1)
	} else {
		recordingActive.Set(0)
	}
}
