// SPDX-License-Identifier: MIT
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamops_jobs_enqueued_total",
		Help: "Jobs enqueued by type and priority",
	}, []string{"type", "priority"})

	jobsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamops_jobs_finished_total",
		Help: "Jobs reaching a terminal state by type and outcome",
	}, []string{"type", "outcome"}) // outcome=completed|failed|cancelled

	jobsRetriedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamops_jobs_retried_total",
		Help: "Retry transitions by job type",
	}, []string{"type"})

	jobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamops_jobs_running",
		Help: "Jobs currently in the running state",
	})

	jobsQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamops_jobs_queued",
		Help: "Jobs currently waiting in the queue",
	})

	jobDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "streamops_job_duration_seconds",
		Help:    "Wall time from running to terminal state by job type",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{"type"})
)

// Label allowlists are intentionally strict to cap cardinality:
// type ∈ {index,remux,move,copy,proxy,thumbnail,transcode,tag,unknown}
// outcome ∈ {completed,failed,cancelled,unknown}

func normalizeJobTypeLabel(jobType string) string {
	switch v := strings.ToLower(strings.TrimSpace(jobType)); v {
	case "index", "remux", "move", "copy", "proxy", "thumbnail", "transcode", "tag":
		return v
	default:
		return "unknown"
	}
}

func normalizeOutcomeLabel(outcome string) string {
	switch v := strings.ToLower(strings.TrimSpace(outcome)); v {
	case "completed", "failed", "cancelled":
		return v
	default:
		return "unknown"
	}
}

func IncJobEnqueued(jobType, priority string) {
	jobsEnqueuedTotal.WithLabelValues(normalizeJobTypeLabel(jobType), priority).Inc()
}

func IncJobFinished(jobType, outcome string) {
	jobsFinishedTotal.WithLabelValues(normalizeJobTypeLabel(jobType), normalizeOutcomeLabel(outcome)).Inc()
}

func IncJobRetried(jobType string) {
	jobsRetriedTotal.WithLabelValues(normalizeJobTypeLabel(jobType)).Inc()
}

func SetJobsRunning(n int) { jobsRunning.Set(float64(n)) }
func SetJobsQueued(n int)  { jobsQueued.Set(float64(n)) }

func ObserveJobDuration(jobType string, seconds float64) {
	jobDurationSeconds.WithLabelValues(normalizeJobTypeLabel(jobType)).Observe(seconds)
}
