// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	watcherTrackedFiles = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "streamops_watcher_tracked_files",
		Help: "Files currently tracked for stability per role",
	}, []string{"role"})

	watcherFileClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamops_watcher_file_closed_total",
		Help: "file_closed events emitted per role",
	}, []string{"role"})

	watcherStatErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamops_watcher_stat_errors_total",
		Help: "Stat failures while sampling tracked files",
	})

	watcherActiveRoles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamops_watcher_active_roles",
		Help: "Roles with a running directory watcher",
	})
)

func SetWatcherTrackedFiles(role string, n int) {
	watcherTrackedFiles.WithLabelValues(role).Set(float64(n))
}

func IncWatcherFileClosed(role string) {
	watcherFileClosedTotal.WithLabelValues(role).Inc()
}

func IncWatcherStatError() { watcherStatErrorsTotal.Inc() }

func SetWatcherActiveRoles(n int) { watcherActiveRoles.Set(float64(n)) }
