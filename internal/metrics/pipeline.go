// SPDX-License-Identifier: MIT
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rulesMatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamops_rules_matched_total",
		Help: "Rule matches by rule name",
	}, []string{"rule"})

	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamops_actions_total",
		Help: "Action executions by action type and outcome",
	}, []string{"action", "outcome"}) // outcome=success|failure|skipped

	guardDeferralsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamops_guard_deferrals_total",
		Help: "Action deferrals by tripped guard",
	}, []string{"guard"})

	assetEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamops_asset_events_total",
		Help: "Asset events written to the timeline by type",
	}, []string{"event_type"})

	assetsIndexedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamops_assets_indexed_total",
		Help: "Assets indexed or re-indexed",
	})
)

// guard ∈ {cpu,gpu,recording,paused,unknown}
func normalizeGuardLabel(guard string) string {
	switch v := strings.ToLower(strings.TrimSpace(guard)); v {
	case "cpu", "gpu", "recording", "paused":
		return v
	default:
		return "unknown"
	}
}

func IncRuleMatched(rule string) {
	rulesMatchedTotal.WithLabelValues(rule).Inc()
}

func IncAction(action, outcome string) {
	actionsTotal.WithLabelValues(normalizeJobTypeLabel(action), outcome).Inc()
}

func IncGuardDeferral(guard string) {
	guardDeferralsTotal.WithLabelValues(normalizeGuardLabel(guard)).Inc()
}

func IncAssetEvent(eventType string) {
	assetEventsTotal.WithLabelValues(eventType).Inc()
}

func IncAssetIndexed() { assetsIndexedTotal.Inc() }
