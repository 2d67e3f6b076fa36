// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"net/http"
	"time"

	"github.com/ManuGH/streamops/internal/guard"
	"github.com/ManuGH/streamops/internal/jobs"
	"github.com/ManuGH/streamops/internal/media"
)

// systemStats is the one-call operational summary behind /system/stats.
type systemStats struct {
	Version   string             `json:"version"`
	UptimeSec int64              `json:"uptime_sec"`
	Jobs      map[jobs.State]int `json:"jobs"`
	Assets    int                `json:"assets"`
	Rules     ruleStats          `json:"rules"`
	Guard     *guard.Snapshot    `json:"guard,omitempty"`
	GPU       *media.GPUCaps     `json:"gpu,omitempty"`
}

type ruleStats struct {
	Total   int `json:"total"`
	Enabled int `json:"enabled"`
}

func (s *Server) handleSystemStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobCounts, err := s.deps.Queue.Stats(ctx)
	if err != nil {
		fail(w, r, err)
		return
	}
	assetCount, err := s.deps.Assets.Count(ctx)
	if err != nil {
		fail(w, r, err)
		return
	}
	ruleList, err := s.deps.Rules.List(ctx)
	if err != nil {
		fail(w, r, err)
		return
	}

	stats := systemStats{
		Version:   s.deps.Version,
		UptimeSec: int64(time.Since(s.started).Seconds()),
		Jobs:      jobCounts,
		Assets:    assetCount,
	}
	stats.Rules.Total = len(ruleList)
	for _, rl := range ruleList {
		if rl.Enabled {
			stats.Rules.Enabled++
		}
	}
	if s.deps.Guard != nil {
		snap := s.deps.Guard.Snapshot()
		stats.Guard = &snap
	}
	if s.deps.GPU != nil {
		caps := s.deps.GPU.Caps()
		stats.GPU = &caps
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleSystemHealth returns the verbose component rollup. Unlike the probe
// endpoints it always answers 200; the body carries the state.
func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Health.Health(r.Context(), true))
}
