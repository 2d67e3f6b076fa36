// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/streamops/internal/jobs"
)

// listEnvelope is the common paged-list response shape.
type listEnvelope struct {
	Items  any `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// pageParams extracts offset and limit from query parameters.
// Defaults: offset=0, limit=50. Max limit: 500.
func pageParams(r *http.Request) (limit, offset int) {
	limit = 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
			if limit > 500 {
				limit = 500
			}
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func validJobState(s jobs.State) bool {
	switch s {
	case jobs.StateQueued, jobs.StateRunning, jobs.StateRetrying,
		jobs.StateCompleted, jobs.StateFailed, jobs.StateCancelled:
		return true
	}
	return false
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := jobs.ListOptions{
		Type:    q.Get("type"),
		AssetID: q.Get("asset_id"),
	}
	opts.Limit, opts.Offset = pageParams(r)

	if st := q.Get("state"); st != "" {
		state := jobs.State(st)
		if !validJobState(state) {
			failValidation(w, r, "unknown job state "+strconv.Quote(st))
			return
		}
		opts.State = state
	}

	items, total, err := s.deps.Queue.List(r.Context(), opts)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listEnvelope{
		Items: items, Total: total, Limit: opts.Limit, Offset: opts.Offset,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.deps.Queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.deps.Queue.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}
