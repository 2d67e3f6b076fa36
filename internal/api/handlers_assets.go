// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/streamops/internal/asset"
)

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	opts := asset.ListOptions{Status: r.URL.Query().Get("status")}
	opts.Limit, opts.Offset = pageParams(r)

	items, total, err := s.deps.Assets.List(r.Context(), opts)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listEnvelope{
		Items: items, Total: total, Limit: opts.Limit, Offset: opts.Offset,
	})
}

func (s *Server) handleSearchAssets(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		failValidation(w, r, "query parameter q is required")
		return
	}
	limit, _ := pageParams(r)

	items, err := s.deps.Assets.Search(r.Context(), query, limit)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listEnvelope{
		Items: items, Total: len(items), Limit: limit,
	})
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Assets.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleGetTimeline returns the asset's event history, oldest first. The
// asset is resolved first so a bad id reads as 404 instead of an empty
// timeline.
func (s *Server) handleGetTimeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.deps.Assets.Get(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}

	events, err := s.deps.Events.Timeline(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	if events == nil {
		events = []asset.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset_id": id,
		"events":   events,
	})
}
