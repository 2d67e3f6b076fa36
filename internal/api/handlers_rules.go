// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/streamops/internal/log"
	"github.com/ManuGH/streamops/internal/rules"
)

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	items, err := s.deps.Rules.List(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	if items == nil {
		items = []rules.Rule{}
	}
	writeJSON(w, http.StatusOK, listEnvelope{Items: items, Total: len(items)})
}

// handleUpsertRule creates or replaces a rule. A body without an id is a
// create and answers 201; with an id it is an update and answers 200. The
// live rule set reloads on success.
func (s *Server) handleUpsertRule(w http.ResponseWriter, r *http.Request) {
	var in rules.Rule
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&in); err != nil {
		failValidation(w, r, "malformed rule document: "+err.Error())
		return
	}
	created := in.ID == ""

	saved, err := s.deps.Rules.Upsert(r.Context(), &in)
	if err != nil {
		fail(w, r, err)
		return
	}
	s.reloadRules(r)

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, saved)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Rules.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		fail(w, r, err)
		return
	}
	s.reloadRules(r)
	w.WriteHeader(http.StatusNoContent)
}

// reloadRules refreshes the live rule set after a store change. A reload
// failure leaves the store as truth and the engine on its previous set, so
// it logs instead of failing the request.
func (s *Server) reloadRules(r *http.Request) {
	if s.deps.OnRulesChanged == nil {
		return
	}
	if err := s.deps.OnRulesChanged(r.Context()); err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().
			Err(err).
			Msg("rule set reload failed after store change")
	}
}
