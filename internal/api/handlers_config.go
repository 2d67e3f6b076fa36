// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/streamops/internal/config"
)

// configEntry is one config row in API responses. Encrypted values stay
// ciphertext; the admin surface never returns decrypted secrets.
type configEntry struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	Encrypted bool   `json:"encrypted"`
	Type      string `json:"type,omitempty"`
	Doc       string `json:"doc,omitempty"`
	Default   string `json:"default,omitempty"`
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	all, err := s.deps.Settings.All(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": all})
}

func (s *Server) handleGetConfigKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	all, err := s.deps.Settings.All(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	stored, ok := all[key]
	if !ok {
		writeProblem(w, r, http.StatusNotFound, "NOT_FOUND", "Not Found",
			"unknown config key "+strconv.Quote(key))
		return
	}

	entry := configEntry{Key: key, Value: stored.Value, Encrypted: stored.Encrypted}
	if def, known := s.deps.Settings.Registry().Lookup(key); known {
		entry.Type = string(def.Type)
		entry.Doc = def.Doc
		entry.Default = def.Default
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Value     string `json:"value"`
		Encrypted bool   `json:"encrypted"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&in); err != nil {
		failValidation(w, r, "malformed config update: "+err.Error())
		return
	}

	key := chi.URLParam(r, "key")
	if err := s.deps.Settings.Set(r.Context(), key, in.Value, in.Encrypted); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBulkUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Values map[string]string `json:"values"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&in); err != nil {
		failValidation(w, r, "malformed config update: "+err.Error())
		return
	}
	if len(in.Values) == 0 {
		failValidation(w, r, "values must not be empty")
		return
	}

	if err := s.deps.Settings.BulkSet(r.Context(), in.Values); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExportConfig(w http.ResponseWriter, r *http.Request) {
	data, err := s.deps.Settings.ExportJSON(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="streamops-config.json"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleImportConfig(w http.ResponseWriter, r *http.Request) {
	overwrite := false
	if v := r.URL.Query().Get("overwrite"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			failValidation(w, r, "overwrite must be a boolean")
			return
		}
		overwrite = b
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 4<<20))
	if err != nil {
		failValidation(w, r, "read import body: "+err.Error())
		return
	}

	if err := s.deps.Settings.ImportJSON(r.Context(), data, overwrite); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetRoles(w http.ResponseWriter, r *http.Request) {
	items, err := s.deps.Roles.List(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	if items == nil {
		items = []config.Role{}
	}
	writeJSON(w, http.StatusOK, listEnvelope{Items: items, Total: len(items)})
}

func (s *Server) handleSetRole(w http.ResponseWriter, r *http.Request) {
	var in struct {
		AbsPath string `json:"abs_path"`
		Watch   bool   `json:"watch"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&in); err != nil {
		failValidation(w, r, "malformed role document: "+err.Error())
		return
	}

	saved, err := s.deps.Roles.Set(r.Context(), config.Role{
		Role:    chi.URLParam(r, "role"),
		AbsPath: in.AbsPath,
		Watch:   in.Watch,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Roles.Delete(r.Context(), chi.URLParam(r, "role")); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
