// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ManuGH/streamops/internal/log"
	"github.com/ManuGH/streamops/internal/opserr"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers already sent; the client may see a truncated body.
		logger := log.Base()
		logger.Error().Err(err).Int("status", code).Msg("failed to encode JSON response")
	}
}

// writeProblem writes an RFC 7807 problem details response.
//
// Semantics:
//   - type: prefixed machine identifier (e.g. "error/not_found")
//   - title: human-readable short label
//   - code: stable machine-readable short code (e.g. "NOT_FOUND")
//   - detail: explanation of the specific failure
func writeProblem(w http.ResponseWriter, r *http.Request, status int, code, title, detail string) {
	reqID := ""
	if r != nil {
		reqID = log.RequestIDFromContext(r.Context())
	}
	if reqID == "" {
		reqID = w.Header().Get(HeaderRequestID)
	}

	res := map[string]any{
		"type":      "error/" + strings.ToLower(code),
		"title":     title,
		"status":    status,
		"code":      code,
		"requestId": reqID,
	}
	if detail != "" {
		res["detail"] = detail
	}
	if r != nil {
		res["instance"] = r.URL.EscapedPath()
	}

	w.Header().Set(HeaderRequestID, reqID)
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(res); err != nil {
		logger := log.Base()
		logger.Error().Err(err).Str("code", code).Int("status", status).
			Msg("failed to encode problem response")
	}
}

// fail maps a domain error onto a problem response by its kind.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := opserr.KindOf(err)
	status := statusForKind(kind)

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	if status >= http.StatusInternalServerError {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().
			Err(err).
			Str("kind", string(kind)).
			Str("path", r.URL.Path).
			Msg("request failed")
	}

	writeProblem(w, r, status, string(kind), titleForKind(kind), err.Error())
}

// failValidation is the shorthand for request-shape errors found before any
// store is touched.
func failValidation(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, r, http.StatusBadRequest,
		string(opserr.KindValidation), titleForKind(opserr.KindValidation), detail)
}

func statusForKind(kind opserr.Kind) int {
	switch kind {
	case opserr.KindNotFound:
		return http.StatusNotFound
	case opserr.KindValidation:
		return http.StatusBadRequest
	case opserr.KindConflict:
		return http.StatusConflict
	case opserr.KindGuarded:
		return http.StatusServiceUnavailable
	case opserr.KindTimeout:
		return http.StatusGatewayTimeout
	case opserr.KindCancelled:
		return http.StatusServiceUnavailable
	case opserr.KindExternalTool:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func titleForKind(kind opserr.Kind) string {
	switch kind {
	case opserr.KindNotFound:
		return "Not Found"
	case opserr.KindValidation:
		return "Invalid Input"
	case opserr.KindConflict:
		return "Conflict"
	case opserr.KindGuarded:
		return "Guarded"
	case opserr.KindTimeout:
		return "Timeout"
	case opserr.KindCancelled:
		return "Cancelled"
	case opserr.KindExternalTool:
		return "External Tool Failure"
	case opserr.KindIO:
		return "I/O Failure"
	default:
		return "Internal Error"
	}
}
