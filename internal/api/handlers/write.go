// Package handlers implements the Control Surface operations (§4.6) as
// chi-routed HTTP/JSON endpoints. Every handler delegates to a
// control.Surface method and writes back the Result verbatim; none of them
// carry business logic of their own.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"kasmix/internal/control"
)

// writeResult marshals a Result as JSON, using 200 for ok results, 500 for
// failures of kind KindInternalInvariant and 400 for every other failure.
// The Control Surface never returns partial successes, so callers never
// need a richer status-code mapping than this.
func writeResult(w http.ResponseWriter, result control.Result) {
	status := http.StatusOK
	if !result.OK {
		status = http.StatusBadRequest
		if result.Kind == control.KindInternalInvariant {
			status = http.StatusInternalServerError
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
