package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kasmix/internal/control"
)

type createMixingRequest struct {
	Destinations []destinationPayload `json:"destinations"`
}

type destinationPayload struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount,string"`
}

// CreateMixing handles POST /api/mixing.
func CreateMixing(surface *control.Surface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createMixingRequest
		if err := decodeJSON(r, &req); err != nil {
			slog.Warn("create_mixing: malformed request body", "error", err)
			writeResult(w, control.Err(errInvalidBody))
			return
		}
		destinations := toDestinations(req.Destinations)
		writeResult(w, surface.CreateMixing(destinations))
	}
}

// ListMixingSessions handles GET /api/mixing.
func ListMixingSessions(surface *control.Surface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, surface.ListSessions())
	}
}

// GetMixingSession handles GET /api/mixing/{id}.
func GetMixingSession(surface *control.Surface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		writeResult(w, surface.GetSession(id))
	}
}

// DeleteMixingSession handles DELETE /api/mixing/{id}.
func DeleteMixingSession(surface *control.Surface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		writeResult(w, surface.DeleteSession(id))
	}
}

// ExportMixingKeys handles GET /api/mixing/{id}/export_keys. This is the
// only handler that can return private key material; it exists behind the
// same HostCheck/CORS/CSRF stack as everything else (§4.6).
func ExportMixingKeys(surface *control.Surface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		slog.Info("export_keys requested", "session_id", id, "remoteAddr", r.RemoteAddr)
		writeResult(w, surface.ExportKeys(id))
	}
}
