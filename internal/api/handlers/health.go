package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"kasmix/internal/config"
)

// HealthHandler returns a handler for GET /api/health.
func HealthHandler(cfg *config.Config, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("health check requested", "remoteAddr", r.RemoteAddr)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"version": version,
			"network": cfg.Network,
			"db_path": cfg.DBPath,
		})
	}
}
