// Package api wires the Control Surface (§4.6) onto an HTTP router: a
// chi.Router carrying the mixing and coinjoin operations behind the same
// request-logging/host-check/CORS/CSRF middleware stack used for every
// local daemon surface.
package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"kasmix/internal/api/handlers"
	"kasmix/internal/api/middleware"
	"kasmix/internal/bridge"
	"kasmix/internal/config"
	"kasmix/internal/control"
)

// Version is set at build time via ldflags.
var Version = "dev"

// NewRouter creates and configures the chi router with all middleware and
// routes. bridgeServer may be nil if the Bridge relay is not exposed on
// this daemon's HTTP listener.
func NewRouter(cfg *config.Config, surface *control.Surface, bridgeServer *bridge.Server) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestLogging)
	r.Use(middleware.HostCheck(cfg.AllowedHost))
	r.Use(middleware.CORS(cfg.AllowedHost))
	r.Use(middleware.CSRF)

	slog.Info("router initialized",
		"middleware", []string{"requestLogging", "hostCheck", "cors", "csrf"},
		"allowedHost", cfg.AllowedHost,
	)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handlers.HealthHandler(cfg, Version))
		r.Get("/stats", handlers.Stats(surface))

		r.Route("/mixing", func(r chi.Router) {
			r.Post("/", handlers.CreateMixing(surface))
			r.Get("/", handlers.ListMixingSessions(surface))
			r.Get("/{id}", handlers.GetMixingSession(surface))
			r.Delete("/{id}", handlers.DeleteMixingSession(surface))
			r.Get("/{id}/export_keys", handlers.ExportMixingKeys(surface))
		})

		r.Route("/coinjoin", func(r chi.Router) {
			r.Post("/", handlers.CreateCoinJoin(surface))
			r.Get("/", handlers.ListCoinJoinSessions(surface))
			r.Get("/{id}", handlers.GetCoinJoinSession(surface))
			r.Delete("/{id}", handlers.DeleteCoinJoinSession(surface))
			r.Post("/{id}/reveal", handlers.RevealCoinJoin(surface))

			r.Route("/rounds/{roundID}", func(r chi.Router) {
				r.Post("/build", handlers.BuildRound(surface))
				r.Post("/sign", handlers.SignRound(surface))
				r.Post("/signatures", handlers.SubmitSignatureShares(surface))
				r.Post("/submit", handlers.SubmitRound(surface))
			})
		})
	})

	if bridgeServer != nil {
		bridgeServer.Routes(r)
	}

	return r
}
