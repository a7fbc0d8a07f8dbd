package bridge

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"kasmix/internal/config"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server exposes the Hub over a websocket endpoint. It runs no timers of its
// own; the Hub's idle-round and signature-stall sweeps are invoked from
// outside.
type Server struct {
	hub *Hub
}

// NewServer wraps hub for HTTP serving.
func NewServer(hub *Hub) *Server {
	return &Server{hub: hub}
}

// Routes mounts the coinjoin relay endpoint onto r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/ws/coinjoin", s.handleConn)
}

func (s *Server) handleConn(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("bridge: upgrade failed", "error", err)
		return
	}
	s.hub.JoinLobby(conn)

	// Per-connection message rate limiter: a participant flooding JOIN/REVEAL
	// traffic shouldn't be able to starve the hub's broadcast goroutine for
	// everyone else in the lobby or round.
	limiter := rate.NewLimiter(rate.Limit(config.RateLimitBridgeMsg), config.RateLimitBridgeMsg)

	defer func() {
		s.hub.Leave(conn)
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("bridge: client connection error", "error", err)
			}
			return
		}

		if !limiter.Allow() {
			slog.Warn("bridge: client exceeded message rate limit, dropping connection", "remoteAddr", r.RemoteAddr)
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			slog.Warn("bridge: malformed message", "error", err)
			continue
		}

		roundID, ok := extractRoundID(env)
		if !ok {
			slog.Warn("bridge: message missing round_id", "type", env.Type)
			continue
		}
		if roundID != "" {
			s.hub.JoinRound(conn, roundID)
		}

		if err := s.hub.Accept(roundID, env); err != nil {
			slog.Warn("bridge: rejected message", "error", err)
		}
	}
}

// extractRoundID pulls round_id out of a payload generically. JOIN has no
// round_id yet (lobby phase); every other message type requires one.
func extractRoundID(env Envelope) (string, bool) {
	if env.Type == TypeJoin {
		return "", true
	}
	var withRound struct {
		RoundID string `json:"round_id"`
	}
	if err := json.Unmarshal(env.Payload, &withRound); err != nil {
		return "", false
	}
	if withRound.RoundID == "" {
		return "", false
	}
	return withRound.RoundID, true
}
