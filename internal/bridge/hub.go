// Package bridge implements the Coordinator Bridge (§4.5): a relay, not an
// oracle. It groups commitments by amount, fans out reveal/signature/final
// messages within a round, and enforces message ordering by phase tag. It
// never holds a private key, a salt, an unpublished destination, or an
// unpublished UTXO — those travel only inside REVEAL and SIG_SHARE payloads
// between participants, never parsed for their own sake by the hub.
package bridge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"kasmix/internal/config"
)

// roundHub tracks one round's connected clients and ordering state.
type roundHub struct {
	clients     map[*websocket.Conn]bool
	phase       int
	lastAdvance time.Time
	phaseSince  time.Time // when phase last actually changed, for the per-phase stall timer
}

// Hub fans out Bridge messages to every client subscribed to a round. Lobby
// traffic (JOIN, before a round_id is assigned) goes to the lobby group;
// everything else is grouped by round_id.
type Hub struct {
	mu     sync.Mutex
	lobby  map[*websocket.Conn]bool
	rounds map[string]*roundHub

	broadcast chan outboundMessage
}

type outboundMessage struct {
	roundID string // "" means lobby
	data    []byte
}

// NewHub creates an empty Hub. Call Run in its own goroutine before serving
// connections.
func NewHub() *Hub {
	return &Hub{
		lobby:     make(map[*websocket.Conn]bool),
		rounds:    make(map[string]*roundHub),
		broadcast: make(chan outboundMessage, config.BridgeHubChannelBuffer),
	}
}

// Run delivers queued broadcasts to their group's clients until stop is
// closed.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg outboundMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var targets map[*websocket.Conn]bool
	if msg.roundID == "" {
		targets = h.lobby
	} else if rh, ok := h.rounds[msg.roundID]; ok {
		targets = rh.clients
	}

	for conn := range targets {
		_ = conn.SetWriteDeadline(time.Now().Add(config.BridgeWriteDeadline))
		if err := conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
			slog.Warn("bridge: write failed, dropping client", "round_id", msg.roundID, "error", err)
			conn.Close()
			delete(targets, conn)
		}
	}
}

// JoinLobby registers conn to receive lobby broadcasts (JOIN fan-out before
// a round forms).
func (h *Hub) JoinLobby(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lobby[conn] = true
}

// JoinRound moves conn into roundID's group, creating the group if needed.
func (h *Hub) JoinRound(conn *websocket.Conn, roundID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.lobby, conn)
	rh, ok := h.rounds[roundID]
	if !ok {
		rh = &roundHub{clients: make(map[*websocket.Conn]bool), lastAdvance: time.Now().UTC()}
		h.rounds[roundID] = rh
	}
	rh.clients[conn] = true
}

// Leave removes conn from every group it belongs to.
func (h *Hub) Leave(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.lobby, conn)
	for _, rh := range h.rounds {
		delete(rh.clients, conn)
	}
}

// Accept validates env against roundID's current phase (§4.5 ordering
// rule), advances the phase on success, and queues the broadcast. Rejects
// messages whose phase has already passed.
func (h *Hub) Accept(roundID string, env Envelope) error {
	phase := env.Type.phase()
	if phase < 0 {
		return fmt.Errorf("bridge: unknown message type %q", env.Type)
	}

	if roundID != "" {
		h.mu.Lock()
		rh, ok := h.rounds[roundID]
		if !ok {
			rh = &roundHub{clients: make(map[*websocket.Conn]bool)}
			h.rounds[roundID] = rh
		}
		if phase < rh.phase {
			h.mu.Unlock()
			return fmt.Errorf("bridge: message type %s is out of order for round %s (already past phase %d)", env.Type, roundID, rh.phase)
		}
		now := time.Now().UTC()
		if phase > rh.phase || rh.phaseSince.IsZero() {
			rh.phaseSince = now
		}
		rh.phase = phase
		rh.lastAdvance = now
		h.mu.Unlock()
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("bridge: encode envelope: %w", err)
	}
	h.broadcast <- outboundMessage{roundID: roundID, data: data}
	return nil
}

// SweepIdleRounds aborts and removes every round whose last message is
// older than config.RoundIdleTimeout (§4.5). Returns the round ids aborted.
func (h *Hub) SweepIdleRounds() []string {
	h.mu.Lock()
	cutoff := time.Now().UTC().Add(-config.RoundIdleTimeout)
	var stale []string
	for roundID, rh := range h.rounds {
		if rh.lastAdvance.Before(cutoff) {
			stale = append(stale, roundID)
		}
	}
	h.mu.Unlock()

	for _, roundID := range stale {
		h.abortRound(roundID, "idle_timeout")
	}
	return stale
}

// SweepStalledSignaturePhase aborts any round that has sat in the SIG_SHARE
// phase (waiting on every participant's signature share) longer than
// config.SignatureWaitTimeout. This is distinct from SweepIdleRounds' wider
// per-round idle window: a round can keep receiving SIG_SHARE traffic from
// nine participants while the tenth never shows up, which looks "active" to
// the idle timer but is still stuck (§4.5, §9). Returns the round ids
// aborted.
func (h *Hub) SweepStalledSignaturePhase() []string {
	h.mu.Lock()
	cutoff := time.Now().UTC().Add(-config.SignatureWaitTimeout)
	var stalled []string
	for roundID, rh := range h.rounds {
		if rh.phase == phaseSigShare && rh.phaseSince.Before(cutoff) {
			stalled = append(stalled, roundID)
		}
	}
	h.mu.Unlock()

	for _, roundID := range stalled {
		h.abortRound(roundID, "signature_wait_timeout")
	}
	return stalled
}

func (h *Hub) abortRound(roundID, reason string) {
	payload, _ := json.Marshal(AbortPayload{RoundID: roundID, Reason: reason})
	env := Envelope{Type: TypeAbort, Payload: payload}
	data, err := json.Marshal(env)
	if err == nil {
		h.broadcast <- outboundMessage{roundID: roundID, data: data}
	}

	h.mu.Lock()
	delete(h.rounds, roundID)
	h.mu.Unlock()
	slog.Info("bridge: round aborted", "round_id", roundID, "reason", reason)
}
