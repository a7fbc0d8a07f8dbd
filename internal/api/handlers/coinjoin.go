package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kasmix/internal/coinjoin"
	"kasmix/internal/control"
	"kasmix/internal/store"
)

type createCoinJoinRequest struct {
	Amount      uint64                    `json:"amount,string"`
	Destination string                    `json:"destination"`
	UTXOs       []revealedOutpointPayload `json:"utxos"`
}

type revealedOutpointPayload struct {
	TxID   string `json:"tx_id"`
	Index  uint32 `json:"index"`
	Amount uint64 `json:"amount,string"`
}

// CreateCoinJoin handles POST /api/coinjoin.
func CreateCoinJoin(surface *control.Surface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createCoinJoinRequest
		if err := decodeJSON(r, &req); err != nil {
			slog.Warn("create_coinjoin: malformed request body", "error", err)
			writeResult(w, control.Err(errInvalidBody))
			return
		}
		utxos := toRevealedOutpoints(req.UTXOs)
		writeResult(w, surface.CreateCoinJoin(store.Sompi(req.Amount), req.Destination, utxos))
	}
}

// ListCoinJoinSessions handles GET /api/coinjoin.
func ListCoinJoinSessions(surface *control.Surface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, surface.ListCoinJoinSessions())
	}
}

// GetCoinJoinSession handles GET /api/coinjoin/{id}.
func GetCoinJoinSession(surface *control.Surface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		writeResult(w, surface.GetCoinJoinSession(id))
	}
}

// DeleteCoinJoinSession handles DELETE /api/coinjoin/{id}.
func DeleteCoinJoinSession(surface *control.Surface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		writeResult(w, surface.DeleteCoinJoinSession(id))
	}
}

// RevealCoinJoin handles POST /api/coinjoin/{id}/reveal.
func RevealCoinJoin(surface *control.Surface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		writeResult(w, surface.Reveal(id))
	}
}

// BuildRound handles POST /api/coinjoin/rounds/{roundID}/build.
func BuildRound(surface *control.Surface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roundID := chi.URLParam(r, "roundID")
		writeResult(w, surface.Build(r.Context(), roundID))
	}
}

type signRoundRequest struct {
	SessionID      string               `json:"session_id"`
	ExpectedTxHash string               `json:"expected_tx_hash"`
	PrivateKeyHex  string               `json:"private_key_hex"`
	Descriptor     *coinjoin.Descriptor `json:"descriptor"`
}

// SignRound handles POST /api/coinjoin/rounds/{roundID}/sign. The caller
// supplies the descriptor it received from /build along with a private key
// held locally; the daemon never stores or brokers that key beyond the
// scope of this one call (§4.6).
func SignRound(surface *control.Surface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roundID := chi.URLParam(r, "roundID")
		var req signRoundRequest
		if err := decodeJSON(r, &req); err != nil {
			slog.Warn("sign: malformed request body", "error", err)
			writeResult(w, control.Err(errInvalidBody))
			return
		}
		writeResult(w, surface.Sign(roundID, req.SessionID, req.ExpectedTxHash, req.PrivateKeyHex, req.Descriptor))
	}
}

// SubmitSignatureShares handles POST /api/coinjoin/rounds/{roundID}/signatures.
func SubmitSignatureShares(surface *control.Surface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roundID := chi.URLParam(r, "roundID")
		var share coinjoin.SignatureShare
		if err := decodeJSON(r, &share); err != nil {
			slog.Warn("submit_signature_shares: malformed request body", "error", err)
			writeResult(w, control.Err(errInvalidBody))
			return
		}
		writeResult(w, surface.SubmitSignatureShares(r.Context(), roundID, &share))
	}
}

// SubmitRound handles POST /api/coinjoin/rounds/{roundID}/submit.
func SubmitRound(surface *control.Surface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roundID := chi.URLParam(r, "roundID")
		writeResult(w, surface.Submit(r.Context(), roundID))
	}
}

// Stats handles GET /api/stats.
func Stats(surface *control.Surface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, surface.Stats())
	}
}
