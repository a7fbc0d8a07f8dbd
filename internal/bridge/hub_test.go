package bridge

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelopeFor(t *testing.T, msgType MessageType, payload any) Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return Envelope{Type: msgType, Payload: raw}
}

func TestAccept_RejectsRevealAfterSigShare(t *testing.T) {
	h := NewHub()

	err := h.Accept("round-1", envelopeFor(t, TypeReveal, RevealPayload{RoundID: "round-1", DestinationAddress: "addr"}))
	require.NoError(t, err)

	err = h.Accept("round-1", envelopeFor(t, TypeSigShare, SigSharePayload{RoundID: "round-1"}))
	assert.NoError(t, err)

	err = h.Accept("round-1", envelopeFor(t, TypeReveal, RevealPayload{RoundID: "round-1", DestinationAddress: "addr2"}))
	assert.Error(t, err)
}

func TestAccept_RejectsSigShareAfterSubmitted(t *testing.T) {
	h := NewHub()

	err := h.Accept("round-2", envelopeFor(t, TypeReveal, RevealPayload{RoundID: "round-2"}))
	require.NoError(t, err)

	err = h.Accept("round-2", envelopeFor(t, TypeSubmitted, SubmittedPayload{RoundID: "round-2", TxID: "tx-1"}))
	require.NoError(t, err)

	err = h.Accept("round-2", envelopeFor(t, TypeSigShare, SigSharePayload{RoundID: "round-2"}))
	assert.Error(t, err)
}

func TestAccept_UnknownMessageTypeRejected(t *testing.T) {
	h := NewHub()
	err := h.Accept("round-3", Envelope{Type: "BOGUS"})
	assert.Error(t, err)
}

func TestSweepIdleRounds_AbortsOnlyStaleRounds(t *testing.T) {
	h := NewHub()
	require.NoError(t, h.Accept("fresh-round", envelopeFor(t, TypeReveal, RevealPayload{RoundID: "fresh-round"})))

	// A round whose lastAdvance is its zero value is always older than the
	// idle cutoff, simulating one that has gone stale.
	h.mu.Lock()
	h.rounds["stale-round"] = &roundHub{clients: make(map[*websocket.Conn]bool)}
	h.mu.Unlock()

	stale := h.SweepIdleRounds()
	assert.Equal(t, []string{"stale-round"}, stale)

	h.mu.Lock()
	_, freshStillPresent := h.rounds["fresh-round"]
	_, staleStillPresent := h.rounds["stale-round"]
	h.mu.Unlock()
	assert.True(t, freshStillPresent)
	assert.False(t, staleStillPresent)
}

func TestSweepStalledSignaturePhase_AbortsOnlyRoundsStuckSigning(t *testing.T) {
	h := NewHub()
	require.NoError(t, h.Accept("signing-round", envelopeFor(t, TypeReveal, RevealPayload{RoundID: "signing-round"})))
	require.NoError(t, h.Accept("signing-round", envelopeFor(t, TypeSigShare, SigSharePayload{RoundID: "signing-round"})))

	h.mu.Lock()
	h.rounds["signing-round"].phaseSince = time.Time{} // simulate having sat in sig_share phase since the beginning of time
	h.rounds["revealing-round"] = &roundHub{clients: make(map[*websocket.Conn]bool), phase: phaseReveal, phaseSince: time.Time{}}
	h.mu.Unlock()

	stalled := h.SweepStalledSignaturePhase()
	assert.Equal(t, []string{"signing-round"}, stalled)

	h.mu.Lock()
	_, signingStillPresent := h.rounds["signing-round"]
	_, revealingStillPresent := h.rounds["revealing-round"]
	h.mu.Unlock()
	assert.False(t, signingStillPresent)
	assert.True(t, revealingStillPresent)
}
