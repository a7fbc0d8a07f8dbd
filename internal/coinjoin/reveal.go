package coinjoin

import (
	"encoding/hex"
	"fmt"
	"time"

	"kasmix/internal/config"
	"kasmix/internal/store"
)

// Reveal publishes a committed session's destination, salt, and UTXO list
// using the data stored at commit time (§4.4.8's one-click reveal is the
// only reveal path this engine exposes). It recomputes the commitment and
// rejects the reveal if anything fails the checks in §4.4.3.
func (e *Engine) Reveal(id string) (*store.CoinJoinSession, error) {
	session, err := e.store.GetCoinJoinSession(id)
	if err != nil {
		return nil, err
	}
	if session.Status == store.CoinJoinRevealed {
		// Idempotent: a second reveal of an already-revealed session is a
		// no-op success, not an error (§8 "Idempotent reveal").
		return session, nil
	}
	if session.Status != store.CoinJoinCommitted {
		return nil, fmt.Errorf("%w: session %s is not in committed state (status=%s)", config.ErrInputValidation, id, session.Status)
	}
	if session.OriginalUTXOs == nil || session.OriginalDestination == "" || session.Salt == "" {
		return nil, fmt.Errorf("%w: session %s has no stored reveal data", config.ErrInputValidation, id)
	}

	salt, err := hex.DecodeString(session.Salt)
	if err != nil {
		return nil, e.failSession(session, fmt.Errorf("decode stored salt: %w", err))
	}

	destHash := ComputeDestHash(session.OriginalDestination, salt)
	if destHash != session.DestinationHash {
		return nil, e.failSession(session, fmt.Errorf("%w: recomputed destination hash mismatch", config.ErrCommitmentMismatch))
	}

	utxoDigest := ComputeUTXODigest(session.OriginalUTXOs)
	commitment := ComputeCommitment(destHash, utxoDigest, session.PerParticipantAmount)
	if commitment != session.Commitment {
		return nil, e.failSession(session, fmt.Errorf("%w: recomputed commitment does not match published value", config.ErrCommitmentMismatch))
	}

	if sumRevealedOutpoints(session.OriginalUTXOs) != session.PerParticipantAmount {
		return nil, e.failSession(session, fmt.Errorf("%w: revealed utxo total does not equal per-participant amount", config.ErrUnequalContribution))
	}

	concurrent, err := e.store.ListCoinJoinSessionsByAmount(session.PerParticipantAmount, store.CoinJoinRevealed)
	if err != nil {
		return nil, fmt.Errorf("list concurrently revealing sessions: %w", err)
	}
	for _, other := range concurrent {
		if other.ID == session.ID {
			continue
		}
		if outpointsOverlap(session.OriginalUTXOs, other.RevealedUTXOs) {
			return nil, e.failSession(session, fmt.Errorf("%w: revealed outpoint already claimed by session %s", config.ErrInputValidation, other.ID))
		}
	}

	session.RevealedUTXOs = session.OriginalUTXOs
	session.DestinationAddress = session.OriginalDestination
	session.Status = store.CoinJoinRevealed
	session.Error = ""
	session.UpdatedAt = time.Now().UTC()

	if err := e.store.PutCoinJoinSession(session); err != nil {
		return nil, fmt.Errorf("persist revealed session %s: %w", id, err)
	}
	return session, nil
}
