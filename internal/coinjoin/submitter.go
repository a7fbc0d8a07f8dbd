package coinjoin

import (
	"context"
	"fmt"
	"time"

	"kasmix/internal/config"
	"kasmix/internal/scheduler"
	"kasmix/internal/store"
	"kasmix/internal/txbuild"
)

// Submit assembles the fully-signed transaction for roundID and broadcasts
// it (§4.4.6). Every session in the round is marked completed with the
// shared payout tx id on success, or failed on rejection; either way the
// round's in-memory state is dropped afterward since nothing in it survives
// a finished round.
func (e *Engine) Submit(ctx context.Context, roundID string) (string, error) {
	e.mu.Lock()
	rs, ok := e.rounds[roundID]
	if !ok || rs.descriptor == nil {
		e.mu.Unlock()
		return "", fmt.Errorf("%w: round %s has no assembled descriptor", config.ErrInputValidation, roundID)
	}
	descriptor := rs.descriptor
	if len(rs.signatures) != len(descriptor.Unsigned.Inputs) {
		e.mu.Unlock()
		return "", fmt.Errorf("%w: round %s has %d of %d inputs signed", config.ErrInputValidation, roundID, len(rs.signatures), len(descriptor.Unsigned.Inputs))
	}
	scripts := make(map[int]string, len(rs.signatures))
	for idx, sig := range rs.signatures {
		scripts[idx] = sig
	}
	e.mu.Unlock()

	signed := txbuild.Signed{Unsigned: descriptor.Unsigned, SignatureScripts: scripts}
	signedHex, err := txbuild.EncodeSignedHex(signed)
	if err != nil {
		return "", fmt.Errorf("encode signed round transaction: %w", err)
	}

	var txID string
	err = scheduler.WithRetry(ctx, func(ctx context.Context) error {
		id, err := e.chain.SubmitTransaction(ctx, signedHex)
		if err != nil {
			return err
		}
		txID = id
		return nil
	})
	if err != nil {
		_ = e.failRound(roundID, err)
		return "", fmt.Errorf("%w: %v", config.ErrMempoolReject, err)
	}

	if err := e.completeRound(roundID, txID); err != nil {
		return "", err
	}

	e.mu.Lock()
	delete(e.rounds, roundID)
	e.mu.Unlock()

	return txID, nil
}

// completeRound marks every session in roundID completed and wipes their
// one-click-reveal fields (§4.4.8).
func (e *Engine) completeRound(roundID, txID string) error {
	sessions, err := e.store.ListCoinJoinSessionsByRound(roundID)
	if err != nil {
		return fmt.Errorf("list sessions for round %s: %w", roundID, err)
	}
	now := time.Now().UTC()
	for _, s := range sessions {
		sCopy := s
		sCopy.Status = store.CoinJoinCompleted
		sCopy.PayoutTxID = txID
		sCopy.Error = ""
		sCopy.UpdatedAt = now
		sCopy.WipeOneClickReveal()
		if err := e.store.PutCoinJoinSession(&sCopy); err != nil {
			return fmt.Errorf("persist completed session %s: %w", s.ID, err)
		}
	}
	return nil
}

// failRound marks every session in roundID failed after a submission
// rejection. A round-wide failure is the only outcome once broadcast is
// attempted: partial failure would leave participants with an ambiguous
// view of whether their funds moved.
func (e *Engine) failRound(roundID string, cause error) error {
	sessions, err := e.store.ListCoinJoinSessionsByRound(roundID)
	if err != nil {
		return fmt.Errorf("list sessions for round %s: %w", roundID, err)
	}
	for _, s := range sessions {
		sCopy := s
		_ = e.failSession(&sCopy, fmt.Errorf("round submission failed: %w", cause))
	}
	e.mu.Lock()
	delete(e.rounds, roundID)
	e.mu.Unlock()
	return nil
}
