package coinjoin

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"kasmix/internal/config"
	"kasmix/internal/store"
	"kasmix/internal/txbuild"
)

// SubmitSignatureShares verifies and records a participant's signature share
// against roundID's descriptor (§4.4.5). Every input in the share is
// verified independently and concurrently: a bad signature on one input
// never blocks verification of the others. Shares are rejected outright if
// any input they claim already has a recorded signature from a different
// session (no overwriting another participant's share).
func (e *Engine) SubmitSignatureShares(ctx context.Context, roundID string, share *SignatureShare) error {
	e.mu.Lock()
	rs, ok := e.rounds[roundID]
	if !ok || rs.descriptor == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: round %s has no assembled descriptor", config.ErrInputValidation, roundID)
	}
	descriptor := rs.descriptor
	e.mu.Unlock()

	if share == nil || len(share.Scripts) == 0 {
		return fmt.Errorf("%w: empty signature share", config.ErrInputValidation)
	}

	for idx := range share.Scripts {
		if idx < 0 || idx >= len(descriptor.InputOwners) {
			return fmt.Errorf("%w: signature share references out-of-range input %d", config.ErrInputValidation, idx)
		}
		if descriptor.InputOwners[idx] != share.SessionID {
			return fmt.Errorf("%w: session %s does not own input %d", config.ErrSignatureRejected, share.SessionID, idx)
		}
	}

	group, _ := errgroup.WithContext(ctx)
	for idx, sigScript := range share.Scripts {
		idx, sigScript := idx, sigScript
		group.Go(func() error {
			return verifyShareInput(descriptor.Unsigned, idx, sigScript)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	rs, ok = e.rounds[roundID]
	if !ok || rs.descriptor == nil {
		return fmt.Errorf("%w: round %s has no assembled descriptor", config.ErrInputValidation, roundID)
	}
	for idx, sigScript := range share.Scripts {
		if existing, claimed := rs.signedBy[idx]; claimed && existing != share.SessionID {
			return fmt.Errorf("%w: input %d already signed by a different session", config.ErrSignatureRejected, idx)
		}
		rs.signatures[idx] = sigScript
		rs.signedBy[idx] = share.SessionID
	}

	if len(rs.signatures) == len(rs.descriptor.Unsigned.Inputs) {
		if err := e.markSigned(roundID); err != nil {
			return err
		}
	}
	return nil
}

func verifyShareInput(unsigned txbuild.Unsigned, idx int, sigScriptHex string) error {
	if idx >= len(unsigned.Inputs) {
		return fmt.Errorf("%w: input index %d out of range", config.ErrSignatureRejected, idx)
	}
	pub, err := txbuild.ExtractPubKey(sigScriptHex)
	if err != nil {
		return fmt.Errorf("%w: extract public key for input %d: %v", config.ErrSignatureRejected, idx, err)
	}
	ok, err := txbuild.VerifyInputSignature(unsigned, sigScriptHex, pub)
	if err != nil {
		return fmt.Errorf("%w: verify signature for input %d: %v", config.ErrSignatureRejected, idx, err)
	}
	if !ok {
		return fmt.Errorf("%w: signature for input %d does not verify", config.ErrSignatureRejected, idx)
	}
	return nil
}

// markSigned must be called with e.mu held. It flips every session in the
// round to signed once all inputs carry a verified signature.
func (e *Engine) markSigned(roundID string) error {
	sessions, err := e.store.ListCoinJoinSessionsByRound(roundID)
	if err != nil {
		return fmt.Errorf("list sessions for round %s: %w", roundID, err)
	}
	now := time.Now().UTC()
	for _, s := range sessions {
		sCopy := s
		sCopy.Status = store.CoinJoinSigned
		sCopy.UpdatedAt = now
		if err := e.store.PutCoinJoinSession(&sCopy); err != nil {
			return fmt.Errorf("persist signed session %s: %w", s.ID, err)
		}
	}
	return nil
}
