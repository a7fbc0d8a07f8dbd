package coinjoin

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"kasmix/internal/config"
	"kasmix/internal/store"
)

// TickRounds runs one pass of round formation across every amount tier
// currently holding revealed sessions. It is the Scheduler-facing entry
// point; FormRound itself stays a pure, amount-scoped operation so it can
// also be driven directly from the Control Surface or tests.
func (e *Engine) TickRounds() error {
	amounts, err := e.store.ListDistinctRevealedAmounts()
	if err != nil {
		return fmt.Errorf("list distinct revealed amounts: %w", err)
	}
	for _, amount := range amounts {
		if _, err := e.FormRound(amount); err != nil {
			return fmt.Errorf("form round for amount %d: %w", amount, err)
		}
	}
	return nil
}

// FormRound groups revealed sessions sharing perParticipantAmount and, once
// at least config.ParticipantCountTarget are waiting, promotes the
// earliest-revealed batch of exactly that many into a new round (§4.4.2).
// Returns nil (no error) if fewer than the target are currently revealed —
// this is a normal, non-error outcome the caller should poll for.
func (e *Engine) FormRound(perParticipantAmount store.Sompi) ([]store.CoinJoinSession, error) {
	revealed, err := e.store.ListCoinJoinSessionsByAmount(perParticipantAmount, store.CoinJoinRevealed)
	if err != nil {
		return nil, fmt.Errorf("list revealed sessions for round formation: %w", err)
	}
	if len(revealed) < config.ParticipantCountTarget {
		return nil, nil
	}

	// ListCoinJoinSessionsByAmount already orders by created_at ascending;
	// any sessions beyond the target size form the start of the next round.
	batch := revealed[:config.ParticipantCountTarget]

	roundID := uuid.New().String()
	now := time.Now().UTC()
	for i := range batch {
		batch[i].RoundID = roundID
		batch[i].Status = store.CoinJoinBuilding
		batch[i].UpdatedAt = now
		if err := e.store.PutCoinJoinSession(&batch[i]); err != nil {
			return nil, fmt.Errorf("persist building transition for session %s: %w", batch[i].ID, err)
		}
	}
	return batch, nil
}
