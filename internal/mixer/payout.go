package mixer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"kasmix/internal/chainadapter"
	"kasmix/internal/scheduler"
	"kasmix/internal/store"
	"kasmix/internal/txbuild"
	"kasmix/internal/walletkeys"
)

// TickIntermediates runs one pass of the intermediate watcher (§4.2): it
// confirms the sweep transaction and, once the per-session delay has
// elapsed, builds and submits the payout transaction to the user's
// destinations.
func (e *Engine) TickIntermediates(ctx context.Context) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	sentToIntermediate, err := e.store.ListMixingSessionsByStatus(store.MixingSentToIntermediate)
	if err != nil {
		return fmt.Errorf("list sent_to_intermediate mixing sessions: %w", err)
	}
	for _, session := range sentToIntermediate {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		e.confirmIntermediate(ctx, session)
	}

	confirmed, err := e.store.ListMixingSessionsByStatus(store.MixingIntermediateConfirm)
	if err != nil {
		return fmt.Errorf("list intermediate_confirmed mixing sessions: %w", err)
	}
	for _, session := range confirmed {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		e.dispatchPayout(ctx, session)
	}

	return nil
}

// confirmIntermediate implements §4.2 intermediate watcher step 1-2.
func (e *Engine) confirmIntermediate(ctx context.Context, session store.MixingSession) {
	inMempool, err := e.chain.IsInMempool(ctx, session.IntermediateTxID)
	if err != nil {
		slog.Warn("intermediate watcher: failed to check mempool",
			"session_id", session.ID, "tx_id", session.IntermediateTxID, "error", err)
		return
	}
	if inMempool {
		return
	}

	utxos, err := e.chain.GetUTXOs(ctx, session.IntermediateAddress)
	if err != nil {
		slog.Warn("intermediate watcher: failed to read intermediate address utxos",
			"session_id", session.ID, "error", err)
		return
	}
	if !hasOutpoint(utxos, session.IntermediateTxID, 0) {
		// Not yet visible as a confirmed output; wait for the next tick.
		return
	}

	session.IntermediateConfirmed = true
	session.IntermediateDelayUntil = time.Now().UTC().Add(e.intermediateDelay)
	session.Status = store.MixingIntermediateConfirm
	session.Error = ""
	session.UpdatedAt = time.Now().UTC()

	if err := e.store.PutMixingSession(&session); err != nil {
		slog.Error("intermediate watcher: failed to persist intermediate_confirmed transition",
			"session_id", session.ID, "error", err)
		return
	}
	slog.Info("mixing session intermediate confirmed",
		"session_id", session.ID, "delay_until", session.IntermediateDelayUntil)
}

// dispatchPayout implements §4.2 intermediate watcher step 3.
func (e *Engine) dispatchPayout(ctx context.Context, session store.MixingSession) {
	if time.Now().UTC().Before(session.IntermediateDelayUntil) {
		return
	}

	utxos, err := e.chain.GetUTXOs(ctx, session.IntermediateAddress)
	if err != nil {
		e.recordMixingFailure(session, fmt.Errorf("payout: read intermediate utxos: %w", err))
		return
	}
	source, ok := findOutpoint(utxos, session.IntermediateTxID, 0)
	if !ok {
		e.recordMixingFailure(session, fmt.Errorf("payout: intermediate output %s:0 not visible", session.IntermediateTxID))
		return
	}

	var destinationTotal store.Sompi
	unsigned := txbuild.Unsigned{
		Inputs: []txbuild.Input{{TxID: source.Outpoint.TxID, OutputIndex: source.Outpoint.OutputIndex, Amount: source.Amount}},
	}
	// Payout ordering rule (§4.2): destinations are never reordered.
	for _, d := range session.Destinations {
		unsigned.Outputs = append(unsigned.Outputs, txbuild.Output{Address: d.Address, Amount: uint64(d.Amount)})
		destinationTotal += d.Amount
	}
	if store.Sompi(source.Amount) < destinationTotal {
		e.recordMixingFailure(session, fmt.Errorf("payout: intermediate balance %d below destination total %d", source.Amount, destinationTotal))
		return
	}

	intermediateKey, err := walletkeys.ImportPrivateKeyHex(session.IntermediatePrivateKeyHex, e.network)
	if err != nil {
		e.recordMixingFailure(session, fmt.Errorf("payout: import intermediate key: %w", err))
		return
	}
	defer walletkeys.Zeroize(intermediateKey)

	sig, err := txbuild.SignInput(unsigned, intermediateKey.PrivateKey)
	if err != nil {
		e.recordMixingFailure(session, fmt.Errorf("payout: sign input: %w", err))
		return
	}
	signed := txbuild.Signed{Unsigned: unsigned, SignatureScripts: map[int]string{0: sig}}

	signedHex, err := txbuild.EncodeSignedHex(signed)
	if err != nil {
		e.recordMixingFailure(session, fmt.Errorf("payout: encode signed tx: %w", err))
		return
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
		e.recordMixingFailure(session, fmt.Errorf("payout: submit transaction: %w", err))
		return
	}

	session.PayoutTxIDs = append(session.PayoutTxIDs, txID)
	session.Status = store.MixingConfirmed
	session.Error = ""
	session.UpdatedAt = time.Now().UTC()
	if err := e.store.PutMixingSession(&session); err != nil {
		slog.Error("intermediate watcher: failed to persist confirmed transition",
			"session_id", session.ID, "error", err)
		return
	}
	slog.Info("mixing session payout submitted", "session_id", session.ID, "tx_id", txID)
}

func hasOutpoint(utxos []chainadapter.UTXO, txID string, index uint32) bool {
	_, ok := findOutpoint(utxos, txID, index)
	return ok
}

func findOutpoint(utxos []chainadapter.UTXO, txID string, index uint32) (chainadapter.UTXO, bool) {
	for _, u := range utxos {
		if u.Outpoint.TxID == txID && u.Outpoint.OutputIndex == index {
			return u, true
		}
	}
	return chainadapter.UTXO{}, false
}
