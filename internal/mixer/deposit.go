package mixer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"kasmix/internal/chainadapter"
	"kasmix/internal/config"
	"kasmix/internal/scheduler"
	"kasmix/internal/store"
	"kasmix/internal/txbuild"
	"kasmix/internal/walletkeys"
)

// TickDeposits runs one pass of the deposit watcher (§4.2): it advances
// every waiting session whose deposit has arrived, then attempts the
// sweep-to-intermediate transfer for every session already marked
// deposit_received (covering both a fresh transition and a resumed one
// after a prior sweep attempt failed transiently).
func (e *Engine) TickDeposits(ctx context.Context) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	waiting, err := e.store.ListMixingSessionsByStatus(store.MixingWaiting)
	if err != nil {
		return fmt.Errorf("list waiting mixing sessions: %w", err)
	}
	for _, session := range waiting {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		e.detectDeposit(ctx, session)
	}

	depositReceived, err := e.store.ListMixingSessionsByStatus(store.MixingDepositReceived)
	if err != nil {
		return fmt.Errorf("list deposit_received mixing sessions: %w", err)
	}
	for _, session := range depositReceived {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		e.sweepToIntermediate(ctx, session)
	}

	return nil
}

// detectDeposit implements §4.2 deposit watcher steps 1-2.
func (e *Engine) detectDeposit(ctx context.Context, session store.MixingSession) {
	utxos, err := e.chain.GetUTXOs(ctx, session.DepositAddress)
	if err != nil {
		slog.Warn("deposit watcher: failed to read deposit address utxos",
			"session_id", session.ID, "address", session.DepositAddress, "error", err)
		return
	}

	observed := sumUTXOs(utxos)
	if observed < session.Amount {
		return
	}

	session.DepositTxID = chooseEarliestTxID(utxos)
	session.Status = store.MixingDepositReceived
	session.Error = ""
	session.UpdatedAt = time.Now().UTC()

	if err := e.store.PutMixingSession(&session); err != nil {
		slog.Error("deposit watcher: failed to persist deposit_received transition",
			"session_id", session.ID, "error", err)
		return
	}
	slog.Info("mixing session deposit observed",
		"session_id", session.ID, "observed", observed, "required", session.Amount)
}

// sweepToIntermediate implements §4.2 deposit watcher step 3: sweep the
// entire deposit-address balance to the intermediate address.
func (e *Engine) sweepToIntermediate(ctx context.Context, session store.MixingSession) {
	utxos, err := e.chain.GetUTXOs(ctx, session.DepositAddress)
	if err != nil {
		e.recordMixingFailure(session, fmt.Errorf("sweep: read deposit utxos: %w", err))
		return
	}
	total := sumUTXOs(utxos)
	if total < session.Amount {
		// Funds moved out from under us (or a stale read); wait for the
		// next tick rather than submitting a short sweep.
		return
	}

	feeEstimate, err := e.chain.EstimateFeeRate(ctx)
	if err != nil {
		e.recordMixingFailure(session, fmt.Errorf("sweep: estimate fee rate: %w", err))
		return
	}
	feeRate := feeEstimate.Rate(chainadapter.FeeTierNormal)
	fee := store.Sompi(txbuild.EstimateFee(len(utxos), 1, feeRate))
	if total <= fee {
		e.recordMixingFailure(session, fmt.Errorf("sweep: deposit balance %d does not cover fee %d", total, fee))
		return
	}

	unsigned := txbuild.Unsigned{
		Outputs: []txbuild.Output{{Address: session.IntermediateAddress, Amount: uint64(total - fee)}},
	}
	for _, u := range utxos {
		unsigned.Inputs = append(unsigned.Inputs, txbuild.Input{
			TxID: u.Outpoint.TxID, OutputIndex: u.Outpoint.OutputIndex, Amount: u.Amount,
		})
	}
	txbuild.SortInputs(unsigned.Inputs)

	depositKey, err := walletkeys.ImportPrivateKeyHex(session.DepositPrivateKeyHex, e.network)
	if err != nil {
		e.recordMixingFailure(session, fmt.Errorf("sweep: import deposit key: %w", err))
		return
	}
	defer walletkeys.Zeroize(depositKey)

	signed := txbuild.Signed{Unsigned: unsigned, SignatureScripts: make(map[int]string, len(unsigned.Inputs))}
	for i := range unsigned.Inputs {
		sig, err := txbuild.SignInput(unsigned, depositKey.PrivateKey)
		if err != nil {
			e.recordMixingFailure(session, fmt.Errorf("sweep: sign input %d: %w", i, err))
			return
		}
		signed.SignatureScripts[i] = sig
	}

	signedHex, err := txbuild.EncodeSignedHex(signed)
	if err != nil {
		e.recordMixingFailure(session, fmt.Errorf("sweep: encode signed tx: %w", err))
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
		e.recordMixingFailure(session, fmt.Errorf("sweep: submit transaction: %w", err))
		return
	}

	session.IntermediateTxID = txID
	session.Status = store.MixingSentToIntermediate
	session.Error = ""
	session.UpdatedAt = time.Now().UTC()
	if err := e.store.PutMixingSession(&session); err != nil {
		slog.Error("deposit watcher: failed to persist sent_to_intermediate transition",
			"session_id", session.ID, "error", err)
		return
	}
	slog.Info("mixing session swept to intermediate", "session_id", session.ID, "tx_id", txID)
}

// recordMixingFailure implements §4.2's failure recovery rule: a
// SequenceLock is retry-worthy and deferred silently; any other error
// leaves the session in its current state with error set, available for
// manual retry through the Control Surface.
func (e *Engine) recordMixingFailure(session store.MixingSession, err error) {
	if errIsSequenceLock(err) {
		slog.Debug("mixer: sequence lock, deferring to next tick", "session_id", session.ID, "error", err)
		return
	}

	session.Error = err.Error()
	session.UpdatedAt = time.Now().UTC()
	if putErr := e.store.PutMixingSession(&session); putErr != nil {
		slog.Error("mixer: failed to persist error state", "session_id", session.ID, "error", putErr)
		return
	}
	slog.Warn("mixer: session left in current state with error set", "session_id", session.ID, "error", err)
}

func errIsSequenceLock(err error) bool {
	return errors.Is(err, config.ErrSequenceLock)
}
