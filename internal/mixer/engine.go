// Package mixer implements the multi-hop mixing session state machine
// (§4.2): deposit → intermediate → payout, each hop built and signed
// locally and submitted through the Chain Adapter. The engine holds no
// goroutine per session; two cooperative tick methods walk every session
// in the relevant status on each Scheduler invocation.
package mixer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kasmix/internal/chainadapter"
	"kasmix/internal/config"
	"kasmix/internal/store"
	"kasmix/internal/walletkeys"
)

// Engine owns the mixer state machine. It reads and writes sessions
// through Store and moves sompi through Chain; it never retains a
// decrypted private key outside the scope of a single tick.
type Engine struct {
	store             *store.Store
	chain             chainadapter.Adapter
	network           string
	intermediateDelay time.Duration
}

// New creates a mixer Engine bound to a session store and a chain adapter.
// network selects the address prefix used for generated session keypairs
// ("mainnet" or "testnet"). intermediateDelay is the fixed per-session hold
// applied once the intermediate hop confirms (§4.2); a zero value falls
// back to config.IntermediateDelayDefault.
func New(st *store.Store, chain chainadapter.Adapter, network string, intermediateDelay time.Duration) *Engine {
	if intermediateDelay == 0 {
		intermediateDelay = config.IntermediateDelayDefault
	}
	return &Engine{store: st, chain: chain, network: network, intermediateDelay: intermediateDelay}
}

// Create opens a new mixing session: generates fresh deposit and
// intermediate keypairs, validates the destination list, and persists the
// session in the waiting state.
func (e *Engine) Create(destinations []store.Destination) (*store.MixingSession, error) {
	if len(destinations) == 0 {
		return nil, fmt.Errorf("%w: mixing session requires at least one destination", config.ErrInputValidation)
	}

	var total store.Sompi
	for _, d := range destinations {
		if d.Address == "" {
			return nil, fmt.Errorf("%w: destination address must not be empty", config.ErrInputValidation)
		}
		if d.Amount == 0 {
			return nil, fmt.Errorf("%w: destination amount must be positive", config.ErrInputValidation)
		}
		total += d.Amount
	}

	deposit, err := walletkeys.Generate(e.network)
	if err != nil {
		return nil, fmt.Errorf("generate deposit keypair: %w", err)
	}
	intermediate, err := walletkeys.Generate(e.network)
	if err != nil {
		return nil, fmt.Errorf("generate intermediate keypair: %w", err)
	}

	now := time.Now().UTC()
	session := &store.MixingSession{
		SchemaVersion:             store.CurrentSchemaVersion,
		ID:                        uuid.New().String(),
		Destinations:              destinations,
		Amount:                    total,
		DepositAddress:            deposit.Address,
		DepositPrivateKeyHex:      walletkeys.ExportPrivateKeyHex(deposit),
		IntermediateAddress:       intermediate.Address,
		IntermediatePrivateKeyHex: walletkeys.ExportPrivateKeyHex(intermediate),
		Status:                    store.MixingWaiting,
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}

	if err := e.store.PutMixingSession(session); err != nil {
		return nil, fmt.Errorf("persist new mixing session: %w", err)
	}
	walletkeys.Zeroize(deposit)
	walletkeys.Zeroize(intermediate)

	return session, nil
}

// Get returns a session with private keys intact, for export_keys and
// retry flows that need to sign.
func (e *Engine) Get(id string) (*store.MixingSession, error) {
	return e.store.GetMixingSession(id)
}

// List returns every session with private keys redacted.
func (e *Engine) List() ([]store.MixingSession, error) {
	return e.store.ListMixingSessions()
}

// Delete removes a session permanently.
func (e *Engine) Delete(id string) error {
	return e.store.DeleteMixingSession(id)
}

// chooseEarliestTxID returns the tx id of the UTXO with the lowest block
// DAA score, approximating "earliest contributing tx" (§4.2 step 2) since
// the Chain Adapter does not expose a richer ordering primitive.
func chooseEarliestTxID(utxos []chainadapter.UTXO) string {
	if len(utxos) == 0 {
		return ""
	}
	earliest := utxos[0]
	for _, u := range utxos[1:] {
		if u.BlockDAAScore < earliest.BlockDAAScore {
			earliest = u
		}
	}
	return earliest.Outpoint.TxID
}

func sumUTXOs(utxos []chainadapter.UTXO) store.Sompi {
	var total store.Sompi
	for _, u := range utxos {
		total += store.Sompi(u.Amount)
	}
	return total
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
