package chainadapter

import (
	"context"
	"errors"
	"time"
)

// ErrTimedOut is returned by WaitForOutput when the timeout elapses with no
// matching output observed.
var ErrTimedOut = errors.New("timed out waiting for output")

// Adapter is the only surface in the system that talks to the node. Every
// other component depends on this interface, never on RPC types directly.
type Adapter interface {
	// GetUTXOs returns current confirmed plus mempool-visible outputs for address.
	GetUTXOs(ctx context.Context, address string) ([]UTXO, error)

	// GetBalance summarizes the UTXO set at address.
	GetBalance(ctx context.Context, address string) (Balance, error)

	// SubmitTransaction broadcasts a signed, hex-encoded raw transaction and
	// returns its id. Fails with config.ErrInsufficientBalance,
	// config.ErrMempoolReject, config.ErrSequenceLock,
	// config.ErrNodeUnreachable or config.ErrInvalidSignature.
	SubmitTransaction(ctx context.Context, signedTxHex string) (txID string, err error)

	// IsInMempool reports whether txID is currently visible in the mempool.
	IsInMempool(ctx context.Context, txID string) (bool, error)

	// WaitForOutput polls until the output at (txID, index) becomes visible,
	// the timeout elapses (ErrTimedOut), or ctx is cancelled.
	WaitForOutput(ctx context.Context, txID string, index uint32, timeout time.Duration) (UTXO, error)

	// SubscribeTip streams virtual-DAA-score tip updates until ctx is done.
	// The returned channel is closed when the subscription ends.
	SubscribeTip(ctx context.Context) (<-chan uint64, error)

	// EstimateFeeRate returns the node's current low/normal/high fee tiers
	// in sompi per byte.
	EstimateFeeRate(ctx context.Context) (FeeEstimate, error)

	// Ping performs a lightweight liveness check against the node, used for
	// the startup health check and the circuit breaker's half-open probe.
	Ping(ctx context.Context) error
}
