// Package utxo produces, on demand, a UTXO at the caller's own address
// whose amount is exactly a requested value, while never returning a UTXO
// already committed to another CoinJoin session (§4.3).
package utxo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"kasmix/internal/chainadapter"
	"kasmix/internal/config"
)

// Outpoint key format matches store.AllCoinJoinOutpoints: "txid:index".
func outpointKey(txID string, index uint32) string {
	return fmt.Sprintf("%s:%d", txID, index)
}

// SessionSource supplies the set of outpoints already bound to prior
// CoinJoin sessions, including completed ones (§3 invariant).
type SessionSource interface {
	AllCoinJoinOutpoints() (map[string]struct{}, error)
}

// Signer produces a self-send transaction that pays target sompi from
// address back to address, producing an output at index 0 of that exact
// amount. The signing key belongs to whichever caller owns address; the
// Service never holds it.
type Signer func(address string, target uint64) (signedTxHex string, err error)

// Service implements the exact-amount UTXO helper layer.
type Service struct {
	chain  chainadapter.Adapter
	source SessionSource

	mu     sync.Mutex
	locked map[string]string // outpoint key -> owning session id, insert-only for a session's lifetime

	selfSendMu sync.Mutex
	selfSends  map[selfSendKey]string
}

// New creates a UTXO Service bound to a chain adapter and the session
// source used to compute the global exclude set.
func New(chain chainadapter.Adapter, source SessionSource) *Service {
	return &Service{
		chain:     chain,
		source:    source,
		locked:    make(map[string]string),
		selfSends: make(map[selfSendKey]string),
	}
}

// ExcludeSet computes the current global exclude set: every outpoint
// referenced by any CoinJoin session (including completed) plus every
// outpoint this process has locked in memory for a still-active session.
func (s *Service) ExcludeSet() (map[string]struct{}, error) {
	set, err := s.source.AllCoinJoinOutpoints()
	if err != nil {
		return nil, fmt.Errorf("compute exclude set: %w", err)
	}

	s.mu.Lock()
	for k := range s.locked {
		set[k] = struct{}{}
	}
	s.mu.Unlock()

	return set, nil
}

// Lock records that outpoint is now referenced by sessionID. Insert-only:
// it is never removed except via Unlock.
func (s *Service) Lock(txID string, index uint32, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked[outpointKey(txID, index)] = sessionID
}

// Unlock releases a previously locked outpoint, making it eligible for
// reuse. No session state transition calls it.
func (s *Service) Unlock(txID string, index uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locked, outpointKey(txID, index))
}

// HasMatching reports whether address currently holds a UTXO of exactly
// target sompi that is not present in exclude.
func (s *Service) HasMatching(ctx context.Context, address string, target uint64, exclude map[string]struct{}) (bool, error) {
	utxos, err := s.chain.GetUTXOs(ctx, address)
	if err != nil {
		return false, fmt.Errorf("has_matching: fetch utxos for %s: %w", address, err)
	}
	for _, u := range utxos {
		if u.Amount != target {
			continue
		}
		if _, excluded := exclude[outpointKey(u.Outpoint.TxID, u.Outpoint.OutputIndex)]; excluded {
			continue
		}
		return true, nil
	}
	return false, nil
}

// CreateResult is the outcome of CreateMatching.
type CreateResult struct {
	TxID             string
	Created          bool
	AlreadyInMempool bool
}

// selfSendKey keys Service.selfSends, which records per (address, target)
// the tx id of a self-send already submitted, so a second CreateMatching
// call for the same pair doesn't double-submit while it is in the mempool.
type selfSendKey struct {
	address string
	target  uint64
}

// CreateMatching issues a self-send of target sompi from address to
// address, producing an output at index 0 of exactly that amount. If a
// local self-send for the same (address, target) is already in the
// mempool, it returns the prior id instead of submitting a duplicate.
func (s *Service) CreateMatching(ctx context.Context, address string, target uint64, sign Signer) (CreateResult, error) {
	key := selfSendKey{address: address, target: target}

	s.selfSendMu.Lock()
	priorTxID, ok := s.selfSends[key]
	s.selfSendMu.Unlock()
	if ok {
		inMempool, err := s.chain.IsInMempool(ctx, priorTxID)
		if err == nil && inMempool {
			return CreateResult{TxID: priorTxID, Created: false, AlreadyInMempool: true}, nil
		}
	}

	signedTxHex, err := sign(address, target)
	if err != nil {
		return CreateResult{}, fmt.Errorf("%w: sign self-send for %s: %s", config.ErrUTXOCreationFailed, address, err)
	}

	txID, err := s.chain.SubmitTransaction(ctx, signedTxHex)
	if err != nil {
		return CreateResult{}, fmt.Errorf("%w: submit self-send for %s: %s", config.ErrUTXOCreationFailed, address, err)
	}

	s.selfSendMu.Lock()
	s.selfSends[key] = txID
	s.selfSendMu.Unlock()

	slog.Info("created matching utxo self-send", "address", address, "target", target, "tx_id", txID)
	return CreateResult{TxID: txID, Created: true}, nil
}

// WaitForMatching polls until a UTXO of exactly target sompi, not present
// in exclude, becomes visible at address — sourced from txIDHint if given,
// or from any other transaction. Returns config.ErrUTXONotAvailable wrapped
// around a timeout if none appears in time.
func (s *Service) WaitForMatching(ctx context.Context, address string, target uint64, timeout, pollInterval time.Duration, txIDHint string, exclude map[string]struct{}) (chainadapter.UTXO, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		utxos, err := s.chain.GetUTXOs(ctx, address)
		if err == nil {
			for _, u := range utxos {
				if u.Amount != target {
					continue
				}
				if _, excluded := exclude[outpointKey(u.Outpoint.TxID, u.Outpoint.OutputIndex)]; excluded {
					continue
				}
				// txIDHint is advisory only; any source tx is acceptable per §4.3.
				return u, nil
			}
		}

		if time.Now().After(deadline) {
			return chainadapter.UTXO{}, fmt.Errorf("%w: no %d-sompi utxo at %s within %s", config.ErrUTXONotAvailable, target, address, timeout)
		}

		select {
		case <-ctx.Done():
			return chainadapter.UTXO{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// SelectForAmount returns the subset of available UTXOs (excluding any in
// exclude) that sums to exactly target, or an empty list if no such
// subset exists. No fuzzy selection: CoinJoin fairness depends on an
// exact match. Runs a bounded subset search since in practice the caller
// holds very few candidate UTXOs per address.
func SelectForAmount(available []chainadapter.UTXO, target uint64, exclude map[string]struct{}) []chainadapter.UTXO {
	var candidates []chainadapter.UTXO
	for _, u := range available {
		if _, excluded := exclude[outpointKey(u.Outpoint.TxID, u.Outpoint.OutputIndex)]; excluded {
			continue
		}
		candidates = append(candidates, u)
	}

	// A single exact-amount UTXO is the common and intended case (§4.3's
	// creation sub-procedure always produces one); fall back to a subset
	// search only if no singleton matches.
	for _, u := range candidates {
		if u.Amount == target {
			return []chainadapter.UTXO{u}
		}
	}

	if len(candidates) > 20 {
		// Subset-sum over more than 20 UTXOs is not a realistic caller
		// shape for this service; treat as no match rather than spend
		// exponential time.
		return nil
	}

	n := len(candidates)
	for mask := 1; mask < (1 << n); mask++ {
		var sum uint64
		for i := 0; i < n; i++ {
			if mask&(1<<i) != 0 {
				sum += candidates[i].Amount
			}
		}
		if sum == target {
			var subset []chainadapter.UTXO
			for i := 0; i < n; i++ {
				if mask&(1<<i) != 0 {
					subset = append(subset, candidates[i])
				}
			}
			return subset
		}
	}
	return nil
}

// ExactMatchTimeout returns the wait_for_matching timeout scaled by target
// size, per §4.3 step 4.
func ExactMatchTimeout(target uint64) time.Duration {
	if target >= config.ExactMatchLargeThreshold {
		return config.ExactMatchWaitLargeAmount
	}
	return config.ExactMatchWaitBaseline
}

// EnsureMatching runs the full creation sub-procedure from §4.3: always
// prefer a freshly created UTXO for a new session (this spec's standardized
// answer to the source's ambiguity on that point), wait for it to confirm,
// and assert the returned amount is exact.
func (s *Service) EnsureMatching(ctx context.Context, address string, target uint64, sign Signer) (chainadapter.UTXO, error) {
	exclude, err := s.ExcludeSet()
	if err != nil {
		return chainadapter.UTXO{}, err
	}

	result, err := s.CreateMatching(ctx, address, target, sign)
	if err != nil {
		return chainadapter.UTXO{}, err
	}

	timeout := ExactMatchTimeout(target)
	u, err := s.WaitForMatching(ctx, address, target, timeout, config.ExactMatchPollInterval, result.TxID, exclude)
	if err != nil {
		return chainadapter.UTXO{}, err
	}

	if u.Amount != target {
		return chainadapter.UTXO{}, fmt.Errorf("%w: got %d sompi, want exactly %d", config.ErrInternalInvariant, u.Amount, target)
	}

	return u, nil
}
