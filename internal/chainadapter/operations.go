package chainadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"kasmix/internal/config"
)

// GetUTXOs returns current confirmed plus mempool-visible outputs for address.
func (c *Client) GetUTXOs(ctx context.Context, address string) ([]UTXO, error) {
	raw, err := c.call(ctx, "getUtxosByAddress", map[string]string{"address": address})
	if err != nil {
		return nil, fmt.Errorf("get utxos for %s: %w", address, err)
	}

	var utxos []UTXO
	if err := json.Unmarshal(raw, &utxos); err != nil {
		return nil, fmt.Errorf("decode utxo response for %s: %w", address, err)
	}
	return utxos, nil
}

// GetBalance summarizes the UTXO set at address.
func (c *Client) GetBalance(ctx context.Context, address string) (Balance, error) {
	utxos, err := c.GetUTXOs(ctx, address)
	if err != nil {
		return Balance{}, err
	}

	var bal Balance
	for _, u := range utxos {
		if u.IsCoinbase {
			bal.Mature += u.Amount
		} else {
			bal.Confirmed += u.Amount
		}
	}
	bal.UTXOCount = len(utxos)
	bal.LastUpdated = time.Now()
	return bal, nil
}

// SubmitTransaction broadcasts signedTxHex and returns its id. Every submit
// waits on the same limiter key ("submit"), whatever its source address;
// there is no per-address separation.
func (c *Client) SubmitTransaction(ctx context.Context, signedTxHex string) (string, error) {
	if err := c.addrLimiter.wait(ctx, "submit"); err != nil {
		return "", fmt.Errorf("rate limiter wait for submit: %w", err)
	}

	raw, err := c.call(ctx, "submitTransaction", map[string]string{"transaction": signedTxHex})
	if err != nil {
		return "", fmt.Errorf("submit transaction: %w", err)
	}

	var result struct {
		TxID string `json:"tx_id"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	return result.TxID, nil
}

// IsInMempool reports whether txID is currently visible in the mempool.
func (c *Client) IsInMempool(ctx context.Context, txID string) (bool, error) {
	raw, err := c.call(ctx, "getMempoolEntry", map[string]string{"tx_id": txID})
	if err != nil {
		return false, fmt.Errorf("check mempool for %s: %w", txID, err)
	}

	var result struct {
		Present bool `json:"present"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return false, fmt.Errorf("decode mempool response for %s: %w", txID, err)
	}
	return result.Present, nil
}

// WaitForOutput polls at config.MempoolPollInterval until the output at
// (txID, index) is visible, timeout elapses, or ctx is cancelled.
func (c *Client) WaitForOutput(ctx context.Context, txID string, index uint32, timeout time.Duration) (UTXO, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(config.MempoolPollInterval)
	defer ticker.Stop()

	for {
		raw, err := c.call(ctx, "getOutput", map[string]any{"tx_id": txID, "index": index})
		if err == nil {
			var utxo UTXO
			if uerr := json.Unmarshal(raw, &utxo); uerr == nil {
				return utxo, nil
			}
		}

		if time.Now().After(deadline) {
			return UTXO{}, fmt.Errorf("%w: output %s:%d after %s", ErrTimedOut, txID, index, timeout)
		}

		select {
		case <-ctx.Done():
			return UTXO{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// SubscribeTip streams virtual-DAA-score tip updates over a buffered
// channel closed when ctx is cancelled or the connection drops.
func (c *Client) SubscribeTip(ctx context.Context) (<-chan uint64, error) {
	if _, err := c.call(ctx, "subscribeTip", nil); err != nil {
		return nil, fmt.Errorf("subscribe tip: %w", err)
	}

	ch := make(chan uint64, 8)
	c.tipMu.Lock()
	c.tipSubs = append(c.tipSubs, ch)
	c.tipMu.Unlock()

	go func() {
		<-ctx.Done()
		c.tipMu.Lock()
		for i, sub := range c.tipSubs {
			if sub == ch {
				c.tipSubs = append(c.tipSubs[:i], c.tipSubs[i+1:]...)
				close(ch)
				break
			}
		}
		c.tipMu.Unlock()
	}()

	return ch, nil
}

// EstimateFeeRate returns the node's current low/normal/high fee tiers.
func (c *Client) EstimateFeeRate(ctx context.Context) (FeeEstimate, error) {
	raw, err := c.call(ctx, "getFeeEstimate", nil)
	if err != nil {
		return FeeEstimate{}, fmt.Errorf("estimate fee rate: %w", err)
	}

	var fee FeeEstimate
	if err := json.Unmarshal(raw, &fee); err != nil {
		return FeeEstimate{}, fmt.Errorf("decode fee estimate: %w", err)
	}
	return fee, nil
}

// RunStartupHealthCheck pings the node once at boot and logs the outcome.
// Grounded on the teacher's provider health-check pass over every
// configured provider before serving traffic.
func RunStartupHealthCheck(ctx context.Context, c *Client) error {
	if err := c.Ping(ctx); err != nil {
		slog.Error("chain adapter startup health check failed", "url", c.url, "error", err)
		return fmt.Errorf("startup health check: %w", err)
	}
	slog.Info("chain adapter startup health check passed", "url", c.url)
	return nil
}
