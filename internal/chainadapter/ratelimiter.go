package chainadapter

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// addressLimiter serializes mutating calls per address so two concurrent
// sweeps submitted against one deposit address cannot race each other onto
// the wire out of order.
type addressLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      int
}

func newAddressLimiter(rps int) *addressLimiter {
	return &addressLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
	}
}

func (a *addressLimiter) wait(ctx context.Context, address string) error {
	a.mu.Lock()
	l, ok := a.limiters[address]
	if !ok {
		// Burst(1) keeps traffic spread evenly per address instead of bursty.
		l = rate.NewLimiter(rate.Limit(a.rps), 1)
		a.limiters[address] = l
	}
	a.mu.Unlock()

	if err := l.Wait(ctx); err != nil {
		slog.Warn("address rate limiter wait cancelled", "address", address, "error", err)
		return err
	}
	return nil
}
