package search

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// OpSearch is the lock key the provider's client library writes when
// search calls get throttled.
const OpSearch = "search_timeline"

// LockStore reads the shared rate-limit lock record maintained by the
// provider client as a side effect of earlier calls. The zero time means
// no lock exists for the operation.
type LockStore interface {
	OperationLock(ctx context.Context, op string) (time.Time, error)
}

// Gate is the advisory pre-flight rate-limit check. It only reads the
// shared lock; an actual 429 during a query must still be handled by the
// caller.
type Gate struct {
	locks  LockStore
	logger *zap.Logger
	now    func() time.Time
}

// NewGate creates a gate over the given lock store.
func NewGate(locks LockStore, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{locks: locks, logger: logger, now: time.Now}
}

// Available reports whether the provider is usable for op. When throttled
// it also returns the lock expiry. Any read failure defaults to available:
// the gate is advisory, not authoritative.
func (g *Gate) Available(ctx context.Context, op string) (bool, time.Time) {
	expiry, err := g.locks.OperationLock(ctx, op)
	if err != nil {
		g.logger.Warn("rate-limit lock read failed, assuming available",
			zap.String("op", op), zap.Error(err))
		return true, time.Time{}
	}
	if expiry.IsZero() || !g.now().Before(expiry) {
		return true, time.Time{}
	}
	return false, expiry
}
