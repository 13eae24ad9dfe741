package quota

import (
	"context"
	"time"
)

// CounterStore keeps per-credential window counters. Implementations must
// make ResetIfExpiredAndIncrement indivisible per credential: concurrent
// calls for one credential behave as if run in some serial order.
type CounterStore interface {
	ResetIfExpiredAndIncrement(ctx context.Context, credentialID string, limits []Limit, now time.Time) (Outcome, error)
	// Peek evaluates limits without consuming.
	Peek(ctx context.Context, credentialID string, limits []Limit, now time.Time) (Outcome, error)
}
