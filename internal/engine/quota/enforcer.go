package quota

import (
	"context"
	"fmt"
	"time"

	"divgate/internal/engine/tiers"
)

// ExceededError rejects a request whose monthly quota or minute burst is
// spent. ResetAt is when the exhausted window rolls over.
type ExceededError struct {
	Window  Window
	Limit   int64
	ResetAt time.Time
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("%s quota of %d exceeded, resets at %s", e.Window, e.Limit, e.ResetAt.UTC().Format(time.RFC3339))
}

// Result reports both windows after a check. An unlimited monthly quota is
// reported with Limit == tiers.Unlimited and no usage.
type Result struct {
	Monthly        WindowUsage
	Minute         WindowUsage
	CallsPerMinute int64
}

type Enforcer struct {
	store CounterStore
}

func NewEnforcer(store CounterStore) *Enforcer {
	return &Enforcer{store: store}
}

// limitsFor orders the monthly window before the minute window so an
// exhausted month rejects without touching the minute counter. The minute
// ceiling is the burst limit; calls_per_minute is only advertised.
func limitsFor(policy tiers.Policy) []Limit {
	limits := make([]Limit, 0, 2)
	if !policy.UnlimitedMonthly() {
		limits = append(limits, Limit{Window: WindowMonthly, Max: policy.MonthlyCallLimit})
	}
	limits = append(limits, Limit{Window: WindowMinute, Max: policy.BurstLimit})
	return limits
}

// CheckAndConsume admits and counts one call, or returns *ExceededError.
// Any other error comes from the counter store.
func (e *Enforcer) CheckAndConsume(ctx context.Context, credentialID string, policy tiers.Policy, now time.Time) (Result, error) {
	out, err := e.store.ResetIfExpiredAndIncrement(ctx, credentialID, limitsFor(policy), now)
	if err != nil {
		return Result{}, err
	}

	res := toResult(out, policy, now)
	if !out.Admitted {
		rejected := res.Minute
		if out.Rejected == WindowMonthly {
			rejected = res.Monthly
		}
		return res, &ExceededError{Window: out.Rejected, Limit: rejected.Limit, ResetAt: rejected.ResetAt}
	}
	return res, nil
}

// Peek reports current usage without consuming a slot.
func (e *Enforcer) Peek(ctx context.Context, credentialID string, policy tiers.Policy, now time.Time) (Result, error) {
	out, err := e.store.Peek(ctx, credentialID, limitsFor(policy), now)
	if err != nil {
		return Result{}, err
	}
	return toResult(out, policy, now), nil
}

func toResult(out Outcome, policy tiers.Policy, now time.Time) Result {
	res := Result{CallsPerMinute: policy.CallsPerMinute}
	if policy.UnlimitedMonthly() {
		_, end := WindowMonthly.Bounds(now)
		res.Monthly = WindowUsage{Window: WindowMonthly, Limit: tiers.Unlimited, ResetAt: end}
	}
	for _, w := range out.Windows {
		switch w.Window {
		case WindowMonthly:
			res.Monthly = w
		case WindowMinute:
			res.Minute = w
		}
	}
	return res
}
