package tiers

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"divgate/internal/platform/config"
)

// Registry maps tier names to policies. It is built once and never mutated,
// so it is safe for concurrent use without locking.
type Registry struct {
	byName map[string]Policy
	ranked []Policy
}

func NewRegistry(policies []Policy) (*Registry, error) {
	if len(policies) == 0 {
		return nil, fmt.Errorf("tiers: at least one tier is required")
	}

	r := &Registry{byName: make(map[string]Policy, len(policies))}
	for _, p := range policies {
		if err := validate(p); err != nil {
			return nil, err
		}
		if _, dup := r.byName[p.Name]; dup {
			return nil, fmt.Errorf("tiers: duplicate tier %q", p.Name)
		}
		p = p.clone()
		r.byName[p.Name] = p
		r.ranked = append(r.ranked, p)
	}

	sort.SliceStable(r.ranked, func(i, j int) bool {
		return r.ranked[i].Rank < r.ranked[j].Rank
	})
	return r, nil
}

// FromConfig builds the registry from configuration, falling back to
// Defaults when the config lists no tiers.
func FromConfig(cfgs []config.TierConfig) (*Registry, error) {
	if len(cfgs) == 0 {
		return NewRegistry(Defaults())
	}

	policies := make([]Policy, 0, len(cfgs))
	for _, c := range cfgs {
		policies = append(policies, Policy{
			Name:                 c.Name,
			Rank:                 c.Rank,
			MonthlyCallLimit:     unboundedIfNegative(c.MonthlyCallLimit),
			CallsPerMinute:       c.CallsPerMinute,
			BurstLimit:           c.BurstLimit,
			HistoricalYearsLimit: unboundedIfNegative(c.HistoricalYearsLimit),
			Features:             c.Features,
			UpgradeURL:           c.UpgradeURL,
		})
	}
	return NewRegistry(policies)
}

func unboundedIfNegative(v int64) int64 {
	if v < 0 {
		return Unlimited
	}
	return v
}

func validate(p Policy) error {
	switch {
	case p.Name == "":
		return fmt.Errorf("tiers: tier name is required")
	case p.CallsPerMinute < 0:
		return fmt.Errorf("tiers: %s: calls_per_minute must be >= 0", p.Name)
	case p.BurstLimit < p.CallsPerMinute:
		return fmt.Errorf("tiers: %s: burst_limit (%d) must be >= calls_per_minute (%d)", p.Name, p.BurstLimit, p.CallsPerMinute)
	case p.MonthlyCallLimit < 0:
		return fmt.Errorf("tiers: %s: monthly_call_limit must be >= 0", p.Name)
	case p.HistoricalYearsLimit < 0:
		return fmt.Errorf("tiers: %s: historical_years_limit must be >= 0", p.Name)
	}
	return nil
}

// Lookup reports whether name is a configured tier. Use it when issuing keys.
func (r *Registry) Lookup(name string) (Policy, bool) {
	p, ok := r.byName[name]
	if !ok {
		return Policy{}, false
	}
	return p.clone(), true
}

// PolicyFor returns the policy for name. An unknown tier resolves to the
// most restrictive policy and is logged; it never grants more access.
func (r *Registry) PolicyFor(name string) Policy {
	if p, ok := r.Lookup(name); ok {
		return p
	}
	fallback := r.MostRestrictive()
	log.Warn().
		Str("tier", name).
		Str("fallback_tier", fallback.Name).
		Msg("unknown tier on credential, applying most restrictive policy")
	return fallback
}

func (r *Registry) MostRestrictive() Policy {
	return r.ranked[0].clone()
}

// CheapestWith returns the lowest ranked tier that grants feature.
func (r *Registry) CheapestWith(feature string) (Policy, bool) {
	for _, p := range r.ranked {
		if p.HasFeature(feature) {
			return p.clone(), true
		}
	}
	return Policy{}, false
}

// All returns every policy ordered by rank.
func (r *Registry) All() []Policy {
	out := make([]Policy, 0, len(r.ranked))
	for _, p := range r.ranked {
		out = append(out, p.clone())
	}
	return out
}
