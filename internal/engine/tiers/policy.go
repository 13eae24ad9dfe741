// Package tiers holds the process-wide subscription tier policies.
package tiers

import (
	"math"
	"sort"
)

// Unlimited is the sentinel for an unbounded monthly quota or history depth.
const Unlimited int64 = math.MaxInt64

// Capabilities gated by tier.
const (
	FeatureIntraday = "intraday-access"
	FeatureBulk     = "bulk-access"
)

// Policy is the immutable set of limits and features for one tier.
type Policy struct {
	Name                 string   `json:"name"`
	Rank                 int      `json:"rank"`
	MonthlyCallLimit     int64    `json:"monthly_call_limit"`
	CallsPerMinute       int64    `json:"calls_per_minute"`
	BurstLimit           int64    `json:"burst_limit"`
	HistoricalYearsLimit int64    `json:"historical_years_limit"`
	Features             []string `json:"features"`
	UpgradeURL           string   `json:"upgrade_url"`
}

func (p Policy) HasFeature(feature string) bool {
	for _, f := range p.Features {
		if f == feature {
			return true
		}
	}
	return false
}

func (p Policy) UnlimitedMonthly() bool {
	return p.MonthlyCallLimit == Unlimited
}

func (p Policy) UnlimitedHistory() bool {
	return p.HistoricalYearsLimit == Unlimited
}

func (p Policy) clone() Policy {
	features := make([]string, len(p.Features))
	copy(features, p.Features)
	sort.Strings(features)
	p.Features = features
	return p
}

// Defaults are used when no tiers are configured.
func Defaults() []Policy {
	return []Policy{
		{
			Name:                 "free",
			Rank:                 0,
			MonthlyCallLimit:     10000,
			CallsPerMinute:       10,
			BurstLimit:           20,
			HistoricalYearsLimit: 1,
			UpgradeURL:           "https://divgate.io/pricing#starter",
		},
		{
			Name:                 "starter",
			Rank:                 1,
			MonthlyCallLimit:     100000,
			CallsPerMinute:       30,
			BurstLimit:           60,
			HistoricalYearsLimit: 5,
			Features:             []string{FeatureIntraday},
			UpgradeURL:           "https://divgate.io/pricing#pro",
		},
		{
			Name:                 "pro",
			Rank:                 2,
			MonthlyCallLimit:     1000000,
			CallsPerMinute:       100,
			BurstLimit:           200,
			HistoricalYearsLimit: 15,
			Features:             []string{FeatureIntraday, FeatureBulk},
			UpgradeURL:           "https://divgate.io/pricing#enterprise",
		},
		{
			Name:                 "enterprise",
			Rank:                 3,
			MonthlyCallLimit:     Unlimited,
			CallsPerMinute:       1000,
			BurstLimit:           2000,
			HistoricalYearsLimit: Unlimited,
			Features:             []string{FeatureIntraday, FeatureBulk},
			UpgradeURL:           "https://divgate.io/contact",
		},
	}
}
