// Package features checks a request against the capabilities and history
// depth granted by the caller's tier.
package features

import (
	"fmt"
	"time"

	"divgate/internal/engine/tiers"
)

// Requirement describes what an endpoint needs from the caller's tier.
// A zero Requirement always passes.
type Requirement struct {
	Capability string
	From       *time.Time
}

type NotAllowedError struct {
	Feature      string
	RequiredTier string
	UpgradeURL   string
}

func (e *NotAllowedError) Error() string {
	if e.RequiredTier == "" {
		return fmt.Sprintf("%s is not available on any plan", e.Feature)
	}
	return fmt.Sprintf("%s requires the %s plan or higher", e.Feature, e.RequiredTier)
}

type HistoricalRangeExceededError struct {
	MaxYears   int64
	Requested  int64
	UpgradeURL string
}

func (e *HistoricalRangeExceededError) Error() string {
	return fmt.Sprintf("requested %d years of history, plan allows %d", e.Requested, e.MaxYears)
}

// Catalog is the part of the tier registry the gate needs.
type Catalog interface {
	CheapestWith(feature string) (tiers.Policy, bool)
}

type Gate struct {
	catalog Catalog
}

func NewGate(catalog Catalog) *Gate {
	return &Gate{catalog: catalog}
}

// Check is pure; it never touches quota counters.
func (g *Gate) Check(policy tiers.Policy, req Requirement, now time.Time) error {
	if req.Capability != "" && !policy.HasFeature(req.Capability) {
		e := &NotAllowedError{Feature: req.Capability, UpgradeURL: policy.UpgradeURL}
		if cheapest, ok := g.catalog.CheapestWith(req.Capability); ok {
			e.RequiredTier = cheapest.Name
			if cheapest.UpgradeURL != "" {
				e.UpgradeURL = cheapest.UpgradeURL
			}
		}
		return e
	}

	if req.From != nil && !policy.UnlimitedHistory() {
		requested := YearsBack(*req.From, now)
		if requested > policy.HistoricalYearsLimit {
			return &HistoricalRangeExceededError{
				MaxYears:   policy.HistoricalYearsLimit,
				Requested:  requested,
				UpgradeURL: policy.UpgradeURL,
			}
		}
	}
	return nil
}

// YearsBack is the smallest whole number of years n such that the start
// of now's UTC day, minus n years, is not after from. Ranges are date
// granular, so from = today - N years gives N at any time of day. Dates
// on or after the start of today give 0.
func YearsBack(from, now time.Time) int64 {
	from, now = from.UTC(), now.UTC()
	now = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if !from.Before(now) {
		return 0
	}
	n := int64(now.Year() - from.Year())
	for n > 0 && !now.AddDate(-int(n-1), 0, 0).After(from) {
		n--
	}
	for now.AddDate(-int(n), 0, 0).After(from) {
		n++
	}
	return n
}
