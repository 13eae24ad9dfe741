package handlers

import (
	"net/http"

	"divgate/internal/engine/tiers"
	"divgate/internal/pkg/errors"
)

type TierCatalog interface {
	All() []tiers.Policy
}

type TierHandler struct {
	catalog TierCatalog
}

func NewTierHandler(catalog TierCatalog) *TierHandler {
	return &TierHandler{catalog: catalog}
}

// PolicyView is a tier policy with unlimited values rendered as null.
type PolicyView struct {
	Name                 string   `json:"name"`
	Rank                 int      `json:"rank"`
	MonthlyCallLimit     *int64   `json:"monthly_call_limit"`
	CallsPerMinute       int64    `json:"calls_per_minute"`
	BurstLimit           int64    `json:"burst_limit"`
	HistoricalYearsLimit *int64   `json:"historical_years_limit"`
	Features             []string `json:"features"`
	UpgradeURL           string   `json:"upgrade_url,omitempty"`
}

func NewPolicyView(p tiers.Policy) PolicyView {
	features := p.Features
	if features == nil {
		features = []string{}
	}
	return PolicyView{
		Name:                 p.Name,
		Rank:                 p.Rank,
		MonthlyCallLimit:     bounded(p.MonthlyCallLimit),
		CallsPerMinute:       p.CallsPerMinute,
		BurstLimit:           p.BurstLimit,
		HistoricalYearsLimit: bounded(p.HistoricalYearsLimit),
		Features:             features,
		UpgradeURL:           p.UpgradeURL,
	}
}

func (h *TierHandler) List(w http.ResponseWriter, r *http.Request) {
	all := h.catalog.All()
	views := make([]PolicyView, 0, len(all))
	for _, p := range all {
		views = append(views, NewPolicyView(p))
	}
	errors.WriteJSON(w, http.StatusOK, views)
}
