package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/commission/internal/domain"
	"github.com/opensource-finance/commission/internal/workflow"
)

// PolicyRequest is the request body for POST /policy.
type PolicyRequest struct {
	ID             string           `json:"id,omitempty"`
	Type           string           `json:"type,omitempty"`
	Title          string           `json:"title"`
	Description    string           `json:"description,omitempty"`
	CommissionRate decimal.Decimal  `json:"commissionRate"`
	MinDealAmount  *decimal.Decimal `json:"minDealAmount,omitempty"`
	MaxDealAmount  *decimal.Decimal `json:"maxDealAmount,omitempty"`
	BonusThreshold *decimal.Decimal `json:"bonusThreshold,omitempty"`
	BonusAmount    *decimal.Decimal `json:"bonusAmount,omitempty"`
	DealTypes      []string         `json:"dealTypes,omitempty"`
	Active         *bool            `json:"active,omitempty"`
}

// SimulationRequest is the request body for POST /simulation/preview.
type SimulationRequest struct {
	Amount     decimal.Decimal      `json:"amount"`
	DealType   string               `json:"dealType,omitempty"`
	PolicyID   string               `json:"policyId,omitempty"`
	RateParams *workflow.RateParams `json:"rateParams,omitempty"`
}

func isIncentiveType(t string) bool {
	return t == "" || strings.EqualFold(strings.TrimSpace(t), domain.PolicyTypeIncentive)
}

// ListPolicies handles GET /policy.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !isIncentiveType(q.Get("type")) {
		writeJSON(w, http.StatusOK, []*domain.IncentivePolicy{})
		return
	}

	var filter domain.PolicyFilter
	if s := q.Get("active"); s != "" {
		active, err := strconv.ParseBool(s)
		if err != nil {
			writeError(w, r, domain.Invalid("active", "must be true or false"))
			return
		}
		filter.Active = &active
	}

	policies, err := h.workflow.ListPolicies(r.Context(), ActorFrom(r.Context()), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if policies == nil {
		policies = []*domain.IncentivePolicy{}
	}
	writeJSON(w, http.StatusOK, policies)
}

// SavePolicy handles POST /policy. A body with a known id replaces that policy.
func (h *Handler) SavePolicy(w http.ResponseWriter, r *http.Request) {
	var req PolicyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !isIncentiveType(req.Type) {
		writeError(w, r, domain.Invalid("type", "only %s policies are supported", domain.PolicyTypeIncentive))
		return
	}

	p := &domain.IncentivePolicy{
		ID:             strings.TrimSpace(req.ID),
		Title:          req.Title,
		Description:    req.Description,
		CommissionRate: req.CommissionRate,
		MinDealAmount:  req.MinDealAmount,
		MaxDealAmount:  req.MaxDealAmount,
		BonusThreshold: req.BonusThreshold,
		BonusAmount:    req.BonusAmount,
		Active:         req.Active == nil || *req.Active,
	}
	for _, s := range req.DealTypes {
		dt, err := domain.ParseDealType(s)
		if err != nil {
			writeError(w, r, err)
			return
		}
		p.DealTypes = append(p.DealTypes, dt)
	}

	saved, err := h.workflow.SavePolicy(r.Context(), ActorFrom(r.Context()), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// Simulate handles POST /simulation/preview. Nothing is persisted.
func (h *Handler) Simulate(w http.ResponseWriter, r *http.Request) {
	var req SimulationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	in := workflow.SimulationInput{
		Amount:     req.Amount,
		PolicyID:   strings.TrimSpace(req.PolicyID),
		RateParams: req.RateParams,
	}
	if req.DealType != "" {
		dt, err := domain.ParseDealType(req.DealType)
		if err != nil {
			writeError(w, r, err)
			return
		}
		in.DealType = dt
	}

	res, err := h.workflow.Simulate(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
