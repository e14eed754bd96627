package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// PolicyTypeIncentive is the only policy type the engine computes against.
const PolicyTypeIncentive = "INCENTIVE"

// IncentivePolicy is a named commission rule set bindable to a deal.
type IncentivePolicy struct {
	ID             string           `json:"id"`
	Title          string           `json:"title"`
	Description    string           `json:"description,omitempty"`
	CommissionRate decimal.Decimal  `json:"commissionRate"`
	MinDealAmount  *decimal.Decimal `json:"minDealAmount,omitempty"`
	MaxDealAmount  *decimal.Decimal `json:"maxDealAmount,omitempty"`
	BonusThreshold *decimal.Decimal `json:"bonusThreshold,omitempty"`
	BonusAmount    *decimal.Decimal `json:"bonusAmount,omitempty"`

	// DealTypes restricts eligibility. Empty means every deal type.
	DealTypes []DealType `json:"dealTypes,omitempty"`

	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

var hundred = decimal.NewFromInt(100)

// Validate checks the policy invariants enforced at creation.
func (p *IncentivePolicy) Validate() error {
	if p.Title == "" {
		return Invalid("title", "is required")
	}
	if p.CommissionRate.IsNegative() || p.CommissionRate.GreaterThan(hundred) {
		return Invalid("commissionRate", "must be between 0 and 100")
	}
	for field, v := range map[string]*decimal.Decimal{
		"minDealAmount":  p.MinDealAmount,
		"maxDealAmount":  p.MaxDealAmount,
		"bonusThreshold": p.BonusThreshold,
		"bonusAmount":    p.BonusAmount,
	} {
		if v != nil && v.IsNegative() {
			return Invalid(field, "must not be negative")
		}
	}
	if p.MinDealAmount != nil && p.MaxDealAmount != nil && p.MinDealAmount.GreaterThan(*p.MaxDealAmount) {
		return Invalid("minDealAmount", "must not exceed maxDealAmount")
	}
	if p.BonusAmount != nil && p.BonusThreshold == nil {
		return Invalid("bonusThreshold", "is required when bonusAmount is set")
	}
	return nil
}

// InBounds reports whether amount falls within [min, max]. Absent bounds are open.
func (p *IncentivePolicy) InBounds(amount decimal.Decimal) bool {
	if p.MinDealAmount != nil && amount.LessThan(*p.MinDealAmount) {
		return false
	}
	if p.MaxDealAmount != nil && amount.GreaterThan(*p.MaxDealAmount) {
		return false
	}
	return true
}

// AppliesTo reports whether the policy covers deals of type t.
func (p *IncentivePolicy) AppliesTo(t DealType) bool {
	return len(p.DealTypes) == 0 || t == "" || slices.Contains(p.DealTypes, t)
}

// PolicyFilter narrows ListPolicies.
type PolicyFilter struct {
	Active *bool
}
