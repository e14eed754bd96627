// Package commission derives incentive payouts from deal amounts and policies.
// Everything here is pure: no I/O, no clocks, safe to call speculatively.
package commission

import (
	"github.com/opensource-finance/commission/internal/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Fallback reasons reported when the default rate replaced the policy rate.
const (
	FallbackNoPolicy    = "no policy bound"
	FallbackOutOfBounds = "amount outside policy bounds"
	FallbackDealType    = "deal type not covered by policy"
)

// Calculator computes incentives. The zero value is not usable; use New.
type Calculator struct {
	defaultRate decimal.Decimal
	tiers       []domain.TierBreakpoint
}

// New creates a calculator from commission settings.
func New(cfg domain.CommissionConfig) *Calculator {
	tiers := cfg.Tiers
	if len(tiers) == 0 {
		tiers = domain.DefaultTiers()
	}
	return &Calculator{
		defaultRate: cfg.DefaultRate,
		tiers:       tiers,
	}
}

// Result is the outcome of a computation.
type Result struct {
	Incentive      decimal.Decimal `json:"incentive"`
	Tier           string          `json:"tier"`
	RateApplied    decimal.Decimal `json:"rateApplied"`
	BonusApplied   decimal.Decimal `json:"bonusApplied"`
	PolicyApplied  bool            `json:"policyApplied"`
	FallbackReason string          `json:"fallbackReason,omitempty"`
}

// Compute returns the incentive for amount under policy, which may be nil.
// It never fails: an unusable policy degrades to the default rate with no bonus.
func (c *Calculator) Compute(amount decimal.Decimal, dealType domain.DealType, policy *domain.IncentivePolicy) Result {
	res := Result{RateApplied: c.defaultRate}

	switch {
	case policy == nil:
		res.FallbackReason = FallbackNoPolicy
	case !policy.AppliesTo(dealType):
		res.FallbackReason = FallbackDealType
	case !policy.InBounds(amount):
		res.FallbackReason = FallbackOutOfBounds
	default:
		res.PolicyApplied = true
		res.RateApplied = policy.CommissionRate
		if policy.BonusThreshold != nil && policy.BonusAmount != nil && amount.GreaterThan(*policy.BonusThreshold) {
			res.BonusApplied = *policy.BonusAmount
		}
	}

	res.Incentive = amount.Mul(res.RateApplied).Div(hundred).Add(res.BonusApplied)
	res.Tier = c.Tier(res.Incentive)
	return res
}

// Tier labels an incentive using the configured breakpoints.
func (c *Calculator) Tier(incentive decimal.Decimal) string {
	for _, t := range c.tiers {
		if incentive.GreaterThan(t.MinIncentive) {
			return t.Label
		}
	}
	return c.tiers[len(c.tiers)-1].Label
}

// Display rounds an amount to the currency's minor unit for presentation.
// Stored values are never rounded.
func Display(amount decimal.Decimal, currency string) string {
	s := amount.Round(2).StringFixed(2)
	if currency == "" {
		return s
	}
	return currency + s
}
