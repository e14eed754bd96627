package risk

import (
	"context"
	"log/slog"
	"time"

	"github.com/opensource-finance/commission/internal/domain"
)

// RecentCounter reports how many deals a user picked up since a point in time.
type RecentCounter interface {
	RecentDealCount(ctx context.Context, userID string, since time.Time) (int64, error)
}

// Assessor turns rule results into a risk level.
type Assessor struct {
	engine  *Engine
	counter RecentCounter
	cfg     domain.RiskConfig
	now     func() time.Time
}

// NewAssessor creates an assessor. counter may be nil, in which case
// recent_deals is always zero.
func NewAssessor(engine *Engine, counter RecentCounter, cfg domain.RiskConfig) *Assessor {
	if cfg.HighThreshold == 0 {
		cfg.HighThreshold = 0.7
	}
	if cfg.MediumThreshold == 0 {
		cfg.MediumThreshold = 0.4
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 30
	}
	return &Assessor{engine: engine, counter: counter, cfg: cfg, now: time.Now}
}

// Assess scores d. Rule and lookup failures lower confidence but never
// fail the caller; the level is advisory.
func (a *Assessor) Assess(ctx context.Context, d *domain.Deal) domain.RiskAssessment {
	in := Input{
		Amount:   d.Amount.InexactFloat64(),
		DealType: d.DealType,
		Priority: d.Priority,
		Currency: d.Currency,
	}

	if a.counter != nil && d.AssignedUserID != "" {
		since := a.now().AddDate(0, 0, -a.cfg.WindowDays)
		n, err := a.counter.RecentDealCount(ctx, d.AssignedUserID, since)
		if err != nil {
			slog.Warn("recent deal count failed", "user_id", d.AssignedUserID, "error", err)
		} else {
			in.RecentDeals = n
		}
	}

	results := a.engine.Evaluate(ctx, in)
	score := Aggregate(results)

	return domain.RiskAssessment{
		Level:   a.Level(score),
		Score:   score,
		Results: results,
	}
}

// Level maps an aggregate score to a risk level.
func (a *Assessor) Level(score float64) domain.RiskLevel {
	switch {
	case score >= a.cfg.HighThreshold:
		return domain.RiskHigh
	case score >= a.cfg.MediumThreshold:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// Aggregate is the weighted mean of rule scores. Errored and zero-weight
// rules are ignored; no usable results gives 0.
func Aggregate(results []domain.RiskRuleResult) float64 {
	var sum, weight float64
	for _, r := range results {
		if r.Error != "" || r.Weight <= 0 {
			continue
		}
		sum += r.Score * r.Weight
		weight += r.Weight
	}
	if weight == 0 {
		return 0
	}
	return sum / weight
}

// DefaultRules are seeded when no rules are stored.
func DefaultRules() []*domain.RiskRule {
	return []*domain.RiskRule{
		{
			ID:          "large-deal",
			Name:        "Large deal",
			Description: "Deals above 250k need a closer look; above 1M always do.",
			Expression:  `amount >= 1000000.0 ? 1.0 : (amount >= 250000.0 ? 0.5 : 0.0)`,
			Weight:      2,
			Enabled:     true,
		},
		{
			ID:          "high-priority",
			Name:        "High priority",
			Description: "Rushed deals skip some diligence.",
			Expression:  `priority == "HIGH"`,
			Weight:      1,
			Enabled:     true,
		},
		{
			ID:          "rep-load",
			Name:        "Representative load",
			Description: "Reps juggling many recent deals.",
			Expression:  `recent_deals >= 20 ? 1.0 : double(recent_deals) / 20.0`,
			Weight:      1,
			Enabled:     true,
		},
		{
			ID:          "new-logo-size",
			Name:        "Large new business",
			Description: "New customers with large first contracts.",
			Expression:  `deal_type == "NEW_BUSINESS" && amount >= 500000.0`,
			Weight:      1,
			Enabled:     true,
		},
	}
}
