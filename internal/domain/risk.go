package domain

import "time"

// RiskRule is a CEL expression scoring a deal for the advisory risk level.
type RiskRule struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Expression  string  `json:"expression"`
	Weight      float64 `json:"weight"`
	Enabled     bool    `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// RiskRuleResult is the output of evaluating one rule against one deal.
type RiskRuleResult struct {
	RuleID string  `json:"ruleId"`
	Score  float64 `json:"score"`
	Weight float64 `json:"weight"`
	Error  string  `json:"error,omitempty"`
}

// RiskAssessment aggregates rule results into a level.
type RiskAssessment struct {
	Level   RiskLevel        `json:"level"`
	Score   float64          `json:"score"`
	Results []RiskRuleResult `json:"results,omitempty"`
}
