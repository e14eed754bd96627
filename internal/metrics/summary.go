// Package metrics holds the deal aggregations shared by every consumer.
package metrics

import (
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/commission/internal/domain"
)

// Summary aggregates a set of deals.
type Summary struct {
	Total            int                   `json:"total"`
	ByStatus         map[domain.Status]int `json:"byStatus"`
	ApprovalRate     decimal.Decimal       `json:"approvalRate"`
	ApprovedRevenue  decimal.Decimal       `json:"approvedRevenue"`
	TotalIncentive   decimal.Decimal       `json:"totalIncentive"`
	AverageIncentive decimal.Decimal       `json:"averageIncentive"`
}

// Summarize computes a Summary. ApprovalRate is approved over decided
// deals as a percentage, zero when nothing is decided yet.
func Summarize(deals []*domain.Deal) Summary {
	s := Summary{
		ByStatus:         make(map[domain.Status]int),
		ApprovalRate:     decimal.Zero,
		ApprovedRevenue:  decimal.Zero,
		TotalIncentive:   decimal.Zero,
		AverageIncentive: decimal.Zero,
	}

	for _, d := range deals {
		s.Total++
		s.ByStatus[d.Status]++
		if d.Status == domain.StatusApproved {
			s.ApprovedRevenue = s.ApprovedRevenue.Add(d.Amount)
			s.TotalIncentive = s.TotalIncentive.Add(d.Incentive)
		}
	}

	approved := int64(s.ByStatus[domain.StatusApproved])
	decided := approved + int64(s.ByStatus[domain.StatusRejected])
	if decided > 0 {
		s.ApprovalRate = decimal.NewFromInt(approved * 100).Div(decimal.NewFromInt(decided)).Round(2)
	}
	if approved > 0 {
		s.AverageIncentive = s.TotalIncentive.Div(decimal.NewFromInt(approved))
	}

	return s
}
