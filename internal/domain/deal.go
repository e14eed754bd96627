// Package domain defines the core types and interfaces of the commission service.
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a deal.
type Status string

const (
	StatusDraft      Status = "DRAFT"
	StatusAssigned   Status = "ASSIGNED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusSubmitted  Status = "SUBMITTED"
	StatusApproved   Status = "APPROVED"
	StatusRejected   Status = "REJECTED"
)

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// DealType drives policy eligibility.
type DealType string

const (
	DealTypeNewBusiness DealType = "NEW_BUSINESS"
	DealTypeRenewal     DealType = "RENEWAL"
	DealTypeUpsell      DealType = "UPSELL"
	DealTypeCrossSell   DealType = "CROSS_SELL"
)

// Priority is administrative metadata only.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// RiskLevel is an advisory label derived by the risk engine.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Deal is a sales opportunity tracked toward a commission payout.
type Deal struct {
	ID               string          `json:"id"`
	DealName         string          `json:"dealName"`
	OrganizationName string          `json:"organizationName"`
	ClientName       string          `json:"clientName"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	DealType         DealType        `json:"dealType"`
	Priority         Priority        `json:"priority"`
	Status           Status          `json:"status"`
	AssignedUserID   string          `json:"assignedUserId,omitempty"`
	PolicyID         string          `json:"policyId,omitempty"`
	Incentive        decimal.Decimal `json:"incentive"`
	Tier             string          `json:"tier,omitempty"`
	RiskLevel        RiskLevel       `json:"riskLevel"`
	AdminComment     string          `json:"adminComment,omitempty"`
	RejectionReason  string          `json:"rejectionReason,omitempty"`
	CreatedBy        string          `json:"createdBy,omitempty"`

	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	ExpectedCloseDate *time.Time `json:"expectedCloseDate,omitempty"`

	// Version is bumped on every persisted state change.
	Version int64 `json:"version"`
}

// Clone returns a copy that can be mutated without touching d.
func (d *Deal) Clone() *Deal {
	c := *d
	if d.ExpectedCloseDate != nil {
		t := *d.ExpectedCloseDate
		c.ExpectedCloseDate = &t
	}
	return &c
}

// DealFilter narrows ListDeals. Empty fields match everything.
// UserID matches the assignee or the creator.
type DealFilter struct {
	UserID   string
	Status   Status
	Priority Priority
	Since    time.Time
}

// normalizeToken upper-cases s and folds spaces and dashes into underscores.
func normalizeToken(s string) string {
	s = strings.TrimSpace(strings.ToUpper(s))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	return s
}

// ParseStatus maps a wire status onto the closed enumeration.
// "Pending" is accepted as a synonym for SUBMITTED.
func ParseStatus(s string) (Status, error) {
	switch n := normalizeToken(s); n {
	case "DRAFT":
		return StatusDraft, nil
	case "ASSIGNED":
		return StatusAssigned, nil
	case "IN_PROGRESS", "INPROGRESS":
		return StatusInProgress, nil
	case "SUBMITTED", "PENDING":
		return StatusSubmitted, nil
	case "APPROVED":
		return StatusApproved, nil
	case "REJECTED":
		return StatusRejected, nil
	}
	return "", Invalid("status", "unknown status %q", s)
}

// ParseDealType maps a wire deal type onto the closed enumeration.
func ParseDealType(s string) (DealType, error) {
	switch normalizeToken(s) {
	case "NEW_BUSINESS", "NEWBUSINESS", "NEW":
		return DealTypeNewBusiness, nil
	case "RENEWAL":
		return DealTypeRenewal, nil
	case "UPSELL", "UP_SELL":
		return DealTypeUpsell, nil
	case "CROSS_SELL", "CROSSSELL":
		return DealTypeCrossSell, nil
	}
	return "", Invalid("dealType", "unknown deal type %q", s)
}

// ParsePriority maps a wire priority onto the closed enumeration.
// An empty value defaults to MEDIUM.
func ParsePriority(s string) (Priority, error) {
	switch normalizeToken(s) {
	case "LOW":
		return PriorityLow, nil
	case "", "MEDIUM":
		return PriorityMedium, nil
	case "HIGH":
		return PriorityHigh, nil
	}
	return "", Invalid("priority", "unknown priority %q", s)
}
