// Package lifecycle owns the deal status machine: which edges exist, who may
// drive them and what each edge writes onto the deal.
package lifecycle

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/opensource-finance/commission/internal/commission"
	"github.com/opensource-finance/commission/internal/domain"
	"github.com/shopspring/decimal"
)

// edges is the transition table. Terminal states have no entry.
var edges = map[domain.Status][]domain.Status{
	domain.StatusDraft:      {domain.StatusAssigned, domain.StatusSubmitted},
	domain.StatusAssigned:   {domain.StatusInProgress},
	domain.StatusInProgress: {domain.StatusSubmitted},
	domain.StatusSubmitted:  {domain.StatusApproved, domain.StatusRejected},
}

// edgeRoles lists the roles allowed on each edge.
var edgeRoles = map[[2]domain.Status][]domain.Role{
	{domain.StatusDraft, domain.StatusAssigned}:       {domain.RoleAdmin},
	{domain.StatusAssigned, domain.StatusInProgress}:  {domain.RoleSales, domain.RoleAdmin},
	{domain.StatusDraft, domain.StatusSubmitted}:      {domain.RoleSales, domain.RoleAdmin},
	{domain.StatusInProgress, domain.StatusSubmitted}: {domain.RoleSales, domain.RoleAdmin},
	{domain.StatusSubmitted, domain.StatusApproved}:   {domain.RoleAdmin},
	{domain.StatusSubmitted, domain.StatusRejected}:   {domain.RoleAdmin},
}

// Allowed reports whether the edge from → to exists.
func Allowed(from, to domain.Status) bool {
	return slices.Contains(edges[from], to)
}

// Targets returns the statuses reachable from s in one step.
func Targets(s domain.Status) []domain.Status {
	return slices.Clone(edges[s])
}

// Payload carries the optional annotations of a transition request.
type Payload struct {
	Comment string `json:"comment,omitempty"`
	Reason  string `json:"reason,omitempty"`

	// AssigneeID names the representative when a DRAFT deal is assigned.
	AssigneeID string `json:"assigneeId,omitempty"`
}

// Machine applies transitions. It holds the calculator run on approval.
type Machine struct {
	calc *commission.Calculator
	now  func() time.Time
}

// NewMachine creates a status machine backed by calc.
func NewMachine(calc *commission.Calculator) *Machine {
	return &Machine{
		calc: calc,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Apply validates the transition of deal to target and returns the updated
// copy. deal itself is never modified; on error nothing changes.
// policy is the deal's bound policy, or nil.
func (m *Machine) Apply(deal *domain.Deal, target domain.Status, actor domain.Actor, p Payload, policy *domain.IncentivePolicy) (*domain.Deal, error) {
	from := deal.Status

	if !Allowed(from, target) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, target)
	}
	if !slices.Contains(edgeRoles[[2]domain.Status{from, target}], actor.Role) {
		return nil, fmt.Errorf("%w: role %s may not move a deal from %s to %s", domain.ErrForbidden, actor.Role, from, target)
	}
	if actor.Role == domain.RoleSales && deal.AssignedUserID != "" && deal.AssignedUserID != actor.ID {
		return nil, fmt.Errorf("%w: deal %s is assigned to another representative", domain.ErrForbidden, deal.ID)
	}

	reason := strings.TrimSpace(p.Reason)
	if target == domain.StatusRejected && reason == "" {
		return nil, domain.ErrMissingReason
	}

	next := deal.Clone()
	next.Status = target
	next.UpdatedAt = m.now()

	switch target {
	case domain.StatusAssigned:
		if p.AssigneeID != "" {
			next.AssignedUserID = p.AssigneeID
		}
		if next.AssignedUserID == "" {
			return nil, domain.Invalid("assigneeId", "is required to assign a deal")
		}

	case domain.StatusSubmitted:
		if next.AssignedUserID == "" {
			if actor.Role != domain.RoleSales {
				return nil, domain.Invalid("assigneeId", "deal must be assigned before it is submitted")
			}
			next.AssignedUserID = actor.ID
		}

	case domain.StatusApproved:
		res := m.calc.Compute(deal.Amount, deal.DealType, policy)
		next.Incentive = res.Incentive
		next.Tier = res.Tier
		next.AdminComment = strings.TrimSpace(p.Comment)

	case domain.StatusRejected:
		next.Incentive = decimal.Zero
		next.RejectionReason = reason
	}

	return next, nil
}
