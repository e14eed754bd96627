package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/commission/internal/commission"
	"github.com/opensource-finance/commission/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	admin = domain.Actor{ID: "admin-001", Role: domain.RoleAdmin}
	rep   = domain.Actor{ID: "rep-001", Role: domain.RoleSales}
)

var allStatuses = []domain.Status{
	domain.StatusDraft,
	domain.StatusAssigned,
	domain.StatusInProgress,
	domain.StatusSubmitted,
	domain.StatusApproved,
	domain.StatusRejected,
}

func newTestMachine() *Machine {
	calc := commission.New(domain.CommissionConfig{
		DefaultRate: decimal.NewFromInt(5),
		Tiers:       domain.DefaultTiers(),
	})
	return NewMachine(calc)
}

func newDeal(status domain.Status) *domain.Deal {
	return &domain.Deal{
		ID:             "deal-001",
		DealName:       "Acme expansion",
		Amount:         decimal.NewFromInt(500000),
		Currency:       "$",
		DealType:       domain.DealTypeNewBusiness,
		Status:         status,
		AssignedUserID: rep.ID,
		Incentive:      decimal.Zero,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestEdgesOutsideTableAreInvalid(t *testing.T) {
	m := newTestMachine()

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			if Allowed(from, to) {
				continue
			}
			for _, actor := range []domain.Actor{admin, rep} {
				deal := newDeal(from)
				before := *deal

				_, err := m.Apply(deal, to, actor, Payload{Reason: "r", AssigneeID: rep.ID}, nil)
				if !errors.Is(err, domain.ErrInvalidTransition) {
					t.Errorf("%s -> %s as %s: expected ErrInvalidTransition, got %v", from, to, actor.Role, err)
				}
				if deal.Status != before.Status || !deal.Incentive.Equal(before.Incentive) {
					t.Errorf("%s -> %s: deal was modified on failure", from, to)
				}
			}
		}
	}
}

func TestTerminalStatesHaveNoTargets(t *testing.T) {
	for _, s := range []domain.Status{domain.StatusApproved, domain.StatusRejected} {
		if len(Targets(s)) != 0 {
			t.Errorf("expected no targets from %s, got %v", s, Targets(s))
		}
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
}

func TestSalesCannotApproveFromDraft(t *testing.T) {
	m := newTestMachine()

	_, err := m.Apply(newDeal(domain.StatusDraft), domain.StatusApproved, rep, Payload{}, nil)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestRolePermissions(t *testing.T) {
	m := newTestMachine()

	t.Run("SalesCannotApprove", func(t *testing.T) {
		_, err := m.Apply(newDeal(domain.StatusSubmitted), domain.StatusApproved, rep, Payload{}, nil)
		if !errors.Is(err, domain.ErrForbidden) {
			t.Errorf("expected ErrForbidden, got %v", err)
		}
	})

	t.Run("SalesCannotReject", func(t *testing.T) {
		_, err := m.Apply(newDeal(domain.StatusSubmitted), domain.StatusRejected, rep, Payload{Reason: "no"}, nil)
		if !errors.Is(err, domain.ErrForbidden) {
			t.Errorf("expected ErrForbidden, got %v", err)
		}
	})

	t.Run("SalesCannotAssign", func(t *testing.T) {
		_, err := m.Apply(newDeal(domain.StatusDraft), domain.StatusAssigned, rep, Payload{AssigneeID: rep.ID}, nil)
		if !errors.Is(err, domain.ErrForbidden) {
			t.Errorf("expected ErrForbidden, got %v", err)
		}
	})

	t.Run("SalesMustOwnDeal", func(t *testing.T) {
		other := domain.Actor{ID: "rep-002", Role: domain.RoleSales}
		_, err := m.Apply(newDeal(domain.StatusInProgress), domain.StatusSubmitted, other, Payload{}, nil)
		if !errors.Is(err, domain.ErrForbidden) {
			t.Errorf("expected ErrForbidden, got %v", err)
		}
	})

	t.Run("SalesSubmitsOwnDeal", func(t *testing.T) {
		next, err := m.Apply(newDeal(domain.StatusInProgress), domain.StatusSubmitted, rep, Payload{Comment: "ready"}, nil)
		if err != nil {
			t.Fatalf("expected success, got %v", err)
		}
		if next.Status != domain.StatusSubmitted {
			t.Errorf("expected SUBMITTED, got %s", next.Status)
		}
	})
}

func TestRejectRequiresReason(t *testing.T) {
	m := newTestMachine()
	deal := newDeal(domain.StatusSubmitted)

	_, err := m.Apply(deal, domain.StatusRejected, admin, Payload{Reason: "   "}, nil)
	if !errors.Is(err, domain.ErrMissingReason) {
		t.Fatalf("expected ErrMissingReason, got %v", err)
	}
	if !errors.Is(err, domain.ErrValidation) {
		t.Error("expected MissingReason to be a validation error")
	}
	if deal.Status != domain.StatusSubmitted {
		t.Errorf("expected deal to remain SUBMITTED, got %s", deal.Status)
	}

	next, err := m.Apply(deal, domain.StatusRejected, admin, Payload{Reason: "pricing below floor"}, nil)
	if err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if next.RejectionReason != "pricing below floor" {
		t.Errorf("expected rejection reason to be stored, got %q", next.RejectionReason)
	}
	if !next.Incentive.IsZero() {
		t.Errorf("expected zero incentive on rejection, got %s", next.Incentive)
	}
}

func TestApproveComputesIncentive(t *testing.T) {
	m := newTestMachine()
	bonusThreshold := decimal.NewFromInt(500000)
	bonus := decimal.NewFromInt(10000)
	policy := &domain.IncentivePolicy{
		Title:          "Accelerator",
		CommissionRate: decimal.NewFromInt(10),
		BonusThreshold: &bonusThreshold,
		BonusAmount:    &bonus,
	}

	deal := newDeal(domain.StatusSubmitted)
	deal.Amount = decimal.NewFromInt(600000)

	next, err := m.Apply(deal, domain.StatusApproved, admin, Payload{Comment: "great quarter"}, policy)
	if err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	if !next.Incentive.Equal(decimal.NewFromInt(70000)) {
		t.Errorf("expected incentive 70000, got %s", next.Incentive)
	}
	if next.Tier != "Gold" {
		t.Errorf("expected Gold tier, got %s", next.Tier)
	}
	if next.AdminComment != "great quarter" {
		t.Errorf("expected admin comment, got %q", next.AdminComment)
	}
	if !deal.Incentive.IsZero() || deal.Status != domain.StatusSubmitted {
		t.Error("input deal must not be modified")
	}

	_, err = m.Apply(next, domain.StatusApproved, admin, Payload{}, policy)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected second approval to fail with ErrInvalidTransition, got %v", err)
	}
}

func TestAssignment(t *testing.T) {
	m := newTestMachine()

	t.Run("AssignRequiresAssignee", func(t *testing.T) {
		deal := newDeal(domain.StatusDraft)
		deal.AssignedUserID = ""

		_, err := m.Apply(deal, domain.StatusAssigned, admin, Payload{}, nil)
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("AdminAssigns", func(t *testing.T) {
		deal := newDeal(domain.StatusDraft)
		deal.AssignedUserID = ""

		next, err := m.Apply(deal, domain.StatusAssigned, admin, Payload{AssigneeID: "rep-009"}, nil)
		if err != nil {
			t.Fatalf("assign failed: %v", err)
		}
		if next.AssignedUserID != "rep-009" {
			t.Errorf("expected assignee rep-009, got %s", next.AssignedUserID)
		}
	})

	t.Run("SalesSubmitClaimsUnassignedDraft", func(t *testing.T) {
		deal := newDeal(domain.StatusDraft)
		deal.AssignedUserID = ""

		next, err := m.Apply(deal, domain.StatusSubmitted, rep, Payload{}, nil)
		if err != nil {
			t.Fatalf("submit failed: %v", err)
		}
		if next.AssignedUserID != rep.ID {
			t.Errorf("expected submitter to become assignee, got %q", next.AssignedUserID)
		}
	})

	t.Run("AdminSubmitNeedsAssignee", func(t *testing.T) {
		deal := newDeal(domain.StatusDraft)
		deal.AssignedUserID = ""

		_, err := m.Apply(deal, domain.StatusSubmitted, admin, Payload{}, nil)
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})
}
