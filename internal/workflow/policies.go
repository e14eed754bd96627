package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/commission/internal/cache"
	"github.com/opensource-finance/commission/internal/commission"
	"github.com/opensource-finance/commission/internal/domain"
)

// SavePolicy creates a policy, or replaces the one with the same id.
func (s *Service) SavePolicy(ctx context.Context, actor domain.Actor, p *domain.IncentivePolicy) (*domain.IncentivePolicy, error) {
	if err := authorize(actor, domain.ResourcePolicies, domain.CapWrite); err != nil {
		return nil, err
	}

	p.Title = strings.TrimSpace(p.Title)
	if err := p.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	action := "policy.created"
	if p.ID == "" {
		p.ID = uuid.New().String()
		p.CreatedAt = now
	} else {
		existing, err := s.repo.GetPolicy(ctx, p.ID)
		switch {
		case err == nil:
			p.CreatedAt = existing.CreatedAt
			action = "policy.updated"
		case errors.Is(err, domain.ErrNotFound):
			p.CreatedAt = now
		default:
			return nil, fmt.Errorf("failed to load policy: %w", err)
		}
	}
	p.UpdatedAt = now

	if err := s.repo.SavePolicy(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save policy: %w", err)
	}
	s.invalidate(ctx, cache.PolicyKey(p.ID))

	slog.Info("policy saved", "policy_id", p.ID, "actor_id", actor.ID, "active", p.Active)

	s.record(ctx, actor, action, domain.EntityPolicy, p.ID, map[string]any{
		"commissionRate": p.CommissionRate.String(),
		"active":         p.Active,
	})
	s.onboard(ctx, actor.ID, domain.TaskFirstRule)

	return p, nil
}

// GetPolicy returns one policy.
func (s *Service) GetPolicy(ctx context.Context, actor domain.Actor, id string) (*domain.IncentivePolicy, error) {
	if err := authorize(actor, domain.ResourcePolicies, domain.CapRead); err != nil {
		return nil, err
	}
	return s.loadPolicy(ctx, id)
}

// ListPolicies returns policies matching filter.
func (s *Service) ListPolicies(ctx context.Context, actor domain.Actor, filter domain.PolicyFilter) ([]*domain.IncentivePolicy, error) {
	if err := authorize(actor, domain.ResourcePolicies, domain.CapRead); err != nil {
		return nil, err
	}
	return s.repo.ListPolicies(ctx, filter)
}

// loadPolicy reads through the cache.
func (s *Service) loadPolicy(ctx context.Context, id string) (*domain.IncentivePolicy, error) {
	if s.cache != nil {
		p, ok, err := cache.GetJSON[domain.IncentivePolicy](ctx, s.cache, cache.PolicyKey(id))
		if err != nil {
			slog.Debug("policy cache read failed", "policy_id", id, "error", err)
		}
		if ok {
			return p, nil
		}
	}

	p, err := s.repo.GetPolicy(ctx, id)
	if err != nil {
		return nil, wrapNotFound(err, "policy", id)
	}

	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, cache.PolicyKey(id), p, s.cacheTTL); err != nil {
			slog.Debug("failed to cache policy", "policy_id", id, "error", err)
		}
	}
	return p, nil
}

// checkBindable rejects unknown and inactive policies for new bindings.
func (s *Service) checkBindable(ctx context.Context, id string) error {
	p, err := s.loadPolicy(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Invalid("policyId", "policy %s does not exist", id)
	}
	if err != nil {
		return err
	}
	if !p.Active {
		return domain.Invalid("policyId", "policy %s is inactive", id)
	}
	return nil
}

// RateParams describe an ad hoc policy for simulation.
type RateParams struct {
	CommissionRate decimal.Decimal  `json:"commissionRate"`
	MinDealAmount  *decimal.Decimal `json:"minDealAmount,omitempty"`
	MaxDealAmount  *decimal.Decimal `json:"maxDealAmount,omitempty"`
	BonusThreshold *decimal.Decimal `json:"bonusThreshold,omitempty"`
	BonusAmount    *decimal.Decimal `json:"bonusAmount,omitempty"`
}

// SimulationInput is a what-if incentive request.
type SimulationInput struct {
	Amount     decimal.Decimal
	DealType   domain.DealType
	PolicyID   string
	RateParams *RateParams
}

// Simulate computes an incentive without touching any deal. A stored
// policy wins over rate params; with neither the default rate applies.
func (s *Service) Simulate(ctx context.Context, in SimulationInput) (commission.Result, error) {
	if in.Amount.IsNegative() {
		return commission.Result{}, domain.Invalid("amount", "must not be negative")
	}

	var policy *domain.IncentivePolicy
	switch {
	case in.PolicyID != "":
		p, err := s.loadPolicy(ctx, in.PolicyID)
		if err != nil {
			return commission.Result{}, err
		}
		policy = p
	case in.RateParams != nil:
		policy = &domain.IncentivePolicy{
			Title:          "simulation",
			CommissionRate: in.RateParams.CommissionRate,
			MinDealAmount:  in.RateParams.MinDealAmount,
			MaxDealAmount:  in.RateParams.MaxDealAmount,
			BonusThreshold: in.RateParams.BonusThreshold,
			BonusAmount:    in.RateParams.BonusAmount,
			Active:         true,
		}
		if err := policy.Validate(); err != nil {
			return commission.Result{}, err
		}
	}

	return s.calc.Compute(in.Amount, in.DealType, policy), nil
}
