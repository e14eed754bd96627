// Package workflow orchestrates deal operations: it runs the status machine,
// persists results atomically and fans out to the audit, notification and
// onboarding collaborators.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opensource-finance/commission/internal/commission"
	"github.com/opensource-finance/commission/internal/domain"
	"github.com/opensource-finance/commission/internal/lifecycle"
	"github.com/opensource-finance/commission/internal/locks"
	"github.com/opensource-finance/commission/internal/onboarding"
	"github.com/opensource-finance/commission/internal/risk"
)

var tracer = otel.Tracer("github.com/opensource-finance/commission/internal/workflow")

// maxAttempts bounds how often a write is retried after losing a version race.
const maxAttempts = 2

// TransitionPublisher announces committed status changes.
type TransitionPublisher interface {
	Transitioned(ctx context.Context, ev domain.DealTransitioned) error
}

// Deps are the collaborators of a Service. Cache, Tracker, Risk, Audit,
// Notify and Events may be nil.
type Deps struct {
	Repo       domain.Repository
	Cache      domain.Cache
	Calculator *commission.Calculator
	Tracker    *onboarding.Tracker
	Risk       *risk.Assessor
	Audit      domain.AuditSink
	Notify     domain.NotificationSink
	Events     TransitionPublisher
	CacheTTL   time.Duration
}

// Service is the approval workflow.
type Service struct {
	repo     domain.Repository
	cache    domain.Cache
	calc     *commission.Calculator
	machine  *lifecycle.Machine
	tracker  *onboarding.Tracker
	risk     *risk.Assessor
	audit    domain.AuditSink
	notify   domain.NotificationSink
	events   TransitionPublisher
	locks    *locks.KeyedMutex
	cacheTTL time.Duration
	now      func() time.Time
}

// NewService wires a workflow service.
func NewService(d Deps) *Service {
	ttl := d.CacheTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Service{
		repo:     d.Repo,
		cache:    d.Cache,
		calc:     d.Calculator,
		machine:  lifecycle.NewMachine(d.Calculator),
		tracker:  d.Tracker,
		risk:     d.Risk,
		audit:    d.Audit,
		notify:   d.Notify,
		events:   d.Events,
		locks:    locks.NewKeyedMutex(),
		cacheTTL: ttl,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func authorize(actor domain.Actor, r domain.Resource, c domain.Capability) error {
	if actor.ID == "" {
		return fmt.Errorf("%w: actor id is required", domain.ErrForbidden)
	}
	if !domain.RolePermissions(actor.Role).Allows(r, c) {
		return fmt.Errorf("%w: role %q lacks access to %s", domain.ErrForbidden, actor.Role, r)
	}
	return nil
}

// CreateDealInput holds the caller-supplied fields of a new deal.
type CreateDealInput struct {
	DealName          string
	OrganizationName  string
	ClientName        string
	Amount            decimal.Decimal
	Currency          string
	DealType          domain.DealType
	Priority          domain.Priority
	AssignedUserID    string
	PolicyID          string
	ExpectedCloseDate *time.Time
}

// CreateDeal stores a new deal. It starts ASSIGNED when an assignee is
// given, DRAFT otherwise. A SALES actor may only assign to themselves.
func (s *Service) CreateDeal(ctx context.Context, actor domain.Actor, in CreateDealInput) (*domain.Deal, error) {
	if err := authorize(actor, domain.ResourceDeals, domain.CapWrite); err != nil {
		return nil, err
	}

	in.DealName = strings.TrimSpace(in.DealName)
	in.AssignedUserID = strings.TrimSpace(in.AssignedUserID)
	switch {
	case in.DealName == "":
		return nil, domain.Invalid("dealName", "is required")
	case !in.Amount.IsPositive():
		return nil, domain.Invalid("amount", "must be greater than zero")
	case in.DealType == "":
		return nil, domain.Invalid("dealType", "is required")
	}
	if in.Priority == "" {
		in.Priority = domain.PriorityMedium
	}
	if actor.Role == domain.RoleSales && in.AssignedUserID != "" && in.AssignedUserID != actor.ID {
		return nil, fmt.Errorf("%w: representatives may only assign deals to themselves", domain.ErrForbidden)
	}
	if in.PolicyID != "" {
		if err := s.checkBindable(ctx, in.PolicyID); err != nil {
			return nil, err
		}
	}

	now := s.now()
	d := &domain.Deal{
		ID:                uuid.New().String(),
		DealName:          in.DealName,
		OrganizationName:  strings.TrimSpace(in.OrganizationName),
		ClientName:        strings.TrimSpace(in.ClientName),
		Amount:            in.Amount,
		Currency:          strings.TrimSpace(in.Currency),
		DealType:          in.DealType,
		Priority:          in.Priority,
		Status:            domain.StatusDraft,
		AssignedUserID:    in.AssignedUserID,
		PolicyID:          in.PolicyID,
		Incentive:         decimal.Zero,
		CreatedBy:         actor.ID,
		CreatedAt:         now,
		UpdatedAt:         now,
		ExpectedCloseDate: in.ExpectedCloseDate,
		Version:           1,
	}
	if d.AssignedUserID != "" {
		d.Status = domain.StatusAssigned
	}
	d.RiskLevel = s.assess(ctx, d)

	if err := s.repo.CreateDeal(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to create deal: %w", err)
	}

	slog.Info("deal created",
		"deal_id", d.ID,
		"actor_id", actor.ID,
		"status", d.Status,
		"risk_level", d.RiskLevel,
	)

	s.record(ctx, actor, "deal.created", domain.EntityDeal, d.ID, map[string]any{
		"status": d.Status,
		"amount": d.Amount.String(),
	})
	if d.Status == domain.StatusAssigned {
		s.send(ctx, assignedNotice(d))
	}
	s.onboard(ctx, actor.ID, domain.TaskFirstDeal)

	return d, nil
}

// GetDeal returns one deal.
func (s *Service) GetDeal(ctx context.Context, actor domain.Actor, id string) (*domain.Deal, error) {
	if err := authorize(actor, domain.ResourceDeals, domain.CapRead); err != nil {
		return nil, err
	}
	d, err := s.repo.GetDeal(ctx, id)
	if err != nil {
		return nil, wrapNotFound(err, "deal", id)
	}
	return d, nil
}

// ListDeals returns deals matching filter.
func (s *Service) ListDeals(ctx context.Context, actor domain.Actor, filter domain.DealFilter) ([]*domain.Deal, error) {
	if err := authorize(actor, domain.ResourceDeals, domain.CapRead); err != nil {
		return nil, err
	}
	return s.repo.ListDeals(ctx, filter)
}

// DealAudit returns the audit trail of one deal.
func (s *Service) DealAudit(ctx context.Context, actor domain.Actor, id string) ([]*domain.AuditEntry, error) {
	if _, err := s.GetDeal(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.repo.ListAuditEntries(ctx, domain.EntityDeal, id)
}

// UpdateDealInput lists editable fields. Nil means unchanged.
type UpdateDealInput struct {
	DealName          *string
	OrganizationName  *string
	ClientName        *string
	Currency          *string
	Priority          *domain.Priority
	ExpectedCloseDate *time.Time

	// Only editable while the deal is DRAFT.
	Amount   *decimal.Decimal
	DealType *domain.DealType
	PolicyID *string
}

func (in UpdateDealInput) touchesDraftFields() bool {
	return in.Amount != nil || in.DealType != nil || in.PolicyID != nil
}

// UpdateDeal edits a non-terminal deal. Representatives may only edit deals
// they own or created.
func (s *Service) UpdateDeal(ctx context.Context, actor domain.Actor, id string, in UpdateDealInput) (*domain.Deal, error) {
	if err := authorize(actor, domain.ResourceDeals, domain.CapWrite); err != nil {
		return nil, err
	}
	if in.PolicyID != nil && *in.PolicyID != "" {
		if err := s.checkBindable(ctx, *in.PolicyID); err != nil {
			return nil, err
		}
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		cur, err := s.repo.GetDeal(ctx, id)
		if err != nil {
			return nil, wrapNotFound(err, "deal", id)
		}
		if cur.Status.Terminal() {
			return nil, domain.Invalid("status", "deal is %s and can no longer be edited", cur.Status)
		}
		if actor.Role == domain.RoleSales && cur.AssignedUserID != actor.ID && cur.CreatedBy != actor.ID {
			return nil, fmt.Errorf("%w: deal %s belongs to another representative", domain.ErrForbidden, id)
		}
		if in.touchesDraftFields() && cur.Status != domain.StatusDraft {
			return nil, domain.Invalid("amount", "amount, dealType and policyId are only editable while the deal is DRAFT")
		}

		next, err := applyUpdate(cur, in)
		if err != nil {
			return nil, err
		}
		next.UpdatedAt = s.now()
		next.RiskLevel = s.assess(ctx, next)

		err = s.repo.UpdateDeal(ctx, next, cur.Version)
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to update deal: %w", err)
		}

		s.record(ctx, actor, "deal.updated", domain.EntityDeal, id, nil)
		return next, nil
	}

	return nil, fmt.Errorf("%w: deal %s is changing concurrently", domain.ErrConflict, id)
}

func applyUpdate(cur *domain.Deal, in UpdateDealInput) (*domain.Deal, error) {
	next := cur.Clone()
	if in.DealName != nil {
		name := strings.TrimSpace(*in.DealName)
		if name == "" {
			return nil, domain.Invalid("dealName", "is required")
		}
		next.DealName = name
	}
	if in.OrganizationName != nil {
		next.OrganizationName = strings.TrimSpace(*in.OrganizationName)
	}
	if in.ClientName != nil {
		next.ClientName = strings.TrimSpace(*in.ClientName)
	}
	if in.Currency != nil {
		next.Currency = strings.TrimSpace(*in.Currency)
	}
	if in.Priority != nil {
		next.Priority = *in.Priority
	}
	if in.ExpectedCloseDate != nil {
		t := *in.ExpectedCloseDate
		next.ExpectedCloseDate = &t
	}
	if in.Amount != nil {
		if !in.Amount.IsPositive() {
			return nil, domain.Invalid("amount", "must be greater than zero")
		}
		next.Amount = *in.Amount
	}
	if in.DealType != nil {
		next.DealType = *in.DealType
	}
	if in.PolicyID != nil {
		next.PolicyID = *in.PolicyID
	}
	return next, nil
}

// TransitionInput is a status change request.
type TransitionInput struct {
	Target  domain.Status
	Payload lifecycle.Payload
}

// Transition moves a deal to a new status. Transitions on one deal are
// serialized; a request that loses a race re-reads the deal and is
// re-validated, so a deal that has moved on yields ErrInvalidTransition.
func (s *Service) Transition(ctx context.Context, actor domain.Actor, id string, in TransitionInput) (*domain.Deal, error) {
	ctx, span := tracer.Start(ctx, "workflow.Transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("deal.id", id),
		attribute.String("deal.target", string(in.Target)),
		attribute.String("actor.role", string(actor.Role)),
	)

	next, prev, err := s.transition(ctx, actor, id, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.ErrorKind(err))
		return nil, err
	}

	s.afterTransition(ctx, actor, prev, next, in.Payload)
	return next, nil
}

func (s *Service) transition(ctx context.Context, actor domain.Actor, id string, in TransitionInput) (*domain.Deal, *domain.Deal, error) {
	if err := authorize(actor, domain.ResourceDeals, domain.CapWrite); err != nil {
		return nil, nil, err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		cur, err := s.repo.GetDeal(ctx, id)
		if err != nil {
			return nil, nil, wrapNotFound(err, "deal", id)
		}

		var policy *domain.IncentivePolicy
		if in.Target == domain.StatusApproved {
			policy = s.boundPolicy(ctx, cur)
		}

		next, err := s.machine.Apply(cur, in.Target, actor, in.Payload, policy)
		if err != nil {
			return nil, nil, err
		}

		err = s.repo.UpdateDeal(ctx, next, cur.Version)
		if errors.Is(err, domain.ErrConflict) {
			slog.Debug("deal changed underneath transition, retrying", "deal_id", id, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to persist transition: %w", err)
		}
		return next, cur, nil
	}

	return nil, nil, fmt.Errorf("%w: deal %s kept changing during %s", domain.ErrInvalidTransition, id, in.Target)
}

func (s *Service) afterTransition(ctx context.Context, actor domain.Actor, prev, next *domain.Deal, p lifecycle.Payload) {
	slog.Info("deal transitioned",
		"deal_id", next.ID,
		"actor_id", actor.ID,
		"from", prev.Status,
		"to", next.Status,
		"incentive", next.Incentive.String(),
	)

	details := map[string]any{"from": prev.Status, "to": next.Status}
	if c := strings.TrimSpace(p.Comment); c != "" {
		details["comment"] = c
	}
	switch next.Status {
	case domain.StatusApproved:
		details["incentive"] = next.Incentive.String()
		details["tier"] = next.Tier
	case domain.StatusRejected:
		details["reason"] = next.RejectionReason
	}
	s.record(ctx, actor, "deal.transitioned", domain.EntityDeal, next.ID, details)

	switch next.Status {
	case domain.StatusAssigned:
		s.send(ctx, assignedNotice(next))
	case domain.StatusApproved:
		s.send(ctx, domain.Notification{
			UserID:  next.AssignedUserID,
			Type:    domain.NotificationDealApproved,
			Title:   "Deal approved",
			Message: fmt.Sprintf("%s was approved with an incentive of %s (%s).", next.DealName, commission.Display(next.Incentive, next.Currency), next.Tier),
		})
		s.onboard(ctx, next.AssignedUserID, domain.TaskFirstDeal)
	case domain.StatusRejected:
		s.send(ctx, domain.Notification{
			UserID:  next.AssignedUserID,
			Type:    domain.NotificationDealRejected,
			Title:   "Deal rejected",
			Message: fmt.Sprintf("%s was rejected: %s", next.DealName, next.RejectionReason),
		})
	}

	if s.events != nil {
		ev := domain.DealTransitioned{
			DealID:    next.ID,
			From:      prev.Status,
			To:        next.Status,
			ActorID:   actor.ID,
			ActorRole: actor.Role,
			Incentive: next.Incentive.String(),
			At:        next.UpdatedAt,
		}
		if err := s.events.Transitioned(ctx, ev); err != nil {
			slog.Warn("failed to publish transition", "deal_id", next.ID, "error", err)
		}
	}
}

func assignedNotice(d *domain.Deal) domain.Notification {
	return domain.Notification{
		UserID:  d.AssignedUserID,
		Type:    domain.NotificationDealAssigned,
		Title:   "New deal assigned",
		Message: fmt.Sprintf("%s (%s) was assigned to you.", d.DealName, commission.Display(d.Amount, d.Currency)),
	}
}

// boundPolicy loads the deal's policy from the repository, never a cache:
// the incentive it feeds is fixed once approved. A missing policy computes
// at the default rate rather than blocking the approval.
func (s *Service) boundPolicy(ctx context.Context, d *domain.Deal) *domain.IncentivePolicy {
	if d.PolicyID == "" {
		return nil
	}
	p, err := s.repo.GetPolicy(ctx, d.PolicyID)
	if err != nil {
		slog.Warn("bound policy unavailable, using default rate",
			"deal_id", d.ID,
			"policy_id", d.PolicyID,
			"error", err,
		)
		return nil
	}
	return p
}

func (s *Service) assess(ctx context.Context, d *domain.Deal) domain.RiskLevel {
	if s.risk == nil {
		return domain.RiskLow
	}
	return s.risk.Assess(ctx, d).Level
}

func (s *Service) record(ctx context.Context, actor domain.Actor, action, entityType, entityID string, details map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, domain.AuditEntry{
		ID:         uuid.New().String(),
		ActorID:    actor.ID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
		CreatedAt:  s.now(),
	})
	if err != nil {
		slog.Warn("failed to record audit entry", "action", action, "entity_id", entityID, "error", err)
	}
}

func (s *Service) send(ctx context.Context, n domain.Notification) {
	if s.notify == nil || n.UserID == "" {
		return
	}
	n.ID = uuid.New().String()
	n.CreatedAt = s.now()
	if err := s.notify.Notify(ctx, n); err != nil {
		slog.Warn("failed to send notification", "user_id", n.UserID, "type", n.Type, "error", err)
	}
}

func (s *Service) onboard(ctx context.Context, userID string, task domain.Task) {
	if s.tracker == nil || userID == "" {
		return
	}
	if _, err := s.tracker.RecordEvent(ctx, userID, task); err != nil {
		slog.Warn("failed to record onboarding event", "user_id", userID, "task", task, "error", err)
	}
}

func (s *Service) invalidate(ctx context.Context, key string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, key); err != nil {
		slog.Warn("failed to invalidate cache", "key", key, "error", err)
	}
}

func wrapNotFound(err error, kind, id string) error {
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: %s %s", domain.ErrNotFound, kind, id)
	}
	return err
}
