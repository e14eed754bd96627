package domain

import (
	"context"
	"time"
)

// AuditEntry is one record handed to the audit collaborator.
type AuditEntry struct {
	ID         string         `json:"id"`
	ActorID    string         `json:"actorId"`
	Action     string         `json:"action"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Notification is one message handed to the notification collaborator.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// AuditSink receives audit records. Failures never roll back the caller.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// NotificationSink receives user notifications. Failures never roll back the caller.
type NotificationSink interface {
	Notify(ctx context.Context, n Notification) error
}

// Entity types used in audit entries.
const (
	EntityDeal       = "deal"
	EntityPolicy     = "policy"
	EntityOnboarding = "onboarding"
	EntityRiskRule   = "risk_rule"
)

// Notification types.
const (
	NotificationDealAssigned = "DEAL_ASSIGNED"
	NotificationDealApproved = "DEAL_APPROVED"
	NotificationDealRejected = "DEAL_REJECTED"
	NotificationOnboarded    = "ONBOARDING_COMPLETE"
)

// DealTransitioned is published after every committed status change.
type DealTransitioned struct {
	DealID    string    `json:"dealId"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	ActorID   string    `json:"actorId"`
	ActorRole Role      `json:"actorRole"`
	Incentive string    `json:"incentive"`
	At        time.Time `json:"at"`
}
