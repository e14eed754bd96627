// Package events adapts the event bus to the audit and notification
// collaborator interfaces.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/commission/internal/domain"
)

// Publisher implements domain.AuditSink and domain.NotificationSink by
// publishing onto the bus. A worker persists what it receives.
type Publisher struct {
	bus domain.EventBus
	now func() time.Time
}

// NewPublisher wraps bus.
func NewPublisher(bus domain.EventBus) *Publisher {
	return &Publisher{bus: bus, now: time.Now}
}

// Record publishes an audit entry on TopicAudit.
func (p *Publisher) Record(ctx context.Context, entry domain.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = p.now().UTC()
	}
	return p.publish(ctx, domain.TopicAudit, entry)
}

// Notify publishes a notification on TopicNotification.
func (p *Publisher) Notify(ctx context.Context, n domain.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = p.now().UTC()
	}
	return p.publish(ctx, domain.TopicNotification, n)
}

// Transitioned announces a committed status change.
func (p *Publisher) Transitioned(ctx context.Context, ev domain.DealTransitioned) error {
	return p.publish(ctx, domain.TopicDealTransitioned, ev)
}

func (p *Publisher) publish(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", topic, err)
	}
	return p.bus.Publish(ctx, topic, payload)
}
