// Package worker persists audit and notification events from the bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/opensource-finance/commission/internal/domain"
)

// Store is the persistence the worker writes events into.
type Store interface {
	SaveAuditEntry(ctx context.Context, entry *domain.AuditEntry) error
	SaveNotification(ctx context.Context, n *domain.Notification) error
}

// Worker consumes collaborator events from the EventBus.
type Worker struct {
	bus   domain.EventBus
	store Store

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

// NewWorker creates a new event worker.
func NewWorker(bus domain.EventBus, store Store) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		store:  store,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the audit, notification and transition topics.
func (w *Worker) Start() error {
	handlers := map[string]domain.MessageHandler{
		domain.TopicAudit:               w.handleAudit,
		domain.TopicNotification:        w.handleNotification,
		domain.TopicDealTransitioned:    w.handleTransition,
		domain.TopicOnboardingCompleted: w.handleOnboardingCompleted,
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for topic, h := range handlers {
		sub, err := w.bus.Subscribe(w.ctx, topic, w.count(h))
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	slog.Info("worker started", "subscriptions", len(w.subscriptions))
	return nil
}

func (w *Worker) count(h domain.MessageHandler) domain.MessageHandler {
	return func(ctx context.Context, msg *domain.Message) error {
		if err := h(ctx, msg); err != nil {
			w.failed.Add(1)
			return err
		}
		w.processed.Add(1)
		return nil
	}
}

func (w *Worker) handleAudit(ctx context.Context, msg *domain.Message) error {
	var entry domain.AuditEntry
	if err := json.Unmarshal(msg.Payload, &entry); err != nil {
		return fmt.Errorf("failed to parse audit message %s: %w", msg.ID, err)
	}
	if err := w.store.SaveAuditEntry(ctx, &entry); err != nil {
		return fmt.Errorf("failed to save audit entry %s: %w", entry.ID, err)
	}

	slog.Debug("audit entry stored",
		"entry_id", entry.ID,
		"action", entry.Action,
		"entity_id", entry.EntityID,
	)
	return nil
}

func (w *Worker) handleNotification(ctx context.Context, msg *domain.Message) error {
	var n domain.Notification
	if err := json.Unmarshal(msg.Payload, &n); err != nil {
		return fmt.Errorf("failed to parse notification message %s: %w", msg.ID, err)
	}
	if err := w.store.SaveNotification(ctx, &n); err != nil {
		return fmt.Errorf("failed to save notification %s: %w", n.ID, err)
	}

	slog.Debug("notification stored", "notification_id", n.ID, "user_id", n.UserID, "type", n.Type)
	return nil
}

func (w *Worker) handleTransition(ctx context.Context, msg *domain.Message) error {
	var ev domain.DealTransitioned
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return fmt.Errorf("failed to parse transition message %s: %w", msg.ID, err)
	}

	slog.Info("deal transitioned",
		"deal_id", ev.DealID,
		"from", ev.From,
		"to", ev.To,
		"actor_id", ev.ActorID,
		"incentive", ev.Incentive,
	)
	return nil
}

func (w *Worker) handleOnboardingCompleted(ctx context.Context, msg *domain.Message) error {
	var p domain.OnboardingProgress
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return fmt.Errorf("failed to parse onboarding message %s: %w", msg.ID, err)
	}

	slog.Info("onboarding completed", "user_id", p.UserID, "completed_at", p.CompletedAt)
	return nil
}

// Stop unsubscribes from every topic.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("worker stopped", "processed", w.processed.Load(), "failed", w.failed.Load())
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
