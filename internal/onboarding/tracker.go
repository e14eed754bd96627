// Package onboarding tracks the per-actor setup checklist.
package onboarding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/commission/internal/cache"
	"github.com/opensource-finance/commission/internal/domain"
	"github.com/opensource-finance/commission/internal/locks"
)

// Store persists onboarding snapshots.
type Store interface {
	GetProgress(ctx context.Context, userID string) (*domain.OnboardingProgress, error)
	SaveProgress(ctx context.Context, p *domain.OnboardingProgress) error
}

// Tracker records checklist events. Reads never mutate stored state.
type Tracker struct {
	repo   Store
	cache  domain.Cache
	bus    domain.EventBus
	notify domain.NotificationSink
	locks  *locks.KeyedMutex
	ttl    time.Duration
	now    func() time.Time
}

// NewTracker creates a tracker. cache, bus and notify may be nil.
// Snapshots are cached in the shared layer of c only, so every node sees an
// invalidation as soon as RecordEvent returns.
func NewTracker(repo Store, c domain.Cache, bus domain.EventBus, notify domain.NotificationSink, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Tracker{
		repo:   repo,
		cache:  cache.Shared(c),
		bus:    bus,
		notify: notify,
		locks:  locks.NewKeyedMutex(),
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GetProgress returns the snapshot for userID. Unknown users get an empty
// snapshot that is not persisted.
func (t *Tracker) GetProgress(ctx context.Context, userID string) (*domain.OnboardingProgress, error) {
	if userID == "" {
		return nil, domain.Invalid("userId", "is required")
	}

	if p := t.fromCache(ctx, userID); p != nil {
		return p, nil
	}

	p, err := t.repo.GetProgress(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.OnboardingProgress{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load onboarding progress: %w", err)
	}

	t.toCache(ctx, p)
	return p, nil
}

// RecordEvent marks task done for userID and returns the resulting snapshot.
// Marking a task that is already done returns the stored snapshot unchanged.
func (t *Tracker) RecordEvent(ctx context.Context, userID string, task domain.Task) (*domain.OnboardingProgress, error) {
	if userID == "" {
		return nil, domain.Invalid("userId", "is required")
	}
	task, err := domain.ParseTask(string(task))
	if err != nil {
		return nil, err
	}

	unlock := t.locks.Lock(userID)
	defer unlock()

	now := t.now()
	p, err := t.repo.GetProgress(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		p = &domain.OnboardingProgress{UserID: userID, CreatedAt: now}
	case err != nil:
		return nil, fmt.Errorf("failed to load onboarding progress: %w", err)
	}

	if p.Has(task) {
		return p, nil
	}

	p.Mark(task)
	p.UpdatedAt = now
	if p.CompletedCount == domain.TaskCount && !p.Archived {
		p.Archived = true
		p.CompletedAt = &now
		p.JustCompleted = true
	}

	if err := t.repo.SaveProgress(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save onboarding progress: %w", err)
	}

	t.invalidate(ctx, userID)

	slog.Info("onboarding task recorded",
		"user_id", userID,
		"task", task,
		"completed_count", p.CompletedCount,
	)

	if p.JustCompleted {
		t.announceCompletion(ctx, p)
	}

	return p, nil
}

func (t *Tracker) announceCompletion(ctx context.Context, p *domain.OnboardingProgress) {
	if t.bus != nil {
		payload, _ := json.Marshal(p)
		if err := t.bus.Publish(ctx, domain.TopicOnboardingCompleted, payload); err != nil {
			slog.Warn("failed to publish onboarding completion", "user_id", p.UserID, "error", err)
		}
	}
	if t.notify != nil {
		err := t.notify.Notify(ctx, domain.Notification{
			ID:        uuid.New().String(),
			UserID:    p.UserID,
			Type:      domain.NotificationOnboarded,
			Title:     "Setup complete",
			Message:   "All onboarding tasks are done.",
			CreatedAt: t.now(),
		})
		if err != nil {
			slog.Warn("failed to send onboarding notification", "user_id", p.UserID, "error", err)
		}
	}
}

func (t *Tracker) fromCache(ctx context.Context, userID string) *domain.OnboardingProgress {
	if t.cache == nil {
		return nil
	}
	p, ok, err := cache.GetJSON[domain.OnboardingProgress](ctx, t.cache, cache.ProgressKey(userID))
	if err != nil {
		slog.Debug("onboarding cache read failed", "user_id", userID, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	return p
}

func (t *Tracker) toCache(ctx context.Context, p *domain.OnboardingProgress) {
	if t.cache == nil {
		return
	}
	if err := cache.SetJSON(ctx, t.cache, cache.ProgressKey(p.UserID), p, t.ttl); err != nil {
		slog.Debug("failed to cache onboarding progress", "user_id", p.UserID, "error", err)
	}
}

func (t *Tracker) invalidate(ctx context.Context, userID string) {
	if t.cache == nil {
		return
	}
	if err := t.cache.Delete(ctx, cache.ProgressKey(userID)); err != nil {
		slog.Warn("failed to invalidate onboarding cache", "user_id", userID, "error", err)
	}
}
