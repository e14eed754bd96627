package risk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/commission/internal/domain"
)

// Store persists risk rules.
type Store interface {
	SaveRiskRule(ctx context.Context, rule *domain.RiskRule) error
	ListRiskRules(ctx context.Context) ([]*domain.RiskRule, error)
}

// Manager keeps the engine in sync with stored rules.
type Manager struct {
	engine *Engine
	store  Store
	now    func() time.Time
}

// NewManager creates a manager over engine and store.
func NewManager(engine *Engine, store Store) *Manager {
	return &Manager{
		engine: engine,
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Bootstrap seeds DefaultRules when the store is empty, then loads the
// stored set into the engine.
func (m *Manager) Bootstrap(ctx context.Context) error {
	rules, err := m.store.ListRiskRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to list risk rules: %w", err)
	}

	if len(rules) == 0 {
		now := m.now()
		for _, r := range DefaultRules() {
			r.CreatedAt, r.UpdatedAt = now, now
			if err := m.store.SaveRiskRule(ctx, r); err != nil {
				return fmt.Errorf("failed to seed risk rule %s: %w", r.ID, err)
			}
		}
		slog.Info("seeded default risk rules", "count", len(DefaultRules()))
	}

	_, err = m.Reload(ctx)
	return err
}

// Reload loads every stored rule into the engine and returns how many are
// enabled.
func (m *Manager) Reload(ctx context.Context) (int, error) {
	rules, err := m.store.ListRiskRules(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list risk rules: %w", err)
	}
	if err := m.engine.Reload(rules); err != nil {
		return 0, err
	}

	slog.Info("risk rules loaded", "count", m.engine.RulesCount())
	return m.engine.RulesCount(), nil
}

// Save validates and persists rule, then reloads the engine.
func (m *Manager) Save(ctx context.Context, rule *domain.RiskRule) (*domain.RiskRule, error) {
	if err := m.engine.Validate(rule); err != nil {
		return nil, err
	}

	now := m.now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	if err := m.store.SaveRiskRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to save risk rule: %w", err)
	}
	if _, err := m.Reload(ctx); err != nil {
		return nil, err
	}
	return rule, nil
}

// List returns every stored rule, enabled or not.
func (m *Manager) List(ctx context.Context) ([]*domain.RiskRule, error) {
	return m.store.ListRiskRules(ctx)
}
