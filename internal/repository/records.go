package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/commission/internal/domain"
)

// GetProgress retrieves a user's onboarding record.
func (r *SQLRepository) GetProgress(ctx context.Context, userID string) (*domain.OnboardingProgress, error) {
	query := `
		SELECT user_id, first_target, first_deal, first_rule, first_invite,
			   archived, completed_at, created_at, updated_at
		FROM onboarding_progress
		WHERE user_id = ?
	`

	var p domain.OnboardingProgress
	var target, deal, rule, invite, archived int
	var completedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, r.rebind(query), userID).Scan(
		&p.UserID, &target, &deal, &rule, &invite,
		&archived, &completedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.FirstTarget = target != 0
	p.FirstDeal = deal != 0
	p.FirstRule = rule != 0
	p.FirstInvite = invite != 0
	p.Archived = archived != 0
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		p.CompletedAt = &t
	}
	p.Recount()

	return &p, nil
}

// SaveProgress upserts a user's onboarding record. Flags already set in
// storage stay set whatever the incoming snapshot says.
func (r *SQLRepository) SaveProgress(ctx context.Context, p *domain.OnboardingProgress) error {
	if p.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO onboarding_progress (
			user_id, first_target, first_deal, first_rule, first_invite,
			archived, completed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			first_target = CASE WHEN excluded.first_target = 1 THEN 1 ELSE onboarding_progress.first_target END,
			first_deal = CASE WHEN excluded.first_deal = 1 THEN 1 ELSE onboarding_progress.first_deal END,
			first_rule = CASE WHEN excluded.first_rule = 1 THEN 1 ELSE onboarding_progress.first_rule END,
			first_invite = CASE WHEN excluded.first_invite = 1 THEN 1 ELSE onboarding_progress.first_invite END,
			archived = CASE WHEN excluded.archived = 1 THEN 1 ELSE onboarding_progress.archived END,
			completed_at = COALESCE(onboarding_progress.completed_at, excluded.completed_at),
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		p.UserID, boolToInt(p.FirstTarget), boolToInt(p.FirstDeal),
		boolToInt(p.FirstRule), boolToInt(p.FirstInvite),
		boolToInt(p.Archived), nullTime(p.CompletedAt), p.CreatedAt, p.UpdatedAt,
	)
	return err
}

// SaveAuditEntry appends an audit record.
func (r *SQLRepository) SaveAuditEntry(ctx context.Context, e *domain.AuditEntry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal audit details: %w", err)
	}

	query := `
		INSERT INTO audit_log (id, actor_id, action, entity_type, entity_id, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		e.ID, e.ActorID, e.Action, e.EntityType, e.EntityID, string(details), e.CreatedAt,
	)
	return err
}

// ListAuditEntries returns the audit trail for one entity, oldest first.
// An empty entityType lists every entry.
func (r *SQLRepository) ListAuditEntries(ctx context.Context, entityType, entityID string) ([]*domain.AuditEntry, error) {
	query := `SELECT id, actor_id, action, entity_type, entity_id, details, created_at FROM audit_log`
	var args []any
	switch {
	case entityType != "" && entityID != "":
		query += ` WHERE entity_type = ? AND entity_id = ?`
		args = append(args, entityType, entityID)
	case entityType != "":
		query += ` WHERE entity_type = ?`
		args = append(args, entityType)
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var details sql.NullString
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.EntityType, &e.EntityID, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		if details.Valid && details.String != "" && details.String != "null" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit details: %w", err)
			}
		}
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

// SaveNotification stores a notification for later retrieval.
func (r *SQLRepository) SaveNotification(ctx context.Context, n *domain.Notification) error {
	query := `
		INSERT INTO notifications (id, user_id, type, title, message, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		n.ID, n.UserID, n.Type, n.Title, n.Message, boolToInt(n.Read), n.CreatedAt,
	)
	return err
}

// ListNotifications returns a user's notifications, newest first.
func (r *SQLRepository) ListNotifications(ctx context.Context, userID string) ([]*domain.Notification, error) {
	query := `
		SELECT id, user_id, type, title, message, is_read, created_at
		FROM notifications
		WHERE user_id = ?
		ORDER BY created_at DESC, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Notification
	for rows.Next() {
		var n domain.Notification
		var read int
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Read = read != 0
		out = append(out, &n)
	}

	return out, rows.Err()
}

// SaveRiskRule inserts or replaces a risk rule.
func (r *SQLRepository) SaveRiskRule(ctx context.Context, rule *domain.RiskRule) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO risk_rules (id, name, description, expression, weight, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			weight = excluded.weight,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Expression,
		rule.Weight, boolToInt(rule.Enabled), rule.CreatedAt, rule.UpdatedAt,
	)
	return err
}

// ListRiskRules returns every stored risk rule.
func (r *SQLRepository) ListRiskRules(ctx context.Context) ([]*domain.RiskRule, error) {
	query := `
		SELECT id, name, description, expression, weight, enabled, created_at, updated_at
		FROM risk_rules
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.RiskRule
	for rows.Next() {
		var rule domain.RiskRule
		var enabled int
		if err := rows.Scan(
			&rule.ID, &rule.Name, &rule.Description, &rule.Expression,
			&rule.Weight, &enabled, &rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, err
		}
		rule.Enabled = enabled != 0
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}
