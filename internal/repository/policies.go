package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/commission/internal/domain"
)

const policyColumns = `
	id, title, description, commission_rate,
	min_deal_amount, max_deal_amount, bonus_threshold, bonus_amount,
	deal_types, active, created_at, updated_at
`

// SavePolicy inserts or replaces an incentive policy.
func (r *SQLRepository) SavePolicy(ctx context.Context, p *domain.IncentivePolicy) error {
	if p.ID == "" {
		return fmt.Errorf("%w: policy id is required", ErrInvalidInput)
	}

	dealTypes, err := json.Marshal(p.DealTypes)
	if err != nil {
		return fmt.Errorf("failed to marshal deal types: %w", err)
	}
	if p.DealTypes == nil {
		dealTypes = []byte("[]")
	}

	query := `
		INSERT INTO incentive_policies (` + policyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			commission_rate = excluded.commission_rate,
			min_deal_amount = excluded.min_deal_amount,
			max_deal_amount = excluded.max_deal_amount,
			bonus_threshold = excluded.bonus_threshold,
			bonus_amount = excluded.bonus_amount,
			deal_types = excluded.deal_types,
			active = excluded.active,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		p.ID, p.Title, p.Description, p.CommissionRate,
		nullDecimal(p.MinDealAmount), nullDecimal(p.MaxDealAmount),
		nullDecimal(p.BonusThreshold), nullDecimal(p.BonusAmount),
		string(dealTypes), boolToInt(p.Active), p.CreatedAt, p.UpdatedAt,
	)
	return err
}

// GetPolicy retrieves a policy by ID.
func (r *SQLRepository) GetPolicy(ctx context.Context, policyID string) (*domain.IncentivePolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM incentive_policies WHERE id = ?`

	p, err := scanPolicy(r.db.QueryRowContext(ctx, r.rebind(query), policyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPolicies returns policies ordered by title.
func (r *SQLRepository) ListPolicies(ctx context.Context, filter domain.PolicyFilter) ([]*domain.IncentivePolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM incentive_policies`
	var args []any
	if filter.Active != nil {
		query += ` WHERE active = ?`
		args = append(args, boolToInt(*filter.Active))
	}
	query += ` ORDER BY title, id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []*domain.IncentivePolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}

	return policies, rows.Err()
}

func scanPolicy(row rowScanner) (*domain.IncentivePolicy, error) {
	var p domain.IncentivePolicy
	var minAmount, maxAmount, threshold, bonus decimal.NullDecimal
	var dealTypes string
	var active int

	err := row.Scan(
		&p.ID, &p.Title, &p.Description, &p.CommissionRate,
		&minAmount, &maxAmount, &threshold, &bonus,
		&dealTypes, &active, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.MinDealAmount = decimalPtr(minAmount)
	p.MaxDealAmount = decimalPtr(maxAmount)
	p.BonusThreshold = decimalPtr(threshold)
	p.BonusAmount = decimalPtr(bonus)
	p.Active = active != 0

	if dealTypes != "" {
		if err := json.Unmarshal([]byte(dealTypes), &p.DealTypes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal deal types: %w", err)
		}
	}
	if len(p.DealTypes) == 0 {
		p.DealTypes = nil
	}

	return &p, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func decimalPtr(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	d := n.Decimal
	return &d
}
