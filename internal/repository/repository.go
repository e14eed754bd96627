// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/commission/internal/domain"
)

var (
	ErrNotFound     = domain.ErrNotFound
	ErrConflict     = domain.ErrConflict
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

const dealColumns = `
	id, deal_name, organization_name, client_name, amount, currency,
	deal_type, priority, status, assigned_user_id, policy_id,
	incentive, tier, risk_level, admin_comment, rejection_reason,
	created_by, created_at, updated_at, expected_close_date, version
`

// CreateDeal inserts a new deal at version 1.
func (r *SQLRepository) CreateDeal(ctx context.Context, d *domain.Deal) error {
	if d.ID == "" {
		return fmt.Errorf("%w: deal id is required", ErrInvalidInput)
	}
	if d.Version == 0 {
		d.Version = 1
	}

	query := `INSERT INTO deals (` + dealColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		d.ID, d.DealName, d.OrganizationName, d.ClientName, d.Amount, d.Currency,
		string(d.DealType), string(d.Priority), string(d.Status), d.AssignedUserID, d.PolicyID,
		d.Incentive, d.Tier, string(d.RiskLevel), d.AdminComment, d.RejectionReason,
		d.CreatedBy, d.CreatedAt, d.UpdatedAt, nullTime(d.ExpectedCloseDate), d.Version,
	)
	return err
}

// GetDeal retrieves a deal by ID.
func (r *SQLRepository) GetDeal(ctx context.Context, dealID string) (*domain.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals WHERE id = ?`

	d, err := scanDeal(r.db.QueryRowContext(ctx, r.rebind(query), dealID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ListDeals returns deals matching filter, newest first.
func (r *SQLRepository) ListDeals(ctx context.Context, filter domain.DealFilter) ([]*domain.Deal, error) {
	var where []string
	var args []any

	if filter.UserID != "" {
		where = append(where, "(assigned_user_id = ? OR created_by = ?)")
		args = append(args, filter.UserID, filter.UserID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Priority != "" {
		where = append(where, "priority = ?")
		args = append(args, string(filter.Priority))
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, filter.Since)
	}

	query := `SELECT ` + dealColumns + ` FROM deals`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deals []*domain.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		deals = append(deals, d)
	}

	return deals, rows.Err()
}

// UpdateDeal writes the deal when the stored version equals expectedVersion.
// Status, incentive and annotations land in one statement, so readers see
// either the old row or the new one.
func (r *SQLRepository) UpdateDeal(ctx context.Context, d *domain.Deal, expectedVersion int64) error {
	query := `
		UPDATE deals SET
			deal_name = ?, organization_name = ?, client_name = ?, amount = ?, currency = ?,
			deal_type = ?, priority = ?, status = ?, assigned_user_id = ?, policy_id = ?,
			incentive = ?, tier = ?, risk_level = ?, admin_comment = ?, rejection_reason = ?,
			updated_at = ?, expected_close_date = ?, version = version + 1
		WHERE id = ? AND version = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		d.DealName, d.OrganizationName, d.ClientName, d.Amount, d.Currency,
		string(d.DealType), string(d.Priority), string(d.Status), d.AssignedUserID, d.PolicyID,
		d.Incentive, d.Tier, string(d.RiskLevel), d.AdminComment, d.RejectionReason,
		d.UpdatedAt, nullTime(d.ExpectedCloseDate),
		d.ID, expectedVersion,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := r.GetDeal(ctx, d.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: deal %s is no longer at version %d", ErrConflict, d.ID, expectedVersion)
	}

	d.Version = expectedVersion + 1
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeal(row rowScanner) (*domain.Deal, error) {
	var d domain.Deal
	var dealType, priority, status, risk string
	var closeDate sql.NullTime

	err := row.Scan(
		&d.ID, &d.DealName, &d.OrganizationName, &d.ClientName, &d.Amount, &d.Currency,
		&dealType, &priority, &status, &d.AssignedUserID, &d.PolicyID,
		&d.Incentive, &d.Tier, &risk, &d.AdminComment, &d.RejectionReason,
		&d.CreatedBy, &d.CreatedAt, &d.UpdatedAt, &closeDate, &d.Version,
	)
	if err != nil {
		return nil, err
	}

	d.DealType = domain.DealType(dealType)
	d.Priority = domain.Priority(priority)
	d.Status = domain.Status(status)
	d.RiskLevel = domain.RiskLevel(risk)
	if closeDate.Valid {
		t := closeDate.Time.UTC()
		d.ExpectedCloseDate = &t
	}
	return &d, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
