package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const policyColumns = `
	id, name, description, policy_type, active, priority, conditions,
	action, action_value, guard, created_at, updated_at
`

// SavePolicy inserts or updates a policy. created_at is kept on update.
func (r *SQLRepository) SavePolicy(ctx context.Context, p *domain.RiskPolicy) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("%w: policy id is required", ErrInvalidInput)
	}

	conditions, err := json.Marshal(p.Conditions)
	if err != nil {
		return fmt.Errorf("failed to encode conditions: %w", err)
	}

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	query := `
		INSERT INTO risk_policies (
			id, name, description, policy_type, active, priority, conditions,
			action, action_value, guard, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			policy_type = excluded.policy_type,
			active = excluded.active,
			priority = excluded.priority,
			conditions = excluded.conditions,
			action = excluded.action,
			action_value = excluded.action_value,
			guard = excluded.guard,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		p.ID, p.Name, p.Description, string(p.Type), boolToInt(p.Active), p.Priority,
		string(conditions), string(p.Action), p.ActionValue, p.Guard,
		p.CreatedAt, p.UpdatedAt,
	)
	return err
}

// GetPolicy retrieves a policy by id.
func (r *SQLRepository) GetPolicy(ctx context.Context, id string) (*domain.RiskPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM risk_policies WHERE id = ?`
	return scanPolicy(r.db.QueryRowContext(ctx, r.rebind(query), id))
}

// ListPolicies returns policies in ascending priority.
func (r *SQLRepository) ListPolicies(ctx context.Context, filter domain.PolicyFilter) ([]*domain.RiskPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM risk_policies WHERE 1 = 1`
	var args []any
	if filter.Type != "" {
		query += ` AND policy_type = ?`
		args = append(args, string(filter.Type))
	}
	if filter.ActiveOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY priority ASC, created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []*domain.RiskPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// SetPolicyActive toggles a policy.
func (r *SQLRepository) SetPolicyActive(ctx context.Context, id string, active bool) error {
	query := `UPDATE risk_policies SET active = ?, updated_at = ? WHERE id = ?`
	result, err := r.db.ExecContext(ctx, r.rebind(query), boolToInt(active), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return expectRow(result)
}

// DeletePolicy removes a policy.
func (r *SQLRepository) DeletePolicy(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM risk_policies WHERE id = ?`), id)
	if err != nil {
		return err
	}
	return expectRow(result)
}

func expectRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPolicy(row rowScanner) (*domain.RiskPolicy, error) {
	var (
		p           domain.RiskPolicy
		description sql.NullString
		policyType  string
		active      int
		conditions  string
		action      string
		actionValue sql.NullString
		guard       sql.NullString
	)

	err := row.Scan(
		&p.ID, &p.Name, &description, &policyType, &active, &p.Priority, &conditions,
		&action, &actionValue, &guard, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.Description = description.String
	p.Type = domain.PolicyType(policyType)
	p.Active = active == 1
	p.Action = domain.Action(action)
	p.ActionValue = actionValue.String
	p.Guard = guard.String
	if err := json.Unmarshal([]byte(conditions), &p.Conditions); err != nil {
		return nil, fmt.Errorf("failed to parse conditions for policy %s: %w", p.ID, err)
	}
	return &p, nil
}
