package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const decisionColumns = `
	id, applicant_id, decision, reason, applied_policy, priority,
	final_decision, manager_notes, resolved_by, resolved_at, created_at
`

// GetDecision retrieves a decision by id.
func (r *SQLRepository) GetDecision(ctx context.Context, id string) (*domain.Decision, error) {
	query := `SELECT ` + decisionColumns + ` FROM scoring_decisions WHERE id = ?`
	return scanDecision(r.db.QueryRowContext(ctx, r.rebind(query), id))
}

// GetDecisionByApplicant retrieves the decision recorded for an attempt.
func (r *SQLRepository) GetDecisionByApplicant(ctx context.Context, applicantID string) (*domain.Decision, error) {
	query := `SELECT ` + decisionColumns + `
		FROM scoring_decisions
		WHERE applicant_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanDecision(r.db.QueryRowContext(ctx, r.rebind(query), applicantID))
}

// ListPendingDecisions returns decisions awaiting review, oldest first.
func (r *SQLRepository) ListPendingDecisions(ctx context.Context, priority string) ([]*domain.Decision, error) {
	query := `SELECT ` + decisionColumns + ` FROM scoring_decisions WHERE final_decision = ?`
	args := []any{domain.FinalDecisionPending}
	if priority != "" {
		query += ` AND priority = ?`
		args = append(args, priority)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []*domain.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// ResolveDecision moves a PENDING decision to its final state. The update is
// conditional on the current state, so concurrent reviewers cannot both win.
func (r *SQLRepository) ResolveDecision(ctx context.Context, id string, res domain.Resolution) (*domain.Decision, error) {
	query := `
		UPDATE scoring_decisions
		SET final_decision = ?, manager_notes = ?, resolved_by = ?, resolved_at = ?
		WHERE id = ? AND final_decision = ?
	`
	result, err := r.db.ExecContext(ctx, r.rebind(query),
		res.FinalDecision, res.ManagerNotes, res.ResolvedBy, res.ResolvedAt,
		id, domain.FinalDecisionPending,
	)
	if err != nil {
		return nil, err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if _, err := r.GetDecision(ctx, id); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("decision %s: %w", id, domain.ErrAlreadyResolved)
	}

	return r.GetDecision(ctx, id)
}

func scanDecision(row rowScanner) (*domain.Decision, error) {
	var (
		d             domain.Decision
		decision      string
		appliedPolicy sql.NullString
		notes         sql.NullString
		resolvedBy    sql.NullString
		resolvedAt    sql.NullTime
	)

	err := row.Scan(
		&d.ID, &d.ApplicantID, &decision, &d.Reason, &appliedPolicy, &d.Priority,
		&d.FinalDecision, &notes, &resolvedBy, &resolvedAt, &d.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	d.Decision = domain.Action(decision)
	d.AppliedPolicy = appliedPolicy.String
	d.ManagerNotes = notes.String
	d.ResolvedBy = resolvedBy.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		d.ResolvedAt = &t
	}
	return &d, nil
}
