package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const applicantColumns = `
	id, company_name, inn, business_type, years_in_business, annual_revenue,
	employee_count, requested_amount, has_existing_loans, industry, credit_history,
	created_at, score, risk_level, provenance, signal, scored_at
`

// SaveApplicant stores the intake record of a scoring attempt.
func (r *SQLRepository) SaveApplicant(ctx context.Context, app *domain.Applicant) error {
	if app == nil || app.ID == "" {
		return fmt.Errorf("%w: applicant id is required", ErrInvalidInput)
	}
	if app.CreatedAt.IsZero() {
		app.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO applicants (
			id, company_name, inn, business_type, years_in_business, annual_revenue,
			employee_count, requested_amount, has_existing_loans, industry, credit_history, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		app.ID, app.CompanyName, app.TaxID, app.BusinessType,
		app.YearsInBusiness, app.AnnualRevenue, app.EmployeeCount, app.RequestedAmount,
		nullableBool(app.HasExistingLoans), nullableString(app.Industry), nullableInt(app.CreditHistory),
		app.CreatedAt,
	)
	return err
}

// GetApplicant retrieves an attempt by applicant id.
func (r *SQLRepository) GetApplicant(ctx context.Context, id string) (*domain.Applicant, error) {
	query := `SELECT ` + applicantColumns + ` FROM applicants WHERE id = ?`
	return scanApplicant(r.db.QueryRowContext(ctx, r.rebind(query), id))
}

// FindLatestApplicant returns the most recent scored attempt for a company and tax id.
func (r *SQLRepository) FindLatestApplicant(ctx context.Context, companyName, taxID string) (*domain.Applicant, error) {
	query := `SELECT ` + applicantColumns + `
		FROM applicants
		WHERE company_name = ? AND inn = ? AND score IS NOT NULL
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	return scanApplicant(r.db.QueryRowContext(ctx, r.rebind(query), companyName, taxID))
}

// ListApplicants returns scored attempts, newest first.
func (r *SQLRepository) ListApplicants(ctx context.Context, filter domain.ApplicantFilter) ([]*domain.Applicant, error) {
	limit, offset := pageBounds(filter.Limit, filter.Offset)

	query := `SELECT ` + applicantColumns + ` FROM applicants WHERE score IS NOT NULL`
	args := []any{}
	if filter.Bucket != "" {
		query += ` AND risk_level = ?`
		args = append(args, string(filter.Bucket))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apps []*domain.Applicant
	for rows.Next() {
		app, err := scanApplicant(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// SaveOutcome writes the score onto the applicant and inserts the decision
// in one transaction.
func (r *SQLRepository) SaveOutcome(ctx context.Context, applicantID string, score *domain.ScoreResult, d *domain.Decision) error {
	if score == nil || d == nil {
		return fmt.Errorf("%w: score and decision are required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	update := `
		UPDATE applicants
		SET score = ?, risk_level = ?, provenance = ?, signal = ?, scored_at = ?
		WHERE id = ?
	`
	computedAt := score.ComputedAt
	if computedAt.IsZero() {
		computedAt = time.Now().UTC()
	}
	res, err := tx.ExecContext(ctx, r.rebind(update),
		score.Score, string(score.Bucket), string(score.Provenance), score.Signal, computedAt,
		applicantID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("applicant %s: %w", applicantID, ErrNotFound)
	}

	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if d.FinalDecision == "" {
		d.FinalDecision = domain.FinalDecisionPending
	}
	insert := `
		INSERT INTO scoring_decisions (
			id, applicant_id, decision, reason, applied_policy, priority, final_decision, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, r.rebind(insert),
		d.ID, applicantID, string(d.Decision), d.Reason, d.AppliedPolicy, d.Priority, d.FinalDecision, d.CreatedAt,
	); err != nil {
		return err
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplicant(row rowScanner) (*domain.Applicant, error) {
	var (
		app          domain.Applicant
		businessType sql.NullString
		loans        sql.NullInt64
		industry     sql.NullString
		credit       sql.NullInt64
		score        sql.NullFloat64
		riskLevel    sql.NullString
		provenance   sql.NullString
		signal       sql.NullString
		scoredAt     sql.NullTime
	)

	err := row.Scan(
		&app.ID, &app.CompanyName, &app.TaxID, &businessType,
		&app.YearsInBusiness, &app.AnnualRevenue, &app.EmployeeCount, &app.RequestedAmount,
		&loans, &industry, &credit,
		&app.CreatedAt, &score, &riskLevel, &provenance, &signal, &scoredAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	app.BusinessType = businessType.String
	if loans.Valid {
		app.HasExistingLoans = domain.BoolPtr(loans.Int64 == 1)
	}
	if industry.Valid {
		app.Industry = domain.StringPtr(industry.String)
	}
	if credit.Valid {
		app.CreditHistory = domain.IntPtr(int(credit.Int64))
	}
	if score.Valid {
		app.Score = &domain.ScoreResult{
			Score:      score.Float64,
			Bucket:     domain.RiskBucket(riskLevel.String),
			Provenance: domain.Provenance(provenance.String),
			Signal:     signal.String,
			ComputedAt: scoredAt.Time,
		}
	}
	return &app, nil
}
