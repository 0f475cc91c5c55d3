package decision

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// StatusFor maps an engine decision to the caller-facing processing status.
func StatusFor(action domain.Action) domain.ProcessingStatus {
	switch action {
	case domain.ActionAutoApprove:
		return domain.StatusAutoApproved
	case domain.ActionAutoReject:
		return domain.StatusAutoRejected
	case domain.ActionEscalate:
		return domain.StatusEscalated
	default:
		return domain.StatusManualReview
	}
}

// Enrich merges a score and a policy decision into a DecisionView.
// A nil score or applicant is a caller bug and returns ErrInvalidInput.
// A nil decision is expected and yields MANUAL_REVIEW with default priority and reason.
func Enrich(app *domain.Applicant, score *domain.ScoreResult, d *domain.Decision) (*domain.DecisionView, error) {
	if score == nil {
		return nil, fmt.Errorf("%w: score result is required", domain.ErrInvalidInput)
	}
	if app == nil {
		return nil, fmt.Errorf("%w: applicant is required", domain.ErrInvalidInput)
	}

	view := &domain.DecisionView{
		ApplicantID:      app.ID,
		CompanyName:      app.CompanyName,
		TaxID:            app.TaxID,
		Score:            score.Score,
		RiskLevel:        score.Bucket,
		Provenance:       score.Provenance,
		ProcessingStatus: domain.StatusManualReview,
		DecisionReason:   domain.NoDecisionReason,
		Priority:         domain.PriorityMedium,
		CreatedAt:        app.CreatedAt,
	}

	if d == nil {
		return view, nil
	}

	view.ProcessingStatus = StatusFor(d.Decision)
	view.DecisionID = d.ID
	view.Decision = d.Decision
	view.AppliedPolicy = d.AppliedPolicy
	view.FinalDecision = d.FinalDecision
	if d.Reason != "" {
		view.DecisionReason = d.Reason
	}
	if d.Priority != "" {
		view.Priority = d.Priority
	}
	return view, nil
}
