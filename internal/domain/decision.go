package domain

import (
	"time"
)

const (
	// FinalDecisionPending is the resolution state of every new decision.
	FinalDecisionPending = "PENDING"

	// SystemFallbackPolicy tags decisions produced by the recovery path.
	SystemFallbackPolicy = "SYSTEM_FALLBACK"

	// FallbackReason is the reason recorded on recovery-path decisions.
	FallbackReason = "fallback used due to error"

	// NoMatchReason is the reason recorded when no policy matched.
	NoMatchReason = "no matching policies"

	// NoDecisionReason is shown when a view has no policy decision.
	NoDecisionReason = "no policy decision available"
)

// Review priorities. SET_PRIORITY policies may adopt any value.
const (
	PriorityLow    = "LOW"
	PriorityMedium = "MEDIUM"
	PriorityHigh   = "HIGH"
)

// Decision is the outcome of policy evaluation for one scoring attempt.
// The engine writes Decision, Reason, AppliedPolicy and Priority once;
// the resolution fields are set later by a reviewer, exactly once.
type Decision struct {
	ID            string `json:"id"`
	ApplicantID   string `json:"applicantId"`
	Decision      Action `json:"decision"`
	Reason        string `json:"reason"`
	AppliedPolicy string `json:"appliedPolicy,omitempty"`
	Priority      string `json:"priority"`

	FinalDecision string     `json:"finalDecision"`
	ManagerNotes  string     `json:"managerNotes,omitempty"`
	ResolvedBy    string     `json:"resolvedBy,omitempty"`
	ResolvedAt    *time.Time `json:"resolvedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Pending reports whether the decision still awaits review.
func (d *Decision) Pending() bool {
	return d.FinalDecision == FinalDecisionPending
}

// Resolution is a reviewer's final verdict on a decision.
type Resolution struct {
	FinalDecision string    `json:"finalDecision"`
	ManagerNotes  string    `json:"managerNotes,omitempty"`
	ResolvedBy    string    `json:"resolvedBy,omitempty"`
	ResolvedAt    time.Time `json:"resolvedAt"`
}

// ProcessingStatus is the caller-facing status derived from a decision.
type ProcessingStatus string

const (
	StatusAutoApproved ProcessingStatus = "AUTO_APPROVED"
	StatusAutoRejected ProcessingStatus = "AUTO_REJECTED"
	StatusEscalated    ProcessingStatus = "ESCALATED"
	StatusManualReview ProcessingStatus = "MANUAL_REVIEW"
)

// DecisionView is the caller-facing projection of a scored applicant.
type DecisionView struct {
	ApplicantID string `json:"id"`
	CompanyName string `json:"companyName"`
	TaxID       string `json:"inn"`

	Score      float64    `json:"score"`
	RiskLevel  RiskBucket `json:"riskLevel"`
	Provenance Provenance `json:"provenance"`

	ProcessingStatus ProcessingStatus `json:"processingStatus"`
	DecisionID       string           `json:"decisionId,omitempty"`
	Decision         Action           `json:"decision,omitempty"`
	DecisionReason   string           `json:"decisionReason"`
	AppliedPolicy    string           `json:"appliedPolicy,omitempty"`
	Priority         string           `json:"priority"`
	FinalDecision    string           `json:"finalDecision,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// BatchStatus is the overall state of a batch.
type BatchStatus string

// BatchCompleted is reported once every item resolved, whatever the failures.
const BatchCompleted BatchStatus = "COMPLETED"

// BatchFailure identifies an applicant that could not be scored.
type BatchFailure struct {
	Index       int    `json:"index"`
	CompanyName string `json:"companyName"`
	TaxID       string `json:"inn"`
	Error       string `json:"error"`
}

// BatchReport aggregates the outcomes of a batch.
type BatchReport struct {
	BatchID     string         `json:"batchId"`
	Status      BatchStatus    `json:"status"`
	Total       int            `json:"totalProcessed"`
	Successes   []DecisionView `json:"successfulResults"`
	Failures    []BatchFailure `json:"failedResults"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt time.Time      `json:"completedAt"`
	DurationMs  int64          `json:"processingTimeMs"`
}

// ScoreStats summarizes stored scoring attempts.
type ScoreStats struct {
	Total          int64   `json:"totalScorings"`
	AverageScore   float64 `json:"averageScore"`
	LowRisk        int64   `json:"lowRiskCount"`
	MediumRisk     int64   `json:"mediumRiskCount"`
	HighRisk       int64   `json:"highRiskCount"`
	FallbackScored int64   `json:"fallbackCount"`
	PendingReviews int64   `json:"pendingReviews"`
}

// ApplicantFilter narrows applicant listings.
type ApplicantFilter struct {
	Bucket RiskBucket
	Limit  int
	Offset int
}
