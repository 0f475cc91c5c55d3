// Package scoring computes local risk scores and maps scores and oracle
// signals to risk buckets.
package scoring

import (
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Scores are accumulated in tenths so threshold comparisons are exact.
const (
	baseTenths = 5

	revenueBonusThreshold  = 1_000_000
	employeeBonusThreshold = 10
	yearsBonusThreshold    = 3
	creditBonusThreshold   = 2
)

// FallbackScorer derives a deterministic score from the applicant's own
// attributes. It is used whenever the oracle cannot produce a result.
type FallbackScorer struct {
	thresholds domain.FallbackConfig
	now        func() time.Time
}

// NewFallbackScorer creates a scorer with the given bucket thresholds.
func NewFallbackScorer(cfg domain.FallbackConfig) *FallbackScorer {
	return &FallbackScorer{thresholds: cfg, now: time.Now}
}

// Score never fails. A nil applicant scores at the base value.
func (f *FallbackScorer) Score(app *domain.Applicant) domain.ScoreResult {
	score := Raw(app)
	return domain.ScoreResult{
		Score:      score,
		Bucket:     f.Bucket(score),
		Provenance: domain.ProvenanceFallback,
		ComputedAt: f.now().UTC(),
	}
}

// Bucket classifies a normalized score against the configured thresholds.
func (f *FallbackScorer) Bucket(score float64) domain.RiskBucket {
	return BucketForScore(score, f.thresholds)
}

// Raw computes the clamped fallback score.
func Raw(app *domain.Applicant) float64 {
	tenths := baseTenths
	if app == nil {
		return float64(tenths) / 10
	}

	if app.AnnualRevenue > revenueBonusThreshold {
		tenths += 2
	}
	if app.EmployeeCount > employeeBonusThreshold {
		tenths++
	}
	if app.YearsInBusiness > yearsBonusThreshold {
		tenths++
	}
	if app.CreditHistory != nil && *app.CreditHistory > creditBonusThreshold {
		tenths++
	}
	if app.HasExistingLoans != nil && *app.HasExistingLoans {
		tenths--
	}

	return clamp(float64(tenths) / 10)
}

// BucketForScore applies LOW/MEDIUM thresholds: >= low is LOW, >= medium is MEDIUM, otherwise HIGH.
func BucketForScore(score float64, t domain.FallbackConfig) domain.RiskBucket {
	switch {
	case score >= t.LowThreshold:
		return domain.BucketLow
	case score >= t.MediumThreshold:
		return domain.BucketMedium
	default:
		return domain.BucketHigh
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
