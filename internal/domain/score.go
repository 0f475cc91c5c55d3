package domain

import "time"

// RiskBucket is a LOW/MEDIUM/HIGH classification of a normalized score.
type RiskBucket string

const (
	BucketLow    RiskBucket = "LOW"
	BucketMedium RiskBucket = "MEDIUM"
	BucketHigh   RiskBucket = "HIGH"
)

// Valid reports whether b is a known bucket.
func (b RiskBucket) Valid() bool {
	return b == BucketLow || b == BucketMedium || b == BucketHigh
}

// Provenance records where a score came from.
type Provenance string

const (
	ProvenanceOracle   Provenance = "oracle"
	ProvenanceFallback Provenance = "fallback"
)

// ScoreResult is a normalized score in [0,1] with its bucket and provenance.
type ScoreResult struct {
	Score      float64    `json:"score"`
	Bucket     RiskBucket `json:"riskLevel"`
	Provenance Provenance `json:"provenance"`

	// Signal is the oracle's raw decision string, empty for fallback scores.
	Signal string `json:"signal,omitempty"`

	ComputedAt time.Time `json:"computedAt"`
}
