package scoring

import (
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// BucketForSignal maps an oracle decision string to a risk bucket.
// Matching is case-insensitive but not whitespace-tolerant, and the first
// rule that applies wins; unrecognized signals map to MEDIUM.
func BucketForSignal(signal string) domain.RiskBucket {
	s := strings.ToUpper(signal)

	switch {
	case strings.Contains(s, "APPROVE") || s == "LOW":
		return domain.BucketLow
	case strings.Contains(s, "REJECT") || s == "HIGH":
		return domain.BucketHigh
	case strings.Contains(s, "MANUAL") || strings.Contains(s, "REVIEW") || s == "MEDIUM":
		return domain.BucketMedium
	default:
		return domain.BucketMedium
	}
}
