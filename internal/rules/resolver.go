package rules

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Resolution is the policy outcome for one applicant.
type Resolution struct {
	Decision      domain.Action `json:"decision"`
	Reason        string        `json:"reason"`
	AppliedPolicy string        `json:"appliedPolicy,omitempty"`
	Priority      string        `json:"priority"`

	// Matched lists every policy that evaluated true, in scan order.
	Matched []string `json:"matched,omitempty"`
}

// Matcher reports whether a policy applies to an applicant.
type Matcher func(p *domain.RiskPolicy, app *domain.Applicant) bool

// DefaultResolution is the result when no policy matches.
func DefaultResolution() Resolution {
	return Resolution{
		Decision: domain.ActionManualReview,
		Reason:   domain.NoMatchReason,
		Priority: domain.PriorityMedium,
	}
}

// Resolve selects the applicable action from policies that are already
// filtered to active, resolvable types and sorted by ascending priority.
func Resolve(app *domain.Applicant, policies []*domain.RiskPolicy) Resolution {
	return ResolveWith(EvaluatePolicy, app, policies)
}

// ResolveWith is Resolve with a custom matcher.
//
// SET_PRIORITY matches adopt their action value as the running priority and
// the scan continues. Any other match sets the decision and stops the scan,
// so priority policies after the first terminal match are never consulted.
func ResolveWith(match Matcher, app *domain.Applicant, policies []*domain.RiskPolicy) Resolution {
	res := DefaultResolution()

	for _, p := range policies {
		if p == nil || !match(p, app) {
			continue
		}
		res.Matched = append(res.Matched, p.Name)

		if p.Action == domain.ActionSetPriority {
			if p.ActionValue != "" {
				res.Priority = p.ActionValue
			}
			continue
		}

		res.Decision = p.Action
		res.Reason = fmt.Sprintf("Policy '%s' triggered", p.Name)
		res.AppliedPolicy = p.Name
		break
	}

	return res
}
