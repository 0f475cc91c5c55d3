package rules

import (
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// EvaluatePolicy combines a policy's conditions into one result.
//
// The connector stored on a condition joins it to the NEXT condition, and the
// conditions are folded left to right: the first condition seeds the result,
// then each following condition is merged using the previous condition's
// connector. This is not a boolean expression tree, so mixed AND/OR chains
// are order dependent: [A OR, B AND, C] is (A || B) && C. A connector that is
// neither AND nor OR (including none) leaves the running result unchanged,
// which means the following condition is ignored.
//
// A policy with no conditions never matches.
func EvaluatePolicy(p *domain.RiskPolicy, app *domain.Applicant) bool {
	if p == nil || len(p.Conditions) == 0 {
		return false
	}

	result := EvaluateCondition(p.Conditions[0], app)
	for i := 1; i < len(p.Conditions); i++ {
		current := EvaluateCondition(p.Conditions[i], app)

		switch normalizeConnector(p.Conditions[i-1].Connector) {
		case domain.ConnectorAnd:
			result = result && current
		case domain.ConnectorOr:
			result = result || current
		}
	}
	return result
}

func normalizeConnector(c domain.Connector) domain.Connector {
	return domain.Connector(strings.ToUpper(strings.TrimSpace(string(c))))
}
