package rules

import (
	"log/slog"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

type (
	numericAccessor func(*domain.Applicant) (float64, bool)
	stringAccessor  func(*domain.Applicant) (string, bool)
	booleanAccessor func(*domain.Applicant) (bool, bool)
)

// Field accessors. The second result is false when the attribute is absent.
var (
	numericFields = map[domain.Field]numericAccessor{
		domain.FieldAnnualRevenue:   func(a *domain.Applicant) (float64, bool) { return a.AnnualRevenue, true },
		domain.FieldYearsInBusiness: func(a *domain.Applicant) (float64, bool) { return float64(a.YearsInBusiness), true },
		domain.FieldEmployeeCount:   func(a *domain.Applicant) (float64, bool) { return float64(a.EmployeeCount), true },
		domain.FieldRequestedAmount: func(a *domain.Applicant) (float64, bool) { return a.RequestedAmount, true },
		domain.FieldCreditHistory: func(a *domain.Applicant) (float64, bool) {
			if a.CreditHistory == nil {
				return 0, false
			}
			return float64(*a.CreditHistory), true
		},
	}

	stringFields = map[domain.Field]stringAccessor{
		domain.FieldCompanyName: func(a *domain.Applicant) (string, bool) { return a.CompanyName, true },
		domain.FieldIndustry: func(a *domain.Applicant) (string, bool) {
			if a.Industry == nil {
				return "", false
			}
			return *a.Industry, true
		},
	}

	booleanFields = map[domain.Field]booleanAccessor{
		domain.FieldHasExistingLoans: func(a *domain.Applicant) (bool, bool) {
			if a.HasExistingLoans == nil {
				return false, false
			}
			return *a.HasExistingLoans, true
		},
	}
)

// Operator tables per value kind. Operators missing from a table evaluate to false.
var (
	numericOps = map[domain.Operator]func(v, target float64) bool{
		domain.OpGreaterThan:        func(v, t float64) bool { return v > t },
		domain.OpLessThan:           func(v, t float64) bool { return v < t },
		domain.OpGreaterThanOrEqual: func(v, t float64) bool { return v >= t },
		domain.OpLessThanOrEqual:    func(v, t float64) bool { return v <= t },
	}

	stringOps = map[domain.Operator]func(v, target string) bool{
		domain.OpEquals:     func(v, t string) bool { return v == t },
		domain.OpContains:   strings.Contains,
		domain.OpStartsWith: strings.HasPrefix,
		domain.OpEndsWith:   strings.HasSuffix,
	}
)

// EvaluateCondition tests one condition against an applicant.
// It never panics: unknown fields or operators, absent attributes and
// unexpected failures all evaluate to false.
func EvaluateCondition(c domain.PolicyCondition, app *domain.Applicant) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("condition evaluation failed",
				"field", c.Field,
				"operator", c.Operator,
				"error", r,
			)
			matched = false
		}
	}()

	if app == nil {
		return false
	}

	if get, ok := numericFields[c.Field]; ok {
		v, present := get(app)
		if !present {
			return false
		}
		return compareNumeric(c, v)
	}
	if get, ok := stringFields[c.Field]; ok {
		v, present := get(app)
		if !present || c.Value == nil {
			return false
		}
		op, ok := stringOps[c.Operator]
		if !ok {
			return false
		}
		return op(fold(v), fold(*c.Value))
	}
	if get, ok := booleanFields[c.Field]; ok {
		v, present := get(app)
		if !present || c.BooleanValue == nil || c.Operator != domain.OpEquals {
			return false
		}
		return v == *c.BooleanValue
	}

	return false
}

// compareNumeric applies a numeric operator. A missing target compares as zero
// for ordering operators; EQUALS with a missing target never matches.
func compareNumeric(c domain.PolicyCondition, v float64) bool {
	if c.Operator == domain.OpEquals {
		return c.NumericValue != nil && v == *c.NumericValue
	}
	op, ok := numericOps[c.Operator]
	if !ok {
		return false
	}
	target := 0.0
	if c.NumericValue != nil {
		target = *c.NumericValue
	}
	return op(v, target)
}

// fold normalizes and case-folds s so comparisons ignore case in any script.
func fold(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}
