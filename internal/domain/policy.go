package domain

import (
	"fmt"
	"strings"
	"time"
)

// PolicyType tags a risk policy.
type PolicyType string

const (
	PolicyApproval   PolicyType = "APPROVAL"
	PolicyRejection  PolicyType = "REJECTION"
	PolicyEscalation PolicyType = "ESCALATION"
	PolicyPriority   PolicyType = "PRIORITY"
)

// Action is what a matching policy does.
type Action string

const (
	ActionAutoApprove  Action = "AUTO_APPROVE"
	ActionAutoReject   Action = "AUTO_REJECT"
	ActionEscalate     Action = "ESCALATE_TO_MANAGER"
	ActionSetPriority  Action = "SET_PRIORITY"
	ActionManualReview Action = "MANUAL_REVIEW"
)

// Field names an applicant attribute a condition can test.
type Field string

const (
	FieldAnnualRevenue    Field = "annualRevenue"
	FieldYearsInBusiness  Field = "yearsInBusiness"
	FieldEmployeeCount    Field = "employeeCount"
	FieldRequestedAmount  Field = "requestedAmount"
	FieldHasExistingLoans Field = "hasExistingLoans"
	FieldCreditHistory    Field = "creditHistory"
	FieldCompanyName      Field = "companyName"
	FieldIndustry         Field = "industry"
)

// Operator is a comparison applied by a condition.
type Operator string

const (
	OpGreaterThan        Operator = "GREATER_THAN"
	OpLessThan           Operator = "LESS_THAN"
	OpEquals             Operator = "EQUALS"
	OpGreaterThanOrEqual Operator = "GREATER_THAN_OR_EQUAL"
	OpLessThanOrEqual    Operator = "LESS_THAN_OR_EQUAL"
	OpContains           Operator = "CONTAINS"
	OpStartsWith         Operator = "STARTS_WITH"
	OpEndsWith           Operator = "ENDS_WITH"
)

// Connector joins a condition to the one that follows it.
type Connector string

const (
	ConnectorAnd Connector = "AND"
	ConnectorOr  Connector = "OR"
)

// ValueKind is the type of an applicant attribute.
type ValueKind int

const (
	KindUnknown ValueKind = iota
	KindNumeric
	KindString
	KindBoolean
)

// FieldKinds lists the testable fields and their kinds.
var FieldKinds = map[Field]ValueKind{
	FieldAnnualRevenue:    KindNumeric,
	FieldYearsInBusiness:  KindNumeric,
	FieldEmployeeCount:    KindNumeric,
	FieldRequestedAmount:  KindNumeric,
	FieldCreditHistory:    KindNumeric,
	FieldHasExistingLoans: KindBoolean,
	FieldCompanyName:      KindString,
	FieldIndustry:         KindString,
}

// KindOperators lists the operators each kind supports.
var KindOperators = map[ValueKind][]Operator{
	KindNumeric: {OpGreaterThan, OpLessThan, OpEquals, OpGreaterThanOrEqual, OpLessThanOrEqual},
	KindString:  {OpEquals, OpContains, OpStartsWith, OpEndsWith},
	KindBoolean: {OpEquals},
}

// PolicyCondition is one atomic predicate of a policy.
// Exactly one of Value, NumericValue or BooleanValue is meaningful for a field.
type PolicyCondition struct {
	Field        Field     `json:"field" yaml:"field"`
	Operator     Operator  `json:"operator" yaml:"operator"`
	Value        *string   `json:"value,omitempty" yaml:"value,omitempty"`
	NumericValue *float64  `json:"numericValue,omitempty" yaml:"numericValue,omitempty"`
	BooleanValue *bool     `json:"booleanValue,omitempty" yaml:"booleanValue,omitempty"`
	Connector    Connector `json:"logicalOperator,omitempty" yaml:"logicalOperator,omitempty"`
}

// RiskPolicy is an administrator-defined rule consulted before the oracle call.
type RiskPolicy struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Type        PolicyType        `json:"policyType" yaml:"policyType"`
	Active      bool              `json:"active" yaml:"active"`
	Priority    int               `json:"priority" yaml:"priority"`
	Conditions  []PolicyCondition `json:"conditions" yaml:"conditions"`
	Action      Action            `json:"action" yaml:"action"`
	ActionValue string            `json:"actionValue,omitempty" yaml:"actionValue,omitempty"`

	// Guard is an optional CEL expression that must also hold for the policy to match.
	Guard string `json:"guard,omitempty" yaml:"guard,omitempty"`

	CreatedAt time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"-"`
}

// Validate checks the administrative shape of a policy.
func (p *RiskPolicy) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: policy is required", ErrInvalidInput)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: policy name is required", ErrInvalidInput)
	}
	switch p.Type {
	case PolicyApproval, PolicyRejection, PolicyEscalation, PolicyPriority:
	default:
		return fmt.Errorf("%w: unsupported policy type %q", ErrInvalidInput, p.Type)
	}
	switch p.Action {
	case ActionAutoApprove, ActionAutoReject, ActionEscalate, ActionManualReview:
	case ActionSetPriority:
		if strings.TrimSpace(p.ActionValue) == "" {
			return fmt.Errorf("%w: SET_PRIORITY requires actionValue", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unsupported action %q", ErrInvalidInput, p.Action)
	}
	for i, c := range p.Conditions {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}
	return nil
}

// Validate checks that the field, operator and typed value agree.
func (c PolicyCondition) Validate() error {
	kind, ok := FieldKinds[c.Field]
	if !ok {
		return fmt.Errorf("%w: unknown field %q", ErrInvalidInput, c.Field)
	}
	if !SupportsOperator(kind, c.Operator) {
		return fmt.Errorf("%w: operator %s not supported for %s", ErrInvalidInput, c.Operator, c.Field)
	}
	switch kind {
	case KindNumeric:
		if c.NumericValue == nil {
			return fmt.Errorf("%w: numericValue is required for %s", ErrInvalidInput, c.Field)
		}
	case KindString:
		if c.Value == nil {
			return fmt.Errorf("%w: value is required for %s", ErrInvalidInput, c.Field)
		}
	case KindBoolean:
		if c.BooleanValue == nil {
			return fmt.Errorf("%w: booleanValue is required for %s", ErrInvalidInput, c.Field)
		}
	}
	return nil
}

// SupportsOperator reports whether op applies to values of the given kind.
func SupportsOperator(kind ValueKind, op Operator) bool {
	for _, candidate := range KindOperators[kind] {
		if candidate == op {
			return true
		}
	}
	return false
}

// Resolvable reports whether the resolver consults policies of this type.
func (t PolicyType) Resolvable() bool {
	switch t {
	case PolicyApproval, PolicyRejection, PolicyEscalation, PolicyPriority:
		return true
	}
	return false
}

// PolicyFilter narrows policy listings.
type PolicyFilter struct {
	Type       PolicyType
	ActiveOnly bool
}

// Float64Ptr helps build numeric conditions.
func Float64Ptr(v float64) *float64 { return &v }
