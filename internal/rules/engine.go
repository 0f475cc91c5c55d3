// Package rules evaluates risk policies against applicants.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine holds the active policy set and resolves decisions against it.
// Policies may carry a CEL guard that must hold in addition to their conditions.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*CompiledPolicy
	ordered  []*CompiledPolicy
}

// CompiledPolicy is a policy with its guard program, if any.
type CompiledPolicy struct {
	Policy *domain.RiskPolicy
	Guard  cel.Program
}

// NewEngine creates a policy engine with an empty policy set.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("applicant", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("annual_revenue", cel.DoubleType),
		cel.Variable("years_in_business", cel.IntType),
		cel.Variable("employee_count", cel.IntType),
		cel.Variable("requested_amount", cel.DoubleType),
		cel.Variable("has_existing_loans", cel.BoolType),
		cel.Variable("credit_history", cel.IntType),
		cel.Variable("company_name", cel.StringType),
		cel.Variable("business_type", cel.StringType),
		cel.Variable("industry", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		compiled: make(map[string]*CompiledPolicy),
	}, nil
}

// ValidatePolicy checks a policy and compiles its guard without changing the loaded set.
func (e *Engine) ValidatePolicy(p *domain.RiskPolicy) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compilePolicy(p)
	return err
}

// LoadPolicy compiles a policy and adds or replaces it in the active set.
// Inactive policies are removed.
func (e *Engine) LoadPolicy(p *domain.RiskPolicy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !p.Active {
		delete(e.compiled, p.ID)
		e.reorder()
		return nil
	}

	compiled, err := e.compilePolicy(p)
	if err != nil {
		return err
	}
	e.compiled[p.ID] = compiled
	e.reorder()
	return nil
}

// RemovePolicy drops a policy from the active set.
func (e *Engine) RemovePolicy(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.compiled, id)
	e.reorder()
}

// ReloadPolicies replaces the whole active set. A policy that fails to
// compile is logged and left out, and its id is returned in skipped; the
// rest of the set is still loaded.
func (e *Engine) ReloadPolicies(policies []*domain.RiskPolicy) (skipped []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*CompiledPolicy)
	for _, p := range policies {
		if p == nil || !p.Active {
			continue
		}
		compiled, err := e.compilePolicy(p)
		if err != nil {
			slog.Warn("skipping malformed policy",
				"policy_id", p.ID,
				"policy", p.Name,
				"error", err,
			)
			skipped = append(skipped, p.ID)
			continue
		}
		next[p.ID] = compiled
	}

	e.compiled = next
	e.reorder()
	return skipped
}

// ActivePolicies returns the active, resolvable policies in ascending priority.
func (e *Engine) ActivePolicies() []*domain.RiskPolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*domain.RiskPolicy, 0, len(e.ordered))
	for _, c := range e.ordered {
		out = append(out, c.Policy)
	}
	return out
}

// PoliciesCount returns the number of loaded policies.
func (e *Engine) PoliciesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.ordered)
}

// Resolve runs the resolver over a snapshot of the active set.
func (e *Engine) Resolve(ctx context.Context, app *domain.Applicant) (Resolution, error) {
	if app == nil {
		return Resolution{}, fmt.Errorf("%w: applicant is required", domain.ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return Resolution{}, err
	}

	e.mu.RLock()
	snapshot := make([]*CompiledPolicy, len(e.ordered))
	copy(snapshot, e.ordered)
	e.mu.RUnlock()

	guards := make(map[*domain.RiskPolicy]cel.Program, len(snapshot))
	policies := make([]*domain.RiskPolicy, 0, len(snapshot))
	for _, c := range snapshot {
		policies = append(policies, c.Policy)
		if c.Guard != nil {
			guards[c.Policy] = c.Guard
		}
	}

	var activation map[string]any
	match := func(p *domain.RiskPolicy, a *domain.Applicant) bool {
		if !EvaluatePolicy(p, a) {
			return false
		}
		guard, ok := guards[p]
		if !ok {
			return true
		}
		if activation == nil {
			activation = guardActivation(a)
		}
		return evalGuard(p, guard, activation)
	}

	res := ResolveWith(match, app, policies)
	slog.Debug("policies resolved",
		"applicant_id", app.ID,
		"decision", res.Decision,
		"priority", res.Priority,
		"applied_policy", res.AppliedPolicy,
	)
	return res, nil
}

// Close clears the loaded policies.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = make(map[string]*CompiledPolicy)
	e.ordered = nil
	return nil
}

func (e *Engine) compilePolicy(p *domain.RiskPolicy) (*CompiledPolicy, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: policy is required", domain.ErrInvalidInput)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	compiled := &CompiledPolicy{Policy: p}
	if p.Guard == "" {
		return compiled, nil
	}

	ast, issues := e.env.Compile(p.Guard)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: failed to compile guard for policy %s: %v", domain.ErrInvalidInput, p.Name, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: policy %s: guard must return bool, got %s", domain.ErrInvalidInput, p.Name, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for policy %s: %w", p.Name, err)
	}
	compiled.Guard = program
	return compiled, nil
}

// reorder rebuilds the priority-sorted view. Callers hold the write lock.
func (e *Engine) reorder() {
	ordered := make([]*CompiledPolicy, 0, len(e.compiled))
	for _, c := range e.compiled {
		if c.Policy.Type.Resolvable() {
			ordered = append(ordered, c)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i].Policy, ordered[j].Policy
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	e.ordered = ordered
}

func guardActivation(a *domain.Applicant) map[string]any {
	industry := ""
	if a.Industry != nil {
		industry = *a.Industry
	}
	loans := false
	if a.HasExistingLoans != nil {
		loans = *a.HasExistingLoans
	}
	credit := int64(0)
	if a.CreditHistory != nil {
		credit = int64(*a.CreditHistory)
	}

	vars := map[string]any{
		"annual_revenue":     a.AnnualRevenue,
		"years_in_business":  int64(a.YearsInBusiness),
		"employee_count":     int64(a.EmployeeCount),
		"requested_amount":   a.RequestedAmount,
		"has_existing_loans": loans,
		"credit_history":     credit,
		"company_name":       a.CompanyName,
		"business_type":      a.BusinessType,
		"industry":           industry,
	}
	applicant := make(map[string]any, len(vars))
	for k, v := range vars {
		applicant[k] = v
	}
	vars["applicant"] = applicant
	return vars
}

func evalGuard(p *domain.RiskPolicy, guard cel.Program, activation map[string]any) bool {
	out, _, err := guard.Eval(activation)
	if err != nil {
		slog.Warn("policy guard evaluation failed",
			"policy", p.Name,
			"error", err,
		)
		return false
	}
	b, ok := out.(types.Bool)
	return ok && bool(b)
}
