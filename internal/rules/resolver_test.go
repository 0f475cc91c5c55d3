package rules

import (
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func matching() []domain.PolicyCondition {
	return []domain.PolicyCondition{num(domain.FieldEmployeeCount, domain.OpGreaterThan, 10)}
}

func notMatching() []domain.PolicyCondition {
	return []domain.PolicyCondition{num(domain.FieldEmployeeCount, domain.OpGreaterThan, 1000)}
}

func TestResolveDefault(t *testing.T) {
	res := Resolve(testApplicant(), nil)

	if res.Decision != domain.ActionManualReview {
		t.Errorf("expected MANUAL_REVIEW, got %s", res.Decision)
	}
	if res.Reason != domain.NoMatchReason {
		t.Errorf("expected %q, got %q", domain.NoMatchReason, res.Reason)
	}
	if res.Priority != domain.PriorityMedium {
		t.Errorf("expected MEDIUM priority, got %s", res.Priority)
	}
	if res.AppliedPolicy != "" {
		t.Errorf("expected no applied policy, got %s", res.AppliedPolicy)
	}
}

func TestResolvePriorityThenTerminal(t *testing.T) {
	policies := []*domain.RiskPolicy{
		{Name: "flag-high", Priority: 1, Action: domain.ActionSetPriority, ActionValue: "HIGH", Conditions: matching()},
		{Name: "reject-big", Priority: 2, Action: domain.ActionAutoReject, Conditions: matching()},
	}

	res := Resolve(testApplicant(), policies)

	if res.Decision != domain.ActionAutoReject {
		t.Errorf("expected AUTO_REJECT, got %s", res.Decision)
	}
	if res.Priority != "HIGH" {
		t.Errorf("expected HIGH priority, got %s", res.Priority)
	}
	if res.AppliedPolicy != "reject-big" {
		t.Errorf("expected applied policy reject-big, got %s", res.AppliedPolicy)
	}
	if res.Reason != "Policy 'reject-big' triggered" {
		t.Errorf("unexpected reason %q", res.Reason)
	}
}

func TestResolveTerminalStopsBeforeLaterPriority(t *testing.T) {
	policies := []*domain.RiskPolicy{
		{Name: "approve", Priority: 1, Action: domain.ActionAutoApprove, Conditions: matching()},
		{Name: "flag-high", Priority: 2, Action: domain.ActionSetPriority, ActionValue: "HIGH", Conditions: matching()},
	}

	res := Resolve(testApplicant(), policies)

	if res.Decision != domain.ActionAutoApprove {
		t.Errorf("expected AUTO_APPROVE, got %s", res.Decision)
	}
	if res.Priority != domain.PriorityMedium {
		t.Errorf("expected priority to stay MEDIUM, got %s", res.Priority)
	}
	if len(res.Matched) != 1 {
		t.Errorf("expected scan to stop after first terminal match, matched %v", res.Matched)
	}
}

func TestResolvePriorityOnly(t *testing.T) {
	policies := []*domain.RiskPolicy{
		{Name: "flag-low", Priority: 1, Action: domain.ActionSetPriority, ActionValue: "LOW", Conditions: matching()},
		{Name: "skip", Priority: 2, Action: domain.ActionAutoReject, Conditions: notMatching()},
		{Name: "flag-high", Priority: 3, Action: domain.ActionSetPriority, ActionValue: "HIGH", Conditions: matching()},
	}

	res := Resolve(testApplicant(), policies)

	if res.Decision != domain.ActionManualReview {
		t.Errorf("expected MANUAL_REVIEW, got %s", res.Decision)
	}
	if res.Priority != "HIGH" {
		t.Errorf("expected last matching priority HIGH, got %s", res.Priority)
	}
	if res.Reason != domain.NoMatchReason {
		t.Errorf("expected default reason, got %q", res.Reason)
	}
}

func TestResolveFirstTerminalWins(t *testing.T) {
	policies := []*domain.RiskPolicy{
		{Name: "no-match", Priority: 1, Action: domain.ActionAutoReject, Conditions: notMatching()},
		{Name: "escalate", Priority: 2, Action: domain.ActionEscalate, Conditions: matching()},
		{Name: "approve", Priority: 3, Action: domain.ActionAutoApprove, Conditions: matching()},
	}

	res := Resolve(testApplicant(), policies)
	if res.Decision != domain.ActionEscalate {
		t.Errorf("expected ESCALATE_TO_MANAGER, got %s", res.Decision)
	}
}
