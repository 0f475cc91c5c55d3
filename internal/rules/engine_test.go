package rules

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func activePolicy(id string, priority int, action domain.Action) *domain.RiskPolicy {
	return &domain.RiskPolicy{
		ID:         id,
		Name:       id,
		Type:       domain.PolicyApproval,
		Active:     true,
		Priority:   priority,
		Action:     action,
		Conditions: matching(),
	}
}

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.PoliciesCount() != 0 {
		t.Errorf("expected 0 policies, got %d", engine.PoliciesCount())
	}
}

func TestLoadPolicy(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	if err := engine.LoadPolicy(activePolicy("p1", 1, domain.ActionAutoApprove)); err != nil {
		t.Fatalf("failed to load policy: %v", err)
	}
	if engine.PoliciesCount() != 1 {
		t.Errorf("expected 1 policy, got %d", engine.PoliciesCount())
	}

	inactive := activePolicy("p1", 1, domain.ActionAutoApprove)
	inactive.Active = false
	if err := engine.LoadPolicy(inactive); err != nil {
		t.Fatalf("failed to load inactive policy: %v", err)
	}
	if engine.PoliciesCount() != 0 {
		t.Errorf("expected deactivated policy to be removed, got %d", engine.PoliciesCount())
	}
}

func TestLoadInvalidPolicy(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	t.Run("BadGuard", func(t *testing.T) {
		p := activePolicy("bad-guard", 1, domain.ActionAutoApprove)
		p.Guard = "this is not valid CEL !!!"
		err := engine.LoadPolicy(p)
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("NonBoolGuard", func(t *testing.T) {
		p := activePolicy("num-guard", 1, domain.ActionAutoApprove)
		p.Guard = "annual_revenue * 2.0"
		if err := engine.LoadPolicy(p); err == nil {
			t.Error("expected error for non-bool guard")
		}
	})

	t.Run("UnknownField", func(t *testing.T) {
		p := activePolicy("bad-field", 1, domain.ActionAutoApprove)
		p.Conditions = []domain.PolicyCondition{num("turnover", domain.OpGreaterThan, 1)}
		if err := engine.ValidatePolicy(p); err == nil {
			t.Error("expected error for unknown field")
		}
	})

	if engine.PoliciesCount() != 0 {
		t.Errorf("expected no policies loaded, got %d", engine.PoliciesCount())
	}
}

func TestEngineOrdersByPriority(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	skipped := engine.ReloadPolicies([]*domain.RiskPolicy{
		activePolicy("third", 30, domain.ActionAutoApprove),
		activePolicy("first", 1, domain.ActionAutoReject),
		activePolicy("second", 20, domain.ActionEscalate),
	})
	if len(skipped) != 0 {
		t.Fatalf("unexpected skipped policies: %v", skipped)
	}

	got := engine.ActivePolicies()
	want := []string{"first", "second", "third"}
	for i, p := range got {
		if p.ID != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], p.ID)
		}
	}

	res, err := engine.Resolve(context.Background(), testApplicant())
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if res.Decision != domain.ActionAutoReject {
		t.Errorf("expected lowest priority number to win, got %s", res.Decision)
	}
}

func TestReloadSkipsMalformedPolicies(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	reject := activePolicy("reject", 5, domain.ActionAutoReject)
	reject.Type = domain.PolicyRejection

	badGuard := activePolicy("bad-guard", 1, domain.ActionAutoApprove)
	badGuard.Guard = "nope("

	legacy := activePolicy("legacy", 2, domain.ActionAutoApprove)
	legacy.Conditions = []domain.PolicyCondition{{
		Field: domain.Field("taxRate"), Operator: domain.OpGreaterThan, NumericValue: domain.Float64Ptr(1),
	}}

	skipped := engine.ReloadPolicies([]*domain.RiskPolicy{badGuard, legacy, reject})
	if len(skipped) != 2 || skipped[0] != "bad-guard" || skipped[1] != "legacy" {
		t.Errorf("expected bad-guard and legacy to be skipped, got %v", skipped)
	}
	if engine.PoliciesCount() != 1 || engine.ActivePolicies()[0].ID != "reject" {
		t.Fatalf("expected only the valid policy to load, got %d", engine.PoliciesCount())
	}

	res, err := engine.Resolve(context.Background(), testApplicant())
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if res.Decision != domain.ActionAutoReject {
		t.Errorf("expected the valid policy to decide, got %s", res.Decision)
	}
}

func TestGuardExpression(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	p := activePolicy("guarded", 1, domain.ActionAutoReject)
	p.Guard = "requested_amount > annual_revenue * 0.5"
	if err := engine.LoadPolicy(p); err != nil {
		t.Fatalf("failed to load guarded policy: %v", err)
	}

	app := testApplicant()
	app.RequestedAmount = 100_000
	res, _ := engine.Resolve(context.Background(), app)
	if res.Decision != domain.ActionManualReview {
		t.Errorf("expected guard to block the match, got %s", res.Decision)
	}

	app.RequestedAmount = 1_500_000
	res, _ = engine.Resolve(context.Background(), app)
	if res.Decision != domain.ActionAutoReject {
		t.Errorf("expected guard to allow the match, got %s", res.Decision)
	}
}

func TestGuardUsesApplicantMap(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	p := activePolicy("industry-guard", 1, domain.ActionEscalate)
	p.Guard = `applicant.industry == "Retail" && has_existing_loans`
	if err := engine.LoadPolicy(p); err != nil {
		t.Fatalf("failed to load policy: %v", err)
	}

	res, _ := engine.Resolve(context.Background(), testApplicant())
	if res.Decision != domain.ActionEscalate {
		t.Errorf("expected ESCALATE_TO_MANAGER, got %s", res.Decision)
	}
}

func TestResolveNilApplicant(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	_, err := engine.Resolve(context.Background(), nil)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestConcurrentResolveAndReload(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				engine.ReloadPolicies([]*domain.RiskPolicy{
					activePolicy(fmt.Sprintf("p-%d-%d", n, j), j, domain.ActionAutoApprove),
				})
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, err := engine.Resolve(ctx, testApplicant()); err != nil {
					t.Errorf("resolve failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}
