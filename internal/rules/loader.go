package rules

import (
	"context"
	"fmt"
	"os"

	"github.com/opensource-finance/kestrel/internal/domain"
	"gopkg.in/yaml.v3"
)

// PolicyFile is the YAML document accepted by LoadPolicyFile.
type PolicyFile struct {
	Policies []*domain.RiskPolicy `yaml:"policies"`
}

// LoadPolicyFile reads seed policies from a YAML file and validates each one.
func LoadPolicyFile(path string) ([]*domain.RiskPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var doc PolicyFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}

	for i, p := range doc.Policies {
		if p == nil {
			return nil, fmt.Errorf("policy %d: %w: empty entry", i, domain.ErrInvalidInput)
		}
		if p.ID == "" {
			return nil, fmt.Errorf("policy %d (%s): %w: id is required", i, p.Name, domain.ErrInvalidInput)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("policy %d (%s): %w", i, p.Name, err)
		}
	}
	return doc.Policies, nil
}

// PolicySource lists stored policies.
type PolicySource interface {
	ListPolicies(ctx context.Context, filter domain.PolicyFilter) ([]*domain.RiskPolicy, error)
}

// SyncReport describes one Sync.
type SyncReport struct {
	Loaded  int      `json:"count"`
	Skipped []string `json:"skipped,omitempty"`
}

// Sync replaces the active set with the active policies held by src.
// Malformed policies are skipped and reported. When src fails the previous
// set stays in place.
func (e *Engine) Sync(ctx context.Context, src PolicySource) (SyncReport, error) {
	policies, err := src.ListPolicies(ctx, domain.PolicyFilter{ActiveOnly: true})
	if err != nil {
		return SyncReport{}, fmt.Errorf("list policies: %w", err)
	}
	skipped := e.ReloadPolicies(policies)
	return SyncReport{Loaded: e.PoliciesCount(), Skipped: skipped}, nil
}
