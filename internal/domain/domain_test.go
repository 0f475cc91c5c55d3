package domain

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestValidateTaxID(t *testing.T) {
	tests := []struct {
		name  string
		inn   string
		valid bool
	}{
		{"ValidTenDigit", "7707083893", true},
		{"ValidTwelveDigit", "500100732259", true},
		{"BadChecksum", "7707083894", false},
		{"BadSecondCheckDigit", "500100732258", false},
		{"WrongLength", "123456789", false},
		{"Letters", "77070838AB", false},
		{"Empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTaxID(tt.inn)
			if tt.valid && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestApplicantValidate(t *testing.T) {
	valid := func() *Applicant {
		return &Applicant{
			CompanyName:     "Acme",
			TaxID:           "7707083893",
			YearsInBusiness: 3,
			AnnualRevenue:   100_000,
			EmployeeCount:   4,
			RequestedAmount: 5_000,
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("expected valid applicant, got %v", err)
	}

	var nilApp *Applicant
	if err := nilApp.Validate(); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for nil applicant, got %v", err)
	}

	mutations := map[string]func(*Applicant){
		"BlankName":       func(a *Applicant) { a.CompanyName = "   " },
		"BadTaxID":        func(a *Applicant) { a.TaxID = "1" },
		"NegativeYears":   func(a *Applicant) { a.YearsInBusiness = -1 },
		"NegativeRevenue": func(a *Applicant) { a.AnnualRevenue = -1 },
		"NegativeStaff":   func(a *Applicant) { a.EmployeeCount = -1 },
		"NegativeRequest": func(a *Applicant) { a.RequestedAmount = -0.01 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			a := valid()
			mutate(a)
			if err := a.Validate(); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestApplicantClone(t *testing.T) {
	a := &Applicant{
		ID:          "a-1",
		CompanyName: "Acme",
		TaxID:       "7707083893",
		Industry:    StringPtr("IT"),
		CreatedAt:   time.Now(),
		Score:       &ScoreResult{Score: 0.5},

		HasExistingLoans: BoolPtr(true),
		CreditHistory:    IntPtr(3),
	}

	c := a.Clone()
	if c.ID != "" || c.Score != nil || !c.CreatedAt.IsZero() {
		t.Errorf("expected fresh identity, got %+v", c)
	}
	if c.CompanyName != a.CompanyName || *c.Industry != "IT" {
		t.Error("expected attributes to be copied")
	}
	if c.Industry == a.Industry || c.HasExistingLoans == a.HasExistingLoans || c.CreditHistory == a.CreditHistory {
		t.Fatal("expected optional attributes to be copied, not shared")
	}
	*c.Industry, *c.HasExistingLoans, *c.CreditHistory = "Retail", false, 9
	if *a.Industry != "IT" || !*a.HasExistingLoans || *a.CreditHistory != 3 {
		t.Error("mutating the clone changed the original")
	}
	if a.CacheKey() != LookupKey("Acme", "7707083893") {
		t.Errorf("unexpected cache key %s", a.CacheKey())
	}
}

func TestPolicyValidate(t *testing.T) {
	num := func(v float64) *float64 { return &v }

	tests := []struct {
		name   string
		policy RiskPolicy
		valid  bool
	}{
		{
			name: "Numeric",
			policy: RiskPolicy{Name: "p", Type: PolicyRejection, Action: ActionAutoReject,
				Conditions: []PolicyCondition{{Field: FieldRequestedAmount, Operator: OpGreaterThan, NumericValue: num(10)}}},
			valid: true,
		},
		{
			name: "StringContains",
			policy: RiskPolicy{Name: "p", Type: PolicyEscalation, Action: ActionEscalate,
				Conditions: []PolicyCondition{{Field: FieldIndustry, Operator: OpContains, Value: StringPtr("gambl")}}},
			valid: true,
		},
		{
			name:   "NoConditions",
			policy: RiskPolicy{Name: "p", Type: PolicyApproval, Action: ActionAutoApprove},
			valid:  true,
		},
		{
			name:   "MissingName",
			policy: RiskPolicy{Type: PolicyApproval, Action: ActionAutoApprove},
		},
		{
			name:   "UnknownType",
			policy: RiskPolicy{Name: "p", Type: "SCORING", Action: ActionAutoApprove},
		},
		{
			name:   "SetPriorityWithoutValue",
			policy: RiskPolicy{Name: "p", Type: PolicyPriority, Action: ActionSetPriority},
		},
		{
			name: "OperatorKindMismatch",
			policy: RiskPolicy{Name: "p", Type: PolicyRejection, Action: ActionAutoReject,
				Conditions: []PolicyCondition{{Field: FieldIndustry, Operator: OpGreaterThan, Value: StringPtr("x")}}},
		},
		{
			name: "MissingTypedValue",
			policy: RiskPolicy{Name: "p", Type: PolicyRejection, Action: ActionAutoReject,
				Conditions: []PolicyCondition{{Field: FieldHasExistingLoans, Operator: OpEquals}}},
		},
		{
			name: "UnknownField",
			policy: RiskPolicy{Name: "p", Type: PolicyRejection, Action: ActionAutoReject,
				Conditions: []PolicyCondition{{Field: "taxRate", Operator: OpEquals, NumericValue: num(1)}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.valid && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Fallback.LowThreshold != 0.7 || cfg.Fallback.MediumThreshold != 0.4 {
		t.Errorf("unexpected thresholds: %+v", cfg.Fallback)
	}
	if cfg.Oracle.MaxAttempts != 3 || cfg.Oracle.InitialBackoff != time.Second {
		t.Errorf("unexpected retry policy: %+v", cfg.Oracle)
	}

	pro := ProConfig()
	if pro.Tier != TierPro || pro.Repository.Driver != "postgres" || pro.Cache.Type != "redis" || pro.EventBus.Type != "nats" {
		t.Errorf("unexpected pro config: %+v", pro)
	}
	if err := pro.Validate(); err != nil {
		t.Errorf("pro config invalid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	mutations := map[string]func(*Config){
		"ZeroPort":          func(c *Config) { c.Server.Port = 0 },
		"ZeroAttempts":      func(c *Config) { c.Oracle.MaxAttempts = 0 },
		"ShrinkingBackoff":  func(c *Config) { c.Oracle.BackoffMultiplier = 0.5 },
		"ThresholdsSwapped": func(c *Config) { c.Fallback.MediumThreshold = 0.9 },
		"NoWorkers":         func(c *Config) { c.Batch.Workers = 0 },
		"ZeroRateLimit":     func(c *Config) { c.RateLimit.PerMinute = 0 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"KESTREL_PORT":        "9090",
		"KESTREL_ORACLE_URL":  "http://oracle:8000",
		"KESTREL_DB_PATH":     "/data/kestrel.db",
		"KESTREL_REDIS_ADDR":  "redis:6379",
		"KESTREL_NATS_URL":    "nats://nats:4222",
		"KESTREL_RATE_LIMIT":  "false",
		"KESTREL_POLICY_FILE": "/etc/kestrel/policies.yaml",
	}

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(func(k string) string { return env[k] }); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Oracle.BaseURL != "http://oracle:8000" || cfg.Repository.SQLitePath != "/data/kestrel.db" {
		t.Errorf("unexpected overrides: %+v", cfg)
	}
	if cfg.Cache.RedisAddr != "redis:6379" || cfg.EventBus.NATSUrl != "nats://nats:4222" {
		t.Error("expected redis and nats overrides")
	}
	if cfg.RateLimit.Enabled {
		t.Error("expected rate limiting disabled")
	}
	if cfg.PolicyFile != "/etc/kestrel/policies.yaml" {
		t.Errorf("unexpected policy file %s", cfg.PolicyFile)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("unset variables must keep defaults, got level %s", cfg.Logging.Level)
	}

	bad := DefaultConfig()
	err := bad.ApplyEnv(func(k string) string {
		if k == "KESTREL_PORT" {
			return "eighty"
		}
		return ""
	})
	if err == nil {
		t.Error("expected error for non-numeric port")
	}
	if bad.Server.Port != 8080 {
		t.Errorf("expected port to stay 8080, got %d", bad.Server.Port)
	}
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv("KESTREL_TEST_ORACLE", "http://scoring.internal")

	path := filepath.Join(t.TempDir(), "kestrel.yaml")
	doc := `
server:
  port: 9000
oracle:
  base_url: ${KESTREL_TEST_ORACLE}
  max_attempts: 5
fallback:
  low_threshold: 0.8
  medium_threshold: 0.5
batch:
  workers: 4
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg := DefaultConfig()
	if err := LoadConfigFile(path, cfg); err != nil {
		t.Fatalf("LoadConfigFile failed: %v", err)
	}
	if cfg.Server.Port != 9000 || cfg.Oracle.MaxAttempts != 5 || cfg.Batch.Workers != 4 {
		t.Errorf("unexpected overlay: %+v", cfg)
	}
	if cfg.Oracle.BaseURL != "http://scoring.internal" {
		t.Errorf("expected expanded oracle url, got %s", cfg.Oracle.BaseURL)
	}
	if cfg.Fallback.LowThreshold != 0.8 {
		t.Errorf("expected low threshold 0.8, got %v", cfg.Fallback.LowThreshold)
	}
	if cfg.Repository.Driver != "sqlite" {
		t.Error("fields absent from the file must keep defaults")
	}

	invalid := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(invalid, []byte("fallback:\n  low_threshold: 0.2\n  medium_threshold: 0.6\n"), 0o600)
	if err := LoadConfigFile(invalid, DefaultConfig()); err == nil {
		t.Error("expected validation error for swapped thresholds")
	}
}
