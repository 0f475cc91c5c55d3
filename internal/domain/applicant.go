package domain

import (
	"fmt"
	"strings"
	"time"
)

// Applicant is the business being scored.
// It is created from caller input and is not modified once scoring starts;
// each scoring attempt owns its own Applicant.
type Applicant struct {
	ID               string    `json:"id"`
	CompanyName      string    `json:"companyName"`
	TaxID            string    `json:"inn"`
	BusinessType     string    `json:"businessType,omitempty"`
	YearsInBusiness  int       `json:"yearsInBusiness"`
	AnnualRevenue    float64   `json:"annualRevenue"`
	EmployeeCount    int       `json:"employeeCount"`
	RequestedAmount  float64   `json:"requestedAmount"`
	HasExistingLoans *bool     `json:"hasExistingLoans,omitempty"`
	Industry         *string   `json:"industry,omitempty"`
	CreditHistory    *int      `json:"creditHistory,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`

	// Score is attached once computed and never recomputed in place.
	Score *ScoreResult `json:"score,omitempty"`
}

// Validate rejects malformed applicant records before orchestration.
func (a *Applicant) Validate() error {
	if a == nil {
		return fmt.Errorf("%w: applicant is required", ErrInvalidInput)
	}
	if strings.TrimSpace(a.CompanyName) == "" {
		return fmt.Errorf("%w: companyName is required", ErrInvalidInput)
	}
	if err := ValidateTaxID(a.TaxID); err != nil {
		return err
	}
	if a.YearsInBusiness < 0 {
		return fmt.Errorf("%w: yearsInBusiness must be positive or zero", ErrInvalidInput)
	}
	if a.AnnualRevenue < 0 {
		return fmt.Errorf("%w: annualRevenue must be positive or zero", ErrInvalidInput)
	}
	if a.EmployeeCount < 0 {
		return fmt.Errorf("%w: employeeCount must be positive or zero", ErrInvalidInput)
	}
	if a.RequestedAmount < 0 {
		return fmt.Errorf("%w: requestedAmount must be positive or zero", ErrInvalidInput)
	}
	return nil
}

// CacheKey identifies the latest attempt for a company and tax id pair.
func (a *Applicant) CacheKey() string {
	return LookupKey(a.CompanyName, a.TaxID)
}

// LookupKey builds the cache key used for company/tax id lookups.
func LookupKey(companyName, taxID string) string {
	return companyName + "_" + taxID
}

// Clone returns a copy with a fresh identity, used when re-scoring a stored
// record. Optional attributes are copied so the two records share nothing.
func (a *Applicant) Clone() *Applicant {
	c := *a
	c.ID = ""
	c.Score = nil
	c.CreatedAt = time.Time{}
	if a.HasExistingLoans != nil {
		c.HasExistingLoans = BoolPtr(*a.HasExistingLoans)
	}
	if a.Industry != nil {
		c.Industry = StringPtr(*a.Industry)
	}
	if a.CreditHistory != nil {
		c.CreditHistory = IntPtr(*a.CreditHistory)
	}
	return &c
}

// BoolPtr, StringPtr and IntPtr help build optional applicant attributes.
func BoolPtr(v bool) *bool       { return &v }
func StringPtr(v string) *string { return &v }
func IntPtr(v int) *int          { return &v }
