package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

// schemaApplicants holds one row per scoring attempt. The score columns are
// filled in when the attempt's outcome is saved.
const schemaApplicants = `
CREATE TABLE IF NOT EXISTS applicants (
    id TEXT PRIMARY KEY,
    company_name TEXT NOT NULL,
    inn TEXT NOT NULL,
    business_type TEXT,
    years_in_business INTEGER NOT NULL DEFAULT 0,
    annual_revenue REAL NOT NULL DEFAULT 0,
    employee_count INTEGER NOT NULL DEFAULT 0,
    requested_amount REAL NOT NULL DEFAULT 0,
    has_existing_loans INTEGER,
    industry TEXT,
    credit_history INTEGER,
    created_at TIMESTAMP NOT NULL,
    score REAL,
    risk_level TEXT,
    provenance TEXT,
    signal TEXT,
    scored_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_applicants_lookup ON applicants(company_name, inn, created_at);
CREATE INDEX IF NOT EXISTS idx_applicants_risk ON applicants(risk_level, created_at);
`

const schemaDecisions = `
CREATE TABLE IF NOT EXISTS scoring_decisions (
    id TEXT PRIMARY KEY,
    applicant_id TEXT NOT NULL,
    decision TEXT NOT NULL,
    reason TEXT NOT NULL,
    applied_policy TEXT,
    priority TEXT NOT NULL,
    final_decision TEXT NOT NULL DEFAULT 'PENDING',
    manager_notes TEXT,
    resolved_by TEXT,
    resolved_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_applicant ON scoring_decisions(applicant_id);
CREATE INDEX IF NOT EXISTS idx_decisions_pending ON scoring_decisions(final_decision, priority, created_at);
`

// schemaPolicies stores risk policies. Conditions are a JSON array.
const schemaPolicies = `
CREATE TABLE IF NOT EXISTS risk_policies (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    policy_type TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 1,
    priority INTEGER NOT NULL DEFAULT 0,
    conditions TEXT NOT NULL,
    action TEXT NOT NULL,
    action_value TEXT,
    guard TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_policies_active ON risk_policies(active, priority);
CREATE INDEX IF NOT EXISTS idx_policies_type ON risk_policies(policy_type, active);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaApplicants,
		schemaDecisions,
		schemaPolicies,
	}
}
