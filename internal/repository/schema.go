package repository

// DDL here must run unchanged on SQLite and PostgreSQL.

const schemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMP NOT NULL
)`

const schemaResults = `
CREATE TABLE IF NOT EXISTS results (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    subject_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    verdict TEXT NOT NULL,
    score REAL NOT NULL,
    degraded INTEGER NOT NULL DEFAULT 0,
    scored_at TIMESTAMP NOT NULL,
    body TEXT NOT NULL,
    input TEXT
);

CREATE INDEX IF NOT EXISTS idx_results_tenant ON results(tenant_id);
CREATE INDEX IF NOT EXISTS idx_results_subject ON results(tenant_id, subject_id);
CREATE INDEX IF NOT EXISTS idx_results_verdict ON results(tenant_id, verdict);
CREATE INDEX IF NOT EXISTS idx_results_scored_at ON results(tenant_id, scored_at);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    result_id TEXT,
    subject_id TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    severity TEXT NOT NULL,
    status TEXT NOT NULL,
    message TEXT NOT NULL,
    score REAL NOT NULL,
    verdict TEXT,
    risk_factors TEXT NOT NULL,
    metadata TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_tenant ON alerts(tenant_id);
CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(tenant_id, created_at);
`

// Metric samples are process-wide and append-only.
const schemaMetricSamples = `
CREATE TABLE IF NOT EXISTS metric_samples (
    metric_type TEXT NOT NULL,
    value REAL NOT NULL,
    status TEXT NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_metric_samples_type ON metric_samples(metric_type, recorded_at);
`

const schemaFactorRules = `
CREATE TABLE IF NOT EXISTS factor_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    kind TEXT,
    expression TEXT NOT NULL,
    tag TEXT NOT NULL,
    significance REAL NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_factor_rules_tenant ON factor_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_factor_rules_enabled ON factor_rules(tenant_id, enabled);
`

const indexAlertResults = `
CREATE INDEX IF NOT EXISTS idx_alerts_result ON alerts(tenant_id, result_id);
`

type migration struct {
	version int
	name    string
	stmt    string
}

// migrations are append-only; a released version is never edited.
var migrations = []migration{
	{1, "create results", schemaResults},
	{2, "create alerts", schemaAlerts},
	{3, "create metric samples", schemaMetricSamples},
	{4, "create factor rules", schemaFactorRules},
	{5, "index alerts by result", indexAlertResults},
}
