package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaFraudRules = `
CREATE TABLE IF NOT EXISTS fraud_rules (
    id TEXT PRIMARY KEY,
    rule_code TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    description TEXT,
    category TEXT NOT NULL,
    type TEXT NOT NULL,
    impact_level TEXT NOT NULL,
    status TEXT NOT NULL,
    actions TEXT NOT NULL,
    action_duration_secs INTEGER,
    priority INTEGER NOT NULL DEFAULT 100,
    condition TEXT NOT NULL,
    valid_from TIMESTAMP,
    valid_to TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    last_modified TIMESTAMP NOT NULL,
    modified_by TEXT
);

CREATE INDEX IF NOT EXISTS idx_fraud_rules_category ON fraud_rules(category);
CREATE INDEX IF NOT EXISTS idx_fraud_rules_status ON fraud_rules(status);
`

const schemaBlacklistItems = `
CREATE TABLE IF NOT EXISTS blacklist_items (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    value TEXT NOT NULL,
    reason TEXT,
    rule_id TEXT,
    event_id TEXT,
    status TEXT NOT NULL,
    added_at TIMESTAMP NOT NULL,
    added_by TEXT,
    expiry_date TIMESTAMP,
    invalidated_at TIMESTAMP,
    invalidated_by TEXT,
    UNIQUE (type, value)
);

CREATE INDEX IF NOT EXISTS idx_blacklist_items_lookup ON blacklist_items(type, value);
CREATE INDEX IF NOT EXISTS idx_blacklist_items_expiry ON blacklist_items(expiry_date);
`

const schemaRuleEvents = `
CREATE TABLE IF NOT EXISTS fraud_rule_events (
    id TEXT PRIMARY KEY,
    rule_id TEXT NOT NULL,
    rule_code TEXT NOT NULL,
    rule_name TEXT NOT NULL,
    context_type TEXT NOT NULL,
    impact_level TEXT NOT NULL,
    actions TEXT NOT NULL,
    action_duration_secs INTEGER,
    action_end_date TIMESTAMP,
    transaction_id TEXT,
    account_id TEXT,
    ip_address TEXT,
    device_id TEXT,
    warning TEXT,
    created_at TIMESTAMP NOT NULL,
    resolved_at TIMESTAMP,
    resolved_by TEXT,
    resolution_notes TEXT
);

CREATE INDEX IF NOT EXISTS idx_rule_events_account ON fraud_rule_events(account_id, created_at);
CREATE INDEX IF NOT EXISTS idx_rule_events_rule ON fraud_rule_events(rule_id);
CREATE INDEX IF NOT EXISTS idx_rule_events_unresolved ON fraud_rule_events(resolved_at);
`

const schemaAnalysisResults = `
CREATE TABLE IF NOT EXISTS analysis_results (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    anomaly_score REAL NOT NULL,
    fraud_probability REAL NOT NULL,
    risk_level TEXT NOT NULL,
    factor_codes TEXT,
    decision TEXT NOT NULL,
    status TEXT NOT NULL,
    error TEXT,
    total_rule_count INTEGER NOT NULL DEFAULT 0,
    triggered_rule_count INTEGER NOT NULL DEFAULT 0,
    triggered_rules TEXT,
    applied_actions TEXT,
    risk_factors TEXT,
    ml_analysis TEXT,
    warnings TEXT,
    analyzed_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analysis_results_tx ON analysis_results(transaction_id);
CREATE INDEX IF NOT EXISTS idx_analysis_results_decision ON analysis_results(decision);
CREATE INDEX IF NOT EXISTS idx_analysis_results_analyzed ON analysis_results(analyzed_at);
`

const schemaRiskEvaluations = `
CREATE TABLE IF NOT EXISTS risk_evaluations (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    fraud_probability REAL NOT NULL,
    anomaly_score REAL NOT NULL,
    risk_level TEXT NOT NULL,
    confidence_score REAL NOT NULL,
    ml_score REAL NOT NULL DEFAULT 0,
    rule_based_score REAL NOT NULL DEFAULT 0,
    used_algorithms TEXT,
    processing_time_ms INTEGER NOT NULL DEFAULT 0,
    warnings TEXT,
    errors TEXT,
    evaluated_at TIMESTAMP NOT NULL,
    deleted_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_risk_evaluations_tx ON risk_evaluations(transaction_id);
CREATE INDEX IF NOT EXISTS idx_risk_evaluations_evaluated ON risk_evaluations(evaluated_at);
`

const schemaFraudAlerts = `
CREATE TABLE IF NOT EXISTS fraud_alerts (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    analysis_result_id TEXT NOT NULL,
    probability REAL NOT NULL,
    risk_level TEXT NOT NULL,
    factors TEXT,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    resolved_at TIMESTAMP,
    resolved_by TEXT
);

CREATE INDEX IF NOT EXISTS idx_fraud_alerts_status ON fraud_alerts(status);
CREATE INDEX IF NOT EXISTS idx_fraud_alerts_account ON fraud_alerts(account_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaFraudRules,
		schemaBlacklistItems,
		schemaRuleEvents,
		schemaAnalysisResults,
		schemaRiskEvaluations,
		schemaFraudAlerts,
	}
}
