package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    merchant TEXT,
    channel TEXT,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    city TEXT,
    country TEXT,
    device_id TEXT,
    ip TEXT,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_transactions_tenant ON transactions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(tenant_id, account_id);
CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions(tenant_id, account_id, timestamp);
`

const schemaPredictions = `
CREATE TABLE IF NOT EXISTS predictions (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    tx_id TEXT NOT NULL,
    risk_score REAL NOT NULL,
    fraud_probability REAL NOT NULL,
    risk_level TEXT NOT NULL,
    confidence REAL NOT NULL,
    sub_scores TEXT NOT NULL,
    triggered_rules TEXT NOT NULL,
    contributions TEXT NOT NULL,
    recommendation TEXT NOT NULL,
    overlay_flags TEXT,
    degraded INTEGER NOT NULL DEFAULT 0,
    model_version TEXT,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_predictions_tenant ON predictions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_predictions_tx ON predictions(tenant_id, tx_id);
CREATE INDEX IF NOT EXISTS idx_predictions_level ON predictions(tenant_id, risk_level);
CREATE INDEX IF NOT EXISTS idx_predictions_timestamp ON predictions(tenant_id, timestamp);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    reason TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_tenant ON rule_configs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(tenant_id, enabled);
`

const schemaModelConfigs = `
CREATE TABLE IF NOT EXISTS model_configs (
    version TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    weights TEXT NOT NULL,
    feature_importance TEXT NOT NULL,
    high_threshold REAL NOT NULL,
    medium_threshold REAL NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (version, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_model_configs_tenant ON model_configs(tenant_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaPredictions,
		schemaRuleConfigs,
		schemaModelConfigs,
	}
}
