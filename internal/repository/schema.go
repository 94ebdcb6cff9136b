package repository

import "strings"

// Schema definitions for the Fraudgate database.
// {{ID}} is replaced with the driver's auto-increment primary key type.

const schemaFraudRules = `
CREATE TABLE IF NOT EXISTS fraud_rules (
    id {{ID}},
    name TEXT NOT NULL,
    description TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    priority INTEGER NOT NULL DEFAULT 100,
    field_path TEXT NOT NULL,
    rule_operator TEXT NOT NULL,
    rule_value TEXT,
    action_type TEXT NOT NULL,
    action_config TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_rules_enabled ON fraud_rules(enabled, priority, id);
`

const schemaAuditLog = `
CREATE TABLE IF NOT EXISTS audit_log (
    id {{ID}},
    application_id TEXT NOT NULL,
    application_type TEXT NOT NULL,
    source_system TEXT NOT NULL,
    rules_evaluated INTEGER NOT NULL,
    rules_matched INTEGER NOT NULL,
    matched_rule_ids TEXT NOT NULL,
    matched_rule_names TEXT NOT NULL,
    final_action TEXT,
    action_details TEXT,
    processed_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_log_processed ON audit_log(processed_at);
CREATE INDEX IF NOT EXISTS idx_audit_log_action ON audit_log(final_action);
CREATE INDEX IF NOT EXISTS idx_audit_log_application ON audit_log(application_id);
`

// AllSchemas returns all schema statements in order for driver.
func AllSchemas(driver string) []string {
	idType := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if driver == "postgres" {
		idType = "BIGSERIAL PRIMARY KEY"
	}

	schemas := []string{schemaFraudRules, schemaAuditLog}
	for i, s := range schemas {
		schemas[i] = strings.ReplaceAll(s, "{{ID}}", idType)
	}
	return schemas
}
