package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/opensource-finance/fraudgate/internal/domain"
)

const ruleColumns = `id, name, description, enabled, priority, field_path, rule_operator,
	rule_value, action_type, action_config, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.FraudRule, error) {
	var rule domain.FraudRule
	var description, value, actionConfig sql.NullString
	var enabled int
	var operator, action string

	if err := row.Scan(
		&rule.ID, &rule.Name, &description, &enabled, &rule.Priority,
		&rule.FieldPath, &operator, &value, &action, &actionConfig,
		&rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rule.Description = description.String
	rule.Enabled = enabled == 1
	rule.Operator = domain.RuleOperator(operator)
	rule.Value = value.String
	rule.ActionType = domain.RuleAction(action)
	rule.ActionConfig = actionConfig.String
	rule.CreatedAt = rule.CreatedAt.UTC()
	rule.UpdatedAt = rule.UpdatedAt.UTC()
	return &rule, nil
}

// CreateRule inserts a rule and assigns its ID and timestamps.
func (r *SQLRepository) CreateRule(ctx context.Context, rule *domain.FraudRule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule is required", domain.ErrInvalidInput)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO fraud_rules (
			name, description, enabled, priority, field_path, rule_operator,
			rule_value, action_type, action_config, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, r.rebind(query),
		rule.Name, rule.Description, boolToInt(rule.Enabled), rule.Priority,
		rule.FieldPath, string(rule.Operator), rule.Value,
		string(rule.ActionType), rule.ActionConfig, now, now,
	).Scan(&id)
	if err != nil {
		return err
	}

	rule.ID = id
	rule.CreatedAt = now
	rule.UpdatedAt = now
	return nil
}

// UpdateRule overwrites every editable column of an existing rule.
func (r *SQLRepository) UpdateRule(ctx context.Context, rule *domain.FraudRule) error {
	if rule == nil || rule.ID <= 0 {
		return fmt.Errorf("%w: rule id is required", domain.ErrInvalidInput)
	}

	now := time.Now().UTC()

	query := `
		UPDATE fraud_rules SET
			name = ?, description = ?, enabled = ?, priority = ?,
			field_path = ?, rule_operator = ?, rule_value = ?,
			action_type = ?, action_config = ?, updated_at = ?
		WHERE id = ?
		RETURNING created_at
	`

	var createdAt time.Time
	err := r.db.QueryRowContext(ctx, r.rebind(query),
		rule.Name, rule.Description, boolToInt(rule.Enabled), rule.Priority,
		rule.FieldPath, string(rule.Operator), rule.Value,
		string(rule.ActionType), rule.ActionConfig, now, rule.ID,
	).Scan(&createdAt)
	if err != nil {
		return notFound(err)
	}

	rule.CreatedAt = createdAt.UTC()
	rule.UpdatedAt = now
	return nil
}

// ToggleRule flips enabled in one statement and returns the new row.
func (r *SQLRepository) ToggleRule(ctx context.Context, id int64) (*domain.FraudRule, error) {
	query := `
		UPDATE fraud_rules
		SET enabled = CASE WHEN enabled = 1 THEN 0 ELSE 1 END
		WHERE id = ?
		RETURNING ` + ruleColumns

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if err != nil {
		return nil, notFound(err)
	}
	return rule, nil
}

// GetRule retrieves a rule by ID.
func (r *SQLRepository) GetRule(ctx context.Context, id int64) (*domain.FraudRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM fraud_rules WHERE id = ?`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if err != nil {
		return nil, notFound(err)
	}
	return rule, nil
}

// ListRules returns every rule ordered by priority, then ID.
func (r *SQLRepository) ListRules(ctx context.Context) ([]*domain.FraudRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM fraud_rules ORDER BY priority, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.FraudRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// DeleteRule removes a rule permanently.
func (r *SQLRepository) DeleteRule(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM fraud_rules WHERE id = ?`), id)
	if err != nil {
		return err
	}
	return rowsAffected(result)
}
