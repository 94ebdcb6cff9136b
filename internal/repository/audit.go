package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/fraudgate/internal/domain"
)

// SaveAuditLog appends an audit log and assigns its ID.
func (r *SQLRepository) SaveAuditLog(ctx context.Context, log *domain.AuditLog) error {
	if log == nil {
		return fmt.Errorf("%w: audit log is required", domain.ErrInvalidInput)
	}

	ids := log.MatchedRuleIDs
	if ids == nil {
		ids = []int64{}
	}
	names := log.MatchedRuleNames
	if names == nil {
		names = []string{}
	}

	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to marshal matched rule ids: %w", err)
	}
	namesJSON, err := json.Marshal(names)
	if err != nil {
		return fmt.Errorf("failed to marshal matched rule names: %w", err)
	}

	if log.ProcessedAt.IsZero() {
		log.ProcessedAt = time.Now()
	}
	log.ProcessedAt = log.ProcessedAt.UTC()

	var finalAction sql.NullString
	if log.FinalAction != nil {
		finalAction = sql.NullString{String: string(*log.FinalAction), Valid: true}
	}

	query := `
		INSERT INTO audit_log (
			application_id, application_type, source_system,
			rules_evaluated, rules_matched, matched_rule_ids, matched_rule_names,
			final_action, action_details, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`

	return r.db.QueryRowContext(ctx, r.rebind(query),
		log.ApplicationID, log.ApplicationType, log.SourceSystem,
		log.RulesEvaluated, log.RulesMatched, string(idsJSON), string(namesJSON),
		finalAction, log.ActionDetails, log.ProcessedAt,
	).Scan(&log.ID)
}

// ListAuditLogs returns one page of logs, newest first, and the total count.
func (r *SQLRepository) ListAuditLogs(ctx context.Context, offset, limit int) ([]*domain.AuditLog, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log`).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, application_id, application_type, source_system,
			rules_evaluated, rules_matched, matched_rule_ids, matched_rule_names,
			final_action, action_details, processed_at
		FROM audit_log
		ORDER BY processed_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	logs := make([]*domain.AuditLog, 0, limit)
	for rows.Next() {
		var log domain.AuditLog
		var idsJSON, namesJSON string
		var finalAction, details sql.NullString

		if err := rows.Scan(
			&log.ID, &log.ApplicationID, &log.ApplicationType, &log.SourceSystem,
			&log.RulesEvaluated, &log.RulesMatched, &idsJSON, &namesJSON,
			&finalAction, &details, &log.ProcessedAt,
		); err != nil {
			return nil, 0, err
		}

		if err := json.Unmarshal([]byte(idsJSON), &log.MatchedRuleIDs); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal matched rule ids: %w", err)
		}
		if err := json.Unmarshal([]byte(namesJSON), &log.MatchedRuleNames); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal matched rule names: %w", err)
		}
		if finalAction.Valid {
			action := domain.RuleAction(finalAction.String)
			log.FinalAction = &action
		}
		log.ActionDetails = details.String
		log.ProcessedAt = log.ProcessedAt.UTC()

		logs = append(logs, &log)
	}

	return logs, total, rows.Err()
}

// CountAudits aggregates outcome counts in a single pass.
func (r *SQLRepository) CountAudits(ctx context.Context, since, dayStart time.Time) (domain.Stats, error) {
	since = since.UTC()
	dayStart = dayStart.UTC()

	query := `
		SELECT
			COALESCE(SUM(CASE WHEN processed_at >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN processed_at >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN processed_at >= ? AND final_action = 'FLAG' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN processed_at >= ? AND final_action = 'BLOCK' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN processed_at >= ? AND final_action IS NULL THEN 1 ELSE 0 END), 0)
		FROM audit_log
	`

	var stats domain.Stats
	err := r.db.QueryRowContext(ctx, r.rebind(query),
		since, dayStart, since, since, since,
	).Scan(&stats.Total, &stats.Last24Hours, &stats.Flagged, &stats.Blocked, &stats.Clean)
	if err != nil {
		return domain.Stats{}, err
	}

	if stats.Total > 0 {
		stats.FlagRate = float64(stats.Flagged+stats.Blocked) / float64(stats.Total) * 100
	}
	return stats, nil
}
