package domain

import "time"

// AuditLog is the immutable record of one decision.
type AuditLog struct {
	ID               int64       `json:"id"`
	ApplicationID    string      `json:"applicationId"`
	ApplicationType  string      `json:"applicationType"`
	SourceSystem     string      `json:"sourceSystem"`
	RulesEvaluated   int         `json:"rulesEvaluated"`
	RulesMatched     int         `json:"rulesMatched"`
	MatchedRuleIDs   []int64     `json:"matchedRuleIds"`
	MatchedRuleNames []string    `json:"matchedRuleNames"`
	FinalAction      *RuleAction `json:"finalAction"`
	ActionDetails    string      `json:"actionDetails,omitempty"`
	ProcessedAt      time.Time   `json:"processedAt"`
}

// Stats aggregates audit logs.
type Stats struct {
	Total       int64   `json:"total"`
	Last24Hours int64   `json:"last24Hours"`
	Flagged     int64   `json:"flagged"`
	Clean       int64   `json:"clean"`
	Blocked     int64   `json:"blocked"`
	FlagRate    float64 `json:"flagRate"`
	Window      string  `json:"window,omitempty"`
}

// AuditPage is one page of audit logs, newest first.
type AuditPage struct {
	Content       []*AuditLog `json:"content"`
	Page          int         `json:"page"`
	Size          int         `json:"size"`
	TotalElements int64       `json:"totalElements"`
	TotalPages    int         `json:"totalPages"`
}
