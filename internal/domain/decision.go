package domain

import "time"

// Decision is the outcome of screening one application against the
// enabled rule snapshot.
type Decision struct {
	ApplicationID    string   `json:"applicationId"`
	MatchedRuleIDs   []int64  `json:"matchedRuleIds"`
	MatchedRuleNames []string `json:"matchedRuleNames"`

	// FinalAction is nil when no rule matched.
	FinalAction   *RuleAction    `json:"finalAction"`
	ActionDetails *ActionOutcome `json:"actionDetails,omitempty"`

	// RulesEvaluated counts rules actually tested, up to and including
	// the first match. EnabledRules is the size of the snapshot.
	RulesEvaluated int    `json:"rulesEvaluated"`
	RulesMatched   int    `json:"rulesMatched"`
	EnabledRules   int    `json:"enabledRules"`
	RuleSetVersion uint64 `json:"ruleSetVersion"`

	Blocked   bool      `json:"blocked"`
	DecidedAt time.Time `json:"decidedAt"`
}

// Matched reports whether any rule matched.
func (d *Decision) Matched() bool {
	return d.FinalAction != nil
}

// Action returns the final action, or "" when nothing matched.
func (d *Decision) Action() RuleAction {
	if d.FinalAction == nil {
		return ""
	}
	return *d.FinalAction
}

// ActionOutcome records what the dispatched action did. It is stored
// serialized as the audit log's actionDetails.
type ActionOutcome struct {
	Action   RuleAction `json:"action"`
	RuleID   int64      `json:"ruleId"`
	RuleName string     `json:"ruleName"`

	Reason   string   `json:"reason,omitempty"`
	Severity Severity `json:"severity,omitempty"`
	Topic    string   `json:"topic,omitempty"`

	Enrichment map[string]Value `json:"enrichment,omitempty"`

	// Warning is set when the rule's config could not be applied as
	// written and the action fell back to a flag.
	Warning string `json:"warning,omitempty"`
}
