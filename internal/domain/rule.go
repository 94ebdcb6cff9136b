package domain

import "time"

// FraudRule is a named, prioritized condition → action pair.
type FraudRule struct {
	ID          int64  `json:"id"`
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description" validate:"max=2000"`
	Enabled     bool   `json:"enabled"`

	// Lower values are evaluated first; ties break on ID.
	Priority int `json:"priority"`

	// Condition: dot-addressed lookup into the application record.
	FieldPath string       `json:"fieldPath" validate:"required,max=512,fieldpath"`
	Operator  RuleOperator `json:"operator" validate:"required,operator"`
	Value     string       `json:"value" validate:"max=4096"`

	// Outcome
	ActionType   RuleAction `json:"actionType" validate:"required,action"`
	ActionConfig string     `json:"actionConfig"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RuleOperator is the closed set of condition operators.
type RuleOperator string

const (
	OpEquals              RuleOperator = "EQUALS"
	OpNotEquals           RuleOperator = "NOT_EQUALS"
	OpContains            RuleOperator = "CONTAINS"
	OpNotContains         RuleOperator = "NOT_CONTAINS"
	OpGreaterThan         RuleOperator = "GREATER_THAN"
	OpLessThan            RuleOperator = "LESS_THAN"
	OpGreaterThanOrEquals RuleOperator = "GREATER_THAN_OR_EQUALS"
	OpLessThanOrEquals    RuleOperator = "LESS_THAN_OR_EQUALS"
	OpRegex               RuleOperator = "REGEX"
	OpInList              RuleOperator = "IN_LIST"
	OpNotInList           RuleOperator = "NOT_IN_LIST"
	OpIsNull              RuleOperator = "IS_NULL"
	OpIsNotNull           RuleOperator = "IS_NOT_NULL"
)

var operatorLabels = []Option{
	{Value: string(OpEquals), Label: "Equals"},
	{Value: string(OpNotEquals), Label: "Not Equals"},
	{Value: string(OpContains), Label: "Contains"},
	{Value: string(OpNotContains), Label: "Does Not Contain"},
	{Value: string(OpGreaterThan), Label: "Greater Than"},
	{Value: string(OpLessThan), Label: "Less Than"},
	{Value: string(OpGreaterThanOrEquals), Label: "Greater Than or Equals"},
	{Value: string(OpLessThanOrEquals), Label: "Less Than or Equals"},
	{Value: string(OpRegex), Label: "Matches Regex"},
	{Value: string(OpInList), Label: "In List"},
	{Value: string(OpNotInList), Label: "Not In List"},
	{Value: string(OpIsNull), Label: "Is Null"},
	{Value: string(OpIsNotNull), Label: "Is Not Null"},
}

// Valid reports whether o is one of the known operators.
func (o RuleOperator) Valid() bool {
	for _, opt := range operatorLabels {
		if opt.Value == string(o) {
			return true
		}
	}
	return false
}

// IgnoresValue reports whether the operator only tests field presence.
func (o RuleOperator) IgnoresValue() bool {
	return o == OpIsNull || o == OpIsNotNull
}

// Numeric reports whether the operator compares numbers.
func (o RuleOperator) Numeric() bool {
	switch o {
	case OpGreaterThan, OpLessThan, OpGreaterThanOrEquals, OpLessThanOrEquals:
		return true
	}
	return false
}

// RuleAction is the closed set of actions a matching rule can take.
type RuleAction string

const (
	ActionFlag   RuleAction = "FLAG"
	ActionBlock  RuleAction = "BLOCK"
	ActionRoute  RuleAction = "ROUTE"
	ActionEnrich RuleAction = "ENRICH"
)

var actionLabels = []Option{
	{Value: string(ActionFlag), Label: "Flag for Review"},
	{Value: string(ActionBlock), Label: "Block Application"},
	{Value: string(ActionRoute), Label: "Route to Topic"},
	{Value: string(ActionEnrich), Label: "Enrich with Metadata"},
}

// Valid reports whether a is one of the known actions.
func (a RuleAction) Valid() bool {
	for _, opt := range actionLabels {
		if opt.Value == string(a) {
			return true
		}
	}
	return false
}

// Option is a value/label pair for enumeration listings.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// OperatorOptions lists every operator with its display label.
func OperatorOptions() []Option {
	out := make([]Option, len(operatorLabels))
	copy(out, operatorLabels)
	return out
}

// ActionOptions lists every action with its display label.
func ActionOptions() []Option {
	out := make([]Option, len(actionLabels))
	copy(out, actionLabels)
	return out
}
