package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Severity grades a FLAG action.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// ActionConfig is the parsed actionConfig of a rule. The set of
// implementations is closed: FlagConfig, BlockConfig, RouteConfig and
// EnrichConfig.
type ActionConfig interface {
	Action() RuleAction
	actionConfig()
}

// FlagConfig marks the application for review.
type FlagConfig struct {
	Reason   string   `json:"reason,omitempty" validate:"max=1000"`
	Severity Severity `json:"severity,omitempty" validate:"omitempty,severity"`
}

// BlockConfig rejects the application.
type BlockConfig struct {
	Reason string `json:"reason,omitempty" validate:"max=1000"`
}

// RouteConfig hands the application off to a message topic.
type RouteConfig struct {
	Topic string `json:"topic" validate:"required,topic"`
}

// EnrichConfig attaches supplementary attributes to the application.
// Attributes are copied as-is; Expressions are CEL programs over `app`
// whose results are attached under the same key.
type EnrichConfig struct {
	Attributes  map[string]Value  `json:"attributes,omitempty"`
	Expressions map[string]string `json:"expressions,omitempty"`
}

func (FlagConfig) Action() RuleAction {
	return ActionFlag
}

func (BlockConfig) Action() RuleAction {
	return ActionBlock
}

func (RouteConfig) Action() RuleAction {
	return ActionRoute
}

func (EnrichConfig) Action() RuleAction {
	return ActionEnrich
}

func (FlagConfig) actionConfig() {}

func (BlockConfig) actionConfig() {}

func (RouteConfig) actionConfig() {}

func (EnrichConfig) actionConfig() {}

// ParseActionConfig decodes the serialized config for an action. An empty
// string yields the zero config for the action.
func ParseActionConfig(action RuleAction, raw string) (ActionConfig, error) {
	raw = strings.TrimSpace(raw)
	empty := raw == "" || raw == "null" || raw == "{}"

	switch action {
	case ActionFlag:
		var cfg FlagConfig
		if !empty {
			if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
				return nil, fmt.Errorf("%w: flag config: %v", ErrInvalidInput, err)
			}
		}
		cfg.Severity = Severity(strings.ToUpper(string(cfg.Severity)))
		return cfg, nil

	case ActionBlock:
		var cfg BlockConfig
		if !empty {
			if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
				return nil, fmt.Errorf("%w: block config: %v", ErrInvalidInput, err)
			}
		}
		return cfg, nil

	case ActionRoute:
		var cfg RouteConfig
		if !empty {
			if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
				return nil, fmt.Errorf("%w: route config: %v", ErrInvalidInput, err)
			}
		}
		cfg.Topic = strings.TrimSpace(cfg.Topic)
		return cfg, nil

	case ActionEnrich:
		return parseEnrichConfig(raw, empty)

	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidInput, action)
	}
}

// parseEnrichConfig accepts any JSON object. The "expressions" key holds
// CEL programs; every other key is a static attribute.
func parseEnrichConfig(raw string, empty bool) (ActionConfig, error) {
	cfg := EnrichConfig{}
	if empty {
		return cfg, nil
	}

	doc, err := ParseValue([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: enrich config: %v", ErrInvalidInput, err)
	}
	if doc.Kind() != KindMap {
		return nil, fmt.Errorf("%w: enrich config must be a JSON object", ErrInvalidInput)
	}

	for _, key := range doc.Keys() {
		child, _ := doc.Field(key)
		if key != "expressions" {
			if cfg.Attributes == nil {
				cfg.Attributes = make(map[string]Value)
			}
			cfg.Attributes[key] = child
			continue
		}
		if child.Kind() != KindMap {
			return nil, fmt.Errorf("%w: enrich expressions must be an object", ErrInvalidInput)
		}
		cfg.Expressions = make(map[string]string)
		for _, name := range child.Keys() {
			expr, _ := child.Field(name)
			if expr.Kind() != KindString {
				return nil, fmt.Errorf("%w: enrich expression %q must be a string", ErrInvalidInput, name)
			}
			cfg.Expressions[name] = expr.Str()
		}
	}
	return cfg, nil
}
