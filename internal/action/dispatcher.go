// Package action executes the action of a matched rule and forwards the
// screened application to its outcome topic.
package action

import (
	"context"
	"log/slog"

	"github.com/opensource-finance/fraudgate/internal/domain"
	"github.com/opensource-finance/fraudgate/internal/rules"
	"github.com/shopspring/decimal"
)

// Dispatcher turns a matched rule into an ActionOutcome. It never fails:
// a rule whose config cannot be applied is downgraded to a flag with a
// warning, except BLOCK, which keeps blocking with its default reason.
type Dispatcher struct{}

// NewDispatcher creates a dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

var _ rules.Dispatcher = (*Dispatcher)(nil)

// Dispatch runs the handler for the rule's action.
func (d *Dispatcher) Dispatch(ctx context.Context, app *domain.Application, rule *rules.CompiledRule) *domain.ActionOutcome {
	if rule.ActionErr != nil {
		if rule.Rule.ActionType == domain.ActionBlock {
			return d.block(rule, domain.BlockConfig{})
		}
		return d.fallback(rule, "action config unreadable: "+rule.ActionErr.Error())
	}

	switch cfg := rule.Action.(type) {
	case domain.FlagConfig:
		return d.flag(rule, cfg)
	case domain.BlockConfig:
		return d.block(rule, cfg)
	case domain.RouteConfig:
		return d.route(rule, cfg)
	case domain.EnrichConfig:
		return d.enrich(ctx, app, rule, cfg)
	default:
		return d.fallback(rule, "action config missing")
	}
}

func (d *Dispatcher) flag(rule *rules.CompiledRule, cfg domain.FlagConfig) *domain.ActionOutcome {
	out := &domain.ActionOutcome{
		Action:   domain.ActionFlag,
		RuleID:   rule.Rule.ID,
		RuleName: rule.Rule.Name,
		Reason:   cfg.Reason,
		Severity: cfg.Severity,
	}
	if out.Reason == "" {
		out.Reason = "Flagged by " + rule.Rule.Name
	}
	if !out.Severity.Valid() {
		out.Severity = domain.SeverityMedium
	}
	return out
}

func (d *Dispatcher) block(rule *rules.CompiledRule, cfg domain.BlockConfig) *domain.ActionOutcome {
	out := &domain.ActionOutcome{
		Action:   domain.ActionBlock,
		RuleID:   rule.Rule.ID,
		RuleName: rule.Rule.Name,
		Reason:   cfg.Reason,
	}
	if out.Reason == "" {
		out.Reason = "Blocked by " + rule.Rule.Name
	}
	return out
}

func (d *Dispatcher) route(rule *rules.CompiledRule, cfg domain.RouteConfig) *domain.ActionOutcome {
	if cfg.Topic == "" {
		return d.fallback(rule, "route topic missing")
	}
	return &domain.ActionOutcome{
		Action:   domain.ActionRoute,
		RuleID:   rule.Rule.ID,
		RuleName: rule.Rule.Name,
		Topic:    cfg.Topic,
	}
}

// enrich attaches static attributes and evaluated expressions. The rule
// identity is always present so downstream consumers can trace the data.
func (d *Dispatcher) enrich(ctx context.Context, app *domain.Application, rule *rules.CompiledRule, cfg domain.EnrichConfig) *domain.ActionOutcome {
	data := map[string]domain.Value{
		"ruleId":   domain.NumberValue(decimal.NewFromInt(rule.Rule.ID)),
		"ruleName": domain.StringValue(rule.Rule.Name),
	}
	for k, v := range cfg.Attributes {
		data[k] = v
	}

	out := &domain.ActionOutcome{
		Action:     domain.ActionEnrich,
		RuleID:     rule.Rule.ID,
		RuleName:   rule.Rule.Name,
		Enrichment: data,
	}

	computed, err := rule.Enrichment(ctx, app.Data)
	for k, v := range computed {
		data[k] = v
	}
	if err != nil {
		slog.Warn("enrichment partially failed",
			"rule_id", rule.Rule.ID,
			"application_id", app.ID,
			"error", err,
		)
		out.Warning = err.Error()
	}
	return out
}

// fallback fails closed to a medium flag carrying the reason in Warning.
func (d *Dispatcher) fallback(rule *rules.CompiledRule, warning string) *domain.ActionOutcome {
	slog.Warn("action fell back to flag",
		"rule_id", rule.Rule.ID,
		"action", rule.Rule.ActionType,
		"warning", warning,
	)
	return &domain.ActionOutcome{
		Action:   domain.ActionFlag,
		RuleID:   rule.Rule.ID,
		RuleName: rule.Rule.Name,
		Reason:   "Flagged by " + rule.Rule.Name,
		Severity: domain.SeverityMedium,
		Warning:  warning,
	}
}
