package rules

import (
	"context"
	"log/slog"
	"time"

	"github.com/opensource-finance/fraudgate/internal/domain"
	"github.com/opensource-finance/fraudgate/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Dispatcher executes the action of the matched rule.
type Dispatcher interface {
	Dispatch(ctx context.Context, app *domain.Application, rule *CompiledRule) *domain.ActionOutcome
}

// SnapshotSource supplies the enabled rules for one decision.
type SnapshotSource interface {
	Snapshot() *Snapshot
}

// Engine is the first-match decision engine.
type Engine struct {
	rules      SnapshotSource
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

// NewEngine creates a decision engine.
func NewEngine(rules SnapshotSource, dispatcher Dispatcher, m *metrics.Metrics) *Engine {
	return &Engine{
		rules:      rules,
		dispatcher: dispatcher,
		metrics:    m,
		tracer:     otel.Tracer("fraudgate/rules"),
	}
}

// Decide evaluates the application against one snapshot of enabled rules
// in priority order and dispatches the action of the first match.
func (e *Engine) Decide(ctx context.Context, app *domain.Application) *domain.Decision {
	ctx, span := e.tracer.Start(ctx, "rules.Decide")
	defer span.End()

	start := time.Now()
	snap := e.rules.Snapshot()

	decision := &domain.Decision{
		ApplicationID:    app.ID,
		MatchedRuleIDs:   []int64{},
		MatchedRuleNames: []string{},
		EnabledRules:     snap.Len(),
		RuleSetVersion:   snap.Version,
	}

	for _, rule := range snap.Rules {
		decision.RulesEvaluated++

		matched, err := rule.Condition.Match(app.Data)
		if err != nil {
			slog.Debug("rule evaluation fault treated as non-match",
				"rule_id", rule.Rule.ID,
				"application_id", app.ID,
				"error", err,
			)
			e.metrics.EvaluationFault(rule.Rule.ID)
			continue
		}
		if !matched {
			continue
		}

		decision.RulesMatched = 1
		decision.MatchedRuleIDs = append(decision.MatchedRuleIDs, rule.Rule.ID)
		decision.MatchedRuleNames = append(decision.MatchedRuleNames, rule.Rule.Name)

		outcome := e.dispatcher.Dispatch(ctx, app, rule)
		action := outcome.Action
		decision.FinalAction = &action
		decision.ActionDetails = outcome
		decision.Blocked = action == domain.ActionBlock
		break
	}

	decision.DecidedAt = time.Now().UTC()
	elapsed := time.Since(start)
	e.metrics.RecordDecision(string(decision.Action()), decision.RulesEvaluated, elapsed)

	span.SetAttributes(
		attribute.String("application.id", app.ID),
		attribute.Int("rules.enabled", decision.EnabledRules),
		attribute.Int("rules.evaluated", decision.RulesEvaluated),
		attribute.Int("rules.matched", decision.RulesMatched),
		attribute.String("decision.action", string(decision.Action())),
	)

	return decision
}
