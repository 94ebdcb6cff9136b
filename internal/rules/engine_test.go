package rules

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/opensource-finance/fraudgate/internal/domain"
)

type staticRules struct {
	snap *Snapshot
}

func (s staticRules) Snapshot() *Snapshot { return s.snap }

type recordingDispatcher struct {
	calls atomic.Int32
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, app *domain.Application, rule *CompiledRule) *domain.ActionOutcome {
	d.calls.Add(1)
	return &domain.ActionOutcome{
		Action:   rule.Rule.ActionType,
		RuleID:   rule.Rule.ID,
		RuleName: rule.Rule.Name,
	}
}

func newTestCompiler(t *testing.T) *Compiler {
	t.Helper()
	c, err := NewCompiler()
	if err != nil {
		t.Fatalf("failed to create compiler: %v", err)
	}
	return c
}

func snapshotOf(t *testing.T, rules ...*domain.FraudRule) *Snapshot {
	t.Helper()
	c := newTestCompiler(t)
	sortRules(rules)
	snap := &Snapshot{Version: 1}
	for _, r := range rules {
		snap.Rules = append(snap.Rules, c.Compile(r))
	}
	return snap
}

func newApp(t *testing.T, raw string) *domain.Application {
	t.Helper()
	app, err := domain.ParseApplication([]byte(raw))
	if err != nil {
		t.Fatalf("failed to parse application: %v", err)
	}
	return app
}

func TestDecideNoRules(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	engine := NewEngine(staticRules{snap: &Snapshot{}}, dispatcher, nil)

	decision := engine.Decide(context.Background(), newApp(t, `{"id": "app-1"}`))

	if decision.Matched() {
		t.Error("expected no match")
	}
	if decision.RulesEvaluated != 0 || decision.RulesMatched != 0 {
		t.Errorf("expected 0/0, got %d/%d", decision.RulesEvaluated, decision.RulesMatched)
	}
	if decision.MatchedRuleIDs == nil || len(decision.MatchedRuleIDs) != 0 {
		t.Errorf("expected empty non-nil matched ids, got %v", decision.MatchedRuleIDs)
	}
	if dispatcher.calls.Load() != 0 {
		t.Error("dispatcher should not run without a match")
	}
}

func TestDecideHighAmountBlock(t *testing.T) {
	snap := snapshotOf(t, &domain.FraudRule{
		ID: 1, Name: "High amount", Enabled: true, Priority: 10,
		FieldPath: "amount", Operator: domain.OpGreaterThan, Value: "10000",
		ActionType: domain.ActionBlock,
	})
	engine := NewEngine(staticRules{snap: snap}, &recordingDispatcher{}, nil)

	t.Run("Above", func(t *testing.T) {
		d := engine.Decide(context.Background(), newApp(t, `{"id": "app-1", "amount": 15000}`))
		if d.Action() != domain.ActionBlock {
			t.Fatalf("expected BLOCK, got %q", d.Action())
		}
		if !d.Blocked {
			t.Error("expected Blocked to be set")
		}
		if len(d.MatchedRuleNames) != 1 || d.MatchedRuleNames[0] != "High amount" {
			t.Errorf("unexpected matched names: %v", d.MatchedRuleNames)
		}
		if d.ApplicationID != "app-1" {
			t.Errorf("expected application id app-1, got %s", d.ApplicationID)
		}
	})

	t.Run("Below", func(t *testing.T) {
		d := engine.Decide(context.Background(), newApp(t, `{"id": "app-2", "amount": 500}`))
		if d.Matched() {
			t.Errorf("expected clean decision, got %q", d.Action())
		}
		if d.RulesEvaluated != 1 {
			t.Errorf("expected 1 rule evaluated, got %d", d.RulesEvaluated)
		}
	})
}

func TestDecideFirstMatchByPriority(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	snap := snapshotOf(t,
		&domain.FraudRule{
			ID: 1, Name: "Review large", Enabled: true, Priority: 5,
			FieldPath: "amount", Operator: domain.OpGreaterThan, Value: "1000",
			ActionType: domain.ActionRoute, ActionConfig: `{"topic":"manual-review"}`,
		},
		&domain.FraudRule{
			ID: 2, Name: "Sanctioned country", Enabled: true, Priority: 1,
			FieldPath: "country", Operator: domain.OpInList, Value: "KP,IR",
			ActionType: domain.ActionBlock,
		},
		&domain.FraudRule{
			ID: 3, Name: "Never reached", Enabled: true, Priority: 50,
			FieldPath: "amount", Operator: domain.OpIsNotNull,
			ActionType: domain.ActionFlag,
		},
	)
	engine := NewEngine(staticRules{snap: snap}, dispatcher, nil)

	d := engine.Decide(context.Background(), newApp(t, `{"amount": 5000, "country": "ir"}`))

	if d.Action() != domain.ActionBlock {
		t.Fatalf("expected BLOCK from priority 1 rule, got %q", d.Action())
	}
	if d.RulesEvaluated != 1 {
		t.Errorf("expected evaluation to stop at first match, got %d", d.RulesEvaluated)
	}
	if d.RulesMatched != 1 {
		t.Errorf("expected 1 matched, got %d", d.RulesMatched)
	}
	if d.MatchedRuleIDs[0] != 2 {
		t.Errorf("expected rule 2, got %v", d.MatchedRuleIDs)
	}
	if d.EnabledRules != 3 {
		t.Errorf("expected 3 enabled rules, got %d", d.EnabledRules)
	}
	if dispatcher.calls.Load() != 1 {
		t.Errorf("expected exactly one dispatch, got %d", dispatcher.calls.Load())
	}

	d = engine.Decide(context.Background(), newApp(t, `{"amount": 5000, "country": "US"}`))
	if d.Action() != domain.ActionRoute {
		t.Fatalf("expected ROUTE, got %q", d.Action())
	}
	if d.RulesEvaluated != 2 {
		t.Errorf("expected 2 rules evaluated, got %d", d.RulesEvaluated)
	}
}

func TestDecideTieBreaksOnID(t *testing.T) {
	snap := snapshotOf(t,
		&domain.FraudRule{ID: 9, Name: "later", Enabled: true, Priority: 1, FieldPath: "x", Operator: domain.OpIsNotNull, ActionType: domain.ActionBlock},
		&domain.FraudRule{ID: 4, Name: "earlier", Enabled: true, Priority: 1, FieldPath: "x", Operator: domain.OpIsNotNull, ActionType: domain.ActionFlag},
	)
	engine := NewEngine(staticRules{snap: snap}, &recordingDispatcher{}, nil)

	d := engine.Decide(context.Background(), newApp(t, `{"x": 1}`))
	if d.MatchedRuleIDs[0] != 4 {
		t.Errorf("expected lower id to win the tie, got %v", d.MatchedRuleIDs)
	}
}

func TestDecideFaultIsNonMatch(t *testing.T) {
	snap := snapshotOf(t,
		&domain.FraudRule{
			ID: 1, Name: "Broken compare", Enabled: true, Priority: 1,
			FieldPath: "name", Operator: domain.OpGreaterThan, Value: "100",
			ActionType: domain.ActionBlock,
		},
		&domain.FraudRule{
			ID: 2, Name: "Catch all", Enabled: true, Priority: 2,
			FieldPath: "name", Operator: domain.OpIsNotNull,
			ActionType: domain.ActionFlag,
		},
	)
	engine := NewEngine(staticRules{snap: snap}, &recordingDispatcher{}, nil)

	d := engine.Decide(context.Background(), newApp(t, `{"name": "Jane"}`))
	if d.Action() != domain.ActionFlag {
		t.Fatalf("expected faulting rule to be skipped, got %q", d.Action())
	}
	if d.RulesEvaluated != 2 {
		t.Errorf("expected 2 evaluated, got %d", d.RulesEvaluated)
	}
}

func TestDecideRegexCaseSensitive(t *testing.T) {
	snap := snapshotOf(t, &domain.FraudRule{
		ID: 1, Name: "Upper code", Enabled: true, Priority: 1,
		FieldPath: "code", Operator: domain.OpRegex, Value: "^[A-Z]{3}$",
		ActionType: domain.ActionFlag,
	})
	engine := NewEngine(staticRules{snap: snap}, &recordingDispatcher{}, nil)

	if d := engine.Decide(context.Background(), newApp(t, `{"code": "abc"}`)); d.Matched() {
		t.Error("lowercase input must not match an uppercase pattern")
	}
	if d := engine.Decide(context.Background(), newApp(t, `{"code": "ABC"}`)); !d.Matched() {
		t.Error("expected uppercase input to match")
	}
}

func TestDecideConcurrent(t *testing.T) {
	snap := snapshotOf(t, &domain.FraudRule{
		ID: 1, Name: "High amount", Enabled: true, Priority: 1,
		FieldPath: "amount", Operator: domain.OpGreaterThan, Value: "100",
		ActionType: domain.ActionFlag,
	})
	dispatcher := &recordingDispatcher{}
	engine := NewEngine(staticRules{snap: snap}, dispatcher, nil)

	app := newApp(t, `{"amount": 500}`)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			engine.Decide(context.Background(), app)
		}()
	}
	wg.Wait()

	if dispatcher.calls.Load() != 50 {
		t.Errorf("expected 50 dispatches, got %d", dispatcher.calls.Load())
	}
}
