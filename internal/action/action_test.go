package action

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/fraudgate/internal/bus"
	"github.com/opensource-finance/fraudgate/internal/domain"
	"github.com/opensource-finance/fraudgate/internal/rules"
)

func compile(t *testing.T, action domain.RuleAction, config string) *rules.CompiledRule {
	t.Helper()
	c, err := rules.NewCompiler()
	if err != nil {
		t.Fatalf("failed to create compiler: %v", err)
	}
	return c.Compile(&domain.FraudRule{
		ID: 42, Name: "Test rule", Enabled: true, Priority: 1,
		FieldPath: "amount", Operator: domain.OpIsNotNull,
		ActionType: action, ActionConfig: config,
	})
}

func testApp(t *testing.T, raw string) *domain.Application {
	t.Helper()
	app, err := domain.ParseApplication([]byte(raw))
	if err != nil {
		t.Fatalf("failed to parse application: %v", err)
	}
	return app
}

func TestDispatch(t *testing.T) {
	d := NewDispatcher()
	ctx := context.Background()
	app := testApp(t, `{"id": "app-1", "amount": 2500}`)

	t.Run("FlagDefaults", func(t *testing.T) {
		out := d.Dispatch(ctx, app, compile(t, domain.ActionFlag, ""))
		if out.Action != domain.ActionFlag {
			t.Fatalf("expected FLAG, got %s", out.Action)
		}
		if out.Reason != "Flagged by Test rule" {
			t.Errorf("unexpected reason: %s", out.Reason)
		}
		if out.Severity != domain.SeverityMedium {
			t.Errorf("expected MEDIUM, got %s", out.Severity)
		}
	})

	t.Run("FlagConfigured", func(t *testing.T) {
		out := d.Dispatch(ctx, app, compile(t, domain.ActionFlag, `{"reason":"Velocity","severity":"high"}`))
		if out.Reason != "Velocity" || out.Severity != domain.SeverityHigh {
			t.Errorf("unexpected outcome: %+v", out)
		}
	})

	t.Run("Block", func(t *testing.T) {
		out := d.Dispatch(ctx, app, compile(t, domain.ActionBlock, `{"reason":"Sanctioned"}`))
		if out.Action != domain.ActionBlock || out.Reason != "Sanctioned" {
			t.Errorf("unexpected outcome: %+v", out)
		}
	})

	t.Run("BlockUnreadableConfigStillBlocks", func(t *testing.T) {
		out := d.Dispatch(ctx, app, compile(t, domain.ActionBlock, `{broken`))
		if out.Action != domain.ActionBlock {
			t.Fatalf("expected BLOCK, got %s", out.Action)
		}
		if out.Reason != "Blocked by Test rule" {
			t.Errorf("unexpected reason: %s", out.Reason)
		}
	})

	t.Run("Route", func(t *testing.T) {
		out := d.Dispatch(ctx, app, compile(t, domain.ActionRoute, `{"topic":"manual-review"}`))
		if out.Action != domain.ActionRoute || out.Topic != "manual-review" {
			t.Errorf("unexpected outcome: %+v", out)
		}
	})

	t.Run("RouteWithoutTopicFallsBack", func(t *testing.T) {
		out := d.Dispatch(ctx, app, compile(t, domain.ActionRoute, ""))
		if out.Action != domain.ActionFlag {
			t.Fatalf("expected fallback FLAG, got %s", out.Action)
		}
		if out.Warning == "" {
			t.Error("expected a warning on fallback")
		}
	})

	t.Run("UnreadableConfigFallsBack", func(t *testing.T) {
		out := d.Dispatch(ctx, app, compile(t, domain.ActionEnrich, `[1,2]`))
		if out.Action != domain.ActionFlag || out.Severity != domain.SeverityMedium {
			t.Errorf("unexpected outcome: %+v", out)
		}
		if !strings.Contains(out.Warning, "unreadable") {
			t.Errorf("unexpected warning: %s", out.Warning)
		}
	})

	t.Run("Enrich", func(t *testing.T) {
		out := d.Dispatch(ctx, app, compile(t, domain.ActionEnrich,
			`{"segment":"retail","expressions":{"large":"app.amount > 1000"}}`))
		if out.Action != domain.ActionEnrich {
			t.Fatalf("expected ENRICH, got %s", out.Action)
		}
		if out.Enrichment["ruleName"].Str() != "Test rule" {
			t.Errorf("expected ruleName in enrichment, got %v", out.Enrichment)
		}
		if out.Enrichment["ruleId"].Num().IntPart() != 42 {
			t.Errorf("expected ruleId 42, got %v", out.Enrichment["ruleId"])
		}
		if out.Enrichment["segment"].Str() != "retail" {
			t.Errorf("expected static attribute, got %v", out.Enrichment["segment"])
		}
		if !out.Enrichment["large"].Bool() {
			t.Errorf("expected computed attribute, got %v", out.Enrichment["large"])
		}
		if out.Warning != "" {
			t.Errorf("unexpected warning: %s", out.Warning)
		}
	})
}

func decisionFor(out *domain.ActionOutcome) *domain.Decision {
	d := &domain.Decision{ApplicationID: "app-1"}
	if out != nil {
		action := out.Action
		d.FinalAction = &action
		d.ActionDetails = out
		d.MatchedRuleIDs = []int64{out.RuleID}
		d.MatchedRuleNames = []string{out.RuleName}
		d.RulesMatched = 1
	}
	return d
}

func TestForwarderRoute(t *testing.T) {
	f := NewForwarder(nil, domain.RoutingConfig{Enabled: true}, nil)

	tests := []struct {
		name  string
		out   *domain.ActionOutcome
		topic string
		field string
	}{
		{"Clean", nil, domain.TopicClean, ""},
		{"Flag", &domain.ActionOutcome{Action: domain.ActionFlag, Reason: "r", Severity: domain.SeverityLow}, domain.TopicFlagged, "flagReason"},
		{"Block", &domain.ActionOutcome{Action: domain.ActionBlock, Reason: "r"}, domain.TopicBlocked, "blockReason"},
		{"Route", &domain.ActionOutcome{Action: domain.ActionRoute, Topic: "manual-review", RuleName: "x"}, "manual-review", "routedBy"},
		{"Enrich", &domain.ActionOutcome{Action: domain.ActionEnrich, Enrichment: map[string]domain.Value{}}, domain.TopicClean, "enrichment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topic, extra := f.Route(decisionFor(tt.out))
			if topic != tt.topic {
				t.Errorf("expected topic %s, got %s", tt.topic, topic)
			}
			if tt.field != "" {
				if _, ok := extra[tt.field]; !ok {
					t.Errorf("expected %s in forwarded fields, got %v", tt.field, extra)
				}
			}
		})
	}
}

func TestForwarderForward(t *testing.T) {
	ctx := context.Background()
	b := bus.NewChannelBus(10)
	defer b.Close()

	received := make(chan *domain.Message, 1)
	b.Subscribe(ctx, domain.TopicBlocked, func(ctx context.Context, msg *domain.Message) error {
		received <- msg
		return nil
	})

	f := NewForwarder(b, domain.RoutingConfig{Enabled: true}, nil)
	app := testApp(t, `{"id": "app-9", "amount": 99999}`)

	topic, err := f.Forward(ctx, app, decisionFor(&domain.ActionOutcome{
		Action: domain.ActionBlock, Reason: "Too large", RuleName: "High amount",
	}))
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	if topic != domain.TopicBlocked {
		t.Errorf("expected %s, got %s", domain.TopicBlocked, topic)
	}

	select {
	case msg := <-received:
		if msg.Key != "app-9" {
			t.Errorf("expected key app-9, got %s", msg.Key)
		}
		var body map[string]any
		if err := json.Unmarshal(msg.Payload, &body); err != nil {
			t.Fatalf("payload is not JSON: %v", err)
		}
		if body["blockReason"] != "Too large" {
			t.Errorf("expected blockReason, got %v", body["blockReason"])
		}
		if body["_applicationId"] != "app-9" {
			t.Errorf("expected _applicationId, got %v", body["_applicationId"])
		}
		if body["amount"] != float64(99999) {
			t.Errorf("expected original fields to be kept, got %v", body["amount"])
		}
		if _, ok := body["_processedAt"]; !ok {
			t.Error("expected _processedAt")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for forwarded message")
	}
}

func TestForwarderDisabled(t *testing.T) {
	b := bus.NewChannelBus(10)
	b.Close()

	f := NewForwarder(b, domain.RoutingConfig{Enabled: false}, nil)
	if _, err := f.Forward(context.Background(), testApp(t, `{"id":"a"}`), decisionFor(nil)); err != nil {
		t.Errorf("disabled forwarder should not publish, got %v", err)
	}

	f = NewForwarder(b, domain.RoutingConfig{Enabled: true}, nil)
	if _, err := f.Forward(context.Background(), testApp(t, `{"id":"a"}`), decisionFor(nil)); !errors.Is(err, domain.ErrClosed) {
		t.Errorf("expected ErrClosed from closed bus, got %v", err)
	}
}

func TestNotificationFor(t *testing.T) {
	app := &domain.Application{ID: "app-1"}

	tests := []struct {
		name    string
		out     *domain.ActionOutcome
		ok      bool
		kind    string
		message string
	}{
		{"Clean", nil, false, "", ""},
		{"FlagMedium", &domain.ActionOutcome{Action: domain.ActionFlag, Reason: "odd", Severity: domain.SeverityMedium}, true, domain.NotifyWarning, "Flagged: app-1 - odd"},
		{"FlagHigh", &domain.ActionOutcome{Action: domain.ActionFlag, Reason: "bad", Severity: domain.SeverityHigh}, true, domain.NotifyError, "Flagged: app-1 - bad"},
		{"Block", &domain.ActionOutcome{Action: domain.ActionBlock, Reason: "stop"}, true, domain.NotifyError, "Blocked: app-1 - stop"},
		{"Route", &domain.ActionOutcome{Action: domain.ActionRoute, Topic: "manual-review"}, true, domain.NotifyInfo, "Routed: app-1 to manual-review"},
		{"Enrich", &domain.ActionOutcome{Action: domain.ActionEnrich, RuleName: "Segment"}, true, domain.NotifyInfo, "Enriched: app-1 by Segment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, ok := NotificationFor(app, decisionFor(tt.out))
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v", tt.ok, ok)
			}
			if !ok {
				return
			}
			if req.Type != tt.kind || req.Message != tt.message {
				t.Errorf("unexpected notification: %+v", req)
			}
			if req.UserID != "fraud-gateway" {
				t.Errorf("expected fraud-gateway user, got %s", req.UserID)
			}
		})
	}
}
