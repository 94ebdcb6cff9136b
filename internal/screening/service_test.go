package screening

import (
	"context"
	"errors"
	"testing"

	"github.com/opensource-finance/fraudgate/internal/domain"
)

type fixedDecider struct {
	action domain.RuleAction
}

func (d fixedDecider) Decide(ctx context.Context, app *domain.Application) *domain.Decision {
	dec := &domain.Decision{ApplicationID: app.ID, MatchedRuleIDs: []int64{}, MatchedRuleNames: []string{}}
	if d.action != "" {
		a := d.action
		dec.FinalAction = &a
		dec.RulesMatched = 1
		dec.ActionDetails = &domain.ActionOutcome{Action: a, RuleID: 1, RuleName: "r", Reason: "because"}
	}
	return dec
}

type stubRecorder struct {
	err   error
	calls int
}

func (r *stubRecorder) Record(ctx context.Context, app *domain.Application, decision *domain.Decision) (int64, error) {
	r.calls++
	if r.err != nil {
		return 0, r.err
	}
	return 7, nil
}

type stubRouter struct{}

func (stubRouter) Forward(ctx context.Context, app *domain.Application, decision *domain.Decision) (string, error) {
	if decision.Matched() {
		return domain.TopicFlagged, errors.New("broker down")
	}
	return domain.TopicClean, nil
}

type stubNotifier struct {
	sent []domain.NotificationRequest
}

func (n *stubNotifier) Publish(ctx context.Context, req domain.NotificationRequest) (*domain.Notification, error) {
	n.sent = append(n.sent, req)
	return &domain.Notification{ID: "n1"}, nil
}

func TestScreen(t *testing.T) {
	ctx := context.Background()
	app := &domain.Application{ID: "app-1"}

	t.Run("FlaggedNotifies", func(t *testing.T) {
		rec := &stubRecorder{}
		notifier := &stubNotifier{}
		svc := NewService(fixedDecider{action: domain.ActionFlag}, rec, stubRouter{}, notifier)

		result := svc.Screen(ctx, app)
		if result.Action() != domain.ActionFlag {
			t.Errorf("expected FLAG, got %s", result.Action())
		}
		if result.AuditID != 7 {
			t.Errorf("expected audit id 7, got %d", result.AuditID)
		}
		if result.Topic != domain.TopicFlagged {
			t.Errorf("routing failure must still report the topic, got %s", result.Topic)
		}
		if len(notifier.sent) != 1 || notifier.sent[0].Message != "Flagged: app-1 - because" {
			t.Errorf("unexpected notifications: %+v", notifier.sent)
		}
	})

	t.Run("CleanIsSilent", func(t *testing.T) {
		notifier := &stubNotifier{}
		svc := NewService(fixedDecider{}, &stubRecorder{}, stubRouter{}, notifier)

		result := svc.Screen(ctx, app)
		if result.Matched() {
			t.Error("expected clean decision")
		}
		if len(notifier.sent) != 0 {
			t.Errorf("clean decisions must not notify, got %d", len(notifier.sent))
		}
	})

	t.Run("AuditFailureKeepsDecision", func(t *testing.T) {
		rec := &stubRecorder{err: errors.New("db down")}
		svc := NewService(fixedDecider{action: domain.ActionBlock}, rec, nil, nil)

		result := svc.Screen(ctx, app)
		if result.Action() != domain.ActionBlock {
			t.Errorf("expected BLOCK despite audit failure, got %s", result.Action())
		}
		if result.AuditID != 0 {
			t.Errorf("expected no audit id, got %d", result.AuditID)
		}
		if rec.calls != 1 {
			t.Errorf("expected one audit attempt, got %d", rec.calls)
		}
	})
}
