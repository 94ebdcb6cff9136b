// Package screening runs one application through the full pipeline:
// decide, audit, route and notify.
package screening

import (
	"context"
	"log/slog"

	"github.com/opensource-finance/fraudgate/internal/action"
	"github.com/opensource-finance/fraudgate/internal/domain"
)

// Decider produces a decision for an application.
type Decider interface {
	Decide(ctx context.Context, app *domain.Application) *domain.Decision
}

// Recorder persists decisions.
type Recorder interface {
	Record(ctx context.Context, app *domain.Application, decision *domain.Decision) (int64, error)
}

// Router forwards screened applications to their outcome topic.
type Router interface {
	Forward(ctx context.Context, app *domain.Application, decision *domain.Decision) (string, error)
}

// Notifier publishes live notifications.
type Notifier interface {
	Publish(ctx context.Context, req domain.NotificationRequest) (*domain.Notification, error)
}

// Result is a decision plus what happened to it afterwards.
type Result struct {
	*domain.Decision

	// AuditID is zero when the audit write failed.
	AuditID int64  `json:"auditId,omitempty"`
	Topic   string `json:"topic"`
}

// Service wires the pipeline. Only the decision is required; audit,
// routing and notification failures are logged by their components and
// never change the decision.
type Service struct {
	decider  Decider
	recorder Recorder
	router   Router
	notifier Notifier
}

// NewService creates a screening service. recorder, router and notifier
// may be nil.
func NewService(decider Decider, recorder Recorder, router Router, notifier Notifier) *Service {
	return &Service{
		decider:  decider,
		recorder: recorder,
		router:   router,
		notifier: notifier,
	}
}

// Screen decides the application and runs the follow-up steps.
func (s *Service) Screen(ctx context.Context, app *domain.Application) *Result {
	decision := s.decider.Decide(ctx, app)
	result := &Result{Decision: decision}

	if s.recorder != nil {
		if id, err := s.recorder.Record(ctx, app, decision); err == nil {
			result.AuditID = id
		}
	}

	if s.router != nil {
		topic, _ := s.router.Forward(ctx, app, decision)
		result.Topic = topic
	}

	if s.notifier != nil {
		if req, ok := action.NotificationFor(app, decision); ok {
			if _, err := s.notifier.Publish(ctx, req); err != nil {
				slog.Warn("decision notification failed",
					"application_id", app.ID,
					"error", err,
				)
			}
		}
	}

	slog.Info("application screened",
		"application_id", app.ID,
		"final_action", decision.Action(),
		"rules_evaluated", decision.RulesEvaluated,
		"rules_matched", decision.RulesMatched,
		"topic", result.Topic,
	)
	return result
}
