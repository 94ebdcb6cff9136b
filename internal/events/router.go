package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/opensource-finance/fraudgate/internal/domain"
	"github.com/opensource-finance/fraudgate/internal/metrics"
)

// Router consumes operational event topics and runs the reactions of every
// routing rule that matches. Application events have their own worker and
// never pass through here.
type Router struct {
	bus      domain.EventBus
	rules    []RoutingRule
	executor *Executor
	metrics  *metrics.Metrics

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	received atomic.Int64
	matched  atomic.Int64
	skipped  atomic.Int64
}

// NewRouter creates a router over rules.
func NewRouter(bus domain.EventBus, rules []RoutingRule, executor *Executor, m *metrics.Metrics) *Router {
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		bus:      bus,
		rules:    rules,
		executor: executor,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to each topic. On failure the topics subscribed so far
// stay subscribed until Stop.
func (r *Router) Start(topics []string) error {
	for _, topic := range topics {
		sub, err := r.bus.Subscribe(r.ctx, topic, r.handleMessage)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		r.mu.Lock()
		r.subscriptions = append(r.subscriptions, sub)
		r.mu.Unlock()
	}

	names := make([]string, len(r.rules))
	for i, rule := range r.rules {
		names[i] = rule.Name()
	}
	slog.Info("event router started", "topics", topics, "rules", names)
	return nil
}

func (r *Router) handleMessage(ctx context.Context, msg *domain.Message) error {
	r.received.Add(1)

	event, err := ParseEvent(msg.Topic, msg.Payload)
	if err != nil {
		r.skipped.Add(1)
		slog.Warn("skipping event",
			"message_id", msg.ID,
			"topic", msg.Topic,
			"error", err,
		)
		return nil
	}

	r.Route(ctx, event)
	return nil
}

// Route runs every matching rule's reactions in order and returns the
// number of rules that matched. Reaction failures are logged and do not
// stop later reactions.
func (r *Router) Route(ctx context.Context, e *Event) int {
	matches := 0
	for _, rule := range r.rules {
		if !rule.Matches(e) {
			continue
		}
		matches++
		r.metrics.EventRouted(rule.Name())
		slog.Info("routing rule matched",
			"rule", rule.Name(),
			"event_id", e.ID,
			"event_type", e.Type,
		)

		for _, reaction := range rule.Reactions(e) {
			if err := r.executor.Execute(ctx, reaction); err != nil {
				level := slog.LevelWarn
				if errors.Is(err, context.Canceled) {
					level = slog.LevelDebug
				}
				slog.Log(ctx, level, "event reaction failed",
					"rule", rule.Name(),
					"reaction", reaction.Kind(),
					"event_id", e.ID,
					"error", err,
				)
			}
		}
	}

	if matches == 0 {
		r.metrics.EventRouted("")
		slog.Debug("no routing rule matched", "event_id", e.ID, "event_type", e.Type)
	} else {
		r.matched.Add(1)
	}
	return matches
}

// Stop unsubscribes from every topic.
func (r *Router) Stop() error {
	r.cancel()

	r.mu.Lock()
	subs := r.subscriptions
	r.subscriptions = nil
	r.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe", "topic", sub.Topic(), "error", err)
		}
	}
	slog.Info("event router stopped")
	return nil
}

// Stats counts events seen by the router.
type Stats struct {
	Received int64    `json:"received"`
	Matched  int64    `json:"matched"`
	Skipped  int64    `json:"skipped"`
	Topics   []string `json:"topics"`
}

// GetStats returns current router statistics.
func (r *Router) GetStats() Stats {
	r.mu.Lock()
	topics := make([]string, len(r.subscriptions))
	for i, sub := range r.subscriptions {
		topics[i] = sub.Topic()
	}
	r.mu.Unlock()

	return Stats{
		Received: r.received.Load(),
		Matched:  r.matched.Load(),
		Skipped:  r.skipped.Load(),
		Topics:   topics,
	}
}
