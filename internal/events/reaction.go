package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/opensource-finance/fraudgate/internal/domain"
	"github.com/opensource-finance/fraudgate/internal/metrics"
)

// Reaction is one side effect of a matched routing rule.
type Reaction interface {
	// Kind labels the reaction in logs and metrics.
	Kind() string
}

// Publish puts Payload on a bus topic.
type Publish struct {
	Topic   string
	Payload domain.Value
}

// Notify pushes a notification to live observers.
type Notify struct {
	Request domain.NotificationRequest
}

// Webhook calls an external HTTP endpoint with Body as JSON.
type Webhook struct {
	URL    string
	Method string
	Body   domain.Value
}

// Log writes the event to the service log.
type Log struct {
	Level   slog.Level
	Message string
	Event   *Event
}

func (Publish) Kind() string {
	return "publish"
}

func (Notify) Kind() string {
	return "notify"
}

func (Webhook) Kind() string {
	return "webhook"
}

func (Log) Kind() string {
	return "log"
}

// Notifier publishes live notifications.
type Notifier interface {
	Publish(ctx context.Context, req domain.NotificationRequest) (*domain.Notification, error)
}

// Executor carries out reactions. Any dependency may be nil, in which case
// reactions that need it fail with an error.
type Executor struct {
	bus      domain.EventBus
	notifier Notifier
	client   *http.Client
	metrics  *metrics.Metrics
}

// NewExecutor creates an executor. A nil client gets a 5s timeout client.
func NewExecutor(bus domain.EventBus, notifier Notifier, client *http.Client, m *metrics.Metrics) *Executor {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Executor{bus: bus, notifier: notifier, client: client, metrics: m}
}

// Execute runs one reaction. Failures are counted and returned; they never
// stop the remaining reactions of the same event.
func (x *Executor) Execute(ctx context.Context, r Reaction) error {
	var err error
	switch r := r.(type) {
	case Publish:
		err = x.publish(ctx, r)
	case Notify:
		err = x.notify(ctx, r)
	case Webhook:
		err = x.call(ctx, r)
	case Log:
		x.log(ctx, r)
	default:
		err = fmt.Errorf("unknown reaction %T", r)
	}
	if err != nil {
		x.metrics.ReactionFailure(r.Kind())
	}
	return err
}

func (x *Executor) publish(ctx context.Context, r Publish) error {
	if x.bus == nil {
		return fmt.Errorf("no event bus for topic %s", r.Topic)
	}
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	if err := x.bus.Publish(ctx, r.Topic, "", payload); err != nil {
		x.metrics.PublishFailure(r.Topic)
		return fmt.Errorf("failed to publish to %s: %w", r.Topic, err)
	}
	slog.Debug("event reaction published", "topic", r.Topic)
	return nil
}

func (x *Executor) notify(ctx context.Context, r Notify) error {
	if x.notifier == nil {
		return fmt.Errorf("no notifier")
	}
	_, err := x.notifier.Publish(ctx, r.Request)
	return err
}

func (x *Executor) call(ctx context.Context, r Webhook) error {
	method := strings.ToUpper(strings.TrimSpace(r.Method))
	if method == "" {
		method = http.MethodPost
	}
	body, err := json.Marshal(r.Body)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "fraudgate-event-router")

	resp, err := x.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s %s: %w", method, r.URL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook %s %s: unexpected status %d", method, r.URL, resp.StatusCode)
	}
	slog.Info("webhook called", "method", method, "url", r.URL, "status", resp.StatusCode)
	return nil
}

func (x *Executor) log(ctx context.Context, r Log) {
	var attrs []any
	if r.Event != nil {
		attrs = append(attrs,
			"event_id", r.Event.ID,
			"event_type", r.Event.Type,
			"topic", r.Event.Topic,
			"source", r.Event.Source,
		)
	}
	slog.Log(ctx, r.Level, r.Message, attrs...)
}
