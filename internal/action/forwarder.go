package action

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/fraudgate/internal/domain"
	"github.com/opensource-finance/fraudgate/internal/metrics"
)

// Forwarder publishes each screened application to the topic matching its
// outcome. Publishing is best-effort: failures are logged and counted.
type Forwarder struct {
	bus     domain.EventBus
	cfg     domain.RoutingConfig
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewForwarder creates a forwarder. Empty topic names take the defaults.
func NewForwarder(bus domain.EventBus, cfg domain.RoutingConfig, m *metrics.Metrics) *Forwarder {
	if cfg.CleanTopic == "" {
		cfg.CleanTopic = domain.TopicClean
	}
	if cfg.FlaggedTopic == "" {
		cfg.FlaggedTopic = domain.TopicFlagged
	}
	if cfg.BlockedTopic == "" {
		cfg.BlockedTopic = domain.TopicBlocked
	}
	return &Forwarder{
		bus:     bus,
		cfg:     cfg,
		metrics: m,
		now:     time.Now,
	}
}

// Route returns the destination topic and the outcome fields added to the
// forwarded record.
func (f *Forwarder) Route(decision *domain.Decision) (string, map[string]domain.Value) {
	out := decision.ActionDetails
	if !decision.Matched() || out == nil {
		return f.cfg.CleanTopic, nil
	}

	switch out.Action {
	case domain.ActionFlag:
		extra := map[string]domain.Value{
			"flagReason": domain.StringValue(out.Reason),
			"severity":   domain.StringValue(string(out.Severity)),
			"ruleName":   domain.StringValue(out.RuleName),
		}
		if out.Warning != "" {
			extra["warning"] = domain.StringValue(out.Warning)
		}
		return f.cfg.FlaggedTopic, extra
	case domain.ActionBlock:
		return f.cfg.BlockedTopic, map[string]domain.Value{
			"blockReason": domain.StringValue(out.Reason),
			"ruleName":    domain.StringValue(out.RuleName),
		}
	case domain.ActionRoute:
		return out.Topic, map[string]domain.Value{
			"routedBy": domain.StringValue(out.RuleName),
		}
	case domain.ActionEnrich:
		return f.cfg.CleanTopic, map[string]domain.Value{
			"enrichment": domain.MapValue(out.Enrichment),
		}
	default:
		return f.cfg.CleanTopic, nil
	}
}

// Record builds the forwarded message: the original record plus routing
// metadata and the outcome fields.
func (f *Forwarder) Record(app *domain.Application, extra map[string]domain.Value) domain.Value {
	record := app.Data
	record = record.With("_applicationId", domain.StringValue(app.ID))
	record = record.With("_processedAt", domain.StringValue(f.now().UTC().Format(time.RFC3339Nano)))
	for k, v := range extra {
		record = record.With(k, v)
	}
	return record
}

// Forward publishes the application to its outcome topic and returns it.
func (f *Forwarder) Forward(ctx context.Context, app *domain.Application, decision *domain.Decision) (string, error) {
	topic, extra := f.Route(decision)
	if !f.cfg.Enabled || f.bus == nil {
		return topic, nil
	}

	payload, err := json.Marshal(f.Record(app, extra))
	if err != nil {
		return topic, fmt.Errorf("failed to marshal routed application: %w", err)
	}

	if err := f.bus.Publish(ctx, topic, app.ID, payload); err != nil {
		f.metrics.PublishFailure(topic)
		slog.Error("failed to route application",
			"application_id", app.ID,
			"topic", topic,
			"error", err,
		)
		return topic, err
	}

	slog.Debug("routed application", "application_id", app.ID, "topic", topic)
	return topic, nil
}
