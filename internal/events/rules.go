package events

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/fraudgate/internal/domain"
	"github.com/shopspring/decimal"
)

// SystemUser is the userId of notifications raised by routing rules.
const SystemUser = "system"

// Event types handled by the built-in rules.
const (
	TypePaymentFailed = "payment.failed"
	TypeInventoryLow  = "inventory.low"
	TypeOrderCreated  = "order.created"
)

// RoutingRule matches events and names the reactions to run for them.
// Every matching rule runs; there is no first-match cut-off here.
type RoutingRule interface {
	Name() string
	Matches(e *Event) bool
	Reactions(e *Event) []Reaction
}

// DefaultRules builds the built-in rules plus one rule per configured
// webhook.
func DefaultRules(cfg domain.EventsConfig) []RoutingRule {
	alerts := cfg.AlertsTopic
	if alerts == "" {
		alerts = domain.TopicAlerts
	}
	threshold := decimal.NewFromFloat(cfg.HighValueThreshold)
	if cfg.HighValueThreshold <= 0 {
		threshold = decimal.NewFromInt(1000)
	}

	rules := []RoutingRule{
		PaymentFailed{AlertsTopic: alerts},
		InventoryLow{AlertsTopic: alerts},
		HighValueOrder{Threshold: threshold},
	}
	for _, hook := range cfg.Webhooks {
		rules = append(rules, WebhookRule{Config: hook})
	}
	return rules
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// PaymentFailed alerts on failed payments.
type PaymentFailed struct {
	AlertsTopic string
}

func (PaymentFailed) Name() string {
	return "payment-failed"
}

func (PaymentFailed) Matches(e *Event) bool {
	return e.Type == TypePaymentFailed
}

func (r PaymentFailed) Reactions(e *Event) []Reaction {
	paymentID := orUnknown(e.Text("paymentId"))
	reason := e.Text("reason")
	if reason == "" {
		reason = "Unknown reason"
	}

	return []Reaction{
		Notify{Request: domain.NotificationRequest{
			UserID:  SystemUser,
			Type:    domain.NotifyError,
			Message: fmt.Sprintf("Payment %s failed: %s", paymentID, reason),
		}},
		Publish{Topic: r.AlertsTopic, Payload: domain.MapValue(map[string]domain.Value{
			"type":          domain.StringValue("payment_failure"),
			"paymentId":     domain.StringValue(paymentID),
			"originalEvent": domain.StringValue(e.ID),
		})},
		Log{Level: slog.LevelError, Message: "Payment failure detected", Event: e},
	}
}

// InventoryLow alerts when stock runs low.
type InventoryLow struct {
	AlertsTopic string
}

func (InventoryLow) Name() string {
	return "inventory-low"
}

func (InventoryLow) Matches(e *Event) bool {
	return e.Type == TypeInventoryLow
}

func (r InventoryLow) Reactions(e *Event) []Reaction {
	productID := orUnknown(e.Text("productId"))
	display := e.Text("productName")
	if display == "" {
		display = productID
	}
	stock, _ := e.Number("currentStock")

	return []Reaction{
		Notify{Request: domain.NotificationRequest{
			UserID:  SystemUser,
			Type:    domain.NotifyWarning,
			Message: fmt.Sprintf("Low inventory alert: %s has only %d units left", display, stock.IntPart()),
		}},
		Publish{Topic: r.AlertsTopic, Payload: domain.MapValue(map[string]domain.Value{
			"type":         domain.StringValue("inventory_low"),
			"productId":    domain.StringValue(productID),
			"currentStock": domain.NumberValue(stock),
		})},
		Log{Level: slog.LevelWarn, Message: "Low inventory detected", Event: e},
	}
}

// HighValueOrder warns about orders above Threshold.
type HighValueOrder struct {
	Threshold decimal.Decimal
}

func (HighValueOrder) Name() string {
	return "high-value-order"
}

func (r HighValueOrder) Matches(e *Event) bool {
	if e.Type != TypeOrderCreated {
		return false
	}
	amount, ok := e.Number("amount")
	return ok && amount.GreaterThan(r.Threshold)
}

func (HighValueOrder) Reactions(e *Event) []Reaction {
	amount, _ := e.Number("amount")
	return []Reaction{
		Notify{Request: domain.NotificationRequest{
			UserID:  SystemUser,
			Type:    domain.NotifyWarning,
			Message: fmt.Sprintf("High-value order detected! Order %s for $%s", orUnknown(e.Text("orderId")), amount.StringFixed(2)),
		}},
		Log{Level: slog.LevelInfo, Message: "High-value order processed", Event: e},
	}
}

// WebhookRule forwards events of one type to an external endpoint. The
// body carries the event envelope and its original payload.
type WebhookRule struct {
	Config domain.WebhookConfig
}

func (r WebhookRule) Name() string {
	if r.Config.Name != "" {
		return r.Config.Name
	}
	return "webhook:" + r.Config.EventType
}

func (r WebhookRule) Matches(e *Event) bool {
	return r.Config.EventType == "*" || r.Config.EventType == e.Type
}

func (r WebhookRule) Reactions(e *Event) []Reaction {
	return []Reaction{
		Webhook{
			URL:    r.Config.URL,
			Method: r.Config.Method,
			Body: domain.MapValue(map[string]domain.Value{
				"eventId":    domain.StringValue(e.ID),
				"type":       domain.StringValue(e.Type),
				"source":     domain.StringValue(e.Source),
				"topic":      domain.StringValue(e.Topic),
				"receivedAt": domain.StringValue(e.ReceivedAt.Format(time.RFC3339Nano)),
				"payload":    e.Payload,
			}),
		},
	}
}
