// Package events routes operational events (orders, payments, inventory)
// to reactions: alerts on the bus, live notifications, webhooks and logs.
package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/fraudgate/internal/domain"
	"github.com/shopspring/decimal"
)

// Event is one operational event read from a bus topic.
type Event struct {
	ID         string
	Source     string
	Topic      string
	Type       string
	Payload    domain.Value
	ReceivedAt time.Time
}

// ParseEvent decodes a bus payload. The payload must be a JSON object
// with a string "type"; "source" defaults to "unknown".
func ParseEvent(topic string, raw []byte) (*Event, error) {
	payload, err := domain.ParseValue(raw)
	if err != nil {
		return nil, err
	}
	if payload.Kind() != domain.KindMap {
		return nil, fmt.Errorf("%w: event must be a JSON object, got %s", domain.ErrInvalidInput, payload.Kind())
	}

	e := &Event{
		ID:         uuid.New().String(),
		Topic:      topic,
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	}
	if t, _ := payload.Field("type"); t.Kind() == domain.KindString {
		e.Type = strings.TrimSpace(t.Str())
	}
	if e.Type == "" {
		return nil, fmt.Errorf("%w: event has no type", domain.ErrInvalidInput)
	}
	if e.Source = e.Text("source"); e.Source == "" {
		e.Source = "unknown"
	}
	return e, nil
}

// Text returns a payload field as text, or "" when absent or null.
func (e *Event) Text(key string) string {
	v, ok := e.Payload.Field(key)
	if !ok || v.IsNull() {
		return ""
	}
	return strings.TrimSpace(v.Text())
}

// Number reads a payload field as a number. Numeric strings are accepted.
func (e *Event) Number(key string) (decimal.Decimal, bool) {
	v, ok := e.Payload.Field(key)
	if !ok {
		return decimal.Zero, false
	}
	switch v.Kind() {
	case domain.KindNumber:
		return v.Num(), true
	case domain.KindString:
		d, err := decimal.NewFromString(strings.TrimSpace(v.Str()))
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}
