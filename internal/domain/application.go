package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Application is an inbound submission screened by the rule engine.
// Data holds the complete record that rule field paths resolve against.
type Application struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	SourceSystem string    `json:"sourceSystem"`
	Data         Value     `json:"data"`
	ReceivedAt   time.Time `json:"receivedAt"`
}

const unknownField = "unknown"

// ParseApplication decodes a JSON object into an Application.
func ParseApplication(raw []byte) (*Application, error) {
	data, err := ParseValue(raw)
	if err != nil {
		return nil, err
	}
	return NewApplication(data)
}

// NewApplication wraps a decoded record. Identity fields are read from
// id/type/source (or applicationId/applicationType/sourceSystem) and
// default to a random UUID and "unknown".
func NewApplication(data Value) (*Application, error) {
	if data.Kind() != KindMap {
		return nil, fmt.Errorf("%w: application must be a JSON object, got %s", ErrInvalidInput, data.Kind())
	}

	app := &Application{
		ID:           firstText(data, "id", "applicationId"),
		Type:         firstText(data, "type", "applicationType"),
		SourceSystem: firstText(data, "source", "sourceSystem"),
		Data:         data,
		ReceivedAt:   time.Now().UTC(),
	}
	if app.ID == "" {
		app.ID = uuid.New().String()
	}
	if app.Type == "" {
		app.Type = unknownField
	}
	if app.SourceSystem == "" {
		app.SourceSystem = unknownField
	}
	return app, nil
}

func firstText(data Value, keys ...string) string {
	for _, k := range keys {
		v, ok := data.Field(k)
		if !ok {
			continue
		}
		switch v.Kind() {
		case KindString, KindNumber, KindBool:
			if s := v.Text(); s != "" {
				return s
			}
		}
	}
	return ""
}
