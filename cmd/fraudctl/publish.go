package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/opensource-finance/fraudgate/internal/bus"
	"github.com/opensource-finance/fraudgate/internal/config"
	"github.com/opensource-finance/fraudgate/internal/domain"
)

func runPublish(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to YAML config")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return fmt.Errorf("usage: fraudctl publish <topic> <type> [json]")
	}
	topic, eventType := fs.Arg(0), fs.Arg(1)
	body := ""
	if fs.NArg() > 2 {
		body = fs.Arg(2)
	}

	event, err := buildEvent(eventType, body)
	if err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if cfg.EventBus.Type == "channel" || cfg.EventBus.Type == "" {
		slog.Warn("channel bus is in-process; nothing outside fraudctl will see this event")
	}

	eventBus, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to connect event bus: %w", err)
	}
	defer eventBus.Close()

	key, _ := event["eventId"].(string)
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := eventBus.Publish(ctx, topic, key, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	fmt.Printf("published %s event %s to %s\n", eventType, key, topic)
	return nil
}

// buildEvent decodes body (an optional JSON object) and stamps the event
// type, source and a fresh eventId.
func buildEvent(eventType, body string) (map[string]any, error) {
	event := map[string]any{}
	if body != "" {
		if err := json.Unmarshal([]byte(body), &event); err != nil {
			return nil, fmt.Errorf("%w: event body must be a JSON object: %v", domain.ErrInvalidInput, err)
		}
		if event == nil {
			event = map[string]any{}
		}
	}
	event["type"] = eventType
	event["source"] = "fraudctl"
	event["eventId"] = uuid.New().String()
	return event, nil
}
