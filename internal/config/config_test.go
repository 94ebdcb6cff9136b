package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/fraudgate/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fraudgate.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Run("DefaultsWithoutFile", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Tier != domain.TierCommunity {
			t.Errorf("expected community tier, got %s", cfg.Tier)
		}
		if cfg.Repository.Driver != "sqlite" || cfg.EventBus.Type != "channel" {
			t.Errorf("unexpected community backends: %s / %s", cfg.Repository.Driver, cfg.EventBus.Type)
		}
	})

	t.Run("FileOverridesDefaults", func(t *testing.T) {
		path := writeConfig(t, `
server:
  port: 9090
notify:
  subscriberBuffer: 8
  heartbeat: 5s
routing:
  flaggedTopic: review-queue
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Server.Port != 9090 {
			t.Errorf("expected port 9090, got %d", cfg.Server.Port)
		}
		if cfg.Notify.SubscriberBuffer != 8 || cfg.Notify.Heartbeat != 5*time.Second {
			t.Errorf("unexpected notify config: %+v", cfg.Notify)
		}
		if cfg.Notify.HistorySize != 500 {
			t.Errorf("unset fields should keep defaults, got history %d", cfg.Notify.HistorySize)
		}
		if cfg.Routing.FlaggedTopic != "review-queue" || cfg.Routing.BlockedTopic != domain.TopicBlocked {
			t.Errorf("unexpected routing: %+v", cfg.Routing)
		}
	})

	t.Run("ExpandsEnvironment", func(t *testing.T) {
		t.Setenv("TEST_DB_PATH", "/tmp/expanded.db")
		path := writeConfig(t, "repository:\n  driver: sqlite\n  sqlitePath: ${TEST_DB_PATH}\n")

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Repository.SQLitePath != "/tmp/expanded.db" {
			t.Errorf("expected expanded path, got %s", cfg.Repository.SQLitePath)
		}
	})

	t.Run("TierFromFile", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, "tier: pro\n"))
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Repository.Driver != "postgres" || cfg.EventBus.Type != "kafka" {
			t.Errorf("expected pro backends, got %s / %s", cfg.Repository.Driver, cfg.EventBus.Type)
		}
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		t.Setenv("FRAUDGATE_PORT", "7070")
		t.Setenv("FRAUDGATE_BUS_TYPE", "kafka")
		t.Setenv("FRAUDGATE_KAFKA_BROKERS", "k1:9092, k2:9092")
		t.Setenv("FRAUDGATE_DEBUG", "true")

		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Server.Port != 7070 {
			t.Errorf("expected port 7070, got %d", cfg.Server.Port)
		}
		if got := cfg.EventBus.Kafka.Brokers; len(got) != 2 || got[1] != "k2:9092" {
			t.Errorf("unexpected brokers: %v", got)
		}
		if cfg.Logging.Level != "debug" {
			t.Errorf("expected debug level, got %s", cfg.Logging.Level)
		}
	})

	t.Run("BadPort", func(t *testing.T) {
		t.Setenv("FRAUDGATE_PORT", "eighty")
		if _, err := Load(""); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("InvalidDriver", func(t *testing.T) {
		_, err := Load(writeConfig(t, "repository:\n  driver: mysql\n"))
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("EventRouterDefaults", func(t *testing.T) {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if !cfg.Events.Enabled || len(cfg.Events.Topics) != 3 {
			t.Errorf("unexpected event router config: %+v", cfg.Events)
		}
		if cfg.Events.AlertsTopic != domain.TopicAlerts || cfg.Events.HighValueThreshold != 1000 {
			t.Errorf("unexpected event router defaults: %+v", cfg.Events)
		}
	})

	t.Run("EventRouterFromFile", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, `
events:
  topics: [payments.events]
  highValueThreshold: 250
  webhookTimeout: 2s
  webhooks:
    - eventType: payment.failed
      url: https://hooks.example.com/payments
`))
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if got := cfg.Events.Topics; len(got) != 1 || got[0] != "payments.events" {
			t.Errorf("unexpected topics: %v", got)
		}
		if cfg.Events.HighValueThreshold != 250 || cfg.Events.WebhookTimeout != 2*time.Second {
			t.Errorf("unexpected events config: %+v", cfg.Events)
		}
		if len(cfg.Events.Webhooks) != 1 || cfg.Events.Webhooks[0].URL != "https://hooks.example.com/payments" {
			t.Errorf("unexpected webhooks: %+v", cfg.Events.Webhooks)
		}
	})

	t.Run("EventRouterEnv", func(t *testing.T) {
		t.Setenv("FRAUDGATE_EVENT_TOPICS", "orders.events, refunds.events")
		t.Setenv("FRAUDGATE_EVENT_ROUTER", "false")
		t.Setenv("FRAUDGATE_NATS_QUEUE_GROUP", "screeners")

		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if got := cfg.Events.Topics; len(got) != 2 || got[1] != "refunds.events" {
			t.Errorf("unexpected topics: %v", got)
		}
		if cfg.Events.Enabled {
			t.Error("expected event router disabled")
		}
		if cfg.EventBus.NATSQueueGroup != "screeners" {
			t.Errorf("expected queue group screeners, got %q", cfg.EventBus.NATSQueueGroup)
		}
	})

	t.Run("EventRouterRejectsApplicationTopic", func(t *testing.T) {
		_, err := Load(writeConfig(t, "events:\n  topics: [applications.events]\n"))
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("EventRouterWebhookNeedsURL", func(t *testing.T) {
		_, err := Load(writeConfig(t, "events:\n  webhooks:\n    - eventType: payment.failed\n"))
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("MalformedYAML", func(t *testing.T) {
		if _, err := Load(writeConfig(t, "server: [unclosed\n")); err == nil {
			t.Error("expected parse error")
		}
	})
}
