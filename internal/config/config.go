// Package config loads the Fraudgate configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/fraudgate/internal/domain"
)

// EnvPath names the config file when no path is given.
const EnvPath = "FRAUDGATE_CONFIG"

// Load builds the configuration. The tier defaults come first
// (FRAUDGATE_TIER or the file's tier key), then the YAML file at path with
// ${VAR} references expanded, then FRAUDGATE_* overrides. A missing file is
// not an error; the defaults are used.
func Load(path string) (*domain.Config, error) {
	if path == "" {
		path = os.Getenv(EnvPath)
	}

	var data []byte
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		data = []byte(os.ExpandEnv(string(raw)))
	}

	tier, err := selectTier(data)
	if err != nil {
		return nil, err
	}

	cfg := domain.DefaultConfig()
	if tier == domain.TierPro {
		cfg = domain.ProConfig()
	}

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func selectTier(data []byte) (domain.Tier, error) {
	if env := os.Getenv("FRAUDGATE_TIER"); env != "" {
		return domain.Tier(strings.ToLower(env)), nil
	}
	var head struct {
		Tier domain.Tier `yaml:"tier"`
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &head); err != nil {
			return "", fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	return head.Tier, nil
}

// applyEnvOverrides applies FRAUDGATE_* environment variables.
func applyEnvOverrides(c *domain.Config) error {
	if env := os.Getenv("FRAUDGATE_TIER"); env != "" {
		c.Tier = domain.Tier(strings.ToLower(env))
	}

	if port := os.Getenv("FRAUDGATE_PORT"); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("%w: FRAUDGATE_PORT %q is not a number", domain.ErrInvalidInput, port)
		}
		c.Server.Port = n
	}
	if origins := os.Getenv("FRAUDGATE_ALLOWED_ORIGINS"); origins != "" {
		c.Server.AllowedOrigins = splitAndTrim(origins)
	}

	// Repository
	if driver := os.Getenv("FRAUDGATE_DB_DRIVER"); driver != "" {
		c.Repository.Driver = driver
	}
	if p := os.Getenv("FRAUDGATE_SQLITE_PATH"); p != "" {
		c.Repository.SQLitePath = p
	}
	if url := os.Getenv("FRAUDGATE_POSTGRES_URL"); url != "" {
		c.Repository.PostgresURL = url
	}
	if host := os.Getenv("FRAUDGATE_POSTGRES_HOST"); host != "" {
		c.Repository.PostgresHost = host
	}
	if user := os.Getenv("FRAUDGATE_POSTGRES_USER"); user != "" {
		c.Repository.PostgresUser = user
	}
	if pass := os.Getenv("FRAUDGATE_POSTGRES_PASSWORD"); pass != "" {
		c.Repository.PostgresPassword = pass
	}
	if db := os.Getenv("FRAUDGATE_POSTGRES_DB"); db != "" {
		c.Repository.PostgresDB = db
	}

	// Cache
	if addr := os.Getenv("FRAUDGATE_REDIS_ADDR"); addr != "" {
		c.Cache.Type = "redis"
		c.Cache.RedisAddr = addr
	}
	if pass := os.Getenv("FRAUDGATE_REDIS_PASSWORD"); pass != "" {
		c.Cache.RedisPassword = pass
	}

	// Event bus
	if t := os.Getenv("FRAUDGATE_BUS_TYPE"); t != "" {
		c.EventBus.Type = t
	}
	if brokers := os.Getenv("FRAUDGATE_KAFKA_BROKERS"); brokers != "" {
		c.EventBus.Kafka.Brokers = splitAndTrim(brokers)
	}
	if url := os.Getenv("FRAUDGATE_NATS_URL"); url != "" {
		c.EventBus.NATSUrl = url
	}
	if group := os.Getenv("FRAUDGATE_NATS_QUEUE_GROUP"); group != "" {
		c.EventBus.NATSQueueGroup = group
	}

	// Event router
	if topics := os.Getenv("FRAUDGATE_EVENT_TOPICS"); topics != "" {
		c.Events.Topics = splitAndTrim(topics)
	}
	if alerts := os.Getenv("FRAUDGATE_ALERTS_TOPIC"); alerts != "" {
		c.Events.AlertsTopic = alerts
	}

	// Logging
	if os.Getenv("FRAUDGATE_DEBUG") == "true" {
		c.Logging.Level = "debug"
	}
	if level := os.Getenv("FRAUDGATE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if enabled := os.Getenv("FRAUDGATE_WORKER"); enabled != "" {
		c.Worker.Enabled = enabled == "true"
	}
	if enabled := os.Getenv("FRAUDGATE_EVENT_ROUTER"); enabled != "" {
		c.Events.Enabled = enabled == "true"
	}
	return nil
}

func splitAndTrim(s string) []string {
	parts := make([]string, 0)
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
