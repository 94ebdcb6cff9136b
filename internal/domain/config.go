package domain

import (
	"fmt"
	"time"
)

// Config holds the complete Fraudgate configuration.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server" json:"server"`

	// Tier selects the default backing services
	Tier Tier `yaml:"tier" json:"tier"`

	// Component configurations
	Repository RepositoryConfig `yaml:"repository" json:"repository"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	EventBus   EventBusConfig   `yaml:"eventBus" json:"eventBus"`
	Notify     NotifyConfig     `yaml:"notify" json:"notify"`
	Routing    RoutingConfig    `yaml:"routing" json:"routing"`
	Worker     WorkerConfig     `yaml:"worker" json:"worker"`
	Events     EventsConfig     `yaml:"events" json:"events"`

	// Observability
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string   `yaml:"host" json:"host"`
	Port           int      `yaml:"port" json:"port"`
	ReadTimeout    int      `yaml:"readTimeout" json:"readTimeout"`   // seconds
	WriteTimeout   int      `yaml:"writeTimeout" json:"writeTimeout"` // seconds
	AllowedOrigins []string `yaml:"allowedOrigins" json:"allowedOrigins"`
}

// NotifyConfig holds live notification settings.
type NotifyConfig struct {
	// HistorySize is the capacity of the in-memory notification ring.
	HistorySize int `yaml:"historySize" json:"historySize"`

	// SubscriberBuffer bounds each stream's pending notifications.
	// A subscriber whose buffer fills up is disconnected.
	SubscriberBuffer int `yaml:"subscriberBuffer" json:"subscriberBuffer"`

	// Heartbeat is the interval of SSE keep-alive comments.
	Heartbeat time.Duration `yaml:"heartbeat" json:"heartbeat"`

	// MirrorTopic receives a copy of every notification; empty disables it.
	MirrorTopic string `yaml:"mirrorTopic" json:"mirrorTopic"`
}

// EventsConfig drives the event router: operational events on topics
// other than the application intake, matched against code-defined rules.
type EventsConfig struct {
	Enabled bool     `yaml:"enabled" json:"enabled"`
	Topics  []string `yaml:"topics" json:"topics"`

	// AlertsTopic receives the alert payloads of matched rules.
	AlertsTopic string `yaml:"alertsTopic" json:"alertsTopic"`

	// HighValueThreshold is the order amount above which order.created
	// raises a warning.
	HighValueThreshold float64 `yaml:"highValueThreshold" json:"highValueThreshold"`

	// Webhooks are called with the event for every matching type.
	Webhooks       []WebhookConfig `yaml:"webhooks" json:"webhooks"`
	WebhookTimeout time.Duration   `yaml:"webhookTimeout" json:"webhookTimeout"`
}

// WebhookConfig posts events of one type to an external endpoint.
// EventType "*" matches every event.
type WebhookConfig struct {
	Name      string `yaml:"name" json:"name"`
	EventType string `yaml:"eventType" json:"eventType"`
	URL       string `yaml:"url" json:"url"`
	Method    string `yaml:"method" json:"method"`
}

// Default event router topics, following the <domain>.events convention.
const (
	TopicOrders    = "orders.events"
	TopicPayments  = "payments.events"
	TopicInventory = "inventory.events"
	TopicAlerts    = "alerts"
)

// RoutingConfig names the topics decisions are forwarded to.
type RoutingConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	CleanTopic   string `yaml:"cleanTopic" json:"cleanTopic"`
	FlaggedTopic string `yaml:"flaggedTopic" json:"flaggedTopic"`
	BlockedTopic string `yaml:"blockedTopic" json:"blockedTopic"`
}

// WorkerConfig controls bus-driven application intake.
type WorkerConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Topic   string `yaml:"topic" json:"topic"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	ServiceName string `yaml:"serviceName" json:"serviceName"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Path      string `yaml:"path" json:"path"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-process cache
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + Kafka + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8081,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./fraudgate.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			KeyPrefix:    "fraudgate:",
			StatsTTL:     5 * time.Second,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Notify: NotifyConfig{
			HistorySize:      500,
			SubscriberBuffer: 64,
			Heartbeat:        15 * time.Second,
			MirrorTopic:      TopicNotifications,
		},
		Routing: RoutingConfig{
			Enabled:      true,
			CleanTopic:   TopicClean,
			FlaggedTopic: TopicFlagged,
			BlockedTopic: TopicBlocked,
		},
		Worker: WorkerConfig{
			Enabled: true,
			Topic:   TopicApplications,
		},
		Events: EventsConfig{
			Enabled:            true,
			Topics:             []string{TopicOrders, TopicPayments, TopicInventory},
			AlertsTopic:        TopicAlerts,
			HighValueThreshold: 1000,
			WebhookTimeout:     5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "fraudgate",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "fraudgate",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:          "postgres",
		PostgresHost:    "localhost",
		PostgresPort:    5432,
		PostgresDB:      "fraudgate",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Second,
		KeyPrefix:      "fraudgate:",
		StatsTTL:       5 * time.Second,
	}
	cfg.EventBus = EventBusConfig{
		Type: "kafka",
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:29092"},
			ClientID:      "fraudgate",
			ConsumerGroup: "fraud-detection-service",
			BatchTimeout:  10 * time.Millisecond,
			WriteTimeout:  10 * time.Second,
			MaxRetries:    3,
			RetryBackoff:  100 * time.Millisecond,
			RequiredAcks:  -1,
			MinBytes:      1,
			MaxBytes:      10 << 20,
			MaxWait:       500 * time.Millisecond,
			StartOffset:   "last",
		},
	}
	cfg.Tracing.Enabled = true
	return cfg
}

// Validate checks the configuration for values no component can run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalidInput, c.Server.Port)
	}
	switch c.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: unsupported repository driver %q", ErrInvalidInput, c.Repository.Driver)
	}
	switch c.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("%w: unsupported cache type %q", ErrInvalidInput, c.Cache.Type)
	}
	switch c.EventBus.Type {
	case "channel", "nats":
	case "kafka":
		if len(c.EventBus.Kafka.Brokers) == 0 {
			return fmt.Errorf("%w: eventBus.kafka.brokers is required", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unsupported event bus type %q", ErrInvalidInput, c.EventBus.Type)
	}
	if c.Notify.SubscriberBuffer <= 0 {
		return fmt.Errorf("%w: notify.subscriberBuffer must be positive", ErrInvalidInput)
	}
	if c.Events.Enabled {
		for _, topic := range c.Events.Topics {
			if topic == c.Worker.Topic || topic == TopicApplications {
				return fmt.Errorf("%w: events.topics must not include the application topic %q", ErrInvalidInput, topic)
			}
		}
		for i, hook := range c.Events.Webhooks {
			if hook.URL == "" || hook.EventType == "" {
				return fmt.Errorf("%w: events.webhooks[%d] needs url and eventType", ErrInvalidInput, i)
			}
		}
	}
	return nil
}
