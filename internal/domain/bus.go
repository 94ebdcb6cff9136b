package domain

import (
	"context"
	"time"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community), Kafka or NATS (Pro).
type EventBus interface {
	// Publish sends a message to a topic. key groups related messages
	// (Kafka partition key); it may be empty.
	Publish(ctx context.Context, topic string, key string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Key       string            `json:"key,omitempty"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel", "kafka" or "nats"
	Type string `yaml:"type" json:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `yaml:"channelBufferSize" json:"channelBufferSize"`

	// NATS settings
	NATSUrl           string `yaml:"natsUrl" json:"natsUrl"`
	NATSToken         string `yaml:"natsToken" json:"-"`
	NATSMaxReconnects int    `yaml:"natsMaxReconnects" json:"natsMaxReconnects"`
	NATSReconnectWait int    `yaml:"natsReconnectWait" json:"natsReconnectWait"` // seconds

	// NATSSubjectPrefix namespaces every topic, so "applications.events"
	// becomes "<prefix>.applications.events". Defaults to "fraudgate".
	NATSSubjectPrefix string `yaml:"natsSubjectPrefix" json:"natsSubjectPrefix"`

	// NATSQueueGroup makes replicas share each subject: every application
	// event is screened by one instance only. Empty means every
	// subscriber receives every message.
	NATSQueueGroup string `yaml:"natsQueueGroup" json:"natsQueueGroup"`

	// Kafka settings
	Kafka KafkaConfig `yaml:"kafka" json:"kafka"`
}

// KafkaConfig holds Kafka producer and consumer settings.
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers" json:"brokers"`
	ClientID      string        `yaml:"clientId" json:"clientId"`
	ConsumerGroup string        `yaml:"consumerGroup" json:"consumerGroup"`
	BatchTimeout  time.Duration `yaml:"batchTimeout" json:"batchTimeout"`
	WriteTimeout  time.Duration `yaml:"writeTimeout" json:"writeTimeout"`
	MaxRetries    int           `yaml:"maxRetries" json:"maxRetries"`
	RetryBackoff  time.Duration `yaml:"retryBackoff" json:"retryBackoff"`
	RequiredAcks  int           `yaml:"requiredAcks" json:"requiredAcks"`
	MinBytes      int           `yaml:"minBytes" json:"minBytes"`
	MaxBytes      int           `yaml:"maxBytes" json:"maxBytes"`
	MaxWait       time.Duration `yaml:"maxWait" json:"maxWait"`
	StartOffset   string        `yaml:"startOffset" json:"startOffset"` // "first" or "last"
}

// Standard topic names.
const (
	TopicApplications  = "applications.events"
	TopicNotifications = "notifications"
	TopicClean         = "clean-apps"
	TopicFlagged       = "flagged-apps"
	TopicBlocked       = "blocked-apps"
	TopicManualReview  = "manual-review"
)
