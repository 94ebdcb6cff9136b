package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/fraudgate/internal/domain"
	"github.com/segmentio/kafka-go"
)

const headerMessageID = "message-id"

// KafkaBus implements EventBus on Kafka. Payloads are written as-is so
// non-Go consumers of the outcome topics read plain JSON records.
type KafkaBus struct {
	writer *kafka.Writer
	config domain.KafkaConfig

	mu            sync.Mutex
	subscriptions map[string]*kafkaSubscription
	closed        atomic.Bool
}

type kafkaSubscription struct {
	id     string
	topic  string
	reader *kafka.Reader
	cancel context.CancelFunc
	done   chan struct{}
	bus    *KafkaBus
}

// NewKafkaBus creates a Kafka-backed event bus. No connection is made
// until the first publish or subscribe.
func NewKafkaBus(cfg domain.KafkaConfig) (*KafkaBus, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("%w: kafka brokers are required", domain.ErrInvalidInput)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "fraudgate"
	}
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = "fraud-detection-service"
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           cfg.BatchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		AllowAutoTopicCreation: true,
		Transport: &kafka.Transport{
			ClientID: cfg.ClientID,
		},
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			slog.Error(fmt.Sprintf(msg, args...), "component", "kafka-writer")
		}),
	}

	slog.Info("kafka bus initialized",
		"brokers", cfg.Brokers,
		"client_id", cfg.ClientID,
		"group", cfg.ConsumerGroup,
	)

	return &KafkaBus{
		writer:        writer,
		config:        cfg,
		subscriptions: make(map[string]*kafkaSubscription),
	}, nil
}

// Publish writes payload to topic, keyed by key, retrying transient
// failures with exponential backoff.
func (b *KafkaBus) Publish(ctx context.Context, topic string, key string, payload []byte) error {
	if b.closed.Load() {
		return domain.ErrClosed
	}

	msg := kafka.Message{
		Topic: topic,
		Value: payload,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: headerMessageID, Value: []byte(uuid.New().String())},
		},
	}
	if key != "" {
		msg.Key = []byte(key)
	}

	var lastErr error
	backoff := b.config.RetryBackoff

	for attempt := 0; attempt <= b.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := b.writer.WriteMessages(ctx, msg)
		if err == nil {
			return nil
		}
		lastErr = err

		slog.Warn("kafka publish failed",
			"topic", topic,
			"attempt", attempt+1,
			"max_attempts", b.config.MaxRetries+1,
			"error", err,
		)

		if isNonRetryableError(err) {
			return fmt.Errorf("kafka: non-retryable error: %w", err)
		}
	}

	return fmt.Errorf("kafka: failed after %d attempts: %w", b.config.MaxRetries+1, lastErr)
}

// Subscribe starts a consumer-group reader for topic. Offsets are
// committed only after the handler succeeds.
func (b *KafkaBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if b.closed.Load() {
		return nil, domain.ErrClosed
	}

	startOffset := kafka.LastOffset
	if b.config.StartOffset == "first" {
		startOffset = kafka.FirstOffset
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        b.config.Brokers,
		GroupID:        b.config.ConsumerGroup,
		Topic:          topic,
		MinBytes:       b.config.MinBytes,
		MaxBytes:       b.config.MaxBytes,
		MaxWait:        b.config.MaxWait,
		StartOffset:    startOffset,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			slog.Error(fmt.Sprintf(msg, args...), "component", "kafka-reader", "topic", topic)
		}),
	})

	subCtx, cancel := context.WithCancel(ctx)
	sub := &kafkaSubscription{
		id:     uuid.New().String(),
		topic:  topic,
		reader: reader,
		cancel: cancel,
		done:   make(chan struct{}),
		bus:    b,
	}

	b.mu.Lock()
	b.subscriptions[sub.id] = sub
	b.mu.Unlock()

	go sub.consume(subCtx, handler)

	slog.Info("kafka subscription started",
		"topic", topic,
		"group", b.config.ConsumerGroup,
	)

	return sub, nil
}

func (s *kafkaSubscription) consume(ctx context.Context, handler domain.MessageHandler) {
	defer close(s.done)

	for {
		km, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			slog.Error("failed to fetch message", "topic", s.topic, "error", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
				continue
			}
		}

		msg := &domain.Message{
			ID:        messageID(km),
			Topic:     km.Topic,
			Key:       string(km.Key),
			Payload:   km.Value,
			Metadata:  make(map[string]string, len(km.Headers)),
			Timestamp: km.Time.UnixNano(),
		}
		for _, h := range km.Headers {
			msg.Metadata[h.Key] = string(h.Value)
		}

		if err := handler(ctx, msg); err != nil {
			slog.Error("failed to process message",
				"topic", km.Topic,
				"partition", km.Partition,
				"offset", km.Offset,
				"error", err,
			)
			continue
		}

		if err := s.reader.CommitMessages(ctx, km); err != nil && ctx.Err() == nil {
			slog.Error("failed to commit offset", "topic", km.Topic, "offset", km.Offset, "error", err)
		}
	}
}

func messageID(km kafka.Message) string {
	for _, h := range km.Headers {
		if h.Key == headerMessageID {
			return string(h.Value)
		}
	}
	return fmt.Sprintf("%s-%d-%d", km.Topic, km.Partition, km.Offset)
}

// Ping dials the first reachable broker.
func (b *KafkaBus) Ping(ctx context.Context) error {
	if b.closed.Load() {
		return domain.ErrClosed
	}

	var dialer net.Dialer
	var lastErr error
	for _, broker := range b.config.Brokers {
		conn, err := dialer.DialContext(ctx, "tcp", broker)
		if err == nil {
			return conn.Close()
		}
		lastErr = err
	}
	return fmt.Errorf("kafka: no broker reachable: %w", lastErr)
}

// Close stops every subscription and flushes the writer.
func (b *KafkaBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	subs := make([]*kafkaSubscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}
	b.subscriptions = make(map[string]*kafkaSubscription)
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.stop()
	}

	if err := b.writer.Close(); err != nil {
		return fmt.Errorf("kafka: failed to close writer: %w", err)
	}
	return nil
}

func (s *kafkaSubscription) stop() error {
	s.cancel()
	<-s.done
	return s.reader.Close()
}

// Unsubscribe stops the reader and leaves the consumer group.
func (s *kafkaSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subscriptions, s.id)
	s.bus.mu.Unlock()
	return s.stop()
}

// Topic returns the subscribed topic.
func (s *kafkaSubscription) Topic() string {
	return s.topic
}

// isNonRetryableError checks if an error should not be retried.
func isNonRetryableError(err error) bool {
	switch {
	case errors.Is(err, kafka.MessageSizeTooLarge),
		errors.Is(err, kafka.InvalidTopic),
		errors.Is(err, kafka.TopicAuthorizationFailed),
		errors.Is(err, kafka.ClusterAuthorizationFailed):
		return true
	}
	return false
}
