// Package notify publishes live notifications to connected observers.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/opensource-finance/fraudgate/internal/domain"
	"github.com/opensource-finance/fraudgate/internal/metrics"
)

const opQueueSize = 256

type opKind uint8

const (
	opPublish opKind = iota
	opSubscribe
	opUnsubscribe
)

// op is one request to the hub loop. Publishes and membership changes share
// a single queue so a subscriber only sees notifications queued after it.
type op struct {
	kind         opKind
	notification domain.Notification
	sub          *Subscription
}

// Hub fans notifications out to subscribers. A single goroutine owns the
// subscriber set; each subscriber has a bounded buffer and is disconnected
// when it falls behind, so publishing never blocks on a slow client.
type Hub struct {
	cfg      domain.NotifyConfig
	bus      domain.EventBus
	metrics  *metrics.Metrics
	validate *validator.Validate
	now      func() time.Time

	ops  chan op
	done chan struct{}
	stop context.CancelFunc

	// mu orders history appends with queueing so history and streams agree.
	mu      sync.Mutex
	closed  bool
	history *ring

	subscribers atomic.Int64
}

// NewHub creates a hub. bus may be nil to disable mirroring.
func NewHub(cfg domain.NotifyConfig, bus domain.EventBus, m *metrics.Metrics) *Hub {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 500
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = 64
	}
	return &Hub{
		cfg:      cfg,
		bus:      bus,
		metrics:  m,
		validate: newValidator(),
		now:      time.Now,
		ops:      make(chan op, opQueueSize),
		done:     make(chan struct{}),
		history:  newRing(cfg.HistorySize),
	}
}

// Start runs the fan-out loop until ctx is cancelled or Close is called.
func (h *Hub) Start(ctx context.Context) {
	ctx, h.stop = context.WithCancel(ctx)
	go h.run(ctx)
	slog.Info("notification hub started",
		"history_size", h.cfg.HistorySize,
		"subscriber_buffer", h.cfg.SubscriberBuffer,
	)
}

// Close stops the loop and disconnects every subscriber. Publish fails
// with domain.ErrClosed once Close has been called.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	if h.stop != nil {
		h.stop()
		<-h.done
	}
	return nil
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)

	subs := make(map[*Subscription]struct{})
	for {
		select {
		case <-ctx.Done():
			for sub := range subs {
				h.drop(subs, sub, false)
			}
			return

		case o := <-h.ops:
			switch o.kind {
			case opSubscribe:
				subs[o.sub] = struct{}{}
				h.subscribers.Add(1)
				h.metrics.SubscriberAdded()
				slog.Debug("notification subscriber connected", "subscriber_id", o.sub.id)
			case opUnsubscribe:
				if _, ok := subs[o.sub]; ok {
					h.drop(subs, o.sub, false)
				}
			case opPublish:
				h.broadcast(subs, o.notification)
			}
		}
	}
}

func (h *Hub) broadcast(subs map[*Subscription]struct{}, n domain.Notification) {
	for sub := range subs {
		select {
		case sub.ch <- n:
		default:
			slog.Warn("notification subscriber too slow, disconnecting",
				"subscriber_id", sub.id,
				"buffer", cap(sub.ch),
			)
			h.drop(subs, sub, true)
		}
	}
}

func (h *Hub) drop(subs map[*Subscription]struct{}, sub *Subscription, overflow bool) {
	delete(subs, sub)
	sub.overflowed.Store(overflow)
	close(sub.ch)
	h.subscribers.Add(-1)
	h.metrics.SubscriberRemoved(overflow)
}

// Publish validates the request, assigns an id and timestamp, records it
// in the history and queues it for every connected subscriber.
func (h *Hub) Publish(ctx context.Context, req domain.NotificationRequest) (*domain.Notification, error) {
	if err := h.check(req); err != nil {
		return nil, err
	}

	n := domain.Notification{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		Type:      strings.ToLower(strings.TrimSpace(req.Type)),
		Message:   req.Message,
		Timestamp: h.now().UTC(),
	}
	if n.Type == "" {
		n.Type = domain.NotifyInfo
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, domain.ErrClosed
	}
	if err := h.send(ctx, op{kind: opPublish, notification: n}); err != nil {
		h.mu.Unlock()
		return nil, err
	}
	h.history.push(n)
	h.mu.Unlock()

	h.metrics.NotificationPublished(n.Type)
	h.mirror(ctx, n)
	return &n, nil
}

func (h *Hub) check(req domain.NotificationRequest) error {
	err := h.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	verr := domain.NewValidationError()
	for _, fe := range fieldErrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			verr.Add(field, "is required")
		case "max":
			verr.Add(field, "must be at most "+fe.Param()+" characters")
		default:
			verr.Add(field, "failed "+fe.Tag()+" validation")
		}
	}
	return verr
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})
	return v
}

// mirror copies the notification onto the bus. Failures only cost the
// mirror, never the live stream.
func (h *Hub) mirror(ctx context.Context, n domain.Notification) {
	if h.bus == nil || h.cfg.MirrorTopic == "" {
		return
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return
	}
	if err := h.bus.Publish(ctx, h.cfg.MirrorTopic, n.ID, payload); err != nil {
		h.metrics.PublishFailure(h.cfg.MirrorTopic)
		slog.Warn("notification mirror failed",
			"notification_id", n.ID,
			"topic", h.cfg.MirrorTopic,
			"error", err,
		)
	}
}

func (h *Hub) send(ctx context.Context, o op) error {
	// A stopped loop never drains ops, so check done before queueing.
	select {
	case <-h.done:
		return domain.ErrClosed
	default:
	}
	select {
	case h.ops <- o:
		return nil
	case <-h.done:
		return domain.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe connects a new observer. It starts with an empty backlog and
// receives every notification published afterwards, in order. The
// subscription ends when ctx is cancelled, Unsubscribe is called, or the
// subscriber falls behind.
func (h *Hub) Subscribe(ctx context.Context) (*Subscription, error) {
	sub := &Subscription{
		id:  uuid.New().String(),
		ch:  make(chan domain.Notification, h.cfg.SubscriberBuffer),
		hub: h,
	}

	if err := h.send(ctx, op{kind: opSubscribe, sub: sub}); err != nil {
		return nil, err
	}

	context.AfterFunc(ctx, func() {
		_ = sub.Unsubscribe()
	})
	return sub, nil
}

// Recent returns the notification history, oldest first.
func (h *Hub) Recent() []domain.Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.history.items()
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	return int(h.subscribers.Load())
}

// Heartbeat returns the configured keep-alive interval.
func (h *Hub) Heartbeat() time.Duration {
	return h.cfg.Heartbeat
}

// Subscription is one connected observer.
type Subscription struct {
	id         string
	ch         chan domain.Notification
	hub        *Hub
	once       sync.Once
	overflowed atomic.Bool
}

// ID identifies the subscription in logs.
func (s *Subscription) ID() string { return s.id }

// Events delivers notifications. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan domain.Notification { return s.ch }

// Overflowed reports whether the hub disconnected the subscriber because
// its buffer was full.
func (s *Subscription) Overflowed() bool { return s.overflowed.Load() }

// Unsubscribe disconnects the subscriber. It is safe to call more than once.
func (s *Subscription) Unsubscribe() error {
	s.once.Do(func() {
		// The hub may already be gone; then the loop closed the channel.
		_ = s.hub.send(context.Background(), op{kind: opUnsubscribe, sub: s})
	})
	return nil
}

// ring is a fixed-capacity FIFO that overwrites its oldest entry.
type ring struct {
	buf   []domain.Notification
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]domain.Notification, capacity)}
}

func (r *ring) push(n domain.Notification) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = n
		r.size++
		return
	}
	r.buf[r.start] = n
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) items() []domain.Notification {
	out := make([]domain.Notification, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
