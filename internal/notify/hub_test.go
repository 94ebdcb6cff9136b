package notify

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/fraudgate/internal/bus"
	"github.com/opensource-finance/fraudgate/internal/domain"
)

func newTestHub(t *testing.T, cfg domain.NotifyConfig, b domain.EventBus) *Hub {
	t.Helper()
	h := NewHub(cfg, b, nil)
	h.Start(context.Background())
	t.Cleanup(func() { h.Close() })
	return h
}

func receive(t *testing.T, sub *Subscription) domain.Notification {
	t.Helper()
	select {
	case n, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return n
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for notification")
	}
	return domain.Notification{}
}

func TestHubPublish(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t, domain.NotifyConfig{}, nil)

	t.Run("AssignsIDAndDefaults", func(t *testing.T) {
		n, err := h.Publish(ctx, domain.NotificationRequest{UserID: "u1", Message: "hello"})
		if err != nil {
			t.Fatalf("publish failed: %v", err)
		}
		if n.ID == "" {
			t.Error("expected id to be assigned")
		}
		if n.Type != domain.NotifyInfo {
			t.Errorf("expected default type info, got %s", n.Type)
		}
		if n.Timestamp.IsZero() {
			t.Error("expected timestamp")
		}
	})

	t.Run("RejectsEmptyMessage", func(t *testing.T) {
		_, err := h.Publish(ctx, domain.NotificationRequest{UserID: "u1"})
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if _, ok := verr.Fields["message"]; !ok {
			t.Errorf("expected message field error, got %v", verr.Fields)
		}
	})

	t.Run("UniqueIDs", func(t *testing.T) {
		a, _ := h.Publish(ctx, domain.NotificationRequest{Message: "same"})
		b, _ := h.Publish(ctx, domain.NotificationRequest{Message: "same"})
		if a.ID == b.ID {
			t.Error("expected distinct ids")
		}
	})
}

func TestHubFanOut(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t, domain.NotifyConfig{SubscriberBuffer: 16}, nil)

	before, _ := h.Publish(ctx, domain.NotificationRequest{Message: "before"})

	sub1, err := h.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	sub2, _ := h.Subscribe(ctx)

	for i := 0; i < 3; i++ {
		h.Publish(ctx, domain.NotificationRequest{Message: fmt.Sprintf("msg-%d", i)})
	}

	for _, sub := range []*Subscription{sub1, sub2} {
		for i := 0; i < 3; i++ {
			n := receive(t, sub)
			if n.ID == before.ID {
				t.Fatal("new subscribers must not receive earlier notifications")
			}
			if want := fmt.Sprintf("msg-%d", i); n.Message != want {
				t.Errorf("expected %s in order, got %s", want, n.Message)
			}
		}
	}

	sub1.Unsubscribe()
	h.Publish(ctx, domain.NotificationRequest{Message: "after"})

	if n := receive(t, sub2); n.Message != "after" {
		t.Errorf("remaining subscriber should keep receiving, got %s", n.Message)
	}
	if _, open := <-sub1.Events(); open {
		t.Error("expected unsubscribed channel to be closed")
	}
}

func TestHubDisconnectsSlowSubscriber(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t, domain.NotifyConfig{SubscriberBuffer: 2}, nil)

	slow, _ := h.Subscribe(ctx)
	fast, _ := h.Subscribe(ctx)

	for i := 0; i < 5; i++ {
		if _, err := h.Publish(ctx, domain.NotificationRequest{Message: fmt.Sprintf("burst-%d", i)}); err != nil {
			t.Fatalf("publish must not fail on a slow subscriber: %v", err)
		}
		if n := receive(t, fast); n.Message != fmt.Sprintf("burst-%d", i) {
			t.Errorf("fast subscriber got %s out of order", n.Message)
		}
	}

	drained := 0
	for range slow.Events() {
		drained++
	}
	if drained != 2 {
		t.Errorf("slow subscriber should keep only its buffer, got %d", drained)
	}
	if !slow.Overflowed() {
		t.Error("expected slow subscriber to be marked overflowed")
	}
	if fast.Overflowed() {
		t.Error("fast subscriber must stay connected")
	}
}

func TestHubUnsubscribeOnContextCancel(t *testing.T) {
	h := newTestHub(t, domain.NotifyConfig{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	sub, _ := h.Subscribe(ctx)
	cancel()

	select {
	case _, open := <-sub.Events():
		if open {
			t.Error("expected channel to close after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription not released after cancel")
	}

	deadline := time.Now().Add(time.Second)
	for h.Subscribers() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.Subscribers() != 0 {
		t.Errorf("expected 0 subscribers, got %d", h.Subscribers())
	}
}

func TestHubHistory(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t, domain.NotifyConfig{HistorySize: 3}, nil)

	for i := 0; i < 5; i++ {
		h.Publish(ctx, domain.NotificationRequest{Message: fmt.Sprintf("n%d", i)})
	}

	recent := h.Recent()
	if len(recent) != 3 {
		t.Fatalf("expected 3 retained, got %d", len(recent))
	}
	for i, want := range []string{"n2", "n3", "n4"} {
		if recent[i].Message != want {
			t.Errorf("position %d: expected %s, got %s", i, want, recent[i].Message)
		}
	}
}

func TestHubMirror(t *testing.T) {
	ctx := context.Background()
	b := bus.NewChannelBus(10)
	defer b.Close()

	mirrored := make(chan *domain.Message, 1)
	b.Subscribe(ctx, domain.TopicNotifications, func(ctx context.Context, msg *domain.Message) error {
		mirrored <- msg
		return nil
	})

	h := newTestHub(t, domain.NotifyConfig{MirrorTopic: domain.TopicNotifications}, b)
	n, _ := h.Publish(ctx, domain.NotificationRequest{Message: "mirror me"})

	select {
	case msg := <-mirrored:
		if msg.Key != n.ID {
			t.Errorf("expected key %s, got %s", n.ID, msg.Key)
		}
		if !strings.Contains(string(msg.Payload), "mirror me") {
			t.Errorf("unexpected payload: %s", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for mirrored notification")
	}
}

func TestHubClosed(t *testing.T) {
	h := NewHub(domain.NotifyConfig{}, nil, nil)
	h.Start(context.Background())
	h.Close()

	if _, err := h.Subscribe(context.Background()); !errors.Is(err, domain.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestHubPublishAfterClose(t *testing.T) {
	h := NewHub(domain.NotifyConfig{}, nil, nil)
	h.Start(context.Background())

	if _, err := h.Publish(context.Background(), domain.NotificationRequest{Message: "before"}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	h.Close()

	for i := 0; i < 50; i++ {
		n, err := h.Publish(context.Background(), domain.NotificationRequest{Message: "after"})
		if !errors.Is(err, domain.ErrClosed) {
			t.Fatalf("publish %d: expected ErrClosed, got %v", i, err)
		}
		if n != nil {
			t.Fatalf("publish %d: expected no notification, got %+v", i, n)
		}
	}

	if got := len(h.Recent()); got != 1 {
		t.Errorf("expected history to stay at 1, got %d", got)
	}
}

func TestHubCloseBeforeStart(t *testing.T) {
	h := NewHub(domain.NotifyConfig{}, nil, nil)
	h.Close()

	if _, err := h.Publish(context.Background(), domain.NotificationRequest{Message: "x"}); !errors.Is(err, domain.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if got := len(h.Recent()); got != 0 {
		t.Errorf("expected empty history, got %d", got)
	}
}

func TestStreamAndClient(t *testing.T) {
	h := newTestHub(t, domain.NotifyConfig{Heartbeat: 20 * time.Millisecond}, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	t.Run("RawStream", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
			t.Errorf("expected text/event-stream, got %s", ct)
		}

		reader := bufio.NewReader(resp.Body)
		if line, _ := reader.ReadString('\n'); !strings.HasPrefix(line, ": connected") {
			t.Fatalf("expected connected comment, got %q", line)
		}

		n, _ := h.Publish(context.Background(), domain.NotificationRequest{Message: "streamed"})

		var sawEvent, sawData bool
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) && !(sawEvent && sawData) {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read failed: %v", err)
			}
			if line == "event: notification\n" {
				sawEvent = true
			}
			if strings.HasPrefix(line, "data: ") && strings.Contains(line, n.ID) {
				sawData = true
			}
		}
		if !sawEvent || !sawData {
			t.Error("expected a notification event carrying the published id")
		}
	})

	t.Run("ClientDeduplicates", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		got := make(chan domain.Notification, 10)
		client := NewClient(srv.URL, nil)
		errCh := make(chan error, 1)
		go func() {
			errCh <- client.Watch(ctx, func(n domain.Notification) { got <- n })
		}()

		// The stream subscribes asynchronously; publish until it is live.
		published := make(map[string]bool)
		var rendered domain.Notification
	wait:
		for i := 0; i < 40; i++ {
			n, _ := h.Publish(context.Background(), domain.NotificationRequest{Message: "once"})
			published[n.ID] = true
			select {
			case rendered = <-got:
				break wait
			case <-time.After(50 * time.Millisecond):
			}
		}
		if !published[rendered.ID] {
			t.Fatalf("expected one of the published notifications, got %q", rendered.ID)
		}

		cancel()
		select {
		case err := <-errCh:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("expected context.Canceled, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("watch did not return after cancel")
		}
	})
}

func TestClientDisconnected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "id: 1\nevent: notification\ndata: {\"id\":\"1\",\"message\":\"a\"}\n\n")
		fmt.Fprint(w, "id: 1\nevent: notification\ndata: {\"id\":\"1\",\"message\":\"a\"}\n\n")
	}))
	defer srv.Close()

	client := NewClient(srv.URL, nil)
	var count int
	err := client.Watch(context.Background(), func(n domain.Notification) { count++ })
	if !errors.Is(err, ErrDisconnected) {
		t.Errorf("expected ErrDisconnected, got %v", err)
	}
	if count != 1 {
		t.Errorf("expected duplicate id to render once, got %d", count)
	}
	if client.remember("1") {
		t.Error("expected id 1 to be remembered")
	}
}
