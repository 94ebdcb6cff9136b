package notify

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/opensource-finance/fraudgate/internal/domain"
)

// EventName is the SSE event name of every notification.
const EventName = "notification"

// WriteEvent encodes one notification as a server-sent event.
func WriteEvent(w io.Writer, n domain.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", n.ID, EventName, data)
	return err
}

// WriteComment writes an SSE comment line, used as a keep-alive.
func WriteComment(w io.Writer, text string) error {
	text = strings.ReplaceAll(text, "\n", " ")
	_, err := fmt.Fprintf(w, ": %s\n\n", text)
	return err
}

// ServeHTTP streams notifications to one client as server-sent events
// until the client goes away or falls behind.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub, err := h.Subscribe(r.Context())
	if err != nil {
		http.Error(w, "notification stream unavailable", http.StatusServiceUnavailable)
		return
	}
	defer sub.Unsubscribe()

	// Streams outlive the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := WriteComment(w, "connected"); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := h.cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case n, open := <-sub.Events():
			if !open {
				if sub.Overflowed() {
					slog.Warn("notification stream closed for slow client", "subscriber_id", sub.ID())
				}
				return
			}
			if err := WriteEvent(w, n); err != nil {
				slog.Debug("notification stream write failed", "subscriber_id", sub.ID(), "error", err)
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if err := WriteComment(w, "heartbeat"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
