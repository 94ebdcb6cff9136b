package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/opensource-finance/fraudgate/internal/domain"
)

// ErrDisconnected is returned by Watch when the stream ends or fails.
var ErrDisconnected = errors.New("notification stream disconnected")

// seenLimit bounds the ids remembered for de-duplication.
const seenLimit = 1024

// Client consumes a notification stream. Each notification id is handed to
// the callback at most once, so replays after a reconnect are harmless.
type Client struct {
	url  string
	http *http.Client

	seen  map[string]struct{}
	order []string
}

// NewClient creates a client for the stream at url.
func NewClient(url string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		url:  url,
		http: httpClient,
		seen: make(map[string]struct{}),
	}
}

// Watch streams notifications into fn until ctx is cancelled or the stream
// breaks. A broken stream is reported as ErrDisconnected; reconnecting is
// up to the caller.
func (c *Client) Watch(ctx context.Context, fn func(domain.Notification)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrDisconnected, resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var event string
	var data strings.Builder

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if data.Len() > 0 && (event == "" || event == EventName) {
				c.dispatch(data.String(), fn)
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// keep-alive
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return ErrDisconnected
}

func (c *Client) dispatch(data string, fn func(domain.Notification)) {
	var n domain.Notification
	if err := json.Unmarshal([]byte(data), &n); err != nil {
		slog.Warn("skipping malformed notification event", "error", err)
		return
	}
	if !c.remember(n.ID) {
		return
	}
	fn(n)
}

// remember records id and reports whether it was new.
func (c *Client) remember(id string) bool {
	if id == "" {
		return true
	}
	if _, dup := c.seen[id]; dup {
		return false
	}
	c.seen[id] = struct{}{}
	c.order = append(c.order, id)
	if len(c.order) > seenLimit {
		delete(c.seen, c.order[0])
		c.order = c.order[1:]
	}
	return true
}
