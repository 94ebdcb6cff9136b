package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/fraudgate/internal/domain"
	"github.com/opensource-finance/fraudgate/internal/notify"
)

func runWatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	baseURL := fs.String("url", defaultURL, "Fraudgate base URL")
	reconnect := fs.Bool("reconnect", false, "Reconnect after the stream drops")
	backoff := fs.Duration("backoff", 2*time.Second, "Delay before reconnecting")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client := notify.NewClient(strings.TrimRight(*baseURL, "/")+"/api/notifications/stream", nil)
	fmt.Printf("watching %s\n", *baseURL)

	for {
		err := client.Watch(ctx, printNotification)
		if ctx.Err() != nil {
			return nil
		}
		if !errors.Is(err, notify.ErrDisconnected) {
			return err
		}

		fmt.Printf("disconnected: %v\n", err)
		if !*reconnect {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(*backoff):
		}
	}
}

func printNotification(n domain.Notification) {
	fmt.Println(formatNotification(n))
}

func formatNotification(n domain.Notification) string {
	user := n.UserID
	if user == "" {
		user = "-"
	}
	return fmt.Sprintf("%s [%-7s] %s: %s",
		n.Timestamp.Local().Format("15:04:05"), strings.ToUpper(n.Type), user, n.Message)
}
