// fraudctl is the operator CLI for Fraudgate.
//
// Usage:
//
//	fraudctl publish [-config file] <topic> <type> [json]
//	fraudctl replay -csv applications.csv [-url http://localhost:8081] [-workers 10]
//	fraudctl watch [-url http://localhost:8081] [-reconnect]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

const defaultURL = "http://localhost:8081"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "publish":
		err = runPublish(ctx, os.Args[2:])
	case "replay":
		err = runReplay(ctx, os.Args[2:])
	case "watch":
		err = runWatch(ctx, os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: fraudctl <command> [flags]")
	fmt.Fprintln(os.Stderr, "\nCommands:")
	fmt.Fprintln(os.Stderr, "  publish <topic> <type> [json]  Publish an event onto the configured bus")
	fmt.Fprintln(os.Stderr, "  replay -csv file               Screen CSV rows through the API")
	fmt.Fprintln(os.Stderr, "  watch                          Print live notifications")
	fmt.Fprintln(os.Stderr, "\nExamples:")
	fmt.Fprintln(os.Stderr, `  fraudctl publish applications.events loan '{"amount":15000}'`)
	fmt.Fprintln(os.Stderr, `  fraudctl publish orders.events order.created '{"orderId":"123","amount":1500}'`)
	fmt.Fprintln(os.Stderr, `  fraudctl publish payments.events payment.failed '{"paymentId":"456","reason":"Insufficient funds"}'`)
	fmt.Fprintln(os.Stderr, `  fraudctl publish inventory.events inventory.low '{"productId":"789","productName":"Widget","currentStock":5}'`)
}
