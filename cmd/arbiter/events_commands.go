package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	natspkg "github.com/brojonat/arbiter/service/nats"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

func eventsCommands() *cli.Command {
	typeFlag := &cli.StringFlag{
		Name:    "type",
		Aliases: []string{"t"},
		Usage:   "Event type prefix, e.g. escrow or escrow.resolved",
	}
	jqFlag := &cli.StringSliceFlag{
		Name:    "must-jq",
		Aliases: []string{"jq"},
		Usage:   "jq filter over each event that must evaluate to true (repeatable)",
	}
	return &cli.Command{
		Name:  "events",
		Usage: "Stream committed ledger events",
		Subcommands: []*cli.Command{
			{
				Name:  "stream",
				Usage: "Stream events from the server via SSE",
				Flags: []cli.Flag{typeFlag, jqFlag},
				Action: func(c *cli.Context) error {
					filter, err := newJQFilter(c.StringSlice("must-jq"))
					if err != nil {
						return err
					}
					ctx, cancel := interruptContext(c.Context)
					defer cancel()
					return streamSSE(ctx, c.String("server-url"), c.String("type"), filter, c.Bool("json"), os.Stdout)
				},
			},
			{
				Name:  "subscribe",
				Usage: "Consume events straight from NATS JetStream",
				Description: `Consume events from the LEDGER_EVENTS stream.

Events are published to the subject events.{type}, e.g. events.escrow.resolved.

Example:
  arbiter events subscribe --type escrow --durable --consumer-name escrow-watcher`,
				Flags: []cli.Flag{
					typeFlag,
					jqFlag,
					&cli.BoolFlag{
						Name:    "durable",
						Aliases: []string{"d"},
						Usage:   "Create a durable consumer (survives restarts)",
					},
					&cli.StringFlag{
						Name:  "consumer-name",
						Usage: "Consumer name (required for durable)",
						Value: "arbiter-cli",
					},
				},
				Action: func(c *cli.Context) error {
					filter, err := newJQFilter(c.StringSlice("must-jq"))
					if err != nil {
						return err
					}
					ctx, cancel := interruptContext(c.Context)
					defer cancel()
					return subscribeNATS(ctx, c.String("nats-url"), c.String("type"),
						c.Bool("durable"), c.String("consumer-name"), filter, c.Bool("json"))
				},
			},
		},
	}
}

// interruptContext is cancelled on SIGINT or SIGTERM.
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func streamSSE(ctx context.Context, serverURL, eventType string, filter *jqFilter, jsonOutput bool, out io.Writer) error {
	endpoint := serverURL + "/api/v1/events/stream"
	if eventType != "" {
		endpoint += "?type=" + url.QueryEscape(eventType)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// No timeout for streaming
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to SSE endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	err = readSSE(resp.Body, func(event, data string) error {
		switch event {
		case "connected":
			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "✓ Connected, streaming events... (Ctrl+C to stop)\n\n")
			}
		case "ledger_event":
			if !filter.MatchJSON([]byte(data)) {
				return nil
			}
			if jsonOutput {
				fmt.Fprintln(out, data)
				return nil
			}
			var e natspkg.LedgerEvent
			if err := json.Unmarshal([]byte(data), &e); err != nil {
				return err
			}
			printEvent(out, &e)
		case "error":
			var info map[string]interface{}
			if err := json.Unmarshal([]byte(data), &info); err != nil {
				return err
			}
			return fmt.Errorf("server error: %v", info["error"])
		}
		return nil
	})
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// readSSE calls handle for every complete event in r. Comment lines, such as
// keepalives, are skipped.
func readSSE(r io.Reader, handle func(event, data string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var event string
	var data []string

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event != "" && len(data) > 0 {
				if err := handle(event, strings.Join(data, "\n")); err != nil {
					return err
				}
			}
			event, data = "", nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading SSE stream: %w", err)
	}
	return nil
}

func subscribeNATS(ctx context.Context, natsURL, eventType string, durable bool, consumerName string, filter *jqFilter, jsonOutput bool) error {
	subjects, err := natspkg.FilterSubjects(eventType)
	if err != nil {
		return err
	}

	nc, js, err := natspkg.Connect(natsURL, "arbiter-cli")
	if err != nil {
		return err
	}
	defer nc.Close()

	if !jsonOutput {
		fmt.Printf("📡 Subscribing to: %s\n", strings.Join(subjects, ", "))
		fmt.Printf("   NATS: %s\n", natsURL)
		if durable {
			fmt.Printf("   Consumer: %s (durable)\n", consumerName)
		}
		fmt.Printf("\nWaiting for events... (Ctrl-C to exit)\n\n")
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubjects: subjects,
		AckPolicy:      jetstream.AckExplicitPolicy,
	}
	if durable {
		consumerConfig.Durable = consumerName
		consumerConfig.Name = consumerName
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	var count atomic.Int64
	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		defer msg.Ack()
		if !filter.MatchJSON(msg.Data()) {
			return
		}
		if jsonOutput {
			fmt.Println(string(msg.Data()))
			return
		}
		var event natspkg.LedgerEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
			return
		}
		count.Add(1)
		printEvent(os.Stdout, &event)
	})
	if err != nil {
		return fmt.Errorf("failed to consume: %w", err)
	}
	defer consumeCtx.Stop()

	<-ctx.Done()
	if !jsonOutput {
		fmt.Printf("\n\n✅ Received %d events\n", count.Load())
	}
	return nil
}

func printEvent(out io.Writer, e *natspkg.LedgerEvent) {
	fmt.Fprintln(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintf(out, "Type:       %s\n", e.Type)
	fmt.Fprintf(out, "Signature:  %s\n", e.Signature)
	fmt.Fprintf(out, "Slot:       %d\n", e.Slot)
	if !e.Timestamp.IsZero() {
		fmt.Fprintf(out, "Time:       %s\n", e.Timestamp.Format(time.RFC3339))
	}
	keys := make([]string, 0, len(e.Attributes))
	for k := range e.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "  %-10s %s\n", k+":", e.Attributes[k])
	}
}
