package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/arbiter/service/ledger"
	"github.com/brojonat/arbiter/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher defines the interface for publishing ledger events to NATS.
type Publisher interface {
	// PublishEvent publishes a single event to JetStream.
	PublishEvent(ctx context.Context, event *LedgerEvent) error

	// PublishReceipt publishes every event of a committed receipt.
	PublishReceipt(ctx context.Context, receipt *ledger.Receipt) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes ledger events to NATS JetStream.
type JetStreamPublisher struct {
	nc     *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

const (
	// StreamName is the name of the JetStream stream for ledger events.
	StreamName = "LEDGER_EVENTS"

	// SubjectPrefix prefixes the event type to form the subject.
	SubjectPrefix = "events."

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "events.>"

	// StreamRetention is how long messages are retained (30 days by default).
	StreamRetention = 30 * 24 * time.Hour
)

// Connect dials NATS with the reconnect settings shared by the publisher and
// the SSE consumer.
func Connect(natsURL, name string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return nc, js, nil
}

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists.
func NewPublisher(natsURL string, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, js, err := Connect(natsURL, "arbiter-publisher")
	if err != nil {
		return nil, err
	}

	publisher := &JetStreamPublisher{
		nc:     nc,
		js:     js,
		logger: logger,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// WithMetrics records publish outcomes on m.
func (p *JetStreamPublisher) WithMetrics(m *metrics.Metrics) *JetStreamPublisher {
	p.metrics = m
	return p
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := p.js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)

	_, err = p.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Program events from committed ledger transactions",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// PublishEvent publishes a single event. The event id is used as the JetStream
// message id, so a republished event is dropped by the server.
func (p *JetStreamPublisher) PublishEvent(ctx context.Context, event *LedgerEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger event: %w", err)
	}

	start := time.Now()
	_, err = p.js.Publish(ctx, event.Subject(), data, jetstream.WithMsgID(event.ID))
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordNATSPublish(event.Subject(), status, time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("published ledger event",
		"subject", event.Subject(),
		"signature", event.Signature,
	)

	return nil
}

// PublishReceipt publishes the events of a receipt. A failed event is logged
// and skipped; the transaction is already committed.
func (p *JetStreamPublisher) PublishReceipt(ctx context.Context, receipt *ledger.Receipt) error {
	events := FromReceipt(receipt)
	if len(events) == 0 {
		return nil
	}

	for _, event := range events {
		if err := p.PublishEvent(ctx, event); err != nil {
			p.logger.Error("failed to publish event in receipt",
				"signature", event.Signature,
				"type", event.Type,
				"error", err,
			)
			continue
		}
	}

	p.logger.Debug("published receipt events",
		"signature", receipt.Signature.String(),
		"count", len(events),
	)

	return nil
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
