package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/arbiter/service/metrics"
	natspkg "github.com/brojonat/arbiter/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// SSEPublisher manages Server-Sent Events connections for ledger event streaming.
type SSEPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewSSEPublisher creates a new SSE publisher that subscribes to NATS internally.
func NewSSEPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*SSEPublisher, error) {
	nc, js, err := natspkg.Connect(natsURL, "arbiter-sse-publisher")
	if err != nil {
		return nil, err
	}

	logger.Info("SSE publisher initialized", "nats_url", natsURL)

	return &SSEPublisher{
		nc:      nc,
		js:      js,
		metrics: m,
		logger:  logger,
	}, nil
}

// Close closes the NATS connection.
func (p *SSEPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("SSE publisher closed")
	}
	return nil
}

// handleStreamEvents handles SSE streaming of committed ledger events.
// GET /api/v1/events/stream?type=escrow
// The type filter matches an event type prefix; without it every event is streamed.
func handleStreamEvents(publisher *SSEPublisher, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		eventType := r.URL.Query().Get("type")
		subjects, err := natspkg.FilterSubjects(eventType)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}

		logger.DebugContext(r.Context(), "SSE client connected",
			"subjects", subjects,
			"remote_addr", r.RemoteAddr,
		)
		if publisher.metrics != nil {
			publisher.metrics.RecordSSEConnectionChange(1)
			defer publisher.metrics.RecordSSEConnectionChange(-1)
		}

		// Ephemeral consumer, deleted when the connection closes.
		cons, err := publisher.js.CreateOrUpdateConsumer(r.Context(), natspkg.StreamName, jetstream.ConsumerConfig{
			FilterSubjects: subjects,
			AckPolicy:      jetstream.AckExplicitPolicy,
			DeliverPolicy:  jetstream.DeliverNewPolicy,
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to create consumer",
				"subjects", subjects,
				"error", err,
			)
			fmt.Fprintf(w, "event: error\ndata: {\"error\": \"failed to subscribe\"}\n\n")
			return
		}

		msgChan := make(chan jetstream.Msg, 10)
		doneChan := make(chan struct{})

		go func() {
			defer close(doneChan)
			cc, err := cons.Consume(func(msg jetstream.Msg) {
				select {
				case msgChan <- msg:
				case <-r.Context().Done():
					return
				}
			})
			if err != nil {
				logger.ErrorContext(r.Context(), "failed to start consuming messages",
					"error", err,
				)
				return
			}
			<-r.Context().Done()
			cc.Stop()
		}()

		connected, _ := json.Marshal(map[string][]string{"subjects": subjects})
		fmt.Fprintf(w, "event: connected\ndata: %s\n\n", connected)
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}

		keepalive := time.NewTicker(10 * time.Second)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				if flusher, ok := w.(http.Flusher); ok {
					flusher.Flush()
				}

			case msg := <-msgChan:
				var event natspkg.LedgerEvent
				if err := json.Unmarshal(msg.Data(), &event); err != nil {
					logger.WarnContext(r.Context(), "failed to unmarshal event",
						"error", err,
					)
					msg.Ack()
					continue
				}

				fmt.Fprintf(w, "event: ledger_event\ndata: %s\n\n", string(msg.Data()))
				if flusher, ok := w.(http.Flusher); ok {
					flusher.Flush()
				}
				msg.Ack()

				if publisher.metrics != nil {
					publisher.metrics.RecordSSEEventSent(event.Type)
				}
				logger.DebugContext(r.Context(), "sent ledger event",
					"type", event.Type,
					"signature", event.Signature,
				)

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected",
					"subjects", subjects,
					"remote_addr", r.RemoteAddr,
				)
				return

			case <-doneChan:
				return
			}
		}
	})
}
