package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Ledger Metrics
	ledgerTransactionsTotal   *prometheus.CounterVec
	ledgerTransactionDuration *prometheus.HistogramVec
	ledgerConflictsTotal      prometheus.Counter
	ledgerCommitSlot          prometheus.Gauge
	ledgerEventsTotal         *prometheus.CounterVec

	// Arbiter Metrics
	arbiterDecisionsTotal      *prometheus.CounterVec
	arbiterWorkflowDuration    *prometheus.HistogramVec
	arbiterWorkflowsTotal      *prometheus.CounterVec
	arbiterActivityDuration    *prometheus.HistogramVec
	arbiterPendingInteractions prometheus.Gauge
	reasonerCallDuration       *prometheus.HistogramVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections prometheus.Gauge
	sseEventsSent        *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Ledger Metrics
		ledgerTransactionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_transactions_total",
				Help: "Total number of submitted transactions by program and outcome",
			},
			[]string{"program", "status"},
		),
		ledgerTransactionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_transaction_duration_seconds",
				Help:    "Duration of transaction execution and commit in seconds",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"program"},
		),
		ledgerConflictsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_commit_conflicts_total",
				Help: "Total number of commits rejected for stale account versions",
			},
		),
		ledgerCommitSlot: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ledger_commit_slot",
				Help: "Slot of the most recent commit",
			},
		),
		ledgerEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_events_total",
				Help: "Total number of program events committed, by type",
			},
			[]string{"type"},
		),

		// Arbiter Metrics
		arbiterDecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbiter_decisions_total",
				Help: "Total number of arbitration decisions by winner and outcome",
			},
			[]string{"decision", "status"},
		),
		arbiterWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arbiter_workflow_duration_seconds",
				Help:    "Duration of arbitration workflow execution in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		arbiterWorkflowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbiter_workflow_executions_total",
				Help: "Total number of arbitration workflow executions",
			},
			[]string{"status"},
		),
		arbiterActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arbiter_activity_duration_seconds",
				Help:    "Duration of arbiter activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity"},
		),
		arbiterPendingInteractions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "arbiter_pending_interactions",
				Help: "Unprocessed oracle interactions seen by the last sweep",
			},
		),
		reasonerCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reasoner_call_duration_seconds",
				Help:    "Duration of reasoning service calls in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"reasoner", "status"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"event_type"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Ledger metric helpers

// RecordTransaction records a submitted transaction. program is the name of the
// program called by the first instruction.
func (m *Metrics) RecordTransaction(program, status string, duration float64) {
	m.ledgerTransactionsTotal.WithLabelValues(program, status).Inc()
	m.ledgerTransactionDuration.WithLabelValues(program).Observe(duration)
}

// RecordConflict records a commit rejected by a version check.
func (m *Metrics) RecordConflict() {
	m.ledgerConflictsTotal.Inc()
}

// RecordCommit records the slot assigned to a commit and the events it carried.
func (m *Metrics) RecordCommit(slot uint64, eventTypes []string) {
	m.ledgerCommitSlot.Set(float64(slot))
	for _, t := range eventTypes {
		m.ledgerEventsTotal.WithLabelValues(t).Inc()
	}
}

// Arbiter metric helpers

// RecordDecision records an arbitration decision and whether it was delivered.
func (m *Metrics) RecordDecision(decision, status string) {
	m.arbiterDecisionsTotal.WithLabelValues(decision, status).Inc()
}

// RecordWorkflowDuration records workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(status string, duration float64) {
	m.arbiterWorkflowDuration.WithLabelValues(status).Observe(duration)
	m.arbiterWorkflowsTotal.WithLabelValues(status).Inc()
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, duration float64) {
	m.arbiterActivityDuration.WithLabelValues(activity).Observe(duration)
}

// RecordPendingInteractions records how many interactions a sweep found.
func (m *Metrics) RecordPendingInteractions(count int) {
	m.arbiterPendingInteractions.Set(float64(count))
}

// RecordReasonerCall records a call to the reasoning service.
func (m *Metrics) RecordReasonerCall(reasoner string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.reasonerCallDuration.WithLabelValues(reasoner, status).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(delta float64) {
	m.sseActiveConnections.Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(eventType string) {
	m.sseEventsSent.WithLabelValues(eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
