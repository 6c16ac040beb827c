package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/arbiter/service/config"
	"github.com/brojonat/arbiter/service/metrics"
	natspkg "github.com/brojonat/arbiter/service/nats"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP server for the ledger service.
type Server struct {
	addr         string
	cfg          *config.Config
	ledger       Ledger
	publisher    natspkg.Publisher
	arbitrator   Arbitrator
	ssePublisher *SSEPublisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The publisher is optional - if nil, committed events are not published.
// The arbitrator is optional - if nil, the arbitrate endpoint won't be available.
// The ssePublisher is optional - if nil, SSE endpoints won't be available.
// The metrics is optional - if nil, metrics endpoints won't be available.
func New(addr string, cfg *config.Config, l Ledger, publisher natspkg.Publisher, arbitrator Arbitrator, ssePublisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:         addr,
		cfg:          cfg,
		ledger:       l,
		publisher:    publisher,
		arbitrator:   arbitrator,
		ssePublisher: ssePublisher,
		metrics:      m,
		logger:       logger,
	}
}

// Handler builds the routes of the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	route("POST /api/v1/transactions", "/api/v1/transactions", handleSubmitTransaction(s.ledger, s.publisher, s.logger))
	route("GET /api/v1/transactions/{signature}", "/api/v1/transactions/{signature}", handleGetReceipt(s.ledger, s.logger))
	route("GET /api/v1/accounts/{address}", "/api/v1/accounts/{address}", handleGetAccount(s.ledger, s.logger))
	route("GET /api/v1/escrows/{address}", "/api/v1/escrows/{address}", handleGetEscrow(s.ledger, s.logger))
	route("GET /api/v1/fundraisers/{address}", "/api/v1/fundraisers/{address}", handleGetFundraiser(s.ledger, s.logger))
	route("GET /api/v1/interactions", "/api/v1/interactions", handleListInteractions(s.ledger, s.logger))
	route("GET /api/v1/interactions/{address}", "/api/v1/interactions/{address}", handleGetInteraction(s.ledger, s.logger))

	if s.arbitrator != nil {
		route("POST /api/v1/interactions/{address}/arbitrate", "/api/v1/interactions/{address}/arbitrate", handleArbitrate(s.arbitrator, s.logger))
	}

	// Faucet (development networks only)
	if s.cfg != nil && s.cfg.FaucetEnabled {
		route("POST /api/v1/airdrop", "/api/v1/airdrop", handleAirdrop(s.ledger, s.logger))
		s.logger.Warn("faucet enabled")
	}

	// SSE streaming endpoints (if SSE publisher is configured)
	if s.ssePublisher != nil {
		route("GET /api/v1/events/stream", "/api/v1/events/stream", handleStreamEvents(s.ssePublisher, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	} else {
		s.logger.Warn("SSE publisher not configured, streaming endpoints disabled")
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// No write timeout: SSE responses stay open.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close SSE publisher first (disconnects all clients)
	if s.ssePublisher != nil {
		s.ssePublisher.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
