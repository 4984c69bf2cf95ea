package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/xes-software/trustvault/transport"
)

// Metrics records bridge traffic
type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewMetrics registers the parent collectors on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trustvault",
			Subsystem: "parent",
			Name:      "requests_total",
			Help:      "Wallet requests handled, by operation and result.",
		}, []string{"op", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "trustvault",
			Subsystem: "parent",
			Name:      "enclave_request_duration_seconds",
			Help:      "Time from request receipt to enclave response.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	m.registry.MustRegister(m.requests, m.latency)
	return m
}

// Observe records one request. result is "ok", the WalletError kind, or "transport".
func (m *Metrics) Observe(op string, start time.Time, err error) {
	m.requests.WithLabelValues(op, resultLabel(err)).Inc()
	m.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var werr *transport.WalletError
	if errors.As(err, &werr) {
		return string(werr.Kind)
	}
	return "transport"
}

// HealthServer provides HTTP health check endpoints
type HealthServer struct {
	port    int
	server  *http.Server
	metrics *Metrics
	status  *HealthStatus
	mu      sync.RWMutex

	// natsConnected, when set, is consulted on every status read
	natsConnected func() bool
}

// HealthStatus represents the current health status
type HealthStatus struct {
	Healthy          bool      `json:"healthy"`
	NATSConnected    bool      `json:"nats_connected"`
	EnclaveReachable bool      `json:"enclave_reachable"`
	LastCheck        time.Time `json:"last_check"`
	Uptime           string    `json:"uptime"`
	Version          string    `json:"version"`
}

var startTime = time.Now()

// NewHealthServer creates a new health server exposing metrics
func NewHealthServer(port int, metrics *Metrics) *HealthServer {
	h := &HealthServer{
		port:    port,
		metrics: metrics,
		status: &HealthStatus{
			// The enclave is assumed reachable until an exchange fails
			EnclaveReachable: true,
			Version:          Version,
		},
	}
	metrics.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "trustvault",
			Subsystem: "parent",
			Name:      "healthy",
			Help:      "Whether the parent process is healthy.",
		}, func() float64 {
			if h.snapshot().Healthy {
				return 1
			}
			return 0
		}),
	)
	return h
}

// Handler returns the HTTP handler serving /health, /ready and /metrics
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/ready", h.handleReady)
	mux.Handle("/metrics", promhttp.HandlerFor(h.metrics.registry, promhttp.HandlerOpts{}))
	return mux
}

// Start starts the health server
func (h *HealthServer) Start() {
	h.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", h.port),
		Handler:           h.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Int("port", h.port).Msg("Starting health server")

	if err := h.server.ListenAndServe(); err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Health server error")
	}
}

// Stop stops the health server
func (h *HealthServer) Stop() {
	if h.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.server.Shutdown(ctx)
	}
}

// SetNATSConnected updates the NATS connection state
func (h *HealthServer) SetNATSConnected(connected bool) {
	h.update(func(s *HealthStatus) { s.NATSConnected = connected })
}

// WatchNATS makes every status read ask connected for the live NATS state
func (h *HealthServer) WatchNATS(connected func() bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.natsConnected = connected
}

// RecordEnclaveResult marks the enclave unreachable when an exchange failed
// below the protocol level. A WalletError still means the enclave answered.
func (h *HealthServer) RecordEnclaveResult(err error) {
	var werr *transport.WalletError
	reachable := err == nil || errors.As(err, &werr)
	h.update(func(s *HealthStatus) { s.EnclaveReachable = reachable })
}

func (h *HealthServer) update(fn func(*HealthStatus)) {
	h.mu.Lock()
	defer h.mu.Unlock()

	fn(h.status)
	h.status.Healthy = h.status.NATSConnected && h.status.EnclaveReachable
	h.status.LastCheck = time.Now()
}

func (h *HealthServer) snapshot() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	status := *h.status
	if h.natsConnected != nil {
		status.NATSConnected = h.natsConnected()
		status.Healthy = status.NATSConnected && status.EnclaveReachable
	}
	status.Uptime = time.Since(startTime).String()
	return status
}

// handleHealth handles the /health endpoint
func (h *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := h.snapshot()

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}

// handleReady handles the /ready endpoint (Kubernetes readiness checks)
func (h *HealthServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.snapshot().Healthy {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
	}
}
