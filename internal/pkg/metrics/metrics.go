// Package metrics exposes Prometheus counters and gauges for the
// dissector's own operation: records split, handshakes parsed, decrypt
// outcomes, and active tracked flows/sessions. Entirely optional — the CLI
// wires it in only when --metrics-port is set.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ntkit/tlsdissect/internal/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter serves dissector metrics over HTTP in Prometheus text format.
type Exporter struct {
	enabled  atomic.Bool
	registry *prometheus.Registry
	server   *http.Server
	port     int
	mu       sync.Mutex

	recordsSplit      *prometheus.CounterVec
	handshakesParsed  *prometheus.CounterVec
	decryptResults    *prometheus.CounterVec
	activeFlows       prometheus.Gauge
	activeSessions    prometheus.Gauge
	keysLoaded        prometheus.Gauge
}

// NewExporter builds an Exporter bound to port, registering the process and
// Go runtime collectors alongside the dissector's own metrics.
func NewExporter(port int) *Exporter {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	e := &Exporter{
		registry: registry,
		port:     port,

		recordsSplit: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tlsdissect_records_split_total",
				Help: "Total number of TLS records produced by the record splitter",
			},
			[]string{"content_type"},
		),
		handshakesParsed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tlsdissect_handshakes_parsed_total",
				Help: "Total number of handshake messages parsed, by type and outcome",
			},
			[]string{"message_type", "outcome"},
		),
		decryptResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tlsdissect_decrypt_results_total",
				Help: "Total number of record decryption attempts, by direction and outcome",
			},
			[]string{"direction", "outcome"},
		),
		activeFlows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tlsdissect_tracked_flows",
			Help: "Number of TCP flows currently tracked for handshake correlation",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tlsdissect_active_sessions",
			Help: "Number of TLS sessions with decryption keys currently loaded",
		}),
		keysLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tlsdissect_keylog_secrets_loaded",
			Help: "Number of distinct client-random entries currently held by the key-log store",
		}),
	}

	registry.MustRegister(e.recordsSplit, e.handshakesParsed, e.decryptResults,
		e.activeFlows, e.activeSessions, e.keysLoaded)

	return e
}

// Enable starts the metrics HTTP server. Calling Enable twice is a no-op.
func (e *Exporter) Enable() error {
	if e.enabled.Load() {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/health", e.healthHandler)

	e.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", e.port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting metrics server", "port", e.port)
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	e.enabled.Store(true)
	return nil
}

// Disable stops the metrics HTTP server.
func (e *Exporter) Disable() error {
	if !e.enabled.Load() {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.server.Shutdown(ctx); err != nil {
			logger.Error("error shutting down metrics server", "error", err)
		}
		e.server = nil
	}

	e.enabled.Store(false)
	return nil
}

func (e *Exporter) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// RecordSplit records one record produced by the splitter.
func (e *Exporter) RecordSplit(contentType string) {
	if e.enabled.Load() {
		e.recordsSplit.WithLabelValues(contentType).Inc()
	}
}

// RecordHandshakeParsed records a handshake parse attempt's outcome ("ok"
// or "error").
func (e *Exporter) RecordHandshakeParsed(messageType, outcome string) {
	if e.enabled.Load() {
		e.handshakesParsed.WithLabelValues(messageType, outcome).Inc()
	}
}

// RecordDecryptResult records a record decryption attempt's outcome ("ok"
// or "error").
func (e *Exporter) RecordDecryptResult(direction, outcome string) {
	if e.enabled.Load() {
		e.decryptResults.WithLabelValues(direction, outcome).Inc()
	}
}

// SetTrackedFlows sets the current number of tracked flows.
func (e *Exporter) SetTrackedFlows(n int) {
	if e.enabled.Load() {
		e.activeFlows.Set(float64(n))
	}
}

// SetActiveSessions sets the current number of sessions with loaded keys.
func (e *Exporter) SetActiveSessions(n int) {
	if e.enabled.Load() {
		e.activeSessions.Set(float64(n))
	}
}

// SetKeysLoaded sets the current number of key-log entries held in the
// store.
func (e *Exporter) SetKeysLoaded(n int) {
	if e.enabled.Load() {
		e.keysLoaded.Set(float64(n))
	}
}
