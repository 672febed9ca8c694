package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the updater.
type Metrics struct {
	config MetricsConfig

	instructionsExecuted *prometheus.CounterVec
	instructionDuration  *prometheus.HistogramVec

	scriptsExecuted *prometheus.CounterVec

	patchBytes          *prometheus.CounterVec
	partitionsCommitted *prometheus.CounterVec
	integrityMismatches *prometheus.CounterVec
	retryShortCircuits  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		instructionsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "instructions_executed_total",
				Help:      "Total number of instruction executions",
			},
			[]string{"instruction", "status"},
		),
		instructionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "instruction_duration_seconds",
				Help:      "Duration of instruction execution in seconds",
				Buckets:   buckets,
			},
			[]string{"instruction"},
		),
		scriptsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scripts_executed_total",
				Help:      "Total number of update scripts executed",
			},
			[]string{"status"},
		),
		patchBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "patch_bytes_written_total",
				Help:      "Bytes written to partitions by committed patches",
			},
			[]string{"partition"},
		),
		partitionsCommitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "partitions_committed_total",
				Help:      "Total number of partitions updated and recorded",
			},
			[]string{"partition"},
		),
		integrityMismatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "integrity_mismatches_total",
				Help:      "Total number of content hash mismatches",
			},
			[]string{"partition", "stage"},
		),
		retryShortCircuits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_short_circuits_total",
				Help:      "Instructions skipped because a retry found the work already done",
			},
			[]string{"instruction"},
		),
	}

	collectors := []prometheus.Collector{
		m.instructionsExecuted,
		m.instructionDuration,
		m.scriptsExecuted,
		m.patchBytes,
		m.partitionsCommitted,
		m.integrityMismatches,
		m.retryShortCircuits,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return m, nil
}

// RecordInstruction records one instruction execution.
func (m *Metrics) RecordInstruction(name, status string, duration time.Duration) {
	if m == nil || m.instructionsExecuted == nil {
		return
	}
	m.instructionsExecuted.WithLabelValues(name, status).Inc()
	m.instructionDuration.WithLabelValues(name).Observe(duration.Seconds())
}

// RecordScript records the terminal status of one script.
func (m *Metrics) RecordScript(status string) {
	if m == nil || m.scriptsExecuted == nil {
		return
	}
	m.scriptsExecuted.WithLabelValues(status).Inc()
}

// RecordCommit records a committed partition and the bytes written to it.
func (m *Metrics) RecordCommit(partition string, bytes int64) {
	if m == nil || m.partitionsCommitted == nil {
		return
	}
	m.partitionsCommitted.WithLabelValues(partition).Inc()
	m.patchBytes.WithLabelValues(partition).Add(float64(bytes))
}

// RecordIntegrityMismatch records a hash mismatch at the given stage.
func (m *Metrics) RecordIntegrityMismatch(partition, stage string) {
	if m == nil || m.integrityMismatches == nil {
		return
	}
	m.integrityMismatches.WithLabelValues(partition, stage).Inc()
}

// RecordRetryShortCircuit records an instruction skipped on retry.
func (m *Metrics) RecordRetryShortCircuit(instruction string) {
	if m == nil || m.retryShortCircuits == nil {
		return
	}
	m.retryShortCircuits.WithLabelValues(instruction).Inc()
}

// Gatherer returns the metrics registry, or nil when metrics are disabled.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil || m.registry == nil {
		return nil
	}
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics when a listen
// address is configured.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}

// WriteTextfile writes a metrics snapshot for a node exporter textfile
// collector. It is a no-op without a configured path.
func (m *Metrics) WriteTextfile() error {
	if m == nil || m.registry == nil || m.config.TextfilePath == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(m.config.TextfilePath, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
