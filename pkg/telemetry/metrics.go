package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics provides Prometheus metrics for service calls and workflow runs.
// A nil *Metrics, or one built from a disabled config, records nothing.
type Metrics struct {
	config MetricsConfig

	// Service client metrics
	clientCalls    *prometheus.CounterVec
	clientDuration *prometheus.HistogramVec
	clientErrors   *prometheus.CounterVec

	// Workflow run metrics
	runsStarted       *prometheus.CounterVec
	runsCompleted     *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
	itemsTransitioned *prometheus.CounterVec
	policyDenials     *prometheus.CounterVec

	// Coercion metrics
	optionsetDrift *prometheus.CounterVec

	activeRuns prometheus.Gauge

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		clientCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "client_calls_total",
				Help:      "Total number of service client calls",
			},
			[]string{"operation", "entity"},
		),
		clientDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "client_call_duration_seconds",
				Help:      "Duration of service client calls in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		clientErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "client_errors_total",
				Help:      "Total number of failed service client calls",
			},
			[]string{"operation", "kind"},
		),

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of workflow runs started",
			},
			[]string{"definition"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of workflow runs that reached a terminal state",
			},
			[]string{"definition", "state"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of workflow runs in seconds",
				Buckets:   buckets,
			},
			[]string{"definition", "state"},
		),
		itemsTransitioned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_transitioned_total",
				Help:      "Total number of records processed by workflow runs",
			},
			[]string{"definition", "outcome"},
		),
		policyDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_denials_total",
				Help:      "Total number of workflow runs blocked by policy",
			},
			[]string{"definition"},
		),

		optionsetDrift: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "optionset_drift_total",
				Help:      "Option set codes seen on the wire that are missing from the schema",
			},
			[]string{"entity", "attribute"},
		),

		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Number of workflow runs currently executing",
			},
		),
	}

	collectors := []prometheus.Collector{
		m.clientCalls,
		m.clientDuration,
		m.clientErrors,
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.itemsTransitioned,
		m.policyDenials,
		m.optionsetDrift,
		m.activeRuns,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// RecordClientCall records a completed service client call.
func (m *Metrics) RecordClientCall(operation, entity string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.clientCalls.WithLabelValues(operation, entity).Inc()
	m.clientDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordClientError records a failed service client call by error kind.
func (m *Metrics) RecordClientError(operation, kind string) {
	if !m.enabled() {
		return
	}
	m.clientErrors.WithLabelValues(operation, kind).Inc()
}

// RecordRunStarted records the start of a workflow run.
func (m *Metrics) RecordRunStarted(definition string) {
	if !m.enabled() {
		return
	}
	m.runsStarted.WithLabelValues(definition).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a run reaching a terminal state.
func (m *Metrics) RecordRunCompleted(definition, state string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.runsCompleted.WithLabelValues(definition, state).Inc()
	m.runDuration.WithLabelValues(definition, state).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// RecordItem records one processed record with its outcome (success, failed).
func (m *Metrics) RecordItem(definition, outcome string) {
	if !m.enabled() {
		return
	}
	m.itemsTransitioned.WithLabelValues(definition, outcome).Inc()
}

// RecordPolicyDenial records a run blocked before any transition.
func (m *Metrics) RecordPolicyDenial(definition string) {
	if !m.enabled() {
		return
	}
	m.policyDenials.WithLabelValues(definition).Inc()
}

// RecordOptionsetDrift records an unknown option set code.
func (m *Metrics) RecordOptionsetDrift(entity, attribute string) {
	if !m.enabled() {
		return
	}
	m.optionsetDrift.WithLabelValues(entity, attribute).Inc()
}

// Registry exposes the underlying registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Timer measures elapsed time for a metric observation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics. Serve errors
// are logged rather than returned.
func (m *Metrics) StartMetricsServer(logger zerolog.Logger) error {
	if !m.enabled() {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	server := m.server
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("address", server.Addr).Msg("metrics server stopped")
		}
	}()

	return nil
}

// Shutdown stops the metrics server if one was started.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
