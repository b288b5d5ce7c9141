package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the session supervisor.
type Metrics struct {
	registry             *prometheus.Registry
	requestsTotal        prometheus.Counter
	errorsTotal          prometheus.Counter
	sessionsStartedTotal prometheus.Counter
	sessionsStoppedTotal prometheus.Counter
	publishRejectedTotal prometheus.Counter
	startFailuresTotal   *prometheus.CounterVec
	transcoderExitsTotal prometheus.Counter
	orphanedTotal        prometheus.Counter
	artifactsServedTotal *prometheus.CounterVec
	artifactsDeniedTotal prometheus.Counter
	activeSessions       prometheus.Gauge
}

// New creates and registers Prometheus metrics for the supervisor.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		sessionsStartedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_sessions_started_total",
			Help: "Total number of transcoder sessions started",
		}),
		sessionsStoppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_sessions_stopped_total",
			Help: "Total number of transcoder sessions stopped or replaced",
		}),
		publishRejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_publish_rejected_total",
			Help: "Total number of publish attempts with a stream key outside the allow-list",
		}),
		startFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hls_session_start_failures_total",
			Help: "Total number of session starts that failed, by reason",
		}, []string{"reason"}),
		transcoderExitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_transcoder_exits_total",
			Help: "Total number of transcoder processes that exited without being stopped",
		}),
		orphanedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_transcoder_orphaned_total",
			Help: "Total number of killed transcoders that did not exit within the kill timeout",
		}),
		artifactsServedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hls_artifacts_served_total",
			Help: "Total number of artifacts served, by kind (manifest or segment)",
		}, []string{"kind"}),
		artifactsDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_artifacts_forbidden_total",
			Help: "Total number of artifact requests rejected for escaping the stream directory",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hls_active_sessions",
			Help: "Number of stream keys with a registered transcoder",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.sessionsStartedTotal,
		m.sessionsStoppedTotal,
		m.publishRejectedTotal,
		m.startFailuresTotal,
		m.transcoderExitsTotal,
		m.orphanedTotal,
		m.artifactsServedTotal,
		m.artifactsDeniedTotal,
		m.activeSessions,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

func (m *Metrics) IncSessionsStarted() {
	m.sessionsStartedTotal.Inc()
}

func (m *Metrics) IncSessionsStopped() {
	m.sessionsStoppedTotal.Inc()
}

func (m *Metrics) IncPublishRejected() {
	m.publishRejectedTotal.Inc()
}

// IncStartFailures records a failed start; reason is "io" or "spawn".
func (m *Metrics) IncStartFailures(reason string) {
	m.startFailuresTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncTranscoderExits() {
	m.transcoderExitsTotal.Inc()
}

func (m *Metrics) IncOrphaned() {
	m.orphanedTotal.Inc()
}

// IncArtifactsServed records a served artifact; kind is "manifest" or "segment".
func (m *Metrics) IncArtifactsServed(kind string) {
	m.artifactsServedTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncArtifactsForbidden() {
	m.artifactsDeniedTotal.Inc()
}

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
