package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the stream coordinator.
type Metrics struct {
	registry                *prometheus.Registry
	requestsTotal           prometheus.Counter
	errorsTotal             prometheus.Counter
	routesTotal             prometheus.Counter
	routeFailuresTotal      prometheus.Counter
	manifestsRewrittenTotal prometheus.Counter
	nodeReportsTotal        prometheus.Counter
	probeFailuresTotal      prometheus.Counter
	healthyNodes            prometheus.Gauge
	stickySessions          prometheus.Gauge
}

// New creates and registers Prometheus metrics for the coordinator.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coordinator_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coordinator_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	routesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coordinator_routes_total",
		Help: "Total number of successful stream routing decisions",
	})
	routeFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coordinator_route_failures_total",
		Help: "Total number of routing requests that found no healthy node",
	})
	manifestsRewrittenTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coordinator_manifests_rewritten_total",
		Help: "Total number of HLS manifests fetched and rewritten",
	})
	nodeReportsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coordinator_node_reports_total",
		Help: "Total number of accepted node status reports",
	})
	probeFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coordinator_probe_failures_total",
		Help: "Total number of failed node health probes",
	})
	healthyNodes := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coordinator_healthy_nodes",
		Help: "Number of nodes currently considered healthy",
	})
	stickySessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coordinator_sticky_sessions",
		Help: "Number of live sticky stream-to-node mappings",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		routesTotal,
		routeFailuresTotal,
		manifestsRewrittenTotal,
		nodeReportsTotal,
		probeFailuresTotal,
		healthyNodes,
		stickySessions,
	)

	return &Metrics{
		registry:                registry,
		requestsTotal:           requestsTotal,
		errorsTotal:             errorsTotal,
		routesTotal:             routesTotal,
		routeFailuresTotal:      routeFailuresTotal,
		manifestsRewrittenTotal: manifestsRewrittenTotal,
		nodeReportsTotal:        nodeReportsTotal,
		probeFailuresTotal:      probeFailuresTotal,
		healthyNodes:            healthyNodes,
		stickySessions:          stickySessions,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncRoutes increments the successful routing decisions counter.
func (m *Metrics) IncRoutes() {
	m.routesTotal.Inc()
}

// IncRouteFailures increments the fleet-exhausted routing counter.
func (m *Metrics) IncRouteFailures() {
	m.routeFailuresTotal.Inc()
}

// IncManifestsRewritten increments the rewritten manifest counter.
func (m *Metrics) IncManifestsRewritten() {
	m.manifestsRewrittenTotal.Inc()
}

// IncReports increments the accepted node report counter.
func (m *Metrics) IncReports() {
	m.nodeReportsTotal.Inc()
}

// IncProbeFailures increments the failed health probe counter.
func (m *Metrics) IncProbeFailures() {
	m.probeFailuresTotal.Inc()
}

// SetHealthyNodes sets the healthy nodes gauge.
func (m *Metrics) SetHealthyNodes(n int) {
	m.healthyNodes.Set(float64(n))
}

// SetStickySessions sets the sticky sessions gauge.
func (m *Metrics) SetStickySessions(n int) {
	m.stickySessions.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
