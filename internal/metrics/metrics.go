// Package metrics exposes Prometheus instrumentation for the engine
// substrate: accounter byte usage, pool acquire/release activity, and
// tenant invocation counts. Grounded on the teacher's internal/metrics
// (prometheus.go) PrometheusMetrics wiring, trimmed to the gauges/
// counters this substrate's components actually produce.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

// Metrics wraps the substrate's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	invocationsTotal *prometheus.CounterVec
	invocationDur    *prometheus.HistogramVec

	poolAcquireTotal *prometheus.CounterVec
	poolReleaseTotal *prometheus.CounterVec
	poolExhausted    *prometheus.CounterVec
	poolIdle         *prometheus.GaugeVec
	poolInUse        *prometheus.GaugeVec

	tenantCallsTotal *prometheus.CounterVec

	accounterBytesLive  *prometheus.GaugeVec
	accounterBytesPeak  *prometheus.GaugeVec
	accounterFailedAllocs *prometheus.CounterVec
}

var global *Metrics

// Init builds and registers the global Metrics instance under namespace,
// using buckets for invocation-duration histograms (defaultBuckets if
// nil/empty). Safe to call once at process startup.
func Init(namespace string, buckets []float64) *Metrics {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		invocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "invocations_total",
			Help: "Total number of script invocations (execute/call).",
		}, []string{"function", "tenant", "status"}),
		invocationDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "invocation_duration_milliseconds",
			Help: "Duration of script invocations in milliseconds.", Buckets: buckets,
		}, []string{"function", "tenant", "cold_start"}),
		poolAcquireTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pool_acquire_total",
			Help: "Total guest-state pool acquisitions.",
		}, []string{"result"}),
		poolReleaseTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pool_release_total",
			Help: "Total guest-state pool releases.",
		}, []string{"outcome"}),
		poolExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pool_exhausted_total",
			Help: "Total acquisitions that failed because the pool was exhausted.",
		}, []string{"pool"}),
		poolIdle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_idle_states",
			Help: "Current idle guest states in the pool.",
		}, []string{"pool"}),
		poolInUse: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_in_use_states",
			Help: "Current in-use guest states in the pool.",
		}, []string{"pool"}),
		tenantCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tenant_calls_total",
			Help: "Total calls accepted against a tenant's call budget.",
		}, []string{"tenant"}),
		accounterBytesLive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "accounter_bytes_live",
			Help: "Current live bytes tracked by a context's memory accounter.",
		}, []string{"tenant"}),
		accounterBytesPeak: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "accounter_bytes_peak",
			Help: "Peak live bytes observed by a context's memory accounter.",
		}, []string{"tenant"}),
		accounterFailedAllocs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "accounter_failed_allocations_total",
			Help: "Total allocations rejected for exceeding the memory budget.",
		}, []string{"tenant"}),
	}

	registry.MustRegister(
		m.invocationsTotal, m.invocationDur,
		m.poolAcquireTotal, m.poolReleaseTotal, m.poolExhausted, m.poolIdle, m.poolInUse,
		m.tenantCallsTotal,
		m.accounterBytesLive, m.accounterBytesPeak, m.accounterFailedAllocs,
	)

	global = m
	return m
}

// Global returns the process-wide Metrics, or nil if Init was never
// called (metrics are opt-in per ObservabilityConfig.Metrics.Enabled).
func Global() *Metrics {
	return global
}

// Handler returns the /metrics HTTP exposition handler for this
// registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordInvocation records a script invocation's outcome and latency.
func (m *Metrics) RecordInvocation(function, tenant string, durationMs int64, coldStart, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.invocationsTotal.WithLabelValues(function, tenant, status).Inc()
	m.invocationDur.WithLabelValues(function, tenant, boolLabel(coldStart)).Observe(float64(durationMs))
}

// RecordPoolAcquire records a pool acquisition attempt's result
// ("hit", "created", or "exhausted").
func (m *Metrics) RecordPoolAcquire(result string) {
	m.poolAcquireTotal.WithLabelValues(result).Inc()
	if result == "exhausted" {
		m.poolExhausted.WithLabelValues("default").Inc()
	}
}

// RecordPoolRelease records a pool release's outcome ("pooled" or
// "destroyed").
func (m *Metrics) RecordPoolRelease(outcome string) {
	m.poolReleaseTotal.WithLabelValues(outcome).Inc()
}

// SetPoolOccupancy publishes the current idle/in-use counts for a named
// pool; statepool.Pool calls it after each successful acquire and each
// release.
func (m *Metrics) SetPoolOccupancy(pool string, idle, inUse int) {
	m.poolIdle.WithLabelValues(pool).Set(float64(idle))
	m.poolInUse.WithLabelValues(pool).Set(float64(inUse))
}

// RecordTenantCall increments tenant's accepted-call counter.
func (m *Metrics) RecordTenantCall(tenant string) {
	m.tenantCallsTotal.WithLabelValues(tenant).Inc()
}

// SetAccounterStats publishes a tenant context's current/peak byte usage.
func (m *Metrics) SetAccounterStats(tenant string, bytesLive, bytesPeak int64) {
	m.accounterBytesLive.WithLabelValues(tenant).Set(float64(bytesLive))
	m.accounterBytesPeak.WithLabelValues(tenant).Set(float64(bytesPeak))
}

// RecordFailedAllocation increments tenant's rejected-allocation counter.
func (m *Metrics) RecordFailedAllocation(tenant string) {
	m.accounterFailedAllocs.WithLabelValues(tenant).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
