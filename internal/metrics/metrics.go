// Package metrics exposes Prometheus collectors for the ledger client, the
// projection store, the synchronizer, the guard and the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "habit_ledger"

// Metrics owns a registry and the collectors registered in it. It satisfies
// the metrics interfaces of chain, ledger, projection, synchronizer and
// controller.
type Metrics struct {
	Registry *prometheus.Registry

	rpcDuration     *prometheus.HistogramVec
	rpcErrors       *prometheus.CounterVec
	submissions     *prometheus.CounterVec
	submitDuration  *prometheus.HistogramVec
	listenerHeight  prometheus.Gauge
	replacements    *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	reconcileTime   *prometheus.HistogramVec
	guardRejections *prometheus.CounterVec
	httpInFlight    prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New creates and registers every collector in a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "Latency of JSON-RPC calls to the ledger node.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"method"}),
		rpcErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "errors_total",
			Help:      "JSON-RPC calls that failed.",
		}, []string{"method"}),

		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "submissions_total",
			Help:      "Ledger submissions by operation and outcome.",
		}, []string{"op", "outcome"}),
		submitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "submission_duration_seconds",
			Help:      "Time from test-invoke to confirmation.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
		}, []string{"op"}),
		listenerHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "listener_height",
			Help:      "Block of the most recently dispatched event.",
		}),

		replacements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "projection",
			Name:      "replacements_total",
			Help:      "Projection replacements by entity kind and outcome.",
		}, []string{"kind", "outcome"}),

		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "synchronizer",
			Name:      "reloads_total",
			Help:      "Address reloads by scope and outcome.",
		}, []string{"scope", "outcome"}),
		reconcileTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "synchronizer",
			Name:      "reload_duration_seconds",
			Help:      "Duration of address reloads.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"scope"}),

		guardRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "rejections_total",
			Help:      "Operations refused before submission.",
		}, []string{"op", "reason"}),

		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"method", "path"}),
	}

	m.Registry.MustRegister(
		m.rpcDuration, m.rpcErrors,
		m.submissions, m.submitDuration, m.listenerHeight,
		m.replacements,
		m.reconciliations, m.reconcileTime,
		m.guardRejections,
		m.httpInFlight, m.httpRequests, m.httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveRPC records one JSON-RPC call.
func (m *Metrics) ObserveRPC(method string, d time.Duration, err error) {
	m.rpcDuration.WithLabelValues(method).Observe(d.Seconds())
	if err != nil {
		m.rpcErrors.WithLabelValues(method).Inc()
	}
}

// ObserveSubmit records one ledger submission.
func (m *Metrics) ObserveSubmit(op, outcome string, d time.Duration) {
	m.submissions.WithLabelValues(op, outcome).Inc()
	m.submitDuration.WithLabelValues(op).Observe(d.Seconds())
}

// SetListenerHeight records listener progress.
func (m *Metrics) SetListenerHeight(height uint32) {
	m.listenerHeight.Set(float64(height))
}

// ObserveReplace records a projection replacement.
func (m *Metrics) ObserveReplace(kind, outcome string) {
	m.replacements.WithLabelValues(kind, outcome).Inc()
}

// ObserveReconcile records an address reload.
func (m *Metrics) ObserveReconcile(scope, outcome string, d time.Duration) {
	m.reconciliations.WithLabelValues(scope, outcome).Inc()
	m.reconcileTime.WithLabelValues(scope).Observe(d.Seconds())
}

// ObserveGuardRejection records an operation refused before submission.
func (m *Metrics) ObserveGuardRejection(op, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	m.guardRejections.WithLabelValues(op, reason).Inc()
}

// InstrumentHandler wraps next with HTTP metrics collection.
func (m *Metrics) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		m.httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// canonicalPath collapses addresses and booking indexes so label
// cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "v1" || len(parts) < 2 {
		return "/" + parts[0]
	}
	out := []string{"", "v1", parts[1]}
	switch parts[1] {
	case "users", "therapists", "refresh":
		if len(parts) >= 3 && !isVerb(parts[2]) {
			out = append(out, ":address")
			out = append(out, parts[3:]...)
		} else {
			out = append(out, parts[2:]...)
		}
	case "bookings":
		if len(parts) >= 4 {
			out = append(out, ":therapist", ":index")
			out = append(out, parts[4:]...)
		}
	case "projection":
		if len(parts) >= 3 {
			out = append(out, parts[2], ":key")
		}
	default:
		out = append(out, parts[2:]...)
	}
	return strings.Join(out, "/")
}

func isVerb(s string) bool {
	return s == "deactivate" || s == "reactivate"
}
