// Package metrics holds the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Resolution outcomes.
const (
	Matched = "matched"
	NoMatch = "no_match"
	Failed  = "error"
)

type Metrics struct {
	Registry *prometheus.Registry

	resolutions     *prometheus.CounterVec
	sources         *prometheus.CounterVec
	upstream        *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	requests        *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mapper_resolutions_total",
			Help: "Identity resolutions by catalog and outcome.",
		}, []string{"catalog", "outcome"}),
		sources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mapper_source_resolutions_total",
			Help: "Source pipeline terminal states by catalog and outcome.",
		}, []string{"catalog", "outcome"}),
		upstream: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mapper_upstream_requests_total",
			Help: "Outbound requests by upstream and status code (0 on transport error).",
		}, []string{"upstream", "code"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mapper_upstream_request_duration_seconds",
			Help:    "Outbound request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"upstream"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mapper_http_requests_total",
			Help: "Inbound requests by route pattern and status code.",
		}, []string{"route", "code"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mapper_http_request_duration_seconds",
			Help:    "Inbound request latency by route pattern.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"route"}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.resolutions, m.sources, m.upstream, m.upstreamLatency, m.requests, m.requestLatency,
	)
	return m
}

func (m *Metrics) Resolution(catalog, outcome string) {
	m.resolutions.WithLabelValues(catalog, outcome).Inc()
}

// SourceOutcome matches the source pipeline's recorder signature.
func (m *Metrics) SourceOutcome(catalog, outcome string) {
	m.sources.WithLabelValues(catalog, outcome).Inc()
}

// ObserveUpstream matches the upstream client's observer signature.
func (m *Metrics) ObserveUpstream(name string, status int, _ error, elapsed time.Duration) {
	m.upstream.WithLabelValues(name, strconv.Itoa(status)).Inc()
	m.upstreamLatency.WithLabelValues(name).Observe(elapsed.Seconds())
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Middleware counts requests by chi route pattern, so path parameters do
// not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		m.requestLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
