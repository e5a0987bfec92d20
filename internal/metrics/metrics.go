// Package metrics defines the Prometheus collectors of the manuals API and
// the /metrics handler that exposes them.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "manuals"

type Metrics struct {
	// Labels: method, route, status
	HTTPRequestsTotal *prometheus.CounterVec
	// Labels: route
	HTTPRequestDuration *prometheus.HistogramVec
	// Labels: change_type
	VersionsAppendedTotal *prometheus.CounterVec
	// Labels: format, result
	RendersTotal *prometheus.CounterVec
	// Labels: format
	RenderDuration *prometheus.HistogramVec
	TenantCopiesCreated prometheus.Counter
	// Labels: result (hit, miss, error)
	TOCCacheTotal *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers every collector on reg. Pass prometheus.NewRegistry() in
// tests to keep them isolated.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		VersionsAppendedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "versions_appended_total",
			Help:      "Version ledger rows appended by change type",
		}, []string{"change_type"}),
		RendersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renders_total",
			Help:      "Manual renders by output format and result",
		}, []string{"format", "result"}),
		RenderDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Manual render duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
		}, []string{"format"}),
		TenantCopiesCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_copies_created_total",
			Help:      "Tenant manual copies created by distribution",
		}),
		TOCCacheTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "toc_cache_requests_total",
			Help:      "Table of contents cache lookups by result",
		}, []string{"result"}),
		gatherer: reg,
	}
}

// NewDefault registers on a fresh registry that also carries the Go and
// process collectors.
func NewDefault() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return New(reg)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *Metrics) VersionAppended(changeType string) {
	if m == nil {
		return
	}
	m.VersionsAppendedTotal.WithLabelValues(changeType).Inc()
}

func (m *Metrics) ObserveRender(format string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.RendersTotal.WithLabelValues(format, result).Inc()
	m.RenderDuration.WithLabelValues(format).Observe(elapsed.Seconds())
}

func (m *Metrics) TenantCopies(created int) {
	if m == nil || created <= 0 {
		return
	}
	m.TenantCopiesCreated.Add(float64(created))
}

func (m *Metrics) TOCCache(result string) {
	if m == nil {
		return
	}
	m.TOCCacheTotal.WithLabelValues(result).Inc()
}
