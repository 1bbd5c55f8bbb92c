package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "polarix"

// Metrics holds the collectors for the HTTP surface and the account service.
// It satisfies accounts.Metrics.
type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	sagas          *prometheus.CounterVec
	provisioned    prometheus.Counter
	searchDuration prometheus.Histogram
	searchReturned prometheus.Histogram
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return newMetrics(registry, registry)
}

func newMetrics(registerer prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	metrics := &Metrics{
		gatherer: gatherer,
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		sagas: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "accounts",
				Name:      "sagas_total",
				Help:      "Account lifecycle sagas by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		),
		provisioned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accounts",
			Name:      "provisioned_total",
			Help:      "Local records created just in time for identities seen during search.",
		}),
		searchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "accounts",
			Name:      "search_duration_seconds",
			Help:      "Reconciliation search duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		searchReturned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "accounts",
			Name:      "search_returned_accounts",
			Help:      "Accounts returned per reconciliation search page.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 200},
		}),
	}
	registerer.MustRegister(
		metrics.httpRequests,
		metrics.httpDuration,
		metrics.sagas,
		metrics.provisioned,
		metrics.searchDuration,
		metrics.searchReturned,
	)
	return metrics
}

func (m *Metrics) ObserveSaga(operation, outcome string) {
	m.sagas.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) AddProvisioned(count int) {
	if count <= 0 {
		return
	}
	m.provisioned.Add(float64(count))
}

func (m *Metrics) ObserveSearch(duration time.Duration, returned int) {
	m.searchDuration.Observe(duration.Seconds())
	m.searchReturned.Observe(float64(returned))
}

func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusLabel := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	m.httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RequestMetrics records every request under its route template.
func (m *Metrics) RequestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
