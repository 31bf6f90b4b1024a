package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the control plane's Prometheus collectors.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestDuration *prometheus.HistogramVec
	ReconcileRuns       *prometheus.CounterVec
	ReconcileFailures   prometheus.Counter
	VisibleTenants      prometheus.Gauge
	OpenUserPools       prometheus.Gauge
	AdminOperations     *prometheus.CounterVec
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "authcore",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		ReconcileRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "authcore",
				Subsystem: "multitenancy",
				Name:      "reconcile_runs_total",
				Help:      "Reconcile invocations, labelled by whether drift was detected.",
			},
			[]string{"changed"},
		),
		ReconcileFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "authcore",
				Subsystem: "multitenancy",
				Name:      "reconcile_failures_total",
				Help:      "Reconcile runs whose resource loads failed and were retried later.",
			},
		),
		VisibleTenants: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "authcore",
				Subsystem: "multitenancy",
				Name:      "visible_tenants",
				Help:      "Tenants currently visible in the resource fleet.",
			},
		),
		OpenUserPools: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "authcore",
				Subsystem: "multitenancy",
				Name:      "open_user_pools",
				Help:      "Physical user-pool databases with an open handle.",
			},
		),
		AdminOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "authcore",
				Subsystem: "multitenancy",
				Name:      "admin_operations_total",
				Help:      "Tenant admin API operations, labelled by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestDuration,
		m.ReconcileRuns,
		m.ReconcileFailures,
		m.VisibleTenants,
		m.OpenUserPools,
		m.AdminOperations,
	)
	return m
}

// Middleware records request latency per route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
		).Observe(time.Since(start).Seconds())
	}
}
