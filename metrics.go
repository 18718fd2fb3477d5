package apikit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig names the Prometheus metrics.
type MetricsConfig struct {
	Namespace string `yaml:"namespace" json:"namespace"`
	Subsystem string `yaml:"subsystem" json:"subsystem"`
}

// Metrics collects request and transaction metrics.
type Metrics struct {
	registry prometheus.Gatherer

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	transactions    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg uses a fresh registry, which Handler then serves.
func NewMetrics(cfg MetricsConfig, reg *prometheus.Registry) (*Metrics, error) {
	if cfg.Namespace == "" {
		cfg.Namespace = "apikit"
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "requests_total",
				Help:      "Total number of resource requests processed",
			},
			[]string{"resource", "operation", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "request_duration_seconds",
				Help:      "Resource request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"resource", "operation"},
		),
		transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "transactions_total",
				Help:      "Total number of database transactions by result",
			},
			[]string{"result"},
		),
	}

	for _, c := range []prometheus.Collector{m.requestsTotal, m.requestDuration, m.transactions} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Middleware records every request handled below it under resource.
// The operation label is the method and the route template.
func (m *Metrics) Middleware(resource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		operation := c.Request.Method + " " + route
		m.requestsTotal.WithLabelValues(resource, operation, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(resource, operation).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) observeTransaction(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.transactions.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
