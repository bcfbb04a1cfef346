package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "collector"

// Metrics groups the collector's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	operations    *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	registrations *prometheus.CounterVec
	pulls         *prometheus.CounterVec
	withdrawTime  prometheus.Histogram
	batchSize     prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Completed collector operations.",
		}, []string{"operation"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Rejected collector operations by reason.",
		}, []string{"operation", "reason"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Users registered per asset.",
		}, []string{"asset"}),
		pulls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pulls_total",
			Help:      "Individual balance pulls executed per asset.",
		}, []string{"asset"}),
		withdrawTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "withdraw_duration_seconds",
			Help:      "Wall time of batch withdrawals.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "withdraw_batch_addresses",
			Help:      "Addresses submitted per withdrawal.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}

	m.registry.MustRegister(
		m.operations,
		m.rejections,
		m.registrations,
		m.pulls,
		m.withdrawTime,
		m.batchSize,
		prometheus.NewGoCollector(),
	)

	return m
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Operation(op string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op).Inc()
}

func (m *Metrics) Rejection(op, reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(op, reason).Inc()
}

func (m *Metrics) Registration(asset string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(asset).Inc()
}

// Withdrawal records one finished batch
func (m *Metrics) Withdrawal(asset string, submitted, pulled int, took time.Duration) {
	if m == nil {
		return
	}
	m.batchSize.Observe(float64(submitted))
	m.pulls.WithLabelValues(asset).Add(float64(pulled))
	m.withdrawTime.Observe(took.Seconds())
}
