// Package metrics provides Prometheus metrics for the monitor.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the monitor.
type Metrics struct {
	registry *prometheus.Registry

	// Broker metrics
	BrokerRequests     *prometheus.CounterVec
	BrokerCredits      *prometheus.CounterVec
	BrokerQueueDepth   prometheus.Gauge
	BrokerAdmitLatency prometheus.Histogram
	RPCCallLatency     *prometheus.HistogramVec

	// Poller metrics
	Checkpoint   *prometheus.GaugeVec
	PollerCycles *prometheus.CounterVec

	// Pipeline metrics
	PipelineEvents *prometheus.CounterVec
	DeadLetters    *prometheus.CounterVec

	// Notification metrics
	Notifications *prometheus.CounterVec
}

// NewMetrics registers every metric on a fresh registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "invoice_monitor"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		BrokerRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "requests_total",
			Help:      "RPC requests served by the broker",
		}, []string{"network", "kind", "outcome"}),
		BrokerCredits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "credits_total",
			Help:      "Provider credits charged by request kind",
		}, []string{"kind"}),
		BrokerQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "queue_depth",
			Help:      "Requests waiting in the broker queue",
		}),
		BrokerAdmitLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "admission_wait_seconds",
			Help:      "Time spent waiting for rate limiter admission",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 60, 600},
		}),
		RPCCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "rpc_call_seconds",
			Help:      "RPC call latency by request kind",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),

		Checkpoint: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "checkpoint_block",
			Help:      "Last persisted checkpoint per network",
		}, []string{"network"}),
		PollerCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "cycles_total",
			Help:      "Poll cycles by result",
		}, []string{"network", "result"}),

		PipelineEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "events_total",
			Help:      "Logs handled by the event pipeline by outcome",
		}, []string{"network", "outcome"}),
		DeadLetters: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "dead_letters_total",
			Help:      "Logs sent to the dead letter sink by stage",
		}, []string{"stage"}),

		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "Notifications sent by channel and outcome",
		}, []string{"channel", "outcome"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Metrics) ObserveRequest(network, kind, outcome string, cost int, took time.Duration) {
	if m == nil {
		return
	}
	m.BrokerRequests.WithLabelValues(network, kind, outcome).Inc()
	if outcome != "dropped" {
		m.BrokerCredits.WithLabelValues(kind).Add(float64(cost))
		m.RPCCallLatency.WithLabelValues(kind).Observe(took.Seconds())
	}
}

func (m *Metrics) ObserveAdmission(wait time.Duration) {
	if m == nil {
		return
	}
	m.BrokerAdmitLatency.Observe(wait.Seconds())
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.BrokerQueueDepth.Set(float64(n))
}

func (m *Metrics) SetCheckpoint(network string, block uint64) {
	if m == nil {
		return
	}
	m.Checkpoint.WithLabelValues(network).Set(float64(block))
}

func (m *Metrics) IncCycle(network, result string) {
	if m == nil {
		return
	}
	m.PollerCycles.WithLabelValues(network, result).Inc()
}

func (m *Metrics) IncEvent(network, outcome string) {
	if m == nil {
		return
	}
	m.PipelineEvents.WithLabelValues(network, outcome).Inc()
}

func (m *Metrics) IncDeadLetter(stage string) {
	if m == nil {
		return
	}
	m.DeadLetters.WithLabelValues(stage).Inc()
}

func (m *Metrics) IncNotification(channel, outcome string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(channel, outcome).Inc()
}
