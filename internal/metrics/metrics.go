package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the engine collectors on a private registry so tests can
// run side by side without double registration.
type Metrics struct {
	registry *prometheus.Registry

	MessagesExpired     prometheus.Counter
	ExpirySweepDuration prometheus.Histogram
	ExpirySweepErrors   prometheus.Counter
	QueueDepth          prometheus.Gauge
	QueueFailedEntries  prometheus.Gauge
	QueueAttempts       *prometheus.CounterVec
	QueuePurged         *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.MessagesExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cipherstore_messages_expired_total",
		Help: "Disappearing messages removed by the expiry engine.",
	})
	m.ExpirySweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cipherstore_expiry_sweep_duration_seconds",
		Help:    "Duration of expiry sweep iterations.",
		Buckets: prometheus.DefBuckets,
	})
	m.ExpirySweepErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cipherstore_expiry_sweep_errors_total",
		Help: "Expiry sweep iterations that reported an error.",
	})
	m.QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cipherstore_queue_depth",
		Help: "Entries currently held in the offline delivery queue.",
	})
	m.QueueFailedEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cipherstore_queue_failed_entries",
		Help: "Queue entries whose retry budget is exhausted.",
	})
	m.QueueAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cipherstore_queue_attempts_total",
		Help: "Delivery attempts by result.",
	}, []string{"result"})
	m.QueuePurged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cipherstore_queue_purged_total",
		Help: "Queue entries purged by reason.",
	}, []string{"reason"})

	m.registry.MustRegister(
		m.MessagesExpired,
		m.ExpirySweepDuration,
		m.ExpirySweepErrors,
		m.QueueDepth,
		m.QueueFailedEntries,
		m.QueueAttempts,
		m.QueuePurged,
	)
	return m
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
