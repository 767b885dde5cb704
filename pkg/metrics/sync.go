package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics records the health of the cart/wishlist synchronization engine.
type SyncMetrics struct {
	mutations       *prometheus.CounterVec
	flushes         *prometheus.CounterVec
	flushRetries    *prometheus.CounterVec
	flushDuration   *prometheus.HistogramVec
	reconciliations *prometheus.CounterVec
	subscriptions   *prometheus.GaugeVec
}

// NewSyncMetrics registers the engine metrics on the provided registerer.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		return &SyncMetrics{}
	}
	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_mutations_total",
		Help: "Local mutations applied, by collection and operation.",
	}, []string{"collection", "op"})
	flushes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_flushes_total",
		Help: "Debounced remote writes, by collection and outcome.",
	}, []string{"collection", "outcome"})
	flushRetries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_flush_retries_total",
		Help: "Retried remote writes, by collection.",
	}, []string{"collection"})
	flushDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sync_flush_duration_seconds",
		Help:    "Duration of remote record writes in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"collection"})
	reconciliations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_reconciliations_total",
		Help: "Remote snapshots applied to local state, by collection.",
	}, []string{"collection"})
	subscriptions := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sync_active_subscriptions",
		Help: "Live record subscriptions, by collection.",
	}, []string{"collection"})
	reg.MustRegister(mutations, flushes, flushRetries, flushDuration, reconciliations, subscriptions)
	return &SyncMetrics{
		mutations:       mutations,
		flushes:         flushes,
		flushRetries:    flushRetries,
		flushDuration:   flushDuration,
		reconciliations: reconciliations,
		subscriptions:   subscriptions,
	}
}

// IncMutation counts one applied local mutation.
func (m *SyncMetrics) IncMutation(collection, op string) {
	if m == nil || m.mutations == nil {
		return
	}
	m.mutations.WithLabelValues(normalizeLabel(collection), normalizeLabel(op)).Inc()
}

// IncFlush counts one completed flush attempt with its outcome.
func (m *SyncMetrics) IncFlush(collection, outcome string) {
	if m == nil || m.flushes == nil {
		return
	}
	m.flushes.WithLabelValues(normalizeLabel(collection), normalizeLabel(outcome)).Inc()
}

// IncFlushRetry counts one retried remote write.
func (m *SyncMetrics) IncFlushRetry(collection string) {
	if m == nil || m.flushRetries == nil {
		return
	}
	m.flushRetries.WithLabelValues(normalizeLabel(collection)).Inc()
}

// ObserveFlushDuration records the wall time of a remote write.
func (m *SyncMetrics) ObserveFlushDuration(collection string, duration time.Duration) {
	if m == nil || m.flushDuration == nil {
		return
	}
	m.flushDuration.WithLabelValues(normalizeLabel(collection)).Observe(duration.Seconds())
}

// IncReconciliation counts one remote snapshot applied locally.
func (m *SyncMetrics) IncReconciliation(collection string) {
	if m == nil || m.reconciliations == nil {
		return
	}
	m.reconciliations.WithLabelValues(normalizeLabel(collection)).Inc()
}

// SubscriptionOpened tracks a newly opened record subscription.
func (m *SyncMetrics) SubscriptionOpened(collection string) {
	if m == nil || m.subscriptions == nil {
		return
	}
	m.subscriptions.WithLabelValues(normalizeLabel(collection)).Inc()
}

// SubscriptionClosed tracks a torn-down record subscription.
func (m *SyncMetrics) SubscriptionClosed(collection string) {
	if m == nil || m.subscriptions == nil {
		return
	}
	m.subscriptions.WithLabelValues(normalizeLabel(collection)).Dec()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
