package gtdlog

import "github.com/prometheus/client_golang/prometheus"

// Metrics is optional sync/store instrumentation. It registers against its
// own registry rather than prometheus.DefaultRegisterer so tests and
// embedding applications can run multiple instances without colliding on
// global state.
type Metrics struct {
	Registry *prometheus.Registry

	syncRoundsTotal  *prometheus.CounterVec
	replicaLogBytes  *prometheus.GaugeVec
	rateLimitedTotal prometheus.Counter
}

// NewMetrics builds and registers a fresh metrics set.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		syncRoundsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gtdlog",
			Name:      "sync_rounds_total",
			Help:      "Sync rounds by outcome (success, transient_failure, gap_refused).",
		}, []string{"outcome"}),
		replicaLogBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gtdlog",
			Name:      "replica_log_bytes",
			Help:      "Current byte size of each replica's log file.",
		}, []string{"replica_id"}),
		rateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gtdlog",
			Name:      "sync_rate_limited_total",
			Help:      "Sync rounds skipped because the leaky bucket was empty.",
		}),
	}

	reg.MustRegister(m.syncRoundsTotal, m.replicaLogBytes, m.rateLimitedTotal)
	return m
}

// ObserveSyncRound records the outcome of one sync round.
func (m *Metrics) ObserveSyncRound(outcome string) {
	m.syncRoundsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimited records a sync round skipped by the leaky bucket.
func (m *Metrics) ObserveRateLimited() {
	m.rateLimitedTotal.Inc()
}

// ObserveOffsets updates the per-replica log-size gauges from a snapshot.
func (m *Metrics) ObserveOffsets(offsets OffsetMap) {
	for replicaID, size := range offsets {
		m.replicaLogBytes.WithLabelValues(replicaID).Set(float64(size))
	}
}
