package livedb

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts change set traffic. A nil *Metrics records nothing.
type Metrics struct {
	changeSets   *prometheus.CounterVec
	deliveries   prometheus.Counter
	refreshes    prometheus.Counter
	listeners    prometheus.Gauge
	unwatchedErr prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		changeSets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livedb",
			Name:      "change_sets_total",
			Help:      "Change sets computed, by state",
		}, []string{"state"}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "livedb",
			Name:      "listener_calls_total",
			Help:      "Listener invocations",
		}),
		refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "livedb",
			Name:      "refreshes_total",
			Help:      "Query evaluations requested from sources",
		}),
		listeners: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "livedb",
			Name:      "listeners",
			Help:      "Currently registered listeners",
		}),
		unwatchedErr: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "livedb",
			Name:      "failed_queries_total",
			Help:      "Result sets stopped by a query error",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.changeSets, m.deliveries, m.refreshes, m.listeners, m.unwatchedErr)
	}
	return m
}

func (m *Metrics) changeSet(cs ChangeSet, calls int) {
	if m == nil {
		return
	}
	m.changeSets.WithLabelValues(cs.State().String()).Inc()
	m.deliveries.Add(float64(calls))
	if cs.State() == StateError {
		m.unwatchedErr.Inc()
	}
}

func (m *Metrics) refresh() {
	if m == nil {
		return
	}
	m.refreshes.Inc()
}

func (m *Metrics) listenerAdded(delta int) {
	if m == nil {
		return
	}
	m.listeners.Add(float64(delta))
}
