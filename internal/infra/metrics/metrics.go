package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "research_workflow"

// Metrics holds all Prometheus metrics for the engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	StatusTransitions   *prometheus.CounterVec
	InvariantViolations prometheus.Counter
	Scheduled           *prometheus.CounterVec
	Deliveries          *prometheus.CounterVec
	Retries             prometheus.Counter
	Cancellations       *prometheus.CounterVec
	ArmedTimers         prometheus.Gauge
	CatalogRefreshes    *prometheus.CounterVec
}

// New creates and registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StatusTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Status transitions by entity kind and outcome.",
		}, []string{"kind", "outcome"}),
		InvariantViolations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invariant_violations_total",
			Help:      "Entities found with more than one current status record.",
		}),
		Scheduled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_scheduled_total",
			Help:      "Notifications persisted as PENDING, by type.",
		}, []string{"type"}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_deliveries_total",
			Help:      "Terminal dispatch outcomes.",
		}, []string{"outcome"}),
		Retries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_retries_total",
			Help:      "Delivery retries scheduled after a transport failure.",
		}),
		Cancellations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_cancellations_total",
			Help:      "Notifications cancelled, by reason.",
		}, []string{"reason"}),
		ArmedTimers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "armed_timers",
			Help:      "Timers currently waiting in the dispatch queue.",
		}),
		CatalogRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "definition_catalog_refreshes_total",
			Help:      "Status definition cache reloads by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) IncTransition(kind, outcome string) {
	if m == nil {
		return
	}
	m.StatusTransitions.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) IncInvariantViolation() {
	if m == nil {
		return
	}
	m.InvariantViolations.Inc()
}

func (m *Metrics) IncScheduled(notificationType string) {
	if m == nil {
		return
	}
	m.Scheduled.WithLabelValues(notificationType).Inc()
}

func (m *Metrics) IncDelivery(outcome string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

func (m *Metrics) IncCancellation(reason string) {
	if m == nil {
		return
	}
	m.Cancellations.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetArmedTimers(n int) {
	if m == nil {
		return
	}
	m.ArmedTimers.Set(float64(n))
}

func (m *Metrics) IncCatalogRefresh(outcome string) {
	if m == nil {
		return
	}
	m.CatalogRefreshes.WithLabelValues(outcome).Inc()
}
