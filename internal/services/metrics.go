package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"brokercrm/internal/apperr"
)

// Metrics is safe to use as a nil pointer: every method is a no-op then.
type Metrics struct {
	transitions   *prometheus.CounterVec
	rejected      *prometheus.CounterVec
	leadsCreated  *prometheus.CounterVec
	configChanges *prometheus.CounterVec
	notifyErrors  *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brokercrm",
			Subsystem: "lead_state",
			Name:      "transitions_total",
			Help:      "Applied lead state transitions, labeled by desk and target state",
		}, []string{"desk_id", "to_state"}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brokercrm",
			Subsystem: "lead_state",
			Name:      "transitions_rejected_total",
			Help:      "Rejected lead state transitions, labeled by error kind",
		}, []string{"kind"}),
		leadsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brokercrm",
			Subsystem: "lead_state",
			Name:      "leads_created_total",
			Help:      "Leads placed at their desk's initial state",
		}, []string{"desk_id"}),
		configChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brokercrm",
			Subsystem: "desk_config",
			Name:      "changes_total",
			Help:      "Desk state and transition configuration changes",
		}, []string{"entity", "action"}),
		notifyErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brokercrm",
			Subsystem: "notifications",
			Name:      "errors_total",
			Help:      "Failed transition notifications, labeled by channel",
		}, []string{"channel"}),
	}
}

func (m *Metrics) transitionApplied(deskID, toState string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(deskID, toState).Inc()
}

func (m *Metrics) transitionRejected(err error) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(string(apperr.KindOf(err))).Inc()
}

func (m *Metrics) leadCreated(deskID string) {
	if m == nil {
		return
	}
	m.leadsCreated.WithLabelValues(deskID).Inc()
}

func (m *Metrics) configChanged(entity, action string) {
	if m == nil {
		return
	}
	m.configChanges.WithLabelValues(entity, action).Inc()
}

func (m *Metrics) notifyFailed(channel string) {
	if m == nil {
		return
	}
	m.notifyErrors.WithLabelValues(channel).Inc()
}
