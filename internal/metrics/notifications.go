package metrics

import "github.com/prometheus/client_golang/prometheus"

// Notification delivery outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
	OutcomeDropped   = "dropped"
)

// NotificationMetrics records what happened to each dispatched event.
type NotificationMetrics struct {
	events *prometheus.CounterVec
}

// NewNotificationMetrics registers the notification metrics on reg.
func NewNotificationMetrics(reg prometheus.Registerer) *NotificationMetrics {
	if reg == nil {
		return &NotificationMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_events_total",
		Help: "Notification events by type and outcome.",
	}, []string{"type", "outcome"})
	reg.MustRegister(events)
	return &NotificationMetrics{events: events}
}

// Inc counts one event of eventType with the given outcome.
func (m *NotificationMetrics) Inc(eventType, outcome string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}
