package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OrderMetrics records order placement and lifecycle activity.
type OrderMetrics struct {
	placed      *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	transitions *prometheus.CounterVec
	placement   prometheus.Histogram
}

// NewOrderMetrics registers the order metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewOrderMetrics(reg prometheus.Registerer) *OrderMetrics {
	if reg == nil {
		return &OrderMetrics{}
	}
	placed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_placed_total",
		Help: "Orders successfully placed.",
	}, []string{"payment_method"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_rejected_total",
		Help: "Order placements rejected, by error code.",
	}, []string{"reason"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_transitions_total",
		Help: "Order status transitions applied.",
	}, []string{"status"})
	placement := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "order_placement_duration_seconds",
		Help:    "Duration of the order placement transaction in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	reg.MustRegister(placed, rejected, transitions, placement)
	return &OrderMetrics{
		placed:      placed,
		rejected:    rejected,
		transitions: transitions,
		placement:   placement,
	}
}

// IncPlaced counts a placed order.
func (m *OrderMetrics) IncPlaced(paymentMethod string) {
	if m == nil || m.placed == nil {
		return
	}
	m.placed.WithLabelValues(normalizeLabel(paymentMethod)).Inc()
}

// IncRejected counts a rejected placement.
func (m *OrderMetrics) IncRejected(reason string) {
	if m == nil || m.rejected == nil {
		return
	}
	m.rejected.WithLabelValues(normalizeLabel(reason)).Inc()
}

// IncTransition counts a status change into status.
func (m *OrderMetrics) IncTransition(status string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(status)).Inc()
}

// ObservePlacement records how long a placement took.
func (m *OrderMetrics) ObservePlacement(duration time.Duration) {
	if m == nil || m.placement == nil {
		return
	}
	m.placement.Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
