package metrics

import "github.com/prometheus/client_golang/prometheus"

// VisitMetrics exposes counters/gauges for the visit lifecycle and its notifications.
type VisitMetrics struct {
	visitsCreated   *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	liveClients     prometheus.Gauge
	outboxDelivered *prometheus.CounterVec
}

func NewVisitMetrics(reg prometheus.Registerer) *VisitMetrics {
	m := &VisitMetrics{
		visitsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "homecare",
			Subsystem: "visits",
			Name:      "created_total",
			Help:      "Total visit requests by outcome",
		}, []string{"status"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "homecare",
			Subsystem: "visits",
			Name:      "transitions_total",
			Help:      "Lifecycle transitions attempted by the coordinator",
		}, []string{"transition", "result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "homecare",
			Subsystem: "notifications",
			Name:      "published_total",
			Help:      "Notifications persisted or pushed, by channel and status",
		}, []string{"channel", "status"}),
		liveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "homecare",
			Subsystem: "notifications",
			Name:      "live_clients",
			Help:      "Websocket clients connected to this instance",
		}),
		outboxDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "homecare",
			Subsystem: "outbox",
			Name:      "delivered_total",
			Help:      "Lifecycle outbox events handed to the sink",
		}, []string{"event_type", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.visitsCreated, m.transitions, m.notifications, m.liveClients, m.outboxDelivered)
	return m
}

func (m *VisitMetrics) ObserveCreated(status string) {
	if m == nil {
		return
	}
	m.visitsCreated.WithLabelValues(status).Inc()
}

// ObserveTransition records a start/finish/cancel attempt; result is "ok", "conflict" or "error".
func (m *VisitMetrics) ObserveTransition(transition, result string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(transition, result).Inc()
}

func (m *VisitMetrics) ObserveNotification(channel, status string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, status).Inc()
}

func (m *VisitMetrics) SetLiveClients(n int) {
	if m == nil {
		return
	}
	m.liveClients.Set(float64(n))
}

func (m *VisitMetrics) ObserveOutbox(eventType, status string) {
	if m == nil {
		return
	}
	m.outboxDelivered.WithLabelValues(eventType, status).Inc()
}
