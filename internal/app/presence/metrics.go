package presence

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes hub activity to Prometheus. A nil *Metrics is a no-op.
type Metrics struct {
	sessions   prometheus.Gauge
	bound      prometheus.Gauge
	records    prometheus.Gauge
	events     *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	evictions  prometheus.Counter
	swept      prometheus.Counter
}

// NewMetrics registers the hub collectors on reg, or the default registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geomap_sessions_active",
			Help: "Live WebSocket sessions, bound or anonymous.",
		}),
		bound: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geomap_sessions_bound",
			Help: "Identities that currently have a live session.",
		}),
		records: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geomap_records",
			Help: "Records held in the store.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geomap_events_total",
			Help: "Inbound events by type and outcome.",
		}, []string{"type", "result"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geomap_deliveries_total",
			Help: "Outbound frames by event type and outcome.",
		}, []string{"type", "result"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geomap_slow_session_evictions_total",
			Help: "Sessions closed because their send queue was full.",
		}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geomap_records_swept_total",
			Help: "Records removed by the retention sweeper.",
		}),
	}

	reg.MustRegister(
		m.sessions,
		m.bound,
		m.records,
		m.events,
		m.deliveries,
		m.evictions,
		m.swept,
	)
	return m
}

func (m *Metrics) observeState(sessions, bound, records int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(sessions))
	m.bound.Set(float64(bound))
	m.records.Set(float64(records))
}

// event counts one inbound frame. Types outside the protocol share the unknown label.
func (m *Metrics) event(eventType EventType, result string) {
	if m == nil {
		return
	}
	if !eventType.inbound() {
		eventType = EventUnknown
	}
	m.events.WithLabelValues(string(eventType), result).Inc()
}

func (m *Metrics) delivery(eventType EventType, result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(string(eventType), result).Inc()
}

func (m *Metrics) eviction() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}

func (m *Metrics) sweep(removed int) {
	if m == nil {
		return
	}
	m.swept.Add(float64(removed))
}
