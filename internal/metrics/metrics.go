package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records
// nothing, so packages can be used without a registry in tests.
type Metrics struct {
	registry *prometheus.Registry

	lapsRecorded      prometheus.Counter
	lapsRejected      *prometheus.CounterVec
	eventsBroadcast   prometheus.Counter
	deliveriesDropped *prometheus.CounterVec
	streamClients     *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		lapsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lapboard",
			Name:      "laps_recorded_total",
			Help:      "Laps accepted from telemetry.",
		}),
		lapsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lapboard",
			Name:      "laps_rejected_total",
			Help:      "Telemetry requests rejected, by reason.",
		}, []string{"reason"}),
		eventsBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lapboard",
			Name:      "score_events_broadcast_total",
			Help:      "Score events fanned out to subscribers.",
		}),
		deliveriesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lapboard",
			Name:      "deliveries_dropped_total",
			Help:      "Score events dropped for slow subscribers, by transport.",
		}, []string{"transport"}),
		streamClients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lapboard",
			Name:      "stream_clients",
			Help:      "Connected stream clients, by transport.",
		}, []string{"transport"}),
	}
	m.registry.MustRegister(
		m.lapsRecorded,
		m.lapsRejected,
		m.eventsBroadcast,
		m.deliveriesDropped,
		m.streamClients,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) LapRecorded() {
	if m == nil {
		return
	}
	m.lapsRecorded.Inc()
}

func (m *Metrics) LapRejected(reason string) {
	if m == nil {
		return
	}
	m.lapsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) EventBroadcast() {
	if m == nil {
		return
	}
	m.eventsBroadcast.Inc()
}

func (m *Metrics) DeliveryDropped(transport string) {
	if m == nil {
		return
	}
	m.deliveriesDropped.WithLabelValues(transport).Inc()
}

func (m *Metrics) ClientConnected(transport string) {
	if m == nil {
		return
	}
	m.streamClients.WithLabelValues(transport).Inc()
}

func (m *Metrics) ClientDisconnected(transport string) {
	if m == nil {
		return
	}
	m.streamClients.WithLabelValues(transport).Dec()
}
