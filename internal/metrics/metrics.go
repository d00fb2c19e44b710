// Package metrics exposes prometheus collectors for the drop engine and the
// battle orchestrator. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "casebattle"

type Metrics struct {
	registry       *prometheus.Registry
	openings       *prometheus.CounterVec
	battlesCreated prometheus.Counter
	battlesEnded   *prometheus.CounterVec
	rounds         prometheus.Counter
	activeRooms    prometheus.Gauge
	wsConnections  prometheus.Gauge
}

// New registers every collector on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		openings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "openings_total",
			Help:      "Completed single-player box openings.",
		}, []string{"box_id"}),
		battlesCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "battles_created_total",
			Help:      "Battle rooms created.",
		}),
		battlesEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "battles_ended_total",
			Help:      "Battle rooms that reached a terminal status.",
		}, []string{"status"}),
		rounds: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_resolved_total",
			Help:      "Battle rounds resolved and persisted.",
		}),
		activeRooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Rooms currently registered in the hub.",
		}),
		wsConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Open websocket connections.",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) OpeningCompleted(boxID string) {
	if m == nil {
		return
	}
	m.openings.WithLabelValues(boxID).Inc()
}

func (m *Metrics) BattleCreated() {
	if m == nil {
		return
	}
	m.battlesCreated.Inc()
}

func (m *Metrics) BattleEnded(status string) {
	if m == nil {
		return
	}
	m.battlesEnded.WithLabelValues(status).Inc()
}

func (m *Metrics) RoundResolved() {
	if m == nil {
		return
	}
	m.rounds.Inc()
}

func (m *Metrics) RoomRegistered() {
	if m == nil {
		return
	}
	m.activeRooms.Inc()
}

func (m *Metrics) RoomRemoved() {
	if m == nil {
		return
	}
	m.activeRooms.Dec()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.wsConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.wsConnections.Dec()
}
