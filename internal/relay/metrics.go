package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	connections prometheus.Gauge
	joins       prometheus.Counter
	signals     *prometheus.CounterVec
	drops       prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callkit_relay_connections",
			Help: "Currently open signaling sockets.",
		}),
		joins: factory.NewCounter(prometheus.CounterOpts{
			Name: "callkit_relay_joins_total",
			Help: "Accepted join-call requests.",
		}),
		signals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callkit_relay_signals_total",
			Help: "Relayed signaling envelopes by type.",
		}, []string{"type"}),
		drops: factory.NewCounter(prometheus.CounterOpts{
			Name: "callkit_relay_backpressure_drops_total",
			Help: "Messages dropped because a member's send buffer was full.",
		}),
	}
}
