package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "livequiz"

var (
	LiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "live_connections",
		Help:      "Number of connections currently registered.",
	})

	Evictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connection_evictions_total",
		Help:      "Connections closed because the participant connected again.",
	})

	BroadcastDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_deliveries_total",
		Help:      "Per-connection deliveries of broadcast messages.",
	}, []string{"type", "result"})

	AnswersScored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "answers_scored_total",
		Help:      "Answers scored, by correctness.",
	}, []string{"correct"})

	CacheDegraded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_degraded_total",
		Help:      "Cache operations that failed and fell back to the durable store.",
	}, []string{"op"})

	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_transitions_total",
		Help:      "Session status transitions.",
	}, []string{"to"})
)
