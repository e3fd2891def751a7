package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "interview_sessions_active",
		Help: "Currently active interview sessions",
	})

	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_sessions_total",
		Help: "Sessions started, by modality",
	}, []string{"modality"})

	FramesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_frames_relayed_total",
		Help: "Frames forwarded, by kind and direction",
	}, []string{"kind", "direction"})

	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_frames_dropped_total",
		Help: "Media frames discarded by the lossy queue policy",
	}, []string{"kind", "direction"})

	FramesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_frames_rejected_total",
		Help: "Inbound frames rejected, by reason",
	}, []string{"reason"})

	EngineReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_engine_reconnects_total",
		Help: "Reconnection attempts to the conversational engine",
	})

	TurnsPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_turns_persisted_total",
		Help: "Assembled conversational turns handed to the store",
	})

	PersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "store_write_failures_total",
		Help: "Writes that failed after the optional-column retry",
	})

	TurnLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bridge_turn_assembly_seconds",
		Help:    "Time from first frame of a turn to persistence handoff",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	})
)
