package collector

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collector's prometheus instruments.
type Metrics struct {
	connections   prometheus.Gauge
	messages      *prometheus.CounterVec
	pathsStarted  prometheus.Counter
	pathsEnded    prometheus.Counter
	segmentsAdded *prometheus.CounterVec
	pointsStored  prometheus.Counter
	storeErrors   *prometheus.CounterVec
}

// NewMetrics creates the instruments and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pathsync",
			Subsystem: "collector",
			Name:      "connections",
			Help:      "Tracker connections currently open.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pathsync",
			Subsystem: "collector",
			Name:      "messages_total",
			Help:      "Messages received from trackers by type.",
		}, []string{"type"}),
		pathsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pathsync",
			Subsystem: "collector",
			Name:      "paths_started_total",
			Help:      "Paths created.",
		}),
		pathsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pathsync",
			Subsystem: "collector",
			Name:      "paths_ended_total",
			Help:      "Paths closed by path_end.",
		}),
		segmentsAdded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pathsync",
			Subsystem: "collector",
			Name:      "segments_stored_total",
			Help:      "Segments made durable by segment type.",
		}, []string{"segment_type"}),
		pointsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pathsync",
			Subsystem: "collector",
			Name:      "points_stored_total",
			Help:      "Path points made durable.",
		}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pathsync",
			Subsystem: "collector",
			Name:      "store_errors_total",
			Help:      "Failed store operations by request type.",
		}, []string{"request"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.connections, m.messages, m.pathsStarted, m.pathsEnded,
			m.segmentsAdded, m.pointsStored, m.storeErrors,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}
