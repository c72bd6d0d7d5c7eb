package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	queueDepth   prometheus.Gauge
	historySize  prometheus.Gauge
	completed    *prometheus.CounterVec
	blocks       prometheus.Counter
	evicted      prometheus.Counter
	undoRequests *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "structurize",
			Name:      "queue_depth",
			Help:      "Operations waiting in the edit queue.",
		}),
		historySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "structurize",
			Name:      "history_records",
			Help:      "Change records currently held for undo.",
		}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "structurize",
			Name:      "operations_completed_total",
			Help:      "Completed world edits by kind.",
		}, []string{"kind"}),
		blocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "structurize",
			Name:      "blocks_written_total",
			Help:      "Blocks changed by world edits.",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "structurize",
			Name:      "history_evicted_total",
			Help:      "Change records dropped to respect max_cached_changes.",
		}),
		undoRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "structurize",
			Name:      "undo_requests_total",
			Help:      "Undo requests by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.queueDepth, m.historySize, m.completed, m.blocks, m.evicted, m.undoRequests} {
			if err := reg.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					panic(err)
				}
			}
		}
	}
	return m
}
