// Copyright 2025 Nomen Protocol
//
// Prometheus metrics for the indexer

package indexer

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks indexer activity across passes.
type Metrics struct {
	registry *prometheus.Registry

	IndexPasses   prometheus.Counter
	StageErrors   *prometheus.CounterVec
	EventsIndexed prometheus.Counter

	IndexHeight   prometheus.Gauge
	KnownNames    prometheus.Gauge
	LastIndexTime prometheus.Gauge
}

// NewMetrics creates and registers the indexer metric set.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		IndexPasses: factory.NewCounter(prometheus.CounterOpts{
			Name: "nomen_index_passes_total",
			Help: "Completed index passes.",
		}),
		StageErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nomen_index_stage_errors_total",
			Help: "Errors per index stage.",
		}, []string{"stage"}),
		EventsIndexed: factory.NewCounter(prometheus.CounterOpts{
			Name: "nomen_record_events_indexed_total",
			Help: "Record events stored or refreshed.",
		}),
		IndexHeight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "nomen_index_height",
			Help: "Highest fully committed block height.",
		}),
		KnownNames: factory.NewGauge(prometheus.GaugeOpts{
			Name: "nomen_known_names",
			Help: "Number of valid names in the index.",
		}),
		LastIndexTime: factory.NewGauge(prometheus.GaugeOpts{
			Name: "nomen_last_index_timestamp_seconds",
			Help: "Unix time of the last completed index pass.",
		}),
	}
}

// Handler serves the metric set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
