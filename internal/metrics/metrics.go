// Package metrics exposes Prometheus instrumentation for runs and streams.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	RunsCreated    prometheus.Counter
	RunsFinished   *prometheus.CounterVec
	RunsActive     prometheus.Gauge
	RunsEvicted    prometheus.Counter
	EventsAppended *prometheus.CounterVec
	StreamsActive  *prometheus.GaugeVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RunsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paperbanana",
			Name:      "runs_created_total",
			Help:      "Generation runs registered.",
		}),
		RunsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paperbanana",
			Name:      "runs_finished_total",
			Help:      "Generation runs that reached a terminal status.",
		}, []string{"status"}),
		RunsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "paperbanana",
			Name:      "runs_active",
			Help:      "Runs whose executor is still working.",
		}),
		RunsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paperbanana",
			Name:      "runs_evicted_total",
			Help:      "Terminal runs removed from the registry.",
		}),
		EventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paperbanana",
			Name:      "events_appended_total",
			Help:      "Events appended to run logs.",
		}, []string{"kind"}),
		StreamsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "paperbanana",
			Name:      "streams_active",
			Help:      "Live channels currently attached.",
		}, []string{"transport"}),
	}

	m.registry.MustRegister(
		m.RunsCreated,
		m.RunsFinished,
		m.RunsActive,
		m.RunsEvicted,
		m.EventsAppended,
		m.StreamsActive,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
