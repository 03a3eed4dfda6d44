// Package metrics exposes the fuzz run's counters on a dedicated Prometheus
// registry. The orchestrator updates them and returns the registry from
// Orchestrator.Metrics; no HTTP handler is registered in this module, and the
// background reporter reads the orchestrator's own fields instead.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counters and gauges one orchestrator run updates.
type Metrics struct {
	Registry *prometheus.Registry

	Iterations prometheus.Counter
	Crashes    *prometheus.CounterVec
	CorpusSize prometheus.Gauge
	Anomalies  prometheus.Counter
}

// New constructs a Metrics bound to a fresh registry, namespaced so it never
// collides with a process-wide default registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "midfuzz",
			Name:      "iterations_total",
			Help:      "Total fuzz iterations dispatched against the target.",
		}),
		Crashes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "midfuzz",
			Name:      "crashes_total",
			Help:      "Total crashes saved, labeled by error prefix.",
		}, []string{"err_des"}),
		CorpusSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "midfuzz",
			Name:      "corpus_size",
			Help:      "Current number of interesting inputs retained.",
		}),
		Anomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "midfuzz",
			Name:      "anomalies_total",
			Help:      "Total interesting-timing observations across all monitors.",
		}),
	}
	reg.MustRegister(m.Iterations, m.Crashes, m.CorpusSize, m.Anomalies)
	return m
}
