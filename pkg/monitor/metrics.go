// Package monitor exposes the progress of a running inference over HTTP:
// Prometheus gauges on /metrics and the latest report as JSON.
package monitor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/allenv5/sviamp/pkg/svi"
)

// Metrics holds the Prometheus collectors for one inference run.
type Metrics struct {
	Iteration         prometheus.Gauge
	HeldoutLikelihood *prometheus.GaugeVec
	MaxHeldout        prometheus.Gauge
	Stalls            prometheus.Gauge
	EdgesPerIteration prometheus.Gauge
	Hits              *prometheus.GaugeVec
	ReportsTotal      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Iteration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sviamp_iteration",
				Help: "Iterations completed.",
			},
		),
		HeldoutLikelihood: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sviamp_pair_likelihood",
				Help: "Balanced per-pair log-likelihood by sample set.",
			},
			[]string{"set"},
		),
		MaxHeldout: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sviamp_heldout_likelihood_max",
				Help: "Best held-out log-likelihood seen after warm-up.",
			},
		),
		Stalls: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sviamp_convergence_stalls",
				Help: "Consecutive held-out likelihood decreases.",
			},
		),
		EdgesPerIteration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sviamp_minibatch_edges",
				Help: "Edges processed by the local step in the last iteration.",
			},
		),
		Hits: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sviamp_precision_hits",
				Help: "Mean fraction of held-out links in the top of each query's ranking.",
			},
			[]string{"at"},
		),
		ReportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sviamp_reports_total",
				Help: "Progress reports by convergence verdict.",
			},
			[]string{"verdict"},
		),
	}

	reg.MustRegister(
		m.Iteration,
		m.HeldoutLikelihood,
		m.MaxHeldout,
		m.Stalls,
		m.EdgesPerIteration,
		m.Hits,
		m.ReportsTotal,
	)
	return m
}

// Observe updates the collectors from one progress report.
func (m *Metrics) Observe(p svi.Progress) {
	m.Iteration.Set(float64(p.Iteration))
	m.HeldoutLikelihood.WithLabelValues("heldout").Set(p.Heldout)
	m.HeldoutLikelihood.WithLabelValues("validation").Set(p.Validation)
	m.HeldoutLikelihood.WithLabelValues("training").Set(p.Training)
	m.MaxHeldout.Set(p.MaxHeldout)
	m.Stalls.Set(float64(p.Stalls))
	m.EdgesPerIteration.Set(float64(p.Edges))
	if p.Hits != nil {
		m.Hits.WithLabelValues("10").Set(p.Hits.At10)
		m.Hits.WithLabelValues("50").Set(p.Hits.At50)
		m.Hits.WithLabelValues("100").Set(p.Hits.At100)
	}
	m.ReportsTotal.WithLabelValues(p.Verdict).Inc()
}
