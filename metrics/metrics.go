package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RoundsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ripple_rounds_total",
			Help: "Total number of relaxation rounds driven by the coord",
		},
	)

	ProgressVertices = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ripple_progress_vertices_total",
			Help: "Total number of vertices that made progress, summed over all workers",
		},
	)

	PushedValues = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ripple_pushed_values_total",
			Help: "Field values delivered during push synchronization",
		},
	)

	PulledValues = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ripple_pulled_values_total",
			Help: "Field values delivered during pull synchronization",
		},
	)

	RoundDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ripple_round_duration_seconds",
			Help:    "Wall clock duration of one relax+push+pull round",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
	)

	RunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ripple_runs_total",
			Help: "Completed relaxation runs",
		},
	)
)
