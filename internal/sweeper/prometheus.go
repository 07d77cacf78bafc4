package sweeper

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_sweep_duration_seconds",
		Help:    "Time taken by one sweep pass.",
		Buckets: prometheus.DefBuckets,
	})
	sweepErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_sweep_errors_total",
		Help: "Sweep passes aborted by a repository error, by phase.",
	}, []string{"phase"})
)
