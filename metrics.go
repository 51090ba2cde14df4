package flasharb

import "github.com/prometheus/client_golang/prometheus"

// Metrics are package-level, following the pack's convention of a var block
// of collectors registered once in init() rather than threaded through every
// constructor. Engine.Run updates these as it drains the event channel.
var (
	opportunitiesFoundTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_opportunities_found_total",
		Help: "Total number of opportunities emitted by the analyzer.",
	})
	opportunitiesRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flasharb_opportunities_rejected_total",
		Help: "Total number of opportunities rejected by the analyzer, by dominant venue family.",
	}, []string{"venue"})
	submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flasharb_submissions_total",
		Help: "Total number of submit-mode executions, by terminal status.",
	}, []string{"status"})
	snapshotErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flasharb_snapshot_errors_total",
		Help: "Total number of per-pool snapshot failures.",
	}, []string{"pool"})
	optimizerIterations = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flasharb_optimizer_iterations",
		Help:    "Ternary-search iteration count per optimize() call.",
		Buckets: prometheus.LinearBuckets(0, 2, 11),
	})
	optimizerDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flasharb_optimizer_duration_ms",
		Help:    "Wall-clock duration of optimize() calls, in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 8),
	})
)

func init() {
	prometheus.MustRegister(
		opportunitiesFoundTotal,
		opportunitiesRejectedTotal,
		submissionsTotal,
		snapshotErrorsTotal,
		optimizerIterations,
		optimizerDurationMs,
	)
}

// observeEvent folds one Event into the package's metrics. Called from
// Engine.Run as it drains the event channel, so every event publisher stays
// metrics-agnostic.
func observeEvent(ev Event) {
	switch ev.Kind {
	case EventOpportunityFound:
		opportunitiesFoundTotal.Inc()
		if ev.Opportunity != nil && ev.Opportunity.Optimization != nil {
			opt := ev.Opportunity.Optimization
			optimizerIterations.Observe(float64(opt.Iterations))
			optimizerDurationMs.Observe(float64(opt.DurationMs))
		}
	case EventOpportunityRejected:
		opportunitiesRejectedTotal.WithLabelValues(dominantFamily(ev.Opportunity.Path)).Inc()
	case EventSubmitted:
		submissionsTotal.WithLabelValues("submitted").Inc()
	case EventConfirmed:
		submissionsTotal.WithLabelValues("confirmed").Inc()
	case EventReverted:
		submissionsTotal.WithLabelValues("reverted").Inc()
	case EventError:
		snapshotErrorsTotal.WithLabelValues(ev.PoolID).Inc()
	}
}
