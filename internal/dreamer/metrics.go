package dreamer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	passesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dreamd",
		Subsystem: "consolidation",
		Name:      "passes_total",
		Help:      "Consolidation passes by terminal status.",
	}, []string{"status"})

	passDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dreamd",
		Subsystem: "consolidation",
		Name:      "pass_duration_seconds",
		Help:      "Wall-clock duration of consolidation passes.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	clustersPerPass = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dreamd",
		Subsystem: "consolidation",
		Name:      "clusters_per_pass",
		Help:      "Failure clusters discovered per pass.",
		Buckets:   prometheus.LinearBuckets(0, 2, 10),
	})

	rulesCommittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dreamd",
		Subsystem: "consolidation",
		Name:      "rules_committed_total",
		Help:      "Verified rules committed to the semantic store.",
	})

	candidatesRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dreamd",
		Subsystem: "consolidation",
		Name:      "candidates_rejected_total",
		Help:      "Candidate rules discarded, by stage.",
	}, []string{"stage"})

	clustersFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dreamd",
		Subsystem: "consolidation",
		Name:      "clusters_failed_total",
		Help:      "Cluster units that errored; contained to the cluster.",
	})

	triggersDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dreamd",
		Subsystem: "consolidation",
		Name:      "triggers_dropped_total",
		Help:      "Consolidation triggers dropped because one was already pending.",
	})
)
