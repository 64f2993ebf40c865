package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	warpsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "retrace",
		Subsystem: "session",
		Name:      "warps_total",
		Help:      "Number of position warps.",
	})

	resumeOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "retrace",
		Subsystem: "session",
		Name:      "resume_operations_total",
		Help:      "Stepping commands issued, by step kind.",
	}, []string{"kind"})

	targetHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "retrace",
		Subsystem: "session",
		Name:      "target_cache_hits_total",
		Help:      "Resume target lookups answered from cache.",
	})

	targetMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "retrace",
		Subsystem: "session",
		Name:      "target_cache_misses_total",
		Help:      "Resume target lookups that went to the service.",
	})

	targetStaleTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "retrace",
		Subsystem: "session",
		Name:      "target_cache_stale_results_total",
		Help:      "Resolved targets discarded because the cache generation moved.",
	})

	invalidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "retrace",
		Subsystem: "session",
		Name:      "invalidations_total",
		Help:      "Cache-invalidating mutations started.",
	})

	invalidationsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "retrace",
		Subsystem: "session",
		Name:      "invalidations_pending",
		Help:      "Cache-invalidating mutations currently in flight.",
	})

	precachedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "retrace",
		Subsystem: "session",
		Name:      "precached_pauses_total",
		Help:      "Pauses materialized by speculative pre-caching.",
	})

	breakpointFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "retrace",
		Subsystem: "session",
		Name:      "breakpoint_failures_total",
		Help:      "Breakpoint mutations rejected by the service and swallowed.",
	})
)
