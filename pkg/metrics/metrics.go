package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the matching engine.
type Metrics struct {
	// Queue metrics
	QueueDepth       *prometheus.GaugeVec
	ItemsEnqueued    prometheus.Counter
	ItemsClaimed     prometheus.Counter
	ItemsCompleted   prometheus.Counter
	ItemsFailed      *prometheus.CounterVec
	ItemsReleased    prometheus.Counter
	ZombiesRecovered prometheus.Counter

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	CacheSwept  prometheus.Counter

	// Scoring metrics
	ScoresComputed prometheus.Counter
	ScoresClamped  prometheus.Counter

	// Dedup metrics
	DedupArchived prometheus.Counter
}

// New creates a new Metrics instance with all metrics registered on the
// default registry.
func New() *Metrics {
	return &Metrics{
		QueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "enrichment_queue_depth",
				Help: "Number of queue items by status",
			},
			[]string{"status"},
		),
		ItemsEnqueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "enrichment_queue_enqueued_total",
			Help: "Total items enqueued (excluding no-op duplicates)",
		}),
		ItemsClaimed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "enrichment_queue_claimed_total",
			Help: "Total items claimed by workers",
		}),
		ItemsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "enrichment_queue_completed_total",
			Help: "Total items completed successfully",
		}),
		ItemsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enrichment_queue_failed_total",
				Help: "Total item failures by disposition (requeued or terminal)",
			},
			[]string{"disposition"},
		),
		ItemsReleased: promauto.NewCounter(prometheus.CounterOpts{
			Name: "enrichment_queue_released_total",
			Help: "Total items released back to pending by cooperative cancellation",
		}),
		ZombiesRecovered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "enrichment_queue_zombies_recovered_total",
			Help: "Total items reclaimed from stuck processing state",
		}),
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "response_cache_hits_total",
			Help: "Total response cache hits",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "response_cache_misses_total",
			Help: "Total response cache misses",
		}),
		CacheSwept: promauto.NewCounter(prometheus.CounterOpts{
			Name: "response_cache_swept_total",
			Help: "Total expired cache entries removed by sweeps",
		}),
		ScoresComputed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scores_computed_total",
			Help: "Total score computations",
		}),
		ScoresClamped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scores_clamped_total",
			Help: "Total composites clamped back into [0,100] after adjustments",
		}),
		DedupArchived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dedup_archived_total",
			Help: "Total records archived by the dedup enforcer",
		}),
	}
}
