package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	recomputesMetricName        = "recipeshare_rating_recomputes_total"
	recomputeDurationMetricName = "recipeshare_rating_recompute_seconds"
	commentMutationsMetricName  = "recipeshare_comment_mutations_total"
)

// Recompute triggers.
const (
	TriggerCreated = "created"
	TriggerRemoved = "removed"
	TriggerUpdated = "updated"
	TriggerManual  = "manual"
)

// Recompute outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

var (
	recomputesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: recomputesMetricName,
		Help: "Recipe rating recomputations by trigger and outcome.",
	}, []string{"trigger", "outcome"})

	recomputeDurationMetric = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    recomputeDurationMetricName,
		Help:    "Time spent scanning rated comments and writing the recipe aggregate.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	commentMutationsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: commentMutationsMetricName,
		Help: "Committed comment mutations by operation.",
	}, []string{"operation"})
)

// ObserveRecompute records one recompute attempt.
func ObserveRecompute(trigger, outcome string, elapsed time.Duration) {
	recomputesMetric.WithLabelValues(trigger, outcome).Inc()
	recomputeDurationMetric.Observe(elapsed.Seconds())
}

// CommentMutation counts a committed create/update/delete.
func CommentMutation(operation string) {
	commentMutationsMetric.WithLabelValues(operation).Inc()
}
