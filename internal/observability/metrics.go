package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	activityPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bulletin",
		Subsystem: "persistence",
		Name:      "last_activity_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent activity written to Postgres.",
	})
	sweepTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bulletin",
		Subsystem: "sweep",
		Name:      "transitions_total",
		Help:      "Activities acted on by the sweep, partitioned by action.",
	}, []string{"action"})
	sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bulletin",
		Subsystem: "sweep",
		Name:      "duration_seconds",
		Help:      "Wall time of one sweep run.",
		Buckets:   prometheus.DefBuckets,
	})
	sweepLastRun = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bulletin",
		Subsystem: "sweep",
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix timestamp the most recent sweep ran as of.",
	})
	pollVotes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bulletin",
		Subsystem: "poll",
		Name:      "votes_total",
		Help:      "Poll votes cast or replaced.",
	})
	votePurchases = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bulletin",
		Subsystem: "voting",
		Name:      "purchases_total",
		Help:      "Vote purchase attempts, partitioned by outcome.",
	}, []string{"outcome"})
	formSubmissions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bulletin",
		Subsystem: "form",
		Name:      "submissions_total",
		Help:      "Accepted form submissions.",
	})
	sideEffectFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bulletin",
		Subsystem: "activities",
		Name:      "side_effect_failures_total",
		Help:      "Best-effort side effects (notify, release, broadcast) that failed.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(
		activityPersistGauge,
		sweepTransitions,
		sweepDuration,
		sweepLastRun,
		pollVotes,
		votePurchases,
		formSubmissions,
		sideEffectFailures,
	)
}

// RecordActivityPersisted updates the persistence watermark gauge.
func RecordActivityPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	activityPersistGauge.Set(float64(ts.Unix()))
}

// RecordSweep records the outcome of a sweep run.
func RecordSweep(published, deleted, archived, failed int, took time.Duration, asOf time.Time) {
	sweepTransitions.WithLabelValues("publish").Add(float64(published))
	sweepTransitions.WithLabelValues("delete").Add(float64(deleted))
	sweepTransitions.WithLabelValues("archive").Add(float64(archived))
	sweepTransitions.WithLabelValues("failed").Add(float64(failed))
	sweepDuration.Observe(took.Seconds())
	if !asOf.IsZero() {
		sweepLastRun.Set(float64(asOf.Unix()))
	}
}

// RecordPollVote counts one accepted poll vote.
func RecordPollVote() {
	pollVotes.Inc()
}

// RecordPurchase counts a vote purchase attempt by outcome.
func RecordPurchase(outcome string) {
	votePurchases.WithLabelValues(outcome).Inc()
}

// RecordFormSubmission counts one accepted form submission.
func RecordFormSubmission() {
	formSubmissions.Inc()
}

// RecordSideEffectFailure counts a failed best-effort side effect.
func RecordSideEffectFailure(kind string) {
	sideEffectFailures.WithLabelValues(kind).Inc()
}
