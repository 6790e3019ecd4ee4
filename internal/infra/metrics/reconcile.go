package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		reconcileRunsTotal,
		reconcileRunDuration,
		reconcileItemErrorsTotal,
		subscriptionsExpiredTotal,
		entitlementsHealedTotal,
		usersDowngradedTotal,
		orphansDeletedTotal,
		subscriptionsCommittedTotal,
	)
}

var (
	reconcileRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_runs_total",
			Help: "Reconciliation runs by outcome.",
		},
		[]string{"outcome"}, // 'ok', 'partial', 'skipped'
	)

	reconcileRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reconcile_run_duration_seconds",
			Help:    "Wall time of a full reconciliation run.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	reconcileItemErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_item_errors_total",
			Help: "Per-subscription failures that were skipped, by routine.",
		},
		[]string{"routine"},
	)

	subscriptionsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriptions_expired_total",
			Help: "Subscriptions transitioned to EXPIRED by reconciliation.",
		},
	)

	entitlementsHealedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "entitlements_healed_total",
			Help: "Users upgraded to match an active subscription.",
		},
	)

	usersDowngradedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "users_downgraded_total",
			Help: "Users switched back to the free plan.",
		},
	)

	orphansDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orphans_deleted_total",
			Help: "Dangling subscription records removed.",
		},
	)

	subscriptionsCommittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriptions_committed_total",
			Help: "Pending subscription records persisted.",
		},
	)
)

func IncReconcileRun(outcome string)        { reconcileRunsTotal.WithLabelValues(outcome).Inc() }
func ObserveRunDuration(d time.Duration)    { reconcileRunDuration.Observe(d.Seconds()) }
func AddItemErrors(routine string, n int)   { reconcileItemErrorsTotal.WithLabelValues(routine).Add(float64(n)) }
func AddSubscriptionsExpired(n int)         { subscriptionsExpiredTotal.Add(float64(n)) }
func AddEntitlementsHealed(n int)           { entitlementsHealedTotal.Add(float64(n)) }
func AddUsersDowngraded(n int)              { usersDowngradedTotal.Add(float64(n)) }
func AddOrphansDeleted(n int)               { orphansDeletedTotal.Add(float64(n)) }
func AddSubscriptionsCommitted(n int)       { subscriptionsCommittedTotal.Add(float64(n)) }
