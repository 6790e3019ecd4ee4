package metrics

import (
	"subscription-reconciler/internal/domain/model"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(subscriptionsTotal)
}

var subscriptionsTotal = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "subscriptions_total",
		Help: "Current number of subscriptions by status.",
	},
	[]string{"status"},
)

// SetSubscriptionsTotal refreshes the per-status gauge after a run. Statuses
// missing from the map are reset so deletions show up.
func SetSubscriptionsTotal(counts map[model.SubscriptionStatus]int) {
	statuses := []model.SubscriptionStatus{
		model.SubscriptionStatusActive,
		model.SubscriptionStatusPending,
		model.SubscriptionStatusSuspended,
		model.SubscriptionStatusCancelled,
		model.SubscriptionStatusExpired,
	}
	for _, status := range statuses {
		subscriptionsTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
