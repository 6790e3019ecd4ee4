package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(providerRequestsTotal)
}

var providerRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "provider_requests_total",
		Help: "Read requests against external providers, by outcome.",
	},
	[]string{"provider", "outcome"}, // outcome: 'ok', 'error'
)

func IncProviderRequest(provider string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	providerRequestsTotal.WithLabelValues(provider, outcome).Inc()
}
