package client

import "github.com/prometheus/client_golang/prometheus"

var (
	requestAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vapai_request_attempts_total",
			Help: "Outbound request attempts by outcome.",
		},
		[]string{"outcome"},
	)

	credentialRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vapai_credential_refreshes_total",
			Help: "Credential refresh attempts by result.",
		},
		[]string{"result"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vapai_response_cache_lookups_total",
			Help: "Response cache lookups by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(requestAttempts)
	prometheus.MustRegister(credentialRefreshes)
	prometheus.MustRegister(cacheLookups)
}
