package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	jobsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vapai_jobs_submitted_total",
			Help: "Jobs accepted by the compute backend, by kind.",
		},
		[]string{"kind"},
	)

	jobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vapai_jobs_finished_total",
			Help: "Jobs reaching a terminal state, by kind and status.",
		},
		[]string{"kind", "status"},
	)

	pollCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vapai_poll_cycles_total",
			Help: "Successful status fetches across all jobs.",
		},
	)

	pollErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vapai_poll_errors_total",
			Help: "Transient status fetch failures absorbed by the poller.",
		},
	)
)

func init() {
	prometheus.MustRegister(jobsSubmitted)
	prometheus.MustRegister(jobsFinished)
	prometheus.MustRegister(pollCycles)
	prometheus.MustRegister(pollErrors)
}
