// Package metrics exposes Prometheus collectors for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	JobsDispatched  *prometheus.CounterVec
	RunsProcessed   *prometheus.CounterVec
	HandlerDuration *prometheus.HistogramVec
	MirrorPublished *prometheus.CounterVec
}

// New creates the collectors and registers them on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gokb_jobs_dispatched_total",
			Help: "Jobs claimed by the dispatcher, by kind.",
		}, []string{"kind"}),
		RunsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gokb_job_runs_processed_total",
			Help: "Job runs resolved by the worker, by kind and outcome.",
		}, []string{"kind", "status"}),
		HandlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gokb_handler_duration_seconds",
			Help:    "Stage handler execution time, by kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		MirrorPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gokb_mirror_published_total",
			Help: "Mirror outbox entries published, by outcome.",
		}, []string{"status"}),
	}

	reg.MustRegister(m.JobsDispatched, m.RunsProcessed, m.HandlerDuration, m.MirrorPublished)
	return m
}
