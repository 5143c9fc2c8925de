// Package metrics holds the investigation pipeline's Prometheus collectors,
// distinct from the HTTP-surface metrics in internal/middleware.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Pipeline holds the counters and gauges for the investigation pipeline:
// the InvestigationConsumer and StaleWatchdog.
type Pipeline struct {
	InvestigationsStarted   *prometheus.CounterVec
	InvestigationsCompleted prometheus.Counter
	InvestigationsFailed    *prometheus.CounterVec
	InvestigationsTimedOut  prometheus.Counter
	ConsumerQueueDepth      prometheus.Gauge
	WatchdogTimeoutsTotal   prometheus.Counter
}

// NewPipeline creates and registers the investigation pipeline metrics.
func NewPipeline(reg prometheus.Registerer) *Pipeline {
	p := &Pipeline{
		InvestigationsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "investigations_started_total",
				Help: "Total number of investigations started, by recovery flag.",
			},
			[]string{"recovery"},
		),
		InvestigationsCompleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "investigations_completed_total",
				Help: "Total number of investigations that completed successfully.",
			},
		),
		InvestigationsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "investigations_failed_total",
				Help: "Total number of investigations that failed, by error kind.",
			},
			[]string{"kind"},
		),
		InvestigationsTimedOut: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "investigations_timed_out_total",
				Help: "Total number of routes timed out by the stale watchdog.",
			},
		),
		ConsumerQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "investigation_consumer_inflight",
				Help: "Number of investigation messages currently being processed.",
			},
		),
		WatchdogTimeoutsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "watchdog_sweeps_total",
				Help: "Total number of stale-route watchdog sweeps performed.",
			},
		),
	}

	reg.MustRegister(
		p.InvestigationsStarted,
		p.InvestigationsCompleted,
		p.InvestigationsFailed,
		p.InvestigationsTimedOut,
		p.ConsumerQueueDepth,
		p.WatchdogTimeoutsTotal,
	)
	return p
}
