package jobs

import "github.com/prometheus/client_golang/prometheus"

// metrics is a read-only observability surface over the executor's job
// counts — it never influences scheduling, only reports on it.
type metrics struct {
	queued   prometheus.Gauge
	running  prometheus.Gauge
	complete prometheus.Counter
	failed   prometheus.Counter
	reused   prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "foundry", Subsystem: "jobs", Name: "queued",
			Help: "Jobs currently queued or waiting on a dependency.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "foundry", Subsystem: "jobs", Name: "running",
			Help: "Jobs currently executing on a worker.",
		}),
		complete: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "foundry", Subsystem: "jobs", Name: "complete_total",
			Help: "Jobs that finished successfully, including cache reuse.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "foundry", Subsystem: "jobs", Name: "failed_total",
			Help: "Jobs that finished in the Failed state.",
		}),
		reused: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "foundry", Subsystem: "jobs", Name: "reused_total",
			Help: "Jobs whose cached output was reused instead of re-running.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.queued, m.running, m.complete, m.failed, m.reused)
	}
	return m
}
