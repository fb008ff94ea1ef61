// Package monitor drives the periodic re-check of every tracked video.
package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes Prometheus collectors for the sweep loop.
type Metrics struct {
	SweepsTotal          prometheus.Counter
	SweepDurationSeconds prometheus.Histogram
	ItemsCheckedTotal    prometheus.Counter
	FetchFailuresTotal   prometheus.Counter
	MilestonesFiredTotal prometheus.Counter
	NotifyFailuresTotal  prometheus.Counter
}

// NewMetrics registers the monitor collectors on reg.
// Pass prometheus.DefaultRegisterer in production, a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SweepsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "monitor_sweeps_total",
			Help: "Total number of completed sweeps.",
		}),
		SweepDurationSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "monitor_sweep_duration_seconds",
			Help:    "Histogram of full-sweep durations.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}),
		ItemsCheckedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "monitor_items_checked_total",
			Help: "Total tracked records processed across sweeps.",
		}),
		FetchFailuresTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "monitor_fetch_failures_total",
			Help: "Total per-video fetch or extraction failures (skipped, retried next sweep).",
		}),
		MilestonesFiredTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "monitor_milestones_fired_total",
			Help: "Total milestone notifications recorded.",
		}),
		NotifyFailuresTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "monitor_notify_failures_total",
			Help: "Total notification deliveries that failed after the milestone was recorded.",
		}),
	}
}
