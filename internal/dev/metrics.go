package dev

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes development-server counters on /metrics.
type Metrics struct {
	builds        *prometheus.CounterVec
	buildDuration prometheus.Histogram
	processes     prometheus.Gauge
	reloadClients prometheus.GaugeFunc
}

// NewMetrics registers the dev server metrics with reg. Passing a fresh
// registry keeps tests independent.
func NewMetrics(reg prometheus.Registerer, reload *ReloadServer) *Metrics {
	m := &Metrics{
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tova",
			Subsystem: "dev",
			Name:      "builds_total",
			Help:      "Rebuilds by outcome.",
		}, []string{"status"}),
		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tova",
			Subsystem: "dev",
			Name:      "build_duration_seconds",
			Help:      "Rebuild wall time.",
			Buckets:   prometheus.DefBuckets,
		}),
		processes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tova",
			Subsystem: "dev",
			Name:      "processes",
			Help:      "Running server-block processes.",
		}),
		reloadClients: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "tova",
			Subsystem: "dev",
			Name:      "reload_clients",
			Help:      "Connected live-reload subscribers.",
		}, func() float64 {
			return float64(reload.ClientCount())
		}),
	}
	reg.MustRegister(m.builds, m.buildDuration, m.processes, m.reloadClients)
	return m
}

// RecordBuild records one rebuild outcome.
func (m *Metrics) RecordBuild(ok bool, d time.Duration) {
	status := "success"
	if !ok {
		status = "failure"
	}
	m.builds.WithLabelValues(status).Inc()
	m.buildDuration.Observe(d.Seconds())
}

// SetProcesses records the running process count.
func (m *Metrics) SetProcesses(n int) {
	m.processes.Set(float64(n))
}
