// Package metrics exposes prometheus instrumentation for scan runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the scanner's collectors. A nil *Recorder records nothing.
type Recorder struct {
	runs          prometheus.Counter
	instruments   *prometheus.CounterVec
	judgments     *prometheus.CounterVec
	notifications *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	lastRun       prometheus.Gauge
}

// New registers the collectors with reg under namespace.
func New(reg prometheus.Registerer, namespace string) *Recorder {
	if namespace == "" {
		namespace = "scanner"
	}
	factory := promauto.With(reg)
	return &Recorder{
		runs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed scan runs",
		}),
		instruments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stage1",
			Name:      "instruments_total",
			Help:      "Stage one outcomes by instrument kind",
		}, []string{"kind", "status"}),
		judgments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "judge",
			Name:      "requests_total",
			Help:      "Judgment outcomes",
		}, []string{"outcome"}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Notification gate outcomes",
		}, []string{"outcome"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time per pipeline stage",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"stage"}),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
	}
}

// RunFinished counts a run.
func (r *Recorder) RunFinished(at time.Time) {
	if r == nil {
		return
	}
	r.runs.Inc()
	r.lastRun.Set(float64(at.Unix()))
}

// Instrument counts a stage-one outcome.
func (r *Recorder) Instrument(kind string, ok bool) {
	if r == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	r.instruments.WithLabelValues(kind, status).Inc()
}

// Judgment counts a judge outcome: escalate, hold, degraded or error.
func (r *Recorder) Judgment(outcome string) {
	if r == nil {
		return
	}
	r.judgments.WithLabelValues(outcome).Inc()
}

// Notification counts a gate outcome.
func (r *Recorder) Notification(outcome string) {
	if r == nil {
		return
	}
	r.notifications.WithLabelValues(outcome).Inc()
}

// Stage observes how long a stage took.
func (r *Recorder) Stage(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}
