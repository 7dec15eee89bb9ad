package job

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of an executor. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Submitted jobs
	Submitted prometheus.Counter

	// Finished jobs by terminal state
	Finished *prometheus.CounterVec

	// Jobs currently running
	Running prometheus.Gauge

	// Run time of jobs that got a slot, by terminal state
	Duration *prometheus.HistogramVec
}

// NewMetrics creates the executor metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Submitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "gallery_jobs_submitted_total",
			Help: "Total number of jobs submitted to the executor",
		}),
		Finished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gallery_jobs_finished_total",
				Help: "Total number of jobs that reached a terminal state",
			},
			[]string{"state"},
		),
		Running: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gallery_jobs_running",
			Help: "Number of jobs currently running",
		}),
		Duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "gallery_job_duration_seconds",
				Help: "Job run time in seconds",
				Buckets: []float64{
					0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0,
				},
			},
			[]string{"state"},
		),
	}
}

func (m *Metrics) submitted() {
	if m == nil {
		return
	}
	m.Submitted.Inc()
}

func (m *Metrics) started() {
	if m == nil {
		return
	}
	m.Running.Inc()
}

func (m *Metrics) finished(state State) {
	if m == nil {
		return
	}
	m.Finished.WithLabelValues(state.String()).Inc()
}

func (m *Metrics) stopped(state State, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Running.Dec()
	m.Duration.WithLabelValues(state.String()).Observe(elapsed.Seconds())
}
