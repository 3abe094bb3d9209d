// Package metrics exposes Prometheus instrumentation for the job pipeline.
// Adapted from cuemby-warren's pkg/metrics/metrics.go: package-level
// prometheus.NewGaugeVec/NewCounterVec/NewHistogramVec vars, registered in
// init(), served through promhttp.Handler().
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// JoblistOccupied tracks the server job list's current occupancy.
	JoblistOccupied = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dnx_joblist_occupied",
		Help: "Number of occupied slots in the server job list ring",
	})

	JobsDispatchedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dnx_jobs_dispatched_total",
		Help: "Total number of jobs dispatched to workers",
	})

	JobsCollectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dnx_jobs_collected_total",
		Help: "Total number of job results collected",
	})

	JobsExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dnx_jobs_expired_total",
		Help: "Total number of jobs reaped by the expiration timer",
	})

	RegistrySize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dnx_registry_size",
		Help: "Current number of tokens in the worker-request registry",
	})

	RegistryOverflowDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dnx_registry_overflow_dropped_total",
		Help: "Total number of worker-request tokens dropped due to registry overflow",
	})

	RegistryExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dnx_registry_expired_total",
		Help: "Total number of worker-request tokens discarded as expired on dequeue",
	})

	PoolActiveThreads = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dnx_pool_active_threads",
		Help: "Current number of active worker threads in the client pool",
	})

	PoolActiveJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dnx_pool_active_jobs",
		Help: "Current number of worker threads with an in-flight job",
	})

	PluginDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dnx_plugin_duration_seconds",
			Help:    "Plugin invocation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	ResultCodeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dnx_result_code_total",
			Help: "Total plugin results by result code",
		},
		[]string{"code"},
	)
)

func init() {
	prometheus.MustRegister(
		JoblistOccupied,
		JobsDispatchedTotal,
		JobsCollectedTotal,
		JobsExpiredTotal,
		RegistrySize,
		RegistryOverflowDroppedTotal,
		RegistryExpiredTotal,
		PoolActiveThreads,
		PoolActiveJobs,
		PluginDuration,
		ResultCodeTotal,
	)
}

// Handler returns the Prometheus scrape handler, mounted at /metrics by
// cmd/dnx-server.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times one operation and reports it to a labeled histogram.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram vec.
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
