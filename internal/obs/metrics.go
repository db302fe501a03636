// Copyright 2025 James Ross
package obs

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/flyingrobots/dogqueue/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_enqueued_total",
		Help: "Total number of jobs enqueued, by job type and queue",
	}, []string{"job_type", "queue"})
	JobsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_completed_total",
		Help: "Total number of successfully completed jobs, by job type",
	}, []string{"job_type"})
	JobsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_failed_total",
		Help: "Total number of permanently failed jobs, by job type",
	}, []string{"job_type"})
	JobsRetried = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_retried_total",
		Help: "Total number of job retry attempts scheduled, by job type",
	}, []string{"job_type"})
	JobProcessingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "job_processing_duration_seconds",
		Help:    "Histogram of job processing durations, by job type",
		Buckets: prometheus.DefBuckets,
	}, []string{"job_type"})
	QueueLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_length",
		Help: "Current number of pending+scheduled jobs, by tenant and queue",
	}, []string{"tenant", "queue"})
	ProcessingLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "processing_length",
		Help: "Current number of leased/processing jobs, by tenant",
	}, []string{"tenant"})
	ReaperRecovered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reaper_recovered_total",
		Help: "Total number of jobs recovered by the reaper after lease expiry",
	})
	WorkerActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "worker_active",
		Help: "Number of active worker goroutines",
	})
	AdaptiveConcurrencyLimit = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "adaptive_concurrency_limit",
		Help: "Current concurrency limit chosen by the adaptive controller",
	})
)

func init() {
	prometheus.MustRegister(
		JobsEnqueued, JobsCompleted, JobsFailed, JobsRetried,
		JobProcessingDuration, QueueLength, ProcessingLength,
		ReaperRecovered, WorkerActive, AdaptiveConcurrencyLimit,
	)
}

// StartMetricsServer exposes /metrics and returns a server for controlled shutdown.
// Prefer StartHTTPServer, which also registers health endpoints.
func StartMetricsServer(cfg *config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Observability.MetricsPort), Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// windowSize bounds the per-job-type sample ring buffer used for percentile
// tracking. 1000 keeps memory bounded while staying representative for
// steady-state job traffic.
const windowSize = 1000

// JobTypeMetrics holds a sliding window of recent execution durations for one
// job type, used to answer average/percentile queries without unbounded
// memory growth.
type JobTypeMetrics struct {
	mu       sync.Mutex
	samples  []time.Duration
	next     int
	count    int
	total    time.Duration
	success  int64
	failures int64
}

func newJobTypeMetrics() *JobTypeMetrics {
	return &JobTypeMetrics{samples: make([]time.Duration, windowSize)}
}

func (m *JobTypeMetrics) record(d time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples[m.next] = d
	m.next = (m.next + 1) % windowSize
	if m.count < windowSize {
		m.count++
	}
	m.total += d
	if ok {
		m.success++
	} else {
		m.failures++
	}
}

// Average returns the mean duration over the current window.
func (m *JobTypeMetrics) Average() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count == 0 {
		return 0
	}
	sum := time.Duration(0)
	for i := 0; i < m.count; i++ {
		sum += m.samples[i]
	}
	return sum / time.Duration(m.count)
}

// Percentile returns the duration at the given percentile (0-100) over the
// current window, using nearest-rank interpolation.
func (m *JobTypeMetrics) Percentile(p float64) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count == 0 {
		return 0
	}
	sorted := make([]time.Duration, m.count)
	copy(sorted, m.samples[:m.count])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(math.Ceil(p/100*float64(m.count))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= m.count {
		idx = m.count - 1
	}
	return sorted[idx]
}

// Snapshot is a point-in-time view of a job type's execution statistics.
type Snapshot struct {
	JobType  string
	Average  time.Duration
	P50      time.Duration
	P95      time.Duration
	P99      time.Duration
	Success  int64
	Failures int64
}

// PerformanceTracker keeps a JobTypeMetrics window per job type, the
// in-process complement to the Prometheus histograms above: cheap percentile
// reads without scraping.
type PerformanceTracker struct {
	mu    sync.RWMutex
	types map[string]*JobTypeMetrics
}

func NewPerformanceTracker() *PerformanceTracker {
	return &PerformanceTracker{types: make(map[string]*JobTypeMetrics)}
}

func (t *PerformanceTracker) metricsFor(jobType string) *JobTypeMetrics {
	t.mu.RLock()
	m, ok := t.types[jobType]
	t.mu.RUnlock()
	if ok {
		return m
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.types[jobType]; ok {
		return m
	}
	m = newJobTypeMetrics()
	t.types[jobType] = m
	return m
}

// Record adds one duration sample for jobType.
func (t *PerformanceTracker) Record(jobType string, d time.Duration, ok bool) {
	t.metricsFor(jobType).record(d, ok)
}

// Snapshot returns current statistics for every job type observed so far.
func (t *PerformanceTracker) Snapshot() []Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Snapshot, 0, len(t.types))
	for jobType, m := range t.types {
		out = append(out, Snapshot{
			JobType:  jobType,
			Average:  m.Average(),
			P50:      m.Percentile(50),
			P95:      m.Percentile(95),
			P99:      m.Percentile(99),
			Success:  m.success,
			Failures: m.failures,
		})
	}
	return out
}

// PrometheusObserver implements adapter.Observer on top of the package-level
// Prometheus metrics and a PerformanceTracker for in-process percentile
// queries.
type PrometheusObserver struct {
	Tracker *PerformanceTracker
}

func NewPrometheusObserver() *PrometheusObserver {
	return &PrometheusObserver{Tracker: NewPerformanceTracker()}
}

func (o *PrometheusObserver) JobEnqueued(jobType, queueName string) {
	JobsEnqueued.WithLabelValues(jobType, queueName).Inc()
}

func (o *PrometheusObserver) JobCompleted(jobType string, duration time.Duration) {
	JobsCompleted.WithLabelValues(jobType).Inc()
	JobProcessingDuration.WithLabelValues(jobType).Observe(duration.Seconds())
	o.Tracker.Record(jobType, duration, true)
}

func (o *PrometheusObserver) JobFailed(jobType string, duration time.Duration) {
	JobsFailed.WithLabelValues(jobType).Inc()
	JobProcessingDuration.WithLabelValues(jobType).Observe(duration.Seconds())
	o.Tracker.Record(jobType, duration, false)
}

func (o *PrometheusObserver) JobRetrying(jobType string, duration time.Duration) {
	JobsRetried.WithLabelValues(jobType).Inc()
	JobProcessingDuration.WithLabelValues(jobType).Observe(duration.Seconds())
	o.Tracker.Record(jobType, duration, false)
}
