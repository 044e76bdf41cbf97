// Package metrics exports engine and HTTP measurements as Prometheus
// collectors.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kombinu/kombinu-ranking/internal/application/engine"
	"github.com/kombinu/kombinu-ranking/internal/domain/ranking"
)

const namespace = "kombinu_ranking"

// Recorder implements engine.Metrics.
type Recorder struct {
	submissions      *prometheus.CounterVec
	loads            *prometheus.CounterVec
	cacheWriteErrors *prometheus.CounterVec
	observerErrors   prometheus.Counter
	passDuration     prometheus.Histogram
	standings        prometheus.Gauge

	windowSize   *prometheus.GaugeVec
	categorySize *prometheus.GaugeVec
	topPoints    prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
}

var _ engine.Metrics = (*Recorder)(nil)

// NewRecorder registers every collector with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Quiz submissions by result.",
		}, []string{"result"}),
		loads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loads_total",
			Help:      "Initial snapshot loads by source (remote, cache, empty).",
		}, []string{"source"}),
		cacheWriteErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_write_errors_total",
			Help:      "Failed cache writes by operation.",
		}, []string{"op"}),
		observerErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observer_errors_total",
			Help:      "Observer deliveries that failed or panicked.",
		}),
		passDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Duration of a recompute and projection pass.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		standings: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "standings",
			Help:      "Users in the global ranking.",
		}),
		windowSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_entries",
			Help:      "Entries in each time-window projection.",
		}, []string{"window"}),
		categorySize: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "category_entries",
			Help:      "Users ranked in each category.",
		}, []string{"category"}),
		topPoints: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "top_points",
			Help:      "Total points of the first-placed user.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		jobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduled job runs by job and result.",
		}, []string{"job", "result"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Scheduled job run time.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
		}, []string{"job"}),
	}
}

func (r *Recorder) ObserveSubmission(result string)  { r.submissions.WithLabelValues(result).Inc() }
func (r *Recorder) ObserveLoad(source string)        { r.loads.WithLabelValues(source).Inc() }
func (r *Recorder) ObserveCacheWriteError(op string) { r.cacheWriteErrors.WithLabelValues(op).Inc() }
func (r *Recorder) ObserveObserverError()            { r.observerErrors.Inc() }

// ObservePass implements engine.Metrics.
func (r *Recorder) ObservePass(d time.Duration, standings int) {
	r.passDuration.Observe(d.Seconds())
	r.standings.Set(float64(standings))
}

// ObserveHTTP records one served request.
func (r *Recorder) ObserveHTTP(route, method string, code int, d time.Duration) {
	r.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	r.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// ObserveJob implements scheduler.Metrics.
func (r *Recorder) ObserveJob(name string, d time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	r.jobRuns.WithLabelValues(name, result).Inc()
	r.jobDuration.WithLabelValues(name).Observe(d.Seconds())
}

// GaugeObserver returns an engine observer that keeps the projection gauges
// in line with every published snapshot.
func (r *Recorder) GaugeObserver() engine.Observer {
	return engine.ObserverFunc(func(_ context.Context, change engine.RankingChanged) error {
		r.updateGauges(change.Snapshot)
		return nil
	})
}

func (r *Recorder) updateGauges(snap *ranking.Snapshot) {
	r.windowSize.WithLabelValues(string(ranking.WindowGlobal)).Set(float64(len(snap.Global)))
	r.windowSize.WithLabelValues(string(ranking.WindowWeekly)).Set(float64(len(snap.Weekly)))
	r.windowSize.WithLabelValues(string(ranking.WindowMonthly)).Set(float64(len(snap.Monthly)))

	r.categorySize.Reset()
	for _, name := range snap.CategoryNames() {
		r.categorySize.WithLabelValues(name).Set(float64(len(snap.Categories[name])))
	}

	top := 0.0
	if len(snap.Global) > 0 {
		top = float64(snap.Global[0].TotalPoints)
	}
	r.topPoints.Set(top)
}
