package engine

import "time"

// Submission results reported to Metrics.ObserveSubmission.
const (
	ResultAccepted = "accepted"
	ResultRejected = "rejected"
	ResultClosed   = "closed"
)

// Metrics receives engine measurements. Implemented by
// infrastructure/metrics with Prometheus collectors.
type Metrics interface {
	ObserveSubmission(result string)
	ObserveLoad(source string)
	ObserveCacheWriteError(op string)
	ObserveObserverError()
	ObservePass(duration time.Duration, standings int)
}

// NopMetrics discards every measurement.
type NopMetrics struct{}

func (NopMetrics) ObserveSubmission(string)       {}
func (NopMetrics) ObserveLoad(string)             {}
func (NopMetrics) ObserveCacheWriteError(string)  {}
func (NopMetrics) ObserveObserverError()          {}
func (NopMetrics) ObservePass(time.Duration, int) {}
