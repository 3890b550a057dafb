// Package metrics is the backend-agnostic metrics facade used by the pipeline.
//
// Core code only calls the helpers in this file. A concrete backend (datadog,
// prompush) is installed once at startup with SetBackend; until then every call
// goes to a no-op backend.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Labels are metric dimensions such as {"task": "spells", "status": "ok"}.
type Labels map[string]string

// Backend receives counters and histogram observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer and submit in batches.
type Flusher interface {
	Flush() error
}

// Metric names shared by all backends.
const (
	TaskTotal           = "scrape_task_total"
	TaskDurationSeconds = "scrape_task_duration_seconds"
	RecordsTotal        = "scrape_records_total"
	HTTPRequestsTotal   = "scrape_http_requests_total"
	HTTPErrorsTotal     = "scrape_http_errors_total"
	HTTPRequestSeconds  = "scrape_http_request_duration_seconds"
	HTTPResponseSeconds = "scrape_http_response_duration_seconds"
	HTTPDownloadBytes   = "scrape_http_download_bytes"
)

// Record kinds for RecordsTotal.
const (
	KindExtracted  = "extracted"
	KindSkipped    = "skipped"
	KindContainers = "containers"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. A nil b restores the no-op.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush submits buffered metrics when the backend supports it.
func Flush() error {
	if f, ok := current().(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// IncCounter forwards to the installed backend.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram forwards to the installed backend.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// RecordHTTP records one request attempt.
//
// status is 0 when no response was received. reqDur is time-to-headers and
// respDur is time until the body was fully read; negative values are skipped.
func RecordHTTP(task string, status int, err error, reqDur, respDur time.Duration, size int64) {
	st := "unknown"
	if status > 0 {
		st = strconv.Itoa(status)
	}
	labels := Labels{"task": task, "status": st}

	IncCounter(HTTPRequestsTotal, 1, labels)
	if err != nil || status < 200 || status >= 300 {
		IncCounter(HTTPErrorsTotal, 1, labels)
	}
	if reqDur >= 0 {
		ObserveHistogram(HTTPRequestSeconds, reqDur.Seconds(), labels)
	}
	if respDur >= 0 {
		ObserveHistogram(HTTPResponseSeconds, respDur.Seconds(), labels)
	}
	if size >= 0 {
		ObserveHistogram(HTTPDownloadBytes, float64(size), labels)
	}
}

// RecordTask records the outcome and wall time of one task.
func RecordTask(task, status string, d time.Duration) {
	labels := Labels{"task": task, "status": status}
	IncCounter(TaskTotal, 1, labels)
	ObserveHistogram(TaskDurationSeconds, d.Seconds(), labels)
}

// RecordRecords counts records by kind (KindExtracted, KindSkipped,
// KindContainers).
func RecordRecords(task, kind string, n int) {
	if n <= 0 {
		return
	}
	IncCounter(RecordsTotal, float64(n), Labels{"task": task, "kind": kind})
}
