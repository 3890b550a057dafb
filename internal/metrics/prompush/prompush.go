// Package prompush implements internal/metrics on a Prometheus registry that is
// pushed to a Pushgateway on Flush. A scrape run is a short batch job, so it
// pushes instead of exposing a /metrics endpoint.
package prompush

import (
	"fmt"
	"strings"

	"scrape/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Backend is a metrics.Backend backed by a private prometheus.Registry.
type Backend struct {
	pusher *push.Pusher

	counters map[string]*prometheus.CounterVec
	hists    map[string]*prometheus.HistogramVec
	labels   map[string][]string
}

type metricDef struct {
	name   string
	help   string
	labels []string
}

var counterSpecs = []metricDef{
	{metrics.TaskTotal, "Tasks finished, by status.", []string{"task", "status"}},
	{metrics.RecordsTotal, "Records seen, by kind (extracted, skipped, containers).", []string{"task", "kind"}},
	{metrics.HTTPRequestsTotal, "HTTP requests issued.", []string{"task", "status"}},
	{metrics.HTTPErrorsTotal, "HTTP requests that failed or returned non-2xx.", []string{"task", "status"}},
}

var histSpecs = []metricDef{
	{metrics.TaskDurationSeconds, "Task wall time.", []string{"task", "status"}},
	{metrics.HTTPRequestSeconds, "Time to response headers.", []string{"task", "status"}},
	{metrics.HTTPResponseSeconds, "Time to fully read the body.", []string{"task", "status"}},
	{metrics.HTTPDownloadBytes, "Response body size.", []string{"task", "status"}},
}

// NewBackend registers the scrape metric families and prepares a pusher for
// gatewayURL under jobName.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if strings.TrimSpace(gatewayURL) == "" {
		return nil, fmt.Errorf("prompush: empty pushgateway url")
	}
	if jobName == "" {
		jobName = "scrape"
	}

	reg := prometheus.NewRegistry()
	b := &Backend{
		pusher:   push.New(gatewayURL, jobName).Gatherer(reg),
		counters: make(map[string]*prometheus.CounterVec, len(counterSpecs)),
		hists:    make(map[string]*prometheus.HistogramVec, len(histSpecs)),
		labels:   make(map[string][]string, len(counterSpecs)+len(histSpecs)),
	}

	for _, s := range counterSpecs {
		cv := prometheus.NewCounterVec(prometheus.CounterOpts{Name: s.name, Help: s.help}, s.labels)
		if err := reg.Register(cv); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", s.name, err)
		}
		b.counters[s.name] = cv
		b.labels[s.name] = s.labels
	}
	for _, s := range histSpecs {
		buckets := prometheus.DefBuckets
		if s.name == metrics.HTTPDownloadBytes {
			buckets = prometheus.ExponentialBuckets(1024, 4, 8)
		}
		hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: s.name, Help: s.help, Buckets: buckets}, s.labels)
		if err := reg.Register(hv); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", s.name, err)
		}
		b.hists[s.name] = hv
		b.labels[s.name] = s.labels
	}
	return b, nil
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	cv, ok := b.counters[name]
	if !ok || delta <= 0 {
		return
	}
	cv.With(fill(b.labels[name], labels)).Add(delta)
}

// ObserveHistogram implements metrics.Backend. Unknown names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	hv, ok := b.hists[name]
	if !ok || value < 0 {
		return
	}
	hv.With(fill(b.labels[name], labels)).Observe(value)
}

// Flush pushes the whole registry, replacing the job's previous group.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}

// Close performs a final push.
func (b *Backend) Close() error { return b.Flush() }

// fill projects labels onto names; With panics unless every name is present
// and nothing else is.
func fill(names []string, labels metrics.Labels) prometheus.Labels {
	out := make(prometheus.Labels, len(names))
	for _, n := range names {
		v := labels[n]
		if v == "" {
			v = "unknown"
		}
		out[n] = v
	}
	return out
}

var _ metrics.Backend = (*Backend)(nil)
