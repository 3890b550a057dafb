// Package datadog implements a Datadog backend for internal/metrics.
//
// Metrics are buffered in memory under a mutex and submitted on Flush. A
// background loop flushes on a ticker (default once per minute) and Close
// performs the final flush, so a long spell scrape shows up as a time series
// rather than a single point at exit.
//
// If the process is killed before Close runs, buffered points are lost.
package datadog

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"scrape/internal/metrics"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to "scrape".
	JobName string

	// Tags are extra Datadog tags (e.g. "env:prod", "team:data").
	Tags []string

	// FlushEvery controls periodic submission. Defaults to 60s when <= 0.
	FlushEvery time.Duration

	// Unexported test seams; production leaves them nil.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the subset of *datadogV2.MetricsApi used by Backend.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu sync.Mutex

	taskCounts   map[string]float64   // task\x00status -> count
	taskDur      map[string][]float64 // task\x00status -> seconds
	recordCounts map[string]float64   // task\x00kind -> count

	httpReqCounts map[string]float64 // status -> count
	httpErrCounts map[string]float64
	httpReqDur    map[string][]float64
	httpRespDur   map[string][]float64
	httpDownloadB map[string][]float64
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend using the official client and
// starts its flush loop. API credentials come from DD_API_KEY / DD_SITE, as
// read by dd.NewDefaultContext.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	if parent == nil {
		return nil, wrapInitErr(fmt.Errorf("nil context"))
	}

	job := opts.JobName
	if job == "" {
		job = "scrape"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	submitter := opts.submitter
	if submitter == nil {
		client := dd.NewAPIClient(dd.NewConfiguration())
		submitter = datadogV2.NewMetricsApi(client)
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,
	}
	b.reset()

	go b.loop()
	return b, nil
}

// reset allocates empty buffers. Callers hold b.mu or own b exclusively.
func (b *Backend) reset() {
	b.taskCounts = make(map[string]float64)
	b.taskDur = make(map[string][]float64)
	b.recordCounts = make(map[string]float64)
	b.httpReqCounts = make(map[string]float64)
	b.httpErrCounts = make(map[string]float64)
	b.httpReqDur = make(map[string][]float64)
	b.httpRespDur = make(map[string][]float64)
	b.httpDownloadB = make(map[string][]float64)
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and performs one final Flush. Call it once.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.TaskTotal:
		b.taskCounts[pairKey(labels["task"], labels["status"])] += delta
	case metrics.RecordsTotal:
		if labels["kind"] == "" {
			return
		}
		b.recordCounts[pairKey(labels["task"], labels["kind"])] += delta
	case metrics.HTTPRequestsTotal:
		b.httpReqCounts[statusOf(labels)] += delta
	case metrics.HTTPErrorsTotal:
		b.httpErrCounts[statusOf(labels)] += delta
	}
}

// ObserveHistogram implements metrics.Backend. Unknown names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.TaskDurationSeconds:
		k := pairKey(labels["task"], labels["status"])
		b.taskDur[k] = append(b.taskDur[k], value)
	case metrics.HTTPRequestSeconds:
		s := statusOf(labels)
		b.httpReqDur[s] = append(b.httpReqDur[s], value)
	case metrics.HTTPResponseSeconds:
		s := statusOf(labels)
		b.httpRespDur[s] = append(b.httpRespDur[s], value)
	case metrics.HTTPDownloadBytes:
		s := statusOf(labels)
		b.httpDownloadB[s] = append(b.httpDownloadB[s], value)
	}
}

func statusOf(labels metrics.Labels) string {
	if s := labels["status"]; s != "" {
		return s
	}
	return "unknown"
}

// snapshot is the detached buffer state collected by one Flush.
type snapshot struct {
	taskCounts   map[string]float64
	taskDur      map[string][]float64
	recordCounts map[string]float64

	httpReqCounts map[string]float64
	httpErrCounts map[string]float64
	httpReqDur    map[string][]float64
	httpRespDur   map[string][]float64
	httpDownloadB map[string][]float64
}

func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{
		taskCounts:    b.taskCounts,
		taskDur:       b.taskDur,
		recordCounts:  b.recordCounts,
		httpReqCounts: b.httpReqCounts,
		httpErrCounts: b.httpErrCounts,
		httpReqDur:    b.httpReqDur,
		httpRespDur:   b.httpRespDur,
		httpDownloadB: b.httpDownloadB,
	}
	b.reset()
	return s
}

func (s snapshot) isEmpty() bool {
	return len(s.taskCounts) == 0 &&
		len(s.taskDur) == 0 &&
		len(s.recordCounts) == 0 &&
		len(s.httpReqCounts) == 0 &&
		len(s.httpErrCounts) == 0 &&
		len(s.httpReqDur) == 0 &&
		len(s.httpRespDur) == 0 &&
		len(s.httpDownloadB) == 0
}

// Flush submits buffered metrics and resets the buffers, even when submission
// fails. Safe to call concurrently with IncCounter/ObserveHistogram.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries turns a snapshot into Datadog series at a fixed timestamp.
// Series are sorted by metric then tags so payloads are deterministic.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, 16)

	for k, v := range s.taskCounts {
		task, status := splitPairKey(k)
		series = append(series, countSeries("scrape.task.total", v, withTags(b.baseTags, "task:"+task, "status:"+status), nowUnix))
	}
	for k, samples := range s.taskDur {
		task, status := splitPairKey(k)
		addPercentiles(&series, "scrape.task.duration_seconds", samples, withTags(b.baseTags, "task:"+task, "status:"+status), nowUnix)
	}
	for k, v := range s.recordCounts {
		task, kind := splitPairKey(k)
		series = append(series, countSeries("scrape.records.total", v, withTags(b.baseTags, "task:"+task, "kind:"+kind), nowUnix))
	}

	for status, v := range s.httpReqCounts {
		series = append(series, countSeries("scrape.http.requests.total", v, withTags(b.baseTags, "status:"+status), nowUnix))
	}
	for status, v := range s.httpErrCounts {
		series = append(series, countSeries("scrape.http.errors.total", v, withTags(b.baseTags, "status:"+status), nowUnix))
	}
	for status, samples := range s.httpReqDur {
		addPercentiles(&series, "scrape.http.request_duration_seconds", samples, withTags(b.baseTags, "status:"+status), nowUnix)
	}
	for status, samples := range s.httpRespDur {
		addPercentiles(&series, "scrape.http.response_duration_seconds", samples, withTags(b.baseTags, "status:"+status), nowUnix)
	}
	for status, samples := range s.httpDownloadB {
		addPercentiles(&series, "scrape.http.download_bytes", samples, withTags(b.baseTags, "status:"+status), nowUnix)
	}

	sort.SliceStable(series, func(i, j int) bool {
		if series[i].Metric != series[j].Metric {
			return series[i].Metric < series[j].Metric
		}
		return strings.Join(series[i].Tags, ",") < strings.Join(series[j].Tags, ",")
	})
	return series
}

// addPercentiles appends p50/p90/p95/p99/max/samples gauges for samples.
// It sorts a copy; samples is not mutated.
func addPercentiles(series *[]datadogV2.MetricSeries, prefix string, samples []float64, tags []string, nowUnix int64) {
	if len(samples) == 0 {
		return
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	*series = append(*series,
		gaugeSeries(prefix+".p50", percentileNearestRank(cp, 0.50), tags, nowUnix),
		gaugeSeries(prefix+".p90", percentileNearestRank(cp, 0.90), tags, nowUnix),
		gaugeSeries(prefix+".p95", percentileNearestRank(cp, 0.95), tags, nowUnix),
		gaugeSeries(prefix+".p99", percentileNearestRank(cp, 0.99), tags, nowUnix),
		gaugeSeries(prefix+".max", cp[len(cp)-1], tags, nowUnix),
		gaugeSeries(prefix+".samples", float64(len(cp)), tags, nowUnix),
	)
}

func countSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func pairKey(a, b string) string {
	return a + "\x00" + b
}

func splitPairKey(k string) (string, string) {
	parts := strings.SplitN(k, "\x00", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return k, "unknown"
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,team:data".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func wrapInitErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("datadog metrics init: %w", err)
}
