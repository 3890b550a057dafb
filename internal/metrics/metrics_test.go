package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	name   string
	value  float64
	labels Labels
}

type captureBackend struct {
	mu       sync.Mutex
	counters []call
	hists    []call
	flushed  int
}

func (c *captureBackend) IncCounter(name string, delta float64, labels Labels) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters = append(c.counters, call{name, delta, labels})
}

func (c *captureBackend) ObserveHistogram(name string, value float64, labels Labels) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hists = append(c.hists, call{name, value, labels})
}

func (c *captureBackend) Flush() error {
	c.flushed++
	return nil
}

// These tests mutate the process-wide backend and therefore do not run in parallel.

func TestRecordHTTP_Non2xxCountsError(t *testing.T) {
	b := &captureBackend{}
	SetBackend(b)
	t.Cleanup(func() { SetBackend(nil) })

	RecordHTTP("spells", 404, nil, 10*time.Millisecond, 20*time.Millisecond, 128)

	require.Len(t, b.counters, 2)
	assert.Equal(t, HTTPRequestsTotal, b.counters[0].name)
	assert.Equal(t, HTTPErrorsTotal, b.counters[1].name)
	assert.Equal(t, "404", b.counters[0].labels["status"])
	require.Len(t, b.hists, 3)
	assert.InDelta(t, 128, b.hists[2].value, 0.001)
}

func TestRecordHTTP_NoResponseSkipsNegativeSamples(t *testing.T) {
	b := &captureBackend{}
	SetBackend(b)
	t.Cleanup(func() { SetBackend(nil) })

	RecordHTTP("quotes", 0, errors.New("dial tcp"), -1, -1, -1)

	require.Len(t, b.counters, 2)
	assert.Equal(t, "unknown", b.counters[0].labels["status"])
	assert.Empty(t, b.hists)
}

func TestRecordRecords_IgnoresZero(t *testing.T) {
	b := &captureBackend{}
	SetBackend(b)
	t.Cleanup(func() { SetBackend(nil) })

	RecordRecords("quotes", KindSkipped, 0)
	RecordRecords("quotes", KindExtracted, 10)

	require.Len(t, b.counters, 1)
	assert.Equal(t, KindExtracted, b.counters[0].labels["kind"])
	assert.InDelta(t, 10, b.counters[0].value, 0.001)
}

func TestFlush_DelegatesToFlusher(t *testing.T) {
	b := &captureBackend{}
	SetBackend(b)
	t.Cleanup(func() { SetBackend(nil) })

	require.NoError(t, Flush())
	assert.Equal(t, 1, b.flushed)

	SetBackend(nil)
	assert.NoError(t, Flush())
}
