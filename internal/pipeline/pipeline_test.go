package pipeline

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scrape/internal/fetch"
	"scrape/internal/metrics"
	"scrape/internal/record"
	"scrape/internal/scrapeerr"
	"scrape/internal/task"
)

const quotesPage = `<html><head><title>Quotes</title></head><body>
<div class="quote"><span class="text">First</span><small class="author">Ann</small>
  <a class="tag">a</a><a class="tag">b</a></div>
<div class="quote"><span class="text">Second</span><small class="author">Bo</small></div>
<div class="quote"><span class="text"></span><small class="author">Nobody</small></div>
</body></html>`

const feed = `<?xml version="1.0"?><rss><channel><title>Feed</title>
<item><title>One</title><pubDate>Tue, 14 Oct 2026 08:00:00 GMT</pubDate></item>
<item><title>Two</title><pubDate>Tue, 14 Oct 2026 09:00:00 GMT</pubDate></item>
</channel></rss>`

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/quotes", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(quotesPage))
	})
	mux.HandleFunc("/rss", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(feed))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<rss><item>"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func quotesTask(base string) task.Task {
	return task.Task{
		Name:      "quotes",
		URL:       base + "/quotes",
		Container: "div.quote",
		Pause:     2 * time.Second,
		Fields: []task.Field{
			{Name: "text", Selector: "span.text"},
			{Name: "author", Selector: "small.author"},
			{Name: "tags", Selector: "a.tag", All: true},
		},
		Page:    []task.Field{{Name: "title", Selector: "title"}},
		Output:  task.Output{JSON: "quotes.json", CSV: "quotes.csv", RecordsKey: "quotes"},
		Summary: task.Summary{Examples: 2},
	}
}

func feedTask(base, path string) task.Task {
	return task.Task{
		Name:      "headlines",
		URL:       base + path,
		Mode:      "xml",
		Container: "item",
		Fields: []task.Field{
			{Name: "title", Selector: "title"},
			{Name: "pub_date", Selector: "pubDate"},
		},
		Output: task.Output{JSON: "headlines.json", CSV: "headlines.csv", RecordsKey: "headlines"},
	}
}

type harness struct {
	runner *Runner
	sleeps []time.Duration
	report *bytes.Buffer
}

func newHarness(t *testing.T, outDir string) *harness {
	t.Helper()
	f, err := fetch.New(fetch.Options{Timeout: 5 * time.Second})
	require.NoError(t, err)

	h := &harness{report: &bytes.Buffer{}}
	h.runner = &Runner{
		Fetcher:  f,
		OutDir:   outDir,
		Report:   h.report,
		Sleep:    func(d time.Duration) { h.sleeps = append(h.sleeps, d) },
		Now:      func() time.Time { return time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC) },
		NewRunID: func() string { return "8d7f2a9e-1c3b-4e5f-9a0b-6c7d8e9f0a1b" },
	}
	return h
}

func TestRun_WritesFilesAndReports(t *testing.T) {
	srv := newServer(t)
	dir := t.TempDir()
	h := newHarness(t, dir)

	sum, err := h.runner.Run(context.Background(), []task.Task{quotesTask(srv.URL), feedTask(srv.URL, "/rss")})
	require.NoError(t, err)
	require.Len(t, sum.Tasks, 2)
	assert.Equal(t, "8d7f2a9e-1c3b-4e5f-9a0b-6c7d8e9f0a1b", sum.RunID)

	q := sum.Tasks[0]
	assert.Equal(t, StatusOK, q.Status)
	assert.Equal(t, 2, q.Records)
	assert.Equal(t, 1, q.Skipped, "empty key")
	assert.Equal(t, 3, q.Containers)
	assert.Len(t, q.Files, 2)

	rs, err := record.ReadJSON(filepath.Join(dir, "quotes.json"))
	require.NoError(t, err)
	assert.Equal(t, "quotes", rs.Key())
	assert.Equal(t, "Quotes", rs.Page["title"])
	assert.Equal(t, []string{"a", "b"}, func() []string { v, _ := rs.Records[0].Get("tags"); return v.Items }())
	assert.Equal(t, srv.URL+"/quotes", rs.SourceURL)

	hl := sum.Tasks[1]
	assert.Equal(t, StatusOK, hl.Status)
	assert.Equal(t, 2, hl.Records)
	_, err = os.Stat(filepath.Join(dir, "headlines.csv"))
	assert.NoError(t, err)

	assert.Equal(t, []time.Duration{2 * time.Second}, h.sleeps, "pause after quotes only")
	assert.Contains(t, h.report.String(), "quotes: 2 records (1 skipped)")
	assert.Contains(t, h.report.String(), "headlines: 2 records")
	assert.Equal(t, 4, sum.Records())
	assert.Zero(t, sum.Failed())
}

type recordCounter struct {
	mu    sync.Mutex
	kinds map[string]float64
}

func (c *recordCounter) IncCounter(name string, delta float64, labels metrics.Labels) {
	if name != metrics.RecordsTotal {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kinds[labels["task"]+"/"+labels["kind"]] += delta
}

func (c *recordCounter) ObserveHistogram(string, float64, metrics.Labels) {}

// Mutates the process-wide metrics backend, so not parallel.
func TestRun_RecordsCountsByKind(t *testing.T) {
	c := &recordCounter{kinds: map[string]float64{}}
	metrics.SetBackend(c)
	t.Cleanup(func() { metrics.SetBackend(nil) })

	srv := newServer(t)
	h := newHarness(t, t.TempDir())
	_, err := h.runner.Run(context.Background(), []task.Task{quotesTask(srv.URL)})
	require.NoError(t, err)

	assert.Equal(t, map[string]float64{
		"quotes/" + metrics.KindExtracted:  2,
		"quotes/" + metrics.KindSkipped:    1,
		"quotes/" + metrics.KindContainers: 3,
	}, c.kinds)
}

func TestRun_TaskLevelFailuresContinue(t *testing.T) {
	srv := newServer(t)
	dir := t.TempDir()
	h := newHarness(t, dir)
	h.runner.Pause = time.Second

	missing := quotesTask(srv.URL)
	missing.Name = "missing"
	missing.URL = srv.URL + "/nope"
	missing.Pause = 0

	sum, err := h.runner.Run(context.Background(), []task.Task{
		missing,
		feedTask(srv.URL, "/broken"),
		quotesTask(srv.URL),
	})
	require.NoError(t, err)
	require.Len(t, sum.Tasks, 3)

	assert.Equal(t, StatusFailed, sum.Tasks[0].Status)
	assert.True(t, errors.Is(sum.Tasks[0].Err, scrapeerr.Network))
	assert.Equal(t, StatusFailed, sum.Tasks[1].Status)
	assert.True(t, errors.Is(sum.Tasks[1].Err, scrapeerr.Parse))
	assert.Equal(t, StatusOK, sum.Tasks[2].Status)
	assert.Equal(t, 2, sum.Failed())

	assert.Equal(t, []time.Duration{time.Second, time.Second}, h.sleeps)

	_, statErr := os.Stat(filepath.Join(dir, "headlines.json"))
	assert.True(t, os.IsNotExist(statErr), "empty result writes nothing")
}

func TestRun_IOErrorAborts(t *testing.T) {
	srv := newServer(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	h := newHarness(t, blocker)

	sum, err := h.runner.Run(context.Background(), []task.Task{quotesTask(srv.URL), feedTask(srv.URL, "/rss")})
	require.Error(t, err)
	assert.Equal(t, scrapeerr.IO, scrapeerr.KindOf(err))
	require.Len(t, sum.Tasks, 1, "second task never ran")
	assert.Equal(t, StatusFailed, sum.Tasks[0].Status)
}

type fakeRepo struct {
	ensured  []string
	inserted map[string]int
	err      error
}

func (f *fakeRepo) EnsureTable(_ context.Context, table string, fields []string) error {
	f.ensured = append(f.ensured, table)
	return nil
}

func (f *fakeRepo) InsertResultSet(_ context.Context, table string, rs *record.ResultSet) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	if f.inserted == nil {
		f.inserted = map[string]int{}
	}
	f.inserted[table] += rs.Len()
	return int64(rs.Len()), nil
}

func (f *fakeRepo) Close() {}

func TestRun_StoresResultSets(t *testing.T) {
	srv := newServer(t)
	h := newHarness(t, t.TempDir())
	repo := &fakeRepo{}
	h.runner.Repo = repo

	qt := quotesTask(srv.URL)
	qt.Output.Table = "quote_rows"
	sum, err := h.runner.Run(context.Background(), []task.Task{qt, feedTask(srv.URL, "/broken")})
	require.NoError(t, err)

	assert.Equal(t, []string{"quote_rows"}, repo.ensured, "empty result not stored")
	assert.Equal(t, map[string]int{"quote_rows": 2}, repo.inserted)
	assert.EqualValues(t, 2, sum.Tasks[0].Stored)
}

func TestRun_StorageFailureAborts(t *testing.T) {
	srv := newServer(t)
	h := newHarness(t, t.TempDir())
	h.runner.Repo = &fakeRepo{err: errors.New("connection reset")}

	_, err := h.runner.Run(context.Background(), []task.Task{quotesTask(srv.URL), feedTask(srv.URL, "/rss")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, scrapeerr.IO))
	assert.Contains(t, err.Error(), "connection reset")
}

func TestRun_DefaultOutputName(t *testing.T) {
	srv := newServer(t)
	dir := t.TempDir()
	h := newHarness(t, dir)

	qt := quotesTask(srv.URL)
	qt.Output = task.Output{}
	_, err := h.runner.Run(context.Background(), []task.Task{qt})
	require.NoError(t, err)

	rs, err := record.ReadJSON(filepath.Join(dir, "quotes.json"))
	require.NoError(t, err)
	assert.Equal(t, record.DefaultRecordsKey, rs.Key())
}

func TestRun_CanceledContext(t *testing.T) {
	srv := newServer(t)
	h := newHarness(t, t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := h.runner.Run(ctx, []task.Task{quotesTask(srv.URL)})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sum.Tasks)
}
