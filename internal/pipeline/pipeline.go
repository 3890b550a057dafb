// Package pipeline runs tasks end to end: fetch, parse, extract, write the
// result files, optionally store, and print the summary.
//
// A task that fails to fetch or parse (or cannot be applied) yields an empty
// Result Set and the run moves on. A write or storage failure aborts the run.
package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"scrape/internal/extract"
	"scrape/internal/fetch"
	"scrape/internal/metrics"
	"scrape/internal/normalize"
	"scrape/internal/output"
	"scrape/internal/parse"
	"scrape/internal/record"
	"scrape/internal/report"
	"scrape/internal/scrapeerr"
	"scrape/internal/storage"
	"scrape/internal/task"
)

// Task statuses reported in the Summary and the metrics.
const (
	StatusOK     = "ok"
	StatusEmpty  = "empty"
	StatusFailed = "failed"
)

// Runner executes tasks sequentially over one HTTP session.
type Runner struct {
	// Fetcher retrieves task pages and detail pages. Required.
	Fetcher extract.PageFetcher
	// OutDir is the directory result files are written to. Defaults to ".".
	OutDir string
	// Repo is the optional storage sink.
	Repo storage.Repository
	// Report receives the console summaries. Defaults to os.Stdout.
	Report io.Writer
	// Pause is the minimum pause between consecutive tasks.
	Pause time.Duration
	// Table resolves field transforms. Defaults to normalize.Builtin.
	Table normalize.Table

	// Seams; nil means the real thing.
	Sleep    func(time.Duration)
	Now      func() time.Time
	NewRunID func() string
}

// TaskResult is the outcome of one task.
type TaskResult struct {
	Task       string
	Status     string
	Records    int
	Skipped    int
	Containers int
	Files      []string
	Stored     int64
	Duration   time.Duration
	Err        error
}

// Summary is the outcome of a run.
type Summary struct {
	RunID string
	Tasks []TaskResult
}

// Failed counts tasks that ended with a task-level error.
func (s Summary) Failed() int {
	n := 0
	for _, t := range s.Tasks {
		if t.Status == StatusFailed {
			n++
		}
	}
	return n
}

// Records sums records over all tasks.
func (s Summary) Records() int {
	n := 0
	for _, t := range s.Tasks {
		n += t.Records
	}
	return n
}

func (r *Runner) defaults() {
	if r.OutDir == "" {
		r.OutDir = "."
	}
	if r.Report == nil {
		r.Report = os.Stdout
	}
	if r.Table == nil {
		r.Table = normalize.Builtin
	}
	if r.Sleep == nil {
		r.Sleep = time.Sleep
	}
	if r.Now == nil {
		r.Now = time.Now
	}
	if r.NewRunID == nil {
		r.NewRunID = record.NewRunID
	}
}

// Run executes tasks in order. The returned error is non-nil only for a
// hard failure (an IO error or a done context); the Summary then covers the
// tasks attempted so far.
func (r *Runner) Run(ctx context.Context, tasks []task.Task) (Summary, error) {
	r.defaults()
	sum := Summary{RunID: r.NewRunID()}
	log := zap.L().With(zap.String("run_id", sum.RunID))
	log.Info("run started", zap.Int("tasks", len(tasks)))

	for i, t := range tasks {
		if i > 0 {
			if p := max(tasks[i-1].Pause, r.Pause); p > 0 {
				log.Info("pausing between tasks", zap.Duration("pause", p))
				r.Sleep(p)
			}
		}
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		res, err := r.runTask(ctx, sum.RunID, t)
		sum.Tasks = append(sum.Tasks, res)
		metrics.RecordTask(t.Name, res.Status, res.Duration)
		if err != nil {
			log.Error("run aborted", zap.String("task", t.Name), zap.Error(err))
			return sum, err
		}
	}

	log.Info("run finished",
		zap.Int("tasks", len(sum.Tasks)),
		zap.Int("failed", sum.Failed()),
		zap.Int("records", sum.Records()))
	return sum, nil
}

// runTask returns a non-nil error only when the run must stop.
func (r *Runner) runTask(ctx context.Context, runID string, t task.Task) (TaskResult, error) {
	start := r.Now()
	res := TaskResult{Task: t.Name}
	log := zap.L().With(zap.String("task", t.Name), zap.String("url", t.URL))
	log.Info("task started")

	rs, taskErr := r.extract(ctx, runID, t, start)
	if taskErr != nil {
		if !scrapeerr.TaskLevel(taskErr) && !errors.Is(taskErr, scrapeerr.Extraction) {
			res.Status = StatusFailed
			res.Err = taskErr
			res.Duration = r.Now().Sub(start)
			return res, taskErr
		}
		log.Warn("task failed, continuing with empty result", zap.Error(taskErr))
		res.Err = taskErr
	}

	res.Records, res.Skipped, res.Containers = rs.Len(), rs.Skipped, rs.Containers
	metrics.RecordRecords(t.Name, metrics.KindExtracted, res.Records)
	metrics.RecordRecords(t.Name, metrics.KindSkipped, res.Skipped)
	metrics.RecordRecords(t.Name, metrics.KindContainers, res.Containers)

	files, err := r.write(t, rs)
	res.Files = files
	if err == nil {
		res.Stored, err = r.store(ctx, t, rs)
	}
	res.Duration = r.Now().Sub(start)
	switch {
	case err != nil || taskErr != nil:
		res.Status = StatusFailed
	case res.Records == 0:
		res.Status = StatusEmpty
	default:
		res.Status = StatusOK
	}
	if err != nil {
		res.Err = err
		return res, err
	}

	report.Write(r.Report, rs, t.Summary)
	log.Info("task finished",
		zap.String("status", res.Status),
		zap.Int("records", res.Records),
		zap.Int("skipped", res.Skipped),
		zap.Duration("took", res.Duration))
	return res, nil
}

// extract always returns a usable Result Set; it is empty when err is set.
func (r *Runner) extract(ctx context.Context, runID string, t task.Task, at time.Time) (*record.ResultSet, error) {
	rs := record.Empty(t.Name, runID, t.URL, t.FieldNames(), at.UTC())
	rs.RecordsKey = t.Output.RecordsKey

	mode, err := t.ParseMode()
	if err != nil {
		return rs, scrapeerr.New(scrapeerr.Parse, "task "+t.Name, err)
	}

	ctx = fetch.WithTask(ctx, t.Name)
	page, err := r.Fetcher.Get(ctx, t.URL)
	if err != nil {
		return rs, err
	}

	tree, err := parse.Parse(page.Body, mode,
		parse.WithContentType(page.ContentType),
		parse.WithEncoding(t.Encoding))
	if err != nil {
		return rs, err
	}

	out, err := extract.Extract(ctx, tree, t, extract.Options{
		Table:   r.Table,
		Sleep:   r.Sleep,
		Fetcher: r.Fetcher,
		BaseURL: page.URL,
	})
	rs.Containers = out.Containers
	rs.Skipped = out.Skipped
	rs.Page = out.Page
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return rs, ctxErr
		}
		return rs, err
	}
	rs.Records = out.Records
	rs.Count = rs.Len()
	return rs, nil
}

func (r *Runner) write(t task.Task, rs *record.ResultSet) ([]string, error) {
	jsonName, csvName := t.Output.JSON, t.Output.CSV
	if jsonName == "" && csvName == "" {
		jsonName = t.Name + ".json"
	}

	var files []string
	if jsonName != "" {
		p := filepath.Join(r.OutDir, jsonName)
		if err := output.WriteJSON(rs, p); err != nil {
			return files, err
		}
		if rs.Len() > 0 {
			files = append(files, p)
		}
	}
	if csvName != "" {
		p := filepath.Join(r.OutDir, csvName)
		if err := output.WriteCSV(rs, p); err != nil {
			return files, err
		}
		if rs.Len() > 0 {
			files = append(files, p)
		}
	}
	return files, nil
}

func (r *Runner) store(ctx context.Context, t task.Task, rs *record.ResultSet) (int64, error) {
	if r.Repo == nil || rs.Len() == 0 {
		return 0, nil
	}
	table := t.TableName()
	op := "store " + table
	if err := r.Repo.EnsureTable(ctx, table, storage.FieldsOf(rs)); err != nil {
		return 0, scrapeerr.New(scrapeerr.IO, op, err)
	}
	n, err := r.Repo.InsertResultSet(ctx, table, rs)
	if err != nil {
		return 0, scrapeerr.New(scrapeerr.IO, op, err)
	}
	zap.L().Info("records stored", zap.String("task", t.Name), zap.String("table", table), zap.Int64("rows", n))
	return n, nil
}
