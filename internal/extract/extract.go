// Package extract turns a parsed Tree into Records according to a Task.
//
// Each element matched by the container selector becomes an independent
// extraction root and fields are evaluated relative to it. Missing
// sub-elements produce empty values, never errors. A container is skipped
// (and counted) when it has too few cells, when a field cannot be rendered or
// when its key field ends up empty, so that
//
//	len(Records) + Skipped == Containers
//
// always holds.
package extract

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"time"

	"scrape/internal/fetch"
	"scrape/internal/normalize"
	"scrape/internal/parse"
	"scrape/internal/record"
	"scrape/internal/scrapeerr"
	"scrape/internal/task"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// progressEvery is how often, in containers, progress is logged.
const progressEvery = 50

// PageFetcher retrieves detail pages.
type PageFetcher interface {
	Get(ctx context.Context, url string) (*fetch.Page, error)
}

// Options carries the collaborators of one extraction.
type Options struct {
	// Table resolves field transforms. Defaults to normalize.Builtin.
	Table normalize.Table
	// Sleep implements the per-container delay. Defaults to time.Sleep.
	Sleep func(time.Duration)
	// Fetcher is required when the task has a Detail section.
	Fetcher PageFetcher
	// BaseURL resolves Absolute fields. Defaults to the task URL.
	BaseURL string
}

// Result is the outcome of one extraction.
type Result struct {
	Records    []record.Record
	Containers int
	Skipped    int
	Page       map[string]string
}

// Extract applies t to tree.
//
// The returned error is non-nil only when the task itself cannot be applied
// (a bad regex, a detail section without a fetcher) or ctx is done; per
// container failures are logged and counted in Skipped.
func Extract(ctx context.Context, tree *parse.Tree, t task.Task, opts Options) (Result, error) {
	if opts.Table == nil {
		opts.Table = normalize.Builtin
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	if opts.BaseURL == "" {
		opts.BaseURL = t.URL
	}
	base, _ := url.Parse(opts.BaseURL)

	recordFields, err := compileFields(t.Fields)
	if err != nil {
		return Result{}, err
	}
	page, err := compileFields(t.Page)
	if err != nil {
		return Result{}, err
	}
	var detail []compiledField
	if t.Detail != nil {
		if opts.Fetcher == nil {
			return Result{}, scrapeerr.Newf(scrapeerr.Extraction, "extract "+t.Name, "detail section needs a fetcher")
		}
		if detail, err = compileFields(t.Detail.Fields); err != nil {
			return Result{}, err
		}
	}

	log := zap.L().With(zap.String("task", t.Name))
	res := Result{Records: []record.Record{}}

	if len(page) > 0 {
		res.Page = make(map[string]string, len(page))
		for _, cf := range page {
			v, err := cf.value(tree.Selection(), nil, base, opts.Table)
			if err != nil {
				log.Warn("page field failed", zap.String("field", cf.Name), zap.Error(err))
			}
			res.Page[cf.Name] = v.Join(", ")
		}
	}

	containers := selectContainers(tree, t, log)
	res.Containers = containers.Length()
	if res.Containers == 0 {
		log.Info("no containers matched", zap.String("container", t.Container))
		return res, nil
	}
	log.Info("extracting", zap.Int("containers", res.Containers))

	key := t.KeyField()
	needCells := t.MinCells > 0 || usesColumns(recordFields)

	for i := 0; i < res.Containers; i++ {
		if i > 0 && t.Delay > 0 {
			opts.Sleep(t.Delay)
		}
		if err := ctx.Err(); err != nil {
			res.Skipped += res.Containers - i
			return res, err
		}
		if i%progressEvery == 0 && res.Containers > progressEvery {
			log.Info("progress", zap.Int("container", i+1), zap.Int("of", res.Containers))
		}

		c := containers.Eq(i)
		var cells *goquery.Selection
		if needCells {
			cells = c.Find(t.Cells())
			if cells.Length() < t.MinCells {
				log.Debug("container has too few cells", zap.Int("index", i), zap.Int("cells", cells.Length()))
				res.Skipped++
				continue
			}
		}

		rec, err := buildRecord(c, cells, recordFields, base, opts.Table)
		if err != nil {
			log.Warn("record skipped", zap.Int("index", i), zap.Error(err))
			res.Skipped++
			continue
		}
		if v, _ := rec.Get(key); v.Empty() {
			log.Debug("record has empty key", zap.Int("index", i), zap.String("key", key))
			res.Skipped++
			continue
		}

		if t.Detail != nil {
			addDetail(ctx, &rec, t.Detail, detail, opts, base, log)
		}
		res.Records = append(res.Records, rec)
	}

	log.Info("extracted", zap.Int("records", len(res.Records)), zap.Int("skipped", res.Skipped))
	return res, nil
}

// selectContainers resolves scope, container, skip and limit.
func selectContainers(tree *parse.Tree, t task.Task, log *zap.Logger) *goquery.Selection {
	root := tree.Selection()
	if strings.TrimSpace(t.Scope) != "" {
		root = tree.First(t.Scope)
		if root.Length() == 0 {
			log.Warn("scope not found", zap.String("scope", t.Scope))
			return root
		}
	}

	sel := root.Find(t.Container)
	n := sel.Length()
	if t.SkipRows > 0 {
		if t.SkipRows >= n {
			return sel.Slice(n, n)
		}
		sel = sel.Slice(t.SkipRows, n)
		n = sel.Length()
	}
	if t.Limit > 0 && n > t.Limit {
		sel = sel.Slice(0, t.Limit)
	}
	return sel
}

func buildRecord(c, cells *goquery.Selection, fields []compiledField, base *url.URL, table normalize.Table) (record.Record, error) {
	var rec record.Record
	for _, cf := range fields {
		v, err := cf.value(c, cells, base, table)
		if err != nil {
			return record.Record{}, err
		}
		rec.Set(cf.Name, v)
	}
	return rec, nil
}

// addDetail fetches the page named by the record's URL field and appends the
// detail fields. Any failure leaves them empty.
func addDetail(ctx context.Context, rec *record.Record, d *task.Detail, fields []compiledField, opts Options, base *url.URL, log *zap.Logger) {
	empty := func() {
		for _, cf := range fields {
			if cf.All {
				rec.Set(cf.Name, record.List(nil))
			} else {
				rec.Set(cf.Name, record.String(""))
			}
		}
	}

	href := rec.Text(d.URLField)
	if href == "" {
		empty()
		return
	}
	target := ResolveHref(base, href)

	mode, _ := parse.ParseMode(d.Mode)
	p, err := opts.Fetcher.Get(ctx, target)
	if err != nil {
		log.Warn("detail fetch failed", zap.String("url", target), zap.Error(err))
		empty()
		return
	}
	tree, err := parse.Parse(p.Body, mode, parse.WithContentType(p.ContentType))
	if err != nil {
		log.Warn("detail parse failed", zap.String("url", target), zap.Error(err))
		empty()
		return
	}

	pageBase, _ := url.Parse(target)
	for _, cf := range fields {
		v, err := cf.value(tree.Selection(), nil, pageBase, opts.Table)
		if err != nil {
			log.Warn("detail field failed", zap.String("field", cf.Name), zap.Error(err))
			v = record.String("")
		}
		rec.Set(cf.Name, v)
	}
}

func usesColumns(fields []compiledField) bool {
	for _, cf := range fields {
		if cf.Column != nil {
			return true
		}
	}
	return false
}

// ResolveHref resolves href against base, returning an absolute URL string.
// If href is invalid, it is returned unchanged.
func ResolveHref(base *url.URL, href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if base == nil {
		return u.String()
	}
	return base.ResolveReference(u).String()
}

// applyRegexFilter applies an optional regex post-processing step to value.
//
// Behavior:
//   - If re is nil, it returns value unchanged.
//   - If re does not match, it returns "".
//   - If re matches and contains capture groups, group 1 is returned.
//   - If re matches with no capture groups, the full match is returned.
func applyRegexFilter(value string, re *regexp.Regexp) string {
	if value == "" || re == nil {
		return value
	}

	sm := re.FindStringSubmatch(value)
	if len(sm) == 0 {
		return ""
	}
	if len(sm) > 1 {
		return sm[1]
	}
	return sm[0]
}
