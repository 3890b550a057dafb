package extract

import (
	"net/url"
	"regexp"
	"strings"

	"scrape/internal/normalize"
	"scrape/internal/record"
	"scrape/internal/scrapeerr"
	"scrape/internal/task"

	"github.com/PuerkitoBio/goquery"
)

type compiledField struct {
	task.Field
	re *regexp.Regexp
}

func compileFields(fields []task.Field) ([]compiledField, error) {
	out := make([]compiledField, 0, len(fields))
	for _, f := range fields {
		re, err := compileOptionalRegex(f.Match, f.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, compiledField{Field: f, re: re})
	}
	return out, nil
}

// compileOptionalRegex compiles pattern into a regexp.Regexp.
//
// If pattern is empty, it returns (nil, nil). An invalid pattern is an
// Extraction error naming the field.
func compileOptionalRegex(pattern, field string) (*regexp.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, scrapeerr.New(scrapeerr.Extraction, "compile match for field "+field, err)
	}
	return re, nil
}

// value evaluates the field against root. When Column is set the field is
// evaluated inside that cell instead; a missing cell yields the empty value.
//
// Semantics:
//   - If All is true, every selector match is collected into a list and
//     empty results are dropped.
//   - Otherwise only the first match is extracted. With Fallback, a selector
//     that matches nothing falls back to the text of the cell or container.
//   - Match, then Absolute, then the transform are applied to each value.
func (cf compiledField) value(root, cells *goquery.Selection, base *url.URL, table normalize.Table) (record.Value, error) {
	scope := root
	if cf.Column != nil {
		if cells == nil || *cf.Column >= cells.Length() {
			return cf.missing(table), nil
		}
		scope = cells.Eq(*cf.Column)
	}

	matches := scope
	if cf.Selector != "" {
		matches = scope.Find(cf.Selector)
	}

	if cf.All {
		var raw []string
		var err error
		matches.EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			var v string
			if v, err = cf.extractOne(sel); err != nil {
				return false
			}
			raw = append(raw, cf.post(v, base))
			return true
		})
		if err != nil {
			return record.Value{}, err
		}
		vals := []string{}
		for _, v := range table.ApplyAll(cf.Transform, raw) {
			if v != "" {
				vals = append(vals, v)
			}
		}
		return record.List(vals), nil
	}

	var raw string
	first := matches.First()
	switch {
	case first.Length() > 0:
		v, err := cf.extractOne(first)
		if err != nil {
			return record.Value{}, err
		}
		raw = v
	case cf.Fallback:
		raw = strings.TrimSpace(scope.Text())
	}
	return record.String(table.Apply(cf.Transform, cf.post(raw, base))), nil
}

func (cf compiledField) missing(table normalize.Table) record.Value {
	if cf.All {
		return record.List(nil)
	}
	return record.String(table.Apply(cf.Transform, ""))
}

// extractOne converts a matched node into the extracted string value.
func (cf compiledField) extractOne(sel *goquery.Selection) (string, error) {
	switch cf.Extract {
	case task.ExtractAttr:
		// both parsers store attribute keys lower-cased.
		v, _ := sel.Attr(strings.ToLower(cf.Attr))
		return strings.TrimSpace(v), nil

	case task.ExtractTag:
		return goquery.NodeName(sel), nil

	case task.ExtractHTML:
		h, err := sel.Html()
		if err != nil {
			return "", scrapeerr.New(scrapeerr.Extraction, "render field "+cf.Name, err)
		}
		return strings.TrimSpace(h), nil

	default:
		return strings.TrimSpace(sel.Text()), nil
	}
}

// post applies the regex filter and URL resolution.
func (cf compiledField) post(v string, base *url.URL) string {
	v = applyRegexFilter(v, cf.re)
	if cf.Absolute && v != "" {
		v = ResolveHref(base, v)
	}
	return v
}
