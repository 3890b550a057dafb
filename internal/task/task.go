// Package task describes what to scrape: the Extraction Task descriptor, the
// YAML/JSON task file loader and the built-in tasks.
package task

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"scrape/internal/normalize"
	"scrape/internal/parse"
	"scrape/internal/record"
)

// Extraction kinds for Field.Extract.
const (
	ExtractText = "text"
	ExtractAttr = "attr"
	ExtractTag  = "tag"
	ExtractHTML = "html"
)

// DefaultCellSelector selects the cells of a table row.
const DefaultCellSelector = "td"

// Task is one declarative extraction.
type Task struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	URL         string `yaml:"url" json:"url"`
	Mode        string `yaml:"mode,omitempty" json:"mode,omitempty"`
	Encoding    string `yaml:"encoding,omitempty" json:"encoding,omitempty"`

	// Scope, when set, restricts the container search to its first match.
	Scope     string `yaml:"scope,omitempty" json:"scope,omitempty"`
	Container string `yaml:"container" json:"container"`
	SkipRows  int    `yaml:"skip_rows,omitempty" json:"skip_rows,omitempty"`
	Limit     int    `yaml:"limit,omitempty" json:"limit,omitempty"`

	// MinCells skips containers with fewer CellSelector matches.
	MinCells     int    `yaml:"min_cells,omitempty" json:"min_cells,omitempty"`
	CellSelector string `yaml:"cell_selector,omitempty" json:"cell_selector,omitempty"`

	Delay time.Duration `yaml:"delay,omitempty" json:"delay,omitempty"`
	// Pause is waited after this task when another task follows it.
	Pause time.Duration `yaml:"pause,omitempty" json:"pause,omitempty"`

	// Key names the field that must be non-empty; defaults to the first field.
	Key    string  `yaml:"key,omitempty" json:"key,omitempty"`
	Fields []Field `yaml:"fields" json:"fields"`
	Page   []Field `yaml:"page,omitempty" json:"page,omitempty"`
	Detail *Detail `yaml:"detail,omitempty" json:"detail,omitempty"`

	Output  Output  `yaml:"output,omitempty" json:"output,omitempty"`
	Summary Summary `yaml:"summary,omitempty" json:"summary,omitempty"`
}

// Field maps one selector to one record field.
type Field struct {
	Name string `yaml:"name" json:"name"`
	// Selector is relative to the container, or to the cell when Column is
	// set. Empty means the container (or cell) itself.
	Selector string `yaml:"selector,omitempty" json:"selector,omitempty"`
	// Column is a 0-based index into the container's cells.
	Column    *int   `yaml:"column,omitempty" json:"column,omitempty"`
	Extract   string `yaml:"extract,omitempty" json:"extract,omitempty"`
	Attr      string `yaml:"attr,omitempty" json:"attr,omitempty"`
	All       bool   `yaml:"all,omitempty" json:"all,omitempty"`
	Fallback  bool   `yaml:"fallback,omitempty" json:"fallback,omitempty"`
	Match     string `yaml:"match,omitempty" json:"match,omitempty"`
	Absolute  bool   `yaml:"absolute,omitempty" json:"absolute,omitempty"`
	Transform string `yaml:"transform,omitempty" json:"transform,omitempty"`
}

// Detail fetches the page linked from one field of each record and appends
// Fields evaluated against that page's root.
type Detail struct {
	URLField string  `yaml:"url_field" json:"url_field"`
	Mode     string  `yaml:"mode,omitempty" json:"mode,omitempty"`
	Fields   []Field `yaml:"fields" json:"fields"`
}

// Output names the files and sink table of a task.
type Output struct {
	JSON       string `yaml:"json,omitempty" json:"json,omitempty"`
	CSV        string `yaml:"csv,omitempty" json:"csv,omitempty"`
	RecordsKey string `yaml:"records_key,omitempty" json:"records_key,omitempty"`
	Table      string `yaml:"table,omitempty" json:"table,omitempty"`
}

// Summary controls the console report printed after the task.
type Summary struct {
	Examples int      `yaml:"examples,omitempty" json:"examples,omitempty"`
	Show     []string `yaml:"show,omitempty" json:"show,omitempty"`
	Flags    []string `yaml:"flags,omitempty" json:"flags,omitempty"`
	GroupBy  []string `yaml:"group_by,omitempty" json:"group_by,omitempty"`
}

// FieldNames returns the record field names in order, detail fields last.
func (t Task) FieldNames() []string {
	out := make([]string, 0, len(t.Fields))
	for _, f := range t.Fields {
		out = append(out, f.Name)
	}
	if t.Detail != nil {
		for _, f := range t.Detail.Fields {
			out = append(out, f.Name)
		}
	}
	return out
}

// KeyField returns the primary key field name.
func (t Task) KeyField() string {
	if t.Key != "" {
		return t.Key
	}
	if len(t.Fields) > 0 {
		return t.Fields[0].Name
	}
	return ""
}

// ParseMode returns the task's parse mode.
func (t Task) ParseMode() (parse.Mode, error) { return parse.ParseMode(t.Mode) }

// Cells returns the cell selector, defaulting to td.
func (t Task) Cells() string {
	if t.CellSelector == "" {
		return DefaultCellSelector
	}
	return t.CellSelector
}

// TableName returns the sink table, defaulting to the task name.
func (t Task) TableName() string {
	if t.Output.Table != "" {
		return t.Output.Table
	}
	return t.Name
}

// Validate checks the task against the transforms in table. All problems are
// reported together.
func (t Task) Validate(table normalize.Table) error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(t.Name) == "" {
		add("name is required")
	}
	if strings.TrimSpace(t.URL) == "" {
		add("url is required")
	}
	if _, err := parse.ParseMode(t.Mode); err != nil {
		add("%v", err)
	}
	if strings.TrimSpace(t.Container) == "" {
		add("container selector is required")
	}
	if t.SkipRows < 0 || t.Limit < 0 || t.MinCells < 0 {
		add("skip_rows, limit and min_cells must not be negative")
	}
	if t.Delay < 0 || t.Pause < 0 {
		add("delay and pause must not be negative")
	}
	if len(t.Fields) == 0 {
		add("at least one field is required")
	}

	seen := map[string]bool{}
	check := func(where string, fields []Field) {
		for i, f := range fields {
			label := fmt.Sprintf("%s[%d]", where, i)
			if f.Name == "" {
				add("%s: name is required", label)
			} else if seen[where+"/"+f.Name] {
				add("%s: duplicate field %q", label, f.Name)
			}
			seen[where+"/"+f.Name] = true
			if err := f.validate(table); err != nil {
				add("%s (%s): %v", label, f.Name, err)
			}
		}
	}
	check("fields", t.Fields)
	check("page", t.Page)

	if t.Detail != nil {
		for _, f := range t.Detail.Fields {
			if seen["fields/"+f.Name] {
				add("detail field %q collides with a record field", f.Name)
			}
		}
		check("detail.fields", t.Detail.Fields)
		if !seen["fields/"+t.Detail.URLField] {
			add("detail.url_field %q is not a field", t.Detail.URLField)
		}
		if _, err := parse.ParseMode(t.Detail.Mode); err != nil {
			add("detail: %v", err)
		}
	}

	if record.ReservedKey(t.Output.RecordsKey) {
		add("output.records_key %q is a metadata key", t.Output.RecordsKey)
	}

	if t.Key != "" && !seen["fields/"+t.Key] {
		add("key %q is not a field", t.Key)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("task %q: %w", t.Name, errors.Join(errs...))
}

func (f Field) validate(table normalize.Table) error {
	switch f.Extract {
	case "", ExtractText, ExtractTag, ExtractHTML:
	case ExtractAttr:
		if f.Attr == "" {
			return errors.New("extract attr needs attr")
		}
	default:
		return fmt.Errorf("unknown extract %q", f.Extract)
	}
	if f.Column != nil && *f.Column < 0 {
		return errors.New("column must not be negative")
	}
	if !table.Has(f.Transform) {
		return fmt.Errorf("unknown transform %q (have %s)", f.Transform, strings.Join(table.Names(), ", "))
	}
	if strings.TrimSpace(f.Match) != "" {
		if _, err := regexp.Compile(f.Match); err != nil {
			return fmt.Errorf("invalid match regex: %w", err)
		}
	}
	return nil
}
