package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"scrape/internal/record"
)

// Metadata columns, in table order.
const (
	ColRunID     = "run_id"
	ColTask      = "task"
	ColSourceURL = "source_url"
	ColScrapedAt = "scraped_at"
	ColOrdinal   = "ordinal"
	ColRowHash   = "row_hash"
)

// MetaColumns precede the field columns in every sink table.
var MetaColumns = []string{ColRunID, ColTask, ColSourceURL, ColScrapedAt, ColOrdinal, ColRowHash}

// Identifier lower-cases name and maps every run of characters outside
// [a-z0-9] to one underscore, so field names are usable unquoted in any
// backend. A leading digit gets an "f_" prefix.
func Identifier(name string) string {
	var b strings.Builder
	under := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			under = false
			continue
		}
		if !under && b.Len() > 0 {
			b.WriteByte('_')
			under = true
		}
	}
	out := strings.TrimRight(b.String(), "_")
	if out == "" {
		return "field"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "f_" + out
	}
	return out
}

// Columns returns the metadata columns followed by one column per field.
// A field that maps to a metadata column is prefixed with "field_". Two fields
// mapping to the same column is an error.
func Columns(fields []string) ([]string, error) {
	cols := append([]string(nil), MetaColumns...)
	seen := map[string]string{}
	for _, f := range fields {
		c := Identifier(f)
		if isMeta(c) {
			c = "field_" + c
		}
		if prev, dup := seen[c]; dup {
			return nil, fmt.Errorf("storage: fields %q and %q both map to column %q", prev, f, c)
		}
		seen[c] = f
		cols = append(cols, c)
	}
	return cols, nil
}

func isMeta(c string) bool {
	for _, m := range MetaColumns {
		if m == c {
			return true
		}
	}
	return false
}

// Rows flattens rs into insert rows matching Columns(FieldsOf(rs)). scraped_at
// is a time.Time; backends without a timestamp type convert it. List values
// are JSON arrays.
func Rows(rs *record.ResultSet) ([][]any, error) {
	fields := FieldsOf(rs)

	at := rs.ScrapedAt.UTC()
	rows := make([][]any, 0, rs.Len())
	for i, rec := range rs.Records {
		row := make([]any, 0, len(MetaColumns)+len(fields))
		row = append(row, rs.RunID, rs.Task, rs.SourceURL, at, int64(i), RowHash(rec, fields))
		for _, f := range fields {
			v, _ := rec.Get(f)
			s, err := cellText(v)
			if err != nil {
				return nil, fmt.Errorf("storage: record %d field %q: %w", i, f, err)
			}
			row = append(row, s)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// FieldsOf returns the field list used for rs's columns.
func FieldsOf(rs *record.ResultSet) []string {
	if len(rs.Fields) > 0 || rs.Len() == 0 {
		return rs.Fields
	}
	return rs.Records[0].Keys()
}

func cellText(v record.Value) (string, error) {
	if !v.Multi {
		return v.Text, nil
	}
	items := v.Items
	if items == nil {
		items = []string{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// TimeText renders scraped_at for backends that store timestamps as text.
func TimeText(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }
