// Package report prints the console summary of a finished task: a table of
// example records and optional counts over flag and group-by fields.
package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"scrape/internal/normalize"
	"scrape/internal/record"
	"scrape/internal/task"
)

// DefaultExamples is used when a task does not set summary.examples.
const DefaultExamples = 3

// cellWidth caps example cells so long descriptions do not blow up the table.
const cellWidth = 60

// NewTable returns a table writer in the house style, mirrored to w.
func NewTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	return t
}

// Write renders the summary of rs to w.
func Write(w io.Writer, rs *record.ResultSet, s task.Summary) {
	if rs == nil {
		return
	}
	fmt.Fprintf(w, "\n%s: %d records", rs.Task, rs.Len())
	if rs.Skipped > 0 {
		fmt.Fprintf(w, " (%d skipped)", rs.Skipped)
	}
	if rs.SourceURL != "" {
		fmt.Fprintf(w, " from %s", rs.SourceURL)
	}
	fmt.Fprintln(w)

	for _, k := range sortedKeys(rs.Page) {
		fmt.Fprintf(w, "%s: %s\n", k, rs.Page[k])
	}
	if rs.Len() == 0 {
		return
	}

	writeExamples(w, rs, s)

	if len(s.Flags) == 0 && len(s.GroupBy) == 0 {
		return
	}
	writeFlags(w, rs, s.Flags)
	for _, f := range s.GroupBy {
		writeGroup(w, rs, f)
	}
}

func writeExamples(w io.Writer, rs *record.ResultSet, s task.Summary) {
	n := s.Examples
	if n <= 0 {
		n = DefaultExamples
	}
	n = min(n, rs.Len())

	cols := s.Show
	if len(cols) == 0 {
		cols = rs.Records[0].Keys()
	}

	t := NewTable(w)
	t.SetTitle(fmt.Sprintf("Example %s", rs.Task))
	header := table.Row{"#"}
	configs := make([]table.ColumnConfig, 0, len(cols))
	for i, c := range cols {
		header = append(header, c)
		configs = append(configs, table.ColumnConfig{Number: i + 2, WidthMax: cellWidth})
	}
	t.AppendHeader(header)
	t.SetColumnConfigs(configs)

	for i := 0; i < n; i++ {
		row := table.Row{i + 1}
		for _, c := range cols {
			row = append(row, rs.Records[i].Text(c))
		}
		t.AppendRow(row)
	}
	t.Render()
}

func writeFlags(w io.Writer, rs *record.ResultSet, flags []string) {
	t := NewTable(w)
	t.SetTitle("Analysis")
	t.AppendHeader(table.Row{"Metric", "Count"})
	t.AppendRow(table.Row{"Total", rs.Len()})
	for _, f := range flags {
		t.AppendRow(table.Row{f, CountYes(rs, f)})
	}
	t.Render()
}

func writeGroup(w io.Writer, rs *record.ResultSet, field string) {
	counts := GroupCounts(rs, field)
	t := NewTable(w)
	t.SetTitle("By " + field)
	t.AppendHeader(table.Row{field, "Count"})
	for _, k := range SortLabels(keys(counts)) {
		t.AppendRow(table.Row{k, counts[k]})
	}
	t.Render()
}

// CountYes counts records whose field equals the presence Yes value.
func CountYes(rs *record.ResultSet, field string) int {
	n := 0
	for _, r := range rs.Records {
		if r.Text(field) == normalize.Yes {
			n++
		}
	}
	return n
}

// GroupCounts counts records per distinct value of field. Empty values count
// under "(none)".
func GroupCounts(rs *record.ResultSet, field string) map[string]int {
	out := map[string]int{}
	for _, r := range rs.Records {
		v := r.Text(field)
		if v == "" {
			v = "(none)"
		}
		out[v]++
	}
	return out
}

// SortLabels orders labels with Cantrip first, then "Level n" by n, then
// everything else alphabetically.
func SortLabels(labels []string) []string {
	out := append([]string(nil), labels...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, ni := rank(out[i])
		rj, nj := rank(out[j])
		if ri != rj {
			return ri < rj
		}
		if ni != nj {
			return ni < nj
		}
		return out[i] < out[j]
	})
	return out
}

func rank(label string) (int, int) {
	if label == normalize.Cantrip {
		return 0, 0
	}
	if rest, ok := strings.CutPrefix(label, "Level "); ok {
		if n, err := strconv.Atoi(rest); err == nil {
			return 1, n
		}
	}
	return 2, 0
}

func keys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
