package task

import (
	"fmt"
	"sort"
	"time"
)

// Group is a named, ordered list of built-in tasks run together.
type Group struct {
	Name  string
	Tasks []string
}

func col(n int) *int { return &n }

var builtins = []Task{
	{
		Name:        "spells",
		Description: "D&D 5e spell table",
		URL:         "https://www.aidedd.org/dnd-filters/spells-5e.php",
		Scope:       "table",
		Container:   "tr",
		SkipRows:    1,
		MinCells:    11,
		Delay:       100 * time.Millisecond,
		Fields: []Field{
			{Name: "name", Column: col(1), Selector: "a", Fallback: true},
			{Name: "url", Column: col(1), Selector: "a", Extract: ExtractAttr, Attr: "href"},
			{Name: "level", Column: col(2), Transform: "level"},
			{Name: "school", Column: col(3)},
			{Name: "casting_time", Column: col(4)},
			{Name: "range", Column: col(5)},
			{Name: "components", Column: col(6)},
			{Name: "concentration", Column: col(7), Transform: "presence"},
			{Name: "ritual", Column: col(8), Transform: "presence"},
			{Name: "description", Column: col(9)},
			{Name: "source", Column: col(10)},
		},
		Output: Output{JSON: "dnd_spells.json", CSV: "dnd_spells.csv", RecordsKey: "spells"},
		Summary: Summary{
			Examples: 5,
			Show:     []string{"name", "level", "school", "casting_time", "range", "components", "concentration", "ritual", "source"},
			Flags:    []string{"concentration", "ritual"},
			GroupBy:  []string{"level", "school"},
		},
	},
	{
		Name:        "quotes",
		Description: "quotes.toscrape.com front page",
		URL:         "http://quotes.toscrape.com",
		Container:   "div.quote",
		Pause:       2 * time.Second,
		Fields: []Field{
			{Name: "text", Selector: "span.text"},
			{Name: "author", Selector: "small.author"},
			{Name: "tags", Selector: "a.tag", All: true},
		},
		Output:  Output{JSON: "quotes.json", CSV: "quotes.csv", RecordsKey: "quotes"},
		Summary: Summary{Examples: 3, Show: []string{"text", "author", "tags"}},
	},
	{
		Name:        "headlines",
		Description: "BBC News RSS headlines",
		URL:         "https://feeds.bbci.co.uk/news/rss.xml",
		Mode:        "xml",
		Container:   "item",
		Limit:       10,
		Fields: []Field{
			{Name: "title", Selector: "title"},
			{Name: "description", Selector: "description"},
			{Name: "pub_date", Selector: "pubDate"},
		},
		Output:  Output{JSON: "headlines.json", CSV: "headlines.csv", RecordsKey: "headlines"},
		Summary: Summary{Examples: 10, Show: []string{"title", "pub_date"}},
	},
	{
		Name:        "headings",
		Description: "headings of a test page",
		URL:         "https://httpbin.org/html",
		Container:   "h1, h2, h3, h4, h5, h6",
		Fields: []Field{
			{Name: "level", Extract: ExtractTag},
			{Name: "text"},
		},
		Page:    []Field{{Name: "title", Selector: "title"}},
		Output:  Output{JSON: "scraping_results_headings.json", RecordsKey: "headings"},
		Summary: Summary{Examples: 5, Show: []string{"level", "text"}},
	},
	{
		Name:        "links",
		Description: "links of a test page",
		URL:         "https://httpbin.org/html",
		Container:   "a[href]",
		Key:         "url",
		Fields: []Field{
			{Name: "text"},
			{Name: "url", Extract: ExtractAttr, Attr: "href"},
		},
		Page:    []Field{{Name: "title", Selector: "title"}},
		Output:  Output{JSON: "scraping_results_links.json", RecordsKey: "links"},
		Summary: Summary{Examples: 5, Show: []string{"text", "url"}},
	},
}

var groups = []Group{
	{Name: "simple", Tasks: []string{"headings", "links"}},
	{Name: "advanced", Tasks: []string{"quotes", "headlines"}},
	{Name: "dnd", Tasks: []string{"spells"}},
}

// Builtin returns copies of the built-in tasks in declaration order.
func Builtin() []Task {
	out := make([]Task, len(builtins))
	for i, t := range builtins {
		out[i] = t.clone()
	}
	return out
}

// Groups returns the built-in task groups in run order.
func Groups() []Group {
	return append([]Group(nil), groups...)
}

// Lookup returns a built-in task by name.
func Lookup(name string) (Task, bool) {
	for _, t := range builtins {
		if t.Name == name {
			return t.clone(), true
		}
	}
	return Task{}, false
}

// Resolve expands names (task or group names) into tasks, in order. No names
// selects every group.
func Resolve(names []string) ([]Task, error) {
	if len(names) == 0 {
		for _, g := range groups {
			names = append(names, g.Name)
		}
	}

	var out []Task
	for _, n := range names {
		if g, ok := group(n); ok {
			for _, tn := range g.Tasks {
				t, _ := Lookup(tn)
				out = append(out, t)
			}
			continue
		}
		t, ok := Lookup(n)
		if !ok {
			return nil, fmt.Errorf("unknown task or group %q (have %v)", n, known())
		}
		out = append(out, t)
	}
	return out, nil
}

func group(name string) (Group, bool) {
	for _, g := range groups {
		if g.Name == name {
			return g, true
		}
	}
	return Group{}, false
}

func known() []string {
	var out []string
	for _, t := range builtins {
		out = append(out, t.Name)
	}
	for _, g := range groups {
		out = append(out, g.Name)
	}
	sort.Strings(out)
	return out
}

// clone copies the slices of t so callers can mutate the result.
func (t Task) clone() Task {
	t.Fields = cloneFields(t.Fields)
	t.Page = cloneFields(t.Page)
	if t.Detail != nil {
		d := *t.Detail
		d.Fields = cloneFields(d.Fields)
		t.Detail = &d
	}
	t.Summary.Show = append([]string(nil), t.Summary.Show...)
	t.Summary.Flags = append([]string(nil), t.Summary.Flags...)
	t.Summary.GroupBy = append([]string(nil), t.Summary.GroupBy...)
	return t
}

func cloneFields(in []Field) []Field {
	if in == nil {
		return nil
	}
	out := make([]Field, len(in))
	for i, f := range in {
		if f.Column != nil {
			f.Column = col(*f.Column)
		}
		out[i] = f
	}
	return out
}
