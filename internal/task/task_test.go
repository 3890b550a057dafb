package task

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"scrape/internal/normalize"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltin_AllValid(t *testing.T) {
	t.Parallel()

	for _, tk := range Builtin() {
		assert.NoError(t, tk.Validate(normalize.Builtin), tk.Name)
	}
}

func TestBuiltin_SpellsShape(t *testing.T) {
	t.Parallel()

	sp, ok := Lookup("spells")
	require.True(t, ok)
	assert.Equal(t, []string{
		"name", "url", "level", "school", "casting_time", "range",
		"components", "concentration", "ritual", "description", "source",
	}, sp.FieldNames())
	assert.Equal(t, "name", sp.KeyField())
	assert.Equal(t, 11, sp.MinCells)
	assert.Equal(t, 100*time.Millisecond, sp.Delay)
	assert.Equal(t, "td", sp.Cells())
	assert.Equal(t, "spells", sp.TableName())
}

func TestBuiltin_SimpleGroupOutputs(t *testing.T) {
	t.Parallel()

	want := map[string]string{
		"headings": "scraping_results_headings.json",
		"links":    "scraping_results_links.json",
	}
	for name, file := range want {
		tk, ok := Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, file, tk.Output.JSON)
		assert.Empty(t, tk.Output.CSV, name)
		require.Len(t, tk.Page, 1)
		assert.Equal(t, "title", tk.Page[0].Name)
	}
}

func TestLookup_ReturnsCopies(t *testing.T) {
	t.Parallel()

	a, _ := Lookup("quotes")
	a.Fields[0].Selector = "mutated"
	b, _ := Lookup("quotes")
	assert.Equal(t, "span.text", b.Fields[0].Selector)

	s, _ := Lookup("spells")
	*s.Fields[0].Column = 99
	s2, _ := Lookup("spells")
	assert.Equal(t, 1, *s2.Fields[0].Column)
}

func TestResolve(t *testing.T) {
	t.Parallel()

	all, err := Resolve(nil)
	require.NoError(t, err)
	var names []string
	for _, tk := range all {
		names = append(names, tk.Name)
	}
	assert.Equal(t, []string{"headings", "links", "quotes", "headlines", "spells"}, names)

	got, err := Resolve([]string{"spells", "advanced"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "quotes", got[1].Name)

	_, err = Resolve([]string{"nope"})
	assert.ErrorContains(t, err, `unknown task or group "nope"`)
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	base := func() Task {
		return Task{
			Name:      "t",
			URL:       "http://example.com",
			Container: "li",
			Fields:    []Field{{Name: "a"}},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Task)
		want   string
	}{
		{"unknown_transform", func(t *Task) { t.Fields[0].Transform = "shout" }, `unknown transform "shout"`},
		{"empty_container", func(t *Task) { t.Container = " " }, "container selector is required"},
		{"no_fields", func(t *Task) { t.Fields = nil }, "at least one field"},
		{"duplicate_field", func(t *Task) { t.Fields = append(t.Fields, Field{Name: "a"}) }, "duplicate field"},
		{"attr_without_name", func(t *Task) { t.Fields[0].Extract = ExtractAttr }, "extract attr needs attr"},
		{"bad_extract", func(t *Task) { t.Fields[0].Extract = "js" }, `unknown extract "js"`},
		{"bad_regex", func(t *Task) { t.Fields[0].Match = "(" }, "invalid match regex"},
		{"bad_mode", func(t *Task) { t.Mode = "json" }, "unknown parse mode"},
		{"bad_key", func(t *Task) { t.Key = "zzz" }, `key "zzz" is not a field`},
		{"records_key_count", func(t *Task) { t.Output.RecordsKey = "count" }, `records_key "count" is a metadata key`},
		{"records_key_fields", func(t *Task) { t.Output.RecordsKey = "fields" }, "is a metadata key"},
		{"negative_column", func(t *Task) { t.Fields[0].Column = col(-1) }, "column must not be negative"},
		{"detail_url_field", func(t *Task) {
			t.Detail = &Detail{URLField: "href", Fields: []Field{{Name: "body"}}}
		}, `detail.url_field "href"`},
		{"detail_collision", func(t *Task) {
			t.Detail = &Detail{URLField: "a", Fields: []Field{{Name: "a"}}}
		}, "collides"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tk := base()
			tc.mutate(&tk)
			err := tk.Validate(normalize.Builtin)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	assert.NoError(t, base().Validate(normalize.Builtin))
}

func TestLoadFile_YAMLAndJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	yml := filepath.Join(dir, "tasks.yaml")
	require.NoError(t, os.WriteFile(yml, []byte(`
tasks:
  - name: books
    url: http://books.toscrape.com
    container: article.product_pod
    delay: 250ms
    skip_rows: 0
    fields:
      - name: title
        selector: h3 a
        extract: attr
        attr: title
      - name: price
        selector: p.price_color
        match: '([0-9.]+)'
      - name: cell
        column: 0
`), 0o644))

	tasks, err := LoadFile(yml)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, 250*time.Millisecond, tasks[0].Delay)
	assert.Equal(t, "title", tasks[0].Fields[0].Attr)
	require.NotNil(t, tasks[0].Fields[2].Column)
	assert.Equal(t, 0, *tasks[0].Fields[2].Column)
	assert.Nil(t, tasks[0].Fields[0].Column)

	js := filepath.Join(dir, "tasks.json")
	require.NoError(t, os.WriteFile(js, []byte(`{"tasks":[{"name":"j","url":"http://x","container":"li","fields":[{"name":"v"}]}]}`), 0o644))
	tasks, err = LoadFile(js)
	require.NoError(t, err)
	assert.Equal(t, "j", tasks[0].Name)
}

func TestDecode_Rejects(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte("tasks: []\n"))
	assert.ErrorContains(t, err, "no tasks")

	_, err = Decode([]byte("tasks:\n  - name: x\n    url: http://x\n    container: li\n    selecter: typo\n    fields: [{name: a}]\n"))
	assert.ErrorContains(t, err, "selecter")

	_, err = Decode([]byte("tasks:\n  - name: x\n    url: http://x\n    container: li\n    fields: [{name: a, transform: nope}]\n"))
	assert.ErrorContains(t, err, "unknown transform")

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read task file")
}
