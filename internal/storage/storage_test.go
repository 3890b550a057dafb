package storage

import (
	"context"
	"testing"
	"time"

	"scrape/internal/record"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct{}

func (fakeRepo) EnsureTable(context.Context, string, []string) error { return nil }
func (fakeRepo) InsertResultSet(context.Context, string, *record.ResultSet) (int64, error) {
	return 0, nil
}
func (fakeRepo) Close() {}

func TestRegisterAndNew(t *testing.T) {
	Register("fake-test", func(ctx context.Context, cfg Config) (Repository, error) {
		return fakeRepo{}, nil
	})
	assert.Contains(t, Kinds(), "fake-test")

	repo, err := New(context.Background(), Config{Kind: "fake-test"})
	require.NoError(t, err)
	assert.IsType(t, fakeRepo{}, repo)

	assert.Panics(t, func() { Register("fake-test", func(context.Context, Config) (Repository, error) { return nil, nil }) })
	assert.Panics(t, func() { Register("", nil) })
	assert.Panics(t, func() { Register("nil-factory", nil) })
}

func TestNew_Errors(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.EqualError(t, err, "storage: missing storage.kind")

	_, err = New(context.Background(), Config{Kind: "oracle"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported storage.kind=oracle")
}

func TestIdentifier(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Name":          "name",
		"Casting Time":  "casting_time",
		"  a--b  ":      "a_b",
		"2nd level":     "f_2nd_level",
		"Zoë's (note)":  "zo_s_note",
		"!!!":           "field",
		"already_snake": "already_snake",
	}
	for in, want := range tests {
		assert.Equal(t, want, Identifier(in), in)
	}
}

func TestColumns(t *testing.T) {
	t.Parallel()

	cols, err := Columns([]string{"Name", "task", "Level"})
	require.NoError(t, err)
	assert.Equal(t, []string{"run_id", "task", "source_url", "scraped_at", "ordinal", "row_hash", "name", "field_task", "level"}, cols)

	_, err = Columns([]string{"Casting Time", "casting-time"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `both map to column "casting_time"`)
}

func TestRows(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 10, 14, 10, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	rs := &record.ResultSet{
		Meta: record.Meta{Task: "quotes", RunID: "r", SourceURL: "u", ScrapedAt: at},
		Records: []record.Record{
			record.New(
				record.Field{Name: "text", Value: record.String("hi")},
				record.Field{Name: "tags", Value: record.List([]string{"a", "b"})},
			),
			record.New(
				record.Field{Name: "text", Value: record.String("yo")},
				record.Field{Name: "tags", Value: record.List(nil)},
			),
		},
	}

	assert.Equal(t, []string{"text", "tags"}, FieldsOf(rs), "falls back to first record keys")

	rows, err := Rows(rs)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	fields := []string{"text", "tags"}
	assert.Equal(t, []any{"r", "quotes", "u", at.UTC(), int64(0), RowHash(rs.Records[0], fields), "hi", `["a","b"]`}, rows[0])
	assert.Equal(t, []any{"r", "quotes", "u", at.UTC(), int64(1), RowHash(rs.Records[1], fields), "yo", `[]`}, rows[1])
	assert.Equal(t, "2026-10-14T08:00:00Z", TimeText(at))
}
