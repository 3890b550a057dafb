package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"scrape/internal/record"
	"scrape/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Repo {
	t.Helper()
	repo, err := storage.New(context.Background(), storage.Config{
		Kind: "sqlite",
		DSN:  filepath.Join(t.TempDir(), "scrape.db"),
	})
	require.NoError(t, err)
	t.Cleanup(repo.Close)
	return repo.(*Repo)
}

func spellSet(at time.Time, n int) *record.ResultSet {
	rs := &record.ResultSet{
		Meta: record.Meta{
			Task:      "spells",
			RunID:     "run-" + at.Format("0102150405"),
			SourceURL: "http://dnd5e.wikidot.com/spells",
			ScrapedAt: at,
			Fields:    []string{"Name", "Level", "Components"},
		},
	}
	for i := 0; i < n; i++ {
		rs.Records = append(rs.Records, record.New(
			record.Field{Name: "Name", Value: record.String("Spell " + string(rune('A'+i%26)))},
			record.Field{Name: "Level", Value: record.String("Cantrip")},
			record.Field{Name: "Components", Value: record.List([]string{"V", "S"})},
		))
	}
	return rs
}

func TestRepo_EnsureAndInsert(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := openTemp(t)

	fields := []string{"Name", "Level", "Components"}
	require.NoError(t, repo.EnsureTable(ctx, "spells", fields))
	require.NoError(t, repo.EnsureTable(ctx, "spells", fields), "idempotent")

	at := time.Date(2026, 10, 14, 9, 30, 0, 123, time.UTC)
	n, err := repo.InsertResultSet(ctx, "spells", spellSet(at, 3))
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	var name, level, comps, scraped string
	var ordinal int64
	err = repo.db.QueryRowContext(ctx,
		`SELECT "name", "level", "components", "scraped_at", "ordinal" FROM "spells" WHERE "ordinal" = 2`).
		Scan(&name, &level, &comps, &scraped, &ordinal)
	require.NoError(t, err)
	assert.Equal(t, "Spell C", name)
	assert.Equal(t, "Cantrip", level)
	assert.Equal(t, `["V","S"]`, comps)
	assert.Equal(t, "2026-10-14T09:30:00.000000123Z", scraped)
	assert.EqualValues(t, 2, ordinal)
}

func TestRepo_InsertChunksLargeSets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := openTemp(t)

	require.NoError(t, repo.EnsureTable(ctx, "spells", []string{"Name", "Level", "Components"}))
	n, err := repo.InsertResultSet(ctx, "spells", spellSet(time.Now(), rowsPerInsert*2+7))
	require.NoError(t, err)
	assert.EqualValues(t, rowsPerInsert*2+7, n)
}

func TestRepo_InsertEmptyIsNoop(t *testing.T) {
	t.Parallel()
	repo := openTemp(t)

	n, err := repo.InsertResultSet(context.Background(), "missing_table", spellSet(time.Now(), 0))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRepo_LastRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := openTemp(t)

	runID, at, err := repo.LastRun(ctx, "spells", "spells")
	require.NoError(t, err, "missing table")
	assert.Empty(t, runID)
	assert.True(t, at.IsZero())

	require.NoError(t, repo.EnsureTable(ctx, "spells", []string{"Name", "Level", "Components"}))
	runID, _, err = repo.LastRun(ctx, "spells", "spells")
	require.NoError(t, err, "empty table")
	assert.Empty(t, runID)

	first := time.Date(2026, 10, 13, 8, 0, 0, 0, time.UTC)
	second := first.Add(24 * time.Hour)
	_, err = repo.InsertResultSet(ctx, "spells", spellSet(first, 1))
	require.NoError(t, err)
	_, err = repo.InsertResultSet(ctx, "spells", spellSet(second, 1))
	require.NoError(t, err)

	runID, at, err = repo.LastRun(ctx, "spells", "spells")
	require.NoError(t, err)
	assert.Equal(t, "run-1014080000", runID)
	assert.True(t, at.Equal(second))

	runID, _, err = repo.LastRun(ctx, "spells", "other")
	require.NoError(t, err)
	assert.Empty(t, runID)
}

// RFC3339Nano drops trailing zeros, so "08:00:00Z" sorts after
// "08:00:00.5Z" as text. The later insert must still win.
func TestRepo_LastRunSameSecond(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := openTemp(t)
	require.NoError(t, repo.EnsureTable(ctx, "spells", []string{"Name", "Level", "Components"}))

	at := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
	rs := spellSet(at, 1)
	rs.RunID = "first"
	_, err := repo.InsertResultSet(ctx, "spells", rs)
	require.NoError(t, err)

	rs = spellSet(at.Add(500*time.Millisecond), 1)
	rs.RunID = "second"
	_, err = repo.InsertResultSet(ctx, "spells", rs)
	require.NoError(t, err)

	runID, got, err := repo.LastRun(ctx, "spells", "spells")
	require.NoError(t, err)
	assert.Equal(t, "second", runID)
	assert.True(t, got.Equal(at.Add(500*time.Millisecond)))
}

func TestRepo_DuplicateRunRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := openTemp(t)
	require.NoError(t, repo.EnsureTable(ctx, "spells", []string{"Name", "Level", "Components"}))

	rs := spellSet(time.Now(), 2)
	_, err := repo.InsertResultSet(ctx, "spells", rs)
	require.NoError(t, err)
	_, err = repo.InsertResultSet(ctx, "spells", rs)
	require.Error(t, err)

	var count int
	require.NoError(t, repo.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM "spells"`).Scan(&count))
	assert.Equal(t, 2, count, "failed insert rolled back")
}

func TestBuildCreateTableSQL(t *testing.T) {
	t.Parallel()

	q, err := buildCreateTableSQL("quotes", []string{"text", "Author Name", "task"})
	require.NoError(t, err)
	assert.Contains(t, q, `CREATE TABLE IF NOT EXISTS "quotes"`)
	assert.Contains(t, q, `"author_name" TEXT`)
	assert.Contains(t, q, `"field_task" TEXT`)
	assert.Contains(t, q, `"row_hash" TEXT NOT NULL`)
	assert.Contains(t, q, `PRIMARY KEY ("run_id", "ordinal")`)

	_, err = buildCreateTableSQL(" ", nil)
	assert.Error(t, err)
}

func TestParseSQLiteTime_TableDriven(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		wantUTC string
		wantErr bool
	}{
		{name: "rfc3339nano", in: "2026-01-27T12:17:08.123456789Z", wantUTC: "2026-01-27T12:17:08.123456789Z"},
		{name: "rfc3339_offset", in: "2026-01-27T14:17:08+02:00", wantUTC: "2026-01-27T12:17:08Z"},
		{name: "sqlite_no_tz_assume_utc", in: "2026-01-27 12:17:08", wantUTC: "2026-01-27T12:17:08Z"},
		{name: "empty", in: " ", wantErr: true},
		{name: "invalid", in: "not-a-time", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSQLiteTime(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantUTC, got.Format(time.RFC3339Nano))
		})
	}
}
