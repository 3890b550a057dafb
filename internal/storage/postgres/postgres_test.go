package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scrape/internal/record"
	"scrape/internal/storage"
)

var quoteCols = []string{"run_id", "task", "source_url", "scraped_at", "ordinal", "row_hash", "text", "author", "tags"}

func quotesSet() *record.ResultSet {
	return &record.ResultSet{
		Meta: record.Meta{
			Task:      "quotes",
			RunID:     "3f0c9d55-8a7e-4f0e-9a61-5a0a2b7d3c10",
			SourceURL: "http://quotes.toscrape.com",
			ScrapedAt: time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC),
			Fields:    []string{"text", "author", "tags"},
		},
		Records: []record.Record{
			record.New(
				record.Field{Name: "text", Value: record.String("A")},
				record.Field{Name: "author", Value: record.String("B")},
				record.Field{Name: "tags", Value: record.List([]string{"x"})},
			),
			record.New(
				record.Field{Name: "text", Value: record.String("C")},
				record.Field{Name: "author", Value: record.String("D")},
				record.Field{Name: "tags", Value: record.List(nil)},
			),
		},
	}
}

func TestInsertResultSet_CopiesRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"quotes"}, quoteCols).WillReturnResult(2)

	n, err := NewWithPool(mock).InsertResultSet(context.Background(), "quotes", quotesSet())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertResultSet_SchemaQualified(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"scrape", "quotes"}, quoteCols).WillReturnResult(2)

	_, err = NewWithPool(mock).InsertResultSet(context.Background(), "scrape.quotes", quotesSet())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertResultSet_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"quotes"}, quoteCols).WillReturnError(fmt.Errorf("copy failed"))

	_, err = NewWithPool(mock).InsertResultSet(context.Background(), "quotes", quotesSet())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO quotes")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertResultSet_EmptyIsNoop(t *testing.T) {
	n, err := NewWithPool(nil).InsertResultSet(context.TODO(), "quotes",
		record.Empty("quotes", "run", "http://quotes.toscrape.com", nil, time.Now()))
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestEnsureTable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "scrape"."quotes"`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, NewWithPool(mock).EnsureTable(context.Background(), "scrape.quotes", []string{"text"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureTable_ExecError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnError(fmt.Errorf("permission denied"))

	err = NewWithPool(mock).EnsureTable(context.Background(), "quotes", []string{"text"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create table quotes")
}

func TestBuildCreateSQL(t *testing.T) {
	t.Parallel()

	schemaSQL, tableSQL, err := buildCreateSQL("quotes", []string{"text", "Run ID"})
	require.NoError(t, err)
	assert.Empty(t, schemaSQL)
	assert.Contains(t, tableSQL, `CREATE TABLE IF NOT EXISTS "quotes"`)
	assert.Contains(t, tableSQL, `"scraped_at" timestamptz NOT NULL`)
	assert.Contains(t, tableSQL, `"field_run_id" text`)

	_, _, err = buildCreateSQL("", nil)
	assert.Error(t, err)

	_, _, err = buildCreateSQL("t", []string{"a b", "a-b"})
	assert.Error(t, err, "colliding columns")
}

func TestRegistered(t *testing.T) {
	assert.Contains(t, storage.Kinds(), "postgres")
}
