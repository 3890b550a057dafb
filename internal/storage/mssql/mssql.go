package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"scrape/internal/record"
	"scrape/internal/storage"
)

// Repo implements storage.Repository for Microsoft SQL Server.
//
// Records are written with batched multi-row INSERTs inside one transaction.
// scraped_at is a DATETIMEOFFSET; field columns are NVARCHAR(MAX).
type Repo struct {
	db dbConn
}

// maxParams stays below SQL Server's limit of 2100 parameters per statement.
const maxParams = 2000

func init() {
	storage.Register("mssql", New)
}

// New opens a repository using database/sql and the "sqlserver" driver. It
// validates connectivity with PingContext.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	raw.SetMaxOpenConns(8)
	raw.SetMaxIdleConns(8)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Repo{db: &sqlDB{db: raw}}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// EnsureTable creates table unless OBJECT_ID already resolves it.
func (r *Repo) EnsureTable(ctx context.Context, table string, fields []string) error {
	q, err := buildCreateTableSQL(table, fields)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("mssql: create table %s: %w", table, err)
	}
	return nil
}

// InsertResultSet appends every record of rs. Either all rows land or none.
func (r *Repo) InsertResultSet(ctx context.Context, table string, rs *record.ResultSet) (int64, error) {
	if rs == nil || rs.Len() == 0 {
		return 0, nil
	}
	cols, err := storage.Columns(storage.FieldsOf(rs))
	if err != nil {
		return 0, err
	}
	rows, err := storage.Rows(rs)
	if err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mssql: begin tx: %w", err)
	}

	maxRows := max(1, maxParams/len(cols))
	var total int64
	for start := 0; start < len(rows); start += maxRows {
		end := min(start+maxRows, len(rows))
		q, args := buildInsertSQL(table, cols, rows[start:end])
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("mssql: insert into %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("mssql: commit: %w", err)
	}
	return total, nil
}

func buildCreateTableSQL(table string, fields []string) (string, error) {
	if strings.TrimSpace(table) == "" {
		return "", fmt.Errorf("table name is empty")
	}
	cols, err := storage.Columns(fields)
	if err != nil {
		return "", err
	}

	parts := []string{
		mssqlIdent(storage.ColRunID) + " NVARCHAR(64) NOT NULL",
		mssqlIdent(storage.ColTask) + " NVARCHAR(255) NOT NULL",
		mssqlIdent(storage.ColSourceURL) + " NVARCHAR(2048) NOT NULL",
		mssqlIdent(storage.ColScrapedAt) + " DATETIMEOFFSET NOT NULL",
		mssqlIdent(storage.ColOrdinal) + " BIGINT NOT NULL",
		mssqlIdent(storage.ColRowHash) + " CHAR(64) NOT NULL",
	}
	for _, c := range cols[len(storage.MetaColumns):] {
		parts = append(parts, mssqlIdent(c)+" NVARCHAR(MAX) NULL")
	}
	parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s, %s)", mssqlIdent(storage.ColRunID), mssqlIdent(storage.ColOrdinal)))

	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (\n  %s\n);",
		strings.ReplaceAll(table, "'", "''"), mssqlTableIdent(table), strings.Join(parts, ",\n  ")), nil
}

// buildInsertSQL builds one INSERT with @pN placeholders for rows.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	b.WriteString(";")
	return b.String(), args
}

func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	dbo.quotes -> [dbo].[quotes]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

// ---- database/sql seam types ----

// dbConn is a small interface over *sql.DB used to make this package testable.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is a small interface over *sql.Tx.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Commit() error
	Rollback() error
}

// sqlDB wraps *sql.DB to implement dbConn.
type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

var _ dbConn = (*sqlDB)(nil)
