package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"scrape/internal/record"
	"scrape/internal/storage"
)

// Pool is the subset of *pgxpool.Pool the repo needs. pgxmock pools satisfy it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Close()
}

// Repo implements storage.Repository for Postgres. Records are loaded with
// COPY; scraped_at is a TIMESTAMPTZ.
type Repo struct {
	pool Pool
}

func init() {
	storage.Register("postgres", New)
}

// New creates a pooled Postgres repository.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: open pool")
	}
	return NewWithPool(pool), nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(pool Pool) *Repo { return &Repo{pool: pool} }

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

// EnsureTable creates the schema (for qualified names) and the table.
func (r *Repo) EnsureTable(ctx context.Context, table string, fields []string) error {
	schemaSQL, tableSQL, err := buildCreateSQL(table, fields)
	if err != nil {
		return err
	}
	if schemaSQL != "" {
		if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
			return eris.Wrapf(err, "postgres: create schema for %s", table)
		}
	}
	if _, err := r.pool.Exec(ctx, tableSQL); err != nil {
		return eris.Wrapf(err, "postgres: create table %s", table)
	}
	return nil
}

// InsertResultSet copies every record of rs into table.
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

	n, err := r.pool.CopyFrom(ctx, identifier(table), cols, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", table)
	}
	return n, nil
}

func identifier(table string) pgx.Identifier {
	schema, name := splitQualifiedName(table)
	if schema == "" {
		return pgx.Identifier{name}
	}
	return pgx.Identifier{schema, name}
}

func splitQualifiedName(name string) (schema, table string) {
	name = strings.TrimSpace(name)
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

func pgIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// buildCreateSQL returns an optional CREATE SCHEMA statement and the CREATE
// TABLE statement for table.
func buildCreateSQL(table string, fields []string) (schemaSQL, tableSQL string, err error) {
	if strings.TrimSpace(table) == "" {
		return "", "", fmt.Errorf("table name is empty")
	}
	cols, err := storage.Columns(fields)
	if err != nil {
		return "", "", err
	}

	if schema, _ := splitQualifiedName(table); schema != "" {
		schemaSQL = fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s;`, pgIdent(schema))
	}

	parts := []string{
		pgIdent(storage.ColRunID) + " uuid NOT NULL",
		pgIdent(storage.ColTask) + " text NOT NULL",
		pgIdent(storage.ColSourceURL) + " text NOT NULL",
		pgIdent(storage.ColScrapedAt) + " timestamptz NOT NULL",
		pgIdent(storage.ColOrdinal) + " bigint NOT NULL",
		pgIdent(storage.ColRowHash) + " char(64) NOT NULL",
	}
	for _, c := range cols[len(storage.MetaColumns):] {
		parts = append(parts, pgIdent(c)+" text")
	}
	parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s, %s)", pgIdent(storage.ColRunID), pgIdent(storage.ColOrdinal)))

	tableSQL = fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", identifier(table).Sanitize(), strings.Join(parts, ",\n  "))
	return schemaSQL, tableSQL, nil
}
