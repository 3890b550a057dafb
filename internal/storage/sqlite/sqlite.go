package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"scrape/internal/record"
	"scrape/internal/storage"
)

// Repo implements storage.Repository for SQLite.
//
// SQLite has no native timestamp type, so scraped_at is stored as an
// RFC3339Nano string.
type Repo struct {
	db *sql.DB
}

var _ storage.RunHistory = (*Repo)(nil)

// rowsPerInsert keeps multi-row inserts below SQLite's bound parameter limit.
const rowsPerInsert = 200

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlite: dsn is required")
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// EnsureTable creates the table when it does not exist. Field columns are TEXT.
func (r *Repo) EnsureTable(ctx context.Context, table string, fields []string) error {
	q, err := buildCreateTableSQL(table, fields)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

// InsertResultSet writes every record of rs inside one transaction.
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
	for _, row := range rows {
		if t, ok := row[3].(time.Time); ok {
			row[3] = formatSQLiteTime(t)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for start := 0; start < len(rows); start += rowsPerInsert {
		end := min(start+rowsPerInsert, len(rows))
		q, args := buildInsertSQL(table, cols, rows[start:end])
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("insert into %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit: %w", err)
	}
	return total, nil
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
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
		sqlIdent(storage.ColRunID) + " TEXT NOT NULL",
		sqlIdent(storage.ColTask) + " TEXT NOT NULL",
		sqlIdent(storage.ColSourceURL) + " TEXT NOT NULL",
		sqlIdent(storage.ColScrapedAt) + " TEXT NOT NULL",
		sqlIdent(storage.ColOrdinal) + " INTEGER NOT NULL",
		sqlIdent(storage.ColRowHash) + " TEXT NOT NULL",
	}
	for _, c := range cols[len(storage.MetaColumns):] {
		parts = append(parts, sqlIdent(c)+" TEXT")
	}
	parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s, %s)", sqlIdent(storage.ColRunID), sqlIdent(storage.ColOrdinal)))

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", sqlIdent(table), strings.Join(parts, ",\n  ")), nil
}

func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	colList := make([]string, 0, len(columns))
	for _, c := range columns {
		colList = append(colList, sqlIdent(c))
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(colList, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		args = append(args, row...)
	}
	return b.String(), args
}

// formatSQLiteTime formats a time as RFC3339Nano in UTC.
func formatSQLiteTime(t time.Time) string {
	return storage.TimeText(t)
}

// parseSQLiteTime parses scraped_at values read back from SQLite.
//
// Supported formats:
//   - RFC3339Nano (what we write)
//   - RFC3339
//   - "2006-01-02 15:04:05" (interpreted as UTC)
func parseSQLiteTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	if ts, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}

// LastRun returns the run id and scrape time of the most recently inserted
// row of task in table. rowid grows with every insert, so it orders runs even
// when their timestamps fall in the same second.
func (r *Repo) LastRun(ctx context.Context, table, task string) (string, time.Time, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sqlite: lookup table %s: %w", table, err)
	}
	if n == 0 {
		return "", time.Time{}, nil
	}

	q := fmt.Sprintf(`SELECT %s, %s FROM %s WHERE %s = ? ORDER BY rowid DESC LIMIT 1`,
		sqlIdent(storage.ColRunID), sqlIdent(storage.ColScrapedAt), sqlIdent(table),
		sqlIdent(storage.ColTask))

	var runID, at string
	err = r.db.QueryRowContext(ctx, q, task).Scan(&runID, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sqlite: last run of %s: %w", task, err)
	}
	ts, err := parseSQLiteTime(at)
	if err != nil {
		return "", time.Time{}, err
	}
	return runID, ts, nil
}
