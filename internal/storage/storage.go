// Package storage is the optional database sink for Result Sets.
//
// Backends live in subpackages and register a factory under their kind from
// an init function:
//
//	import _ "scrape/internal/storage/sqlite"
//
//	repo, err := storage.New(ctx, storage.Config{Kind: "sqlite", DSN: "file:scrape.db"})
//
// Every backend stores one row per record with the same leading metadata
// columns (see MetaColumns) followed by one text column per field.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"scrape/internal/record"
)

// Config selects and configures a backend.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Repository persists Result Sets.
type Repository interface {
	// EnsureTable creates table with the metadata columns and one column per
	// field when it does not exist yet.
	EnsureTable(ctx context.Context, table string, fields []string) error

	// InsertResultSet appends every record of rs and returns the number of
	// rows written.
	InsertResultSet(ctx context.Context, table string, rs *record.ResultSet) (int64, error)

	// Close releases backend resources. Call once.
	Close()
}

// RunHistory is implemented by backends that can report the latest stored
// run of a task. An empty runID with a nil error means nothing is stored yet.
type RunHistory interface {
	LastRun(ctx context.Context, table, task string) (runID string, at time.Time, err error)
}

// Factory opens a Repository.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend under kind (e.g. "postgres", "sqlite").
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing storage.kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
