package storage

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Options discriminate the backend to construct. Exactly one of the kinds
// is selected; unknown kinds fail at construction time.
type Options struct {
	Kind       string // "memory", "file" or "sql"
	Dir        string // file backend: directory holding one file per namespace
	DB         *sql.DB
	Driver     string // sql backend: "sqlite" or "pgx"
	Passphrase string
	Logger     *zap.Logger
}

// New constructs the store for a namespace (e.g. "api-keys", "roles",
// "security"). Each namespace is an independent instance; file namespaces
// map to "<dir>/<namespace>.json", sql namespaces to a table with dashes
// replaced by underscores.
func New[T any](namespace string, opts Options) (Store[T], error) {
	switch opts.Kind {
	case "memory":
		return NewMemoryStore[T](), nil
	case "file":
		path := filepath.Join(opts.Dir, namespace+".json")
		return NewFileStore[T](path, opts.Passphrase, opts.Logger), nil
	case "sql":
		if opts.DB == nil {
			return nil, fmt.Errorf("sql storage requires an open database")
		}
		table := strings.ReplaceAll(namespace, "-", "_")
		return NewSQLStore[T](opts.DB, opts.Driver, table, opts.Passphrase, opts.Logger)
	default:
		return nil, fmt.Errorf("unsupported storage kind %q", opts.Kind)
	}
}
