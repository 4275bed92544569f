package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SQLStore persists one AES-encrypted blob per row in a single table per
// namespace. Because the payload column is opaque to the engine, filtered or
// sorted queries decrypt the full table in memory first: O(n) per call,
// acceptable for the collection sizes this service holds.
type SQLStore[T any] struct {
	db         *sql.DB
	driver     string
	table      string
	passphrase string
	log        *zap.Logger
	now        func() time.Time
}

var tableNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// OpenSQL opens a database for the configured driver ("sqlite" or "pgx")
// with conservative pool settings.
func OpenSQL(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	return db, nil
}

// NewSQLStore creates a SQL-backed store over db. The table is created on
// Initialize. Table names come from configuration, never request input, but
// are still validated because they are interpolated into DDL.
func NewSQLStore[T any](db *sql.DB, driver, table, passphrase string, log *zap.Logger) (*SQLStore[T], error) {
	if !tableNameRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SQLStore[T]{
		db:         db,
		driver:     driver,
		table:      table,
		passphrase: passphrase,
		log:        log,
		now:        time.Now,
	}, nil
}

func (s *SQLStore[T]) Initialize(ctx context.Context) error {
	ddl := fmt.Sprintf(`create table if not exists %s (
		id text primary key,
		data text not null,
		created_at bigint not null,
		updated_at bigint not null
	)`, s.table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("%w: create table %s: %v", ErrUnavailable, s.table, err)
	}
	return nil
}

func (s *SQLStore[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	var blob string
	err := s.db.QueryRowContext(ctx,
		s.bind(fmt.Sprintf(`select data from %s where id = ?`, s.table)), id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return s.decode(blob)
}

func (s *SQLStore[T]) GetMany(ctx context.Context, opts QueryOptions) ([]T, error) {
	items, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	return applyOptions(items, opts)
}

func (s *SQLStore[T]) Create(ctx context.Context, id string, item T) error {
	blob, err := s.encode(item)
	if err != nil {
		return err
	}
	now := s.now().UnixMilli()
	_, err = s.db.ExecContext(ctx,
		s.bind(fmt.Sprintf(`insert into %s (id, data, created_at, updated_at) values (?, ?, ?, ?)`, s.table)),
		id, blob, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrExists, id)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *SQLStore[T]) Update(ctx context.Context, id string, patch map[string]any) (T, error) {
	var zero T
	existing, err := s.Get(ctx, id)
	if err != nil {
		return zero, err
	}
	merged, err := mergePatch(existing, patch)
	if err != nil {
		return zero, err
	}
	blob, err := s.encode(merged)
	if err != nil {
		return zero, err
	}
	res, err := s.db.ExecContext(ctx,
		s.bind(fmt.Sprintf(`update %s set data = ?, updated_at = ? where id = ?`, s.table)),
		blob, s.now().UnixMilli(), id)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return zero, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return merged, nil
}

func (s *SQLStore[T]) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		s.bind(fmt.Sprintf(`delete from %s where id = ?`, s.table)), id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLStore[T]) Query(ctx context.Context, filter map[string]any) ([]T, error) {
	items, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	return applyOptions(items, QueryOptions{Filter: filter})
}

func (s *SQLStore[T]) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`delete from %s`, s.table)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *SQLStore[T]) Close() error { return s.db.Close() }

func (s *SQLStore[T]) loadAll(ctx context.Context) ([]T, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`select data from %s order by created_at`, s.table))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var items []T
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		item, err := s.decode(blob)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return items, nil
}

func (s *SQLStore[T]) encode(item T) (string, error) {
	plaintext, err := json.Marshal(item)
	if err != nil {
		return "", err
	}
	return encrypt(plaintext, s.passphrase)
}

func (s *SQLStore[T]) decode(blob string) (T, error) {
	var zero T
	plaintext, err := decrypt(blob, s.passphrase)
	if err != nil {
		return zero, err
	}
	var item T
	if err := json.Unmarshal(plaintext, &item); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return item, nil
}

// bind rewrites ? placeholders to $n for the pgx driver.
func (s *SQLStore[T]) bind(query string) string {
	if s.driver != "pgx" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

var _ Store[any] = (*SQLStore[any])(nil)
