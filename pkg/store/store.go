// Package store persists sources, posts and topics. Inserts are idempotent
// and updates only fill fields that are still empty.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"blog-monitor/pkg/db"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicateSource is returned when a source URL is already registered
	ErrDuplicateSource = errors.New("source already registered")
)

// Store runs queries against a Postgres or SQLite database
type Store struct {
	db      *sql.DB
	dialect db.Dialect
	sb      sq.StatementBuilderType
	now     func() time.Time
	ping    func(ctx context.Context) error
}

// New creates a store on a connected provider. Ping is delegated to the
// provider so provider-specific checks run with it.
func New(provider db.DBProvider) *Store {
	s := NewWithDB(provider.DB(), provider.Dialect())
	s.ping = provider.Ping
	return s
}

// NewWithDB creates a store on a raw handle.
func NewWithDB(sqlDB *sql.DB, dialect db.Dialect) *Store {
	var format sq.PlaceholderFormat = sq.Question
	if dialect == db.Postgres {
		format = sq.Dollar
	}
	return &Store{
		db:      sqlDB,
		dialect: dialect,
		sb:      sq.StatementBuilder.PlaceholderFormat(format),
		now:     func() time.Time { return time.Now().UTC() },
		ping:    sqlDB.PingContext,
	}
}

// SetClock replaces the time source used for timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = func() time.Time { return now().UTC() }
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.ping(ctx)
}

// Migrate creates missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := sqliteSchema
	if s.dialect == db.Postgres {
		stmts = postgresSchema
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) exec(ctx context.Context, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return s.db.ExecContext(ctx, query, args...)
}

func (s *Store) queryRow(ctx context.Context, b sq.Sqlizer) (*sql.Row, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return s.db.QueryRowContext(ctx, query, args...), nil
}

func (s *Store) query(ctx context.Context, b sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return s.db.QueryContext(ctx, query, args...)
}

func nullText(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullInt(n int) any {
	if n <= 0 {
		return nil
	}
	return n
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// chunk splits values into slices of at most size elements.
func chunk[T any](values []T, size int) [][]T {
	var out [][]T
	for len(values) > size {
		out = append(out, values[:size])
		values = values[size:]
	}
	if len(values) > 0 {
		out = append(out, values)
	}
	return out
}
