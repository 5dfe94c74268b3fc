package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteConfig configures the embedded database used for local runs and tests.
type SQLiteConfig struct {
	// Path is a file path or ":memory:".
	Path string
}

// SQLiteClient wraps a modernc.org/sqlite handle.
type SQLiteClient struct {
	db  *sql.DB
	cfg SQLiteConfig
}

// NewSQLiteClient constructs a SQLite client.
func NewSQLiteClient(cfg SQLiteConfig) *SQLiteClient {
	if cfg.Path == "" {
		cfg.Path = "blog-monitor.db"
	}
	return &SQLiteClient{cfg: cfg}
}

// Connect opens the database with foreign keys on and a busy timeout.
// In-memory databases are pinned to one connection so every query sees the
// same data.
func (c *SQLiteClient) Connect(ctx context.Context) error {
	dsn := c.cfg.Path
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	if strings.Contains(c.cfg.Path, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping sqlite: %w", err)
	}

	c.db = db
	return nil
}

// Close closes the database.
func (c *SQLiteClient) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// DB exposes the underlying handle.
func (c *SQLiteClient) DB() *sql.DB {
	return c.db
}

// Dialect reports SQLite.
func (c *SQLiteClient) Dialect() Dialect {
	return SQLite
}

// Ping checks the connection.
func (c *SQLiteClient) Ping(ctx context.Context) error {
	if c.db == nil {
		return fmt.Errorf("sqlite: not connected")
	}
	return c.db.PingContext(ctx)
}
