package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Dialect names the SQL flavour behind a provider
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// DBProvider is an interface for database clients that provide access to a sql.DB handle.
// Postgres, Supabase and SQLite clients can be used interchangeably.
type DBProvider interface {
	DB() *sql.DB
	Dialect() Dialect
	Ping(ctx context.Context) error
	Close() error
}

// Config selects and configures a provider
type Config struct {
	Driver string // postgres, supabase or sqlite
	DSN    string

	SupabaseURL      string
	SupabaseKey      string
	SupabasePassword string

	MaxOpenConns int
	MaxIdleConns int
	ConnMaxIdle  time.Duration
	ConnMaxLife  time.Duration
}

// Open connects the provider named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (DBProvider, error) {
	switch cfg.Driver {
	case "", "postgres":
		c := NewPostgresClient(PostgresConfig{
			DSN:          cfg.DSN,
			MaxOpenConns: cfg.MaxOpenConns,
			MaxIdleConns: cfg.MaxIdleConns,
			ConnMaxIdle:  cfg.ConnMaxIdle,
			ConnMaxLife:  cfg.ConnMaxLife,
		})
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil

	case "supabase":
		c := NewSupabaseClient(SupabaseConfig{
			ConnectionString: cfg.DSN,
			SupabaseURL:      cfg.SupabaseURL,
			SupabaseKey:      cfg.SupabaseKey,
			Password:         cfg.SupabasePassword,
			MaxOpenConns:     cfg.MaxOpenConns,
			MaxIdleConns:     cfg.MaxIdleConns,
			ConnMaxIdle:      cfg.ConnMaxIdle,
			ConnMaxLife:      cfg.ConnMaxLife,
		})
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		if !c.HasDirectDB() {
			_ = c.Close()
			return nil, fmt.Errorf("supabase: a database password or connection string is required, REST mode cannot serve the store")
		}
		return c, nil

	case "sqlite":
		c := NewSQLiteClient(SQLiteConfig{Path: cfg.DSN})
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

func applyPool(db *sql.DB, maxOpen, maxIdle int, idle, life time.Duration) {
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if idle > 0 {
		db.SetConnMaxIdleTime(idle)
	}
	if life > 0 {
		db.SetConnMaxLifetime(life)
	}
}
