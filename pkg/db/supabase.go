package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	supabase "github.com/supabase-community/supabase-go"
)

// SupabaseConfig holds configuration required to connect to a Supabase project.
type SupabaseConfig struct {
	// ConnectionString is the project's Postgres URL. When empty it is built
	// from SupabaseURL and Password.
	ConnectionString string

	// SupabaseURL is the project URL, e.g. "https://<ref>.supabase.co".
	SupabaseURL string

	// SupabaseKey is the service key used by the SDK client.
	SupabaseKey string

	// Password is the database password, not the API key.
	Password string

	MaxOpenConns int
	MaxIdleConns int
	ConnMaxIdle  time.Duration
	ConnMaxLife  time.Duration
}

// SupabaseClient provides the Postgres handle of a Supabase project and,
// when a key is configured, the Supabase SDK client.
type SupabaseClient struct {
	db          *sql.DB
	supabaseSDK *supabase.Client
	cfg         SupabaseConfig
}

// NewSupabaseClient constructs a Supabase client.
func NewSupabaseClient(cfg SupabaseConfig) *SupabaseClient {
	return &SupabaseClient{cfg: cfg}
}

// Connect initializes the SDK (URL and key present) and the direct Postgres
// connection (connection string or password present). A client with only
// the SDK is left without a DB handle; callers check HasDirectDB.
func (c *SupabaseClient) Connect(ctx context.Context) error {
	if c.cfg.SupabaseURL != "" && c.cfg.SupabaseKey != "" {
		sdkClient, err := supabase.NewClient(c.cfg.SupabaseURL, c.cfg.SupabaseKey, nil)
		if err != nil {
			return fmt.Errorf("initialize supabase SDK: %w", err)
		}
		c.supabaseSDK = sdkClient
	}

	connStr := c.cfg.ConnectionString
	if connStr == "" && c.cfg.Password != "" {
		var err error
		connStr, err = c.buildConnectionString()
		if err != nil {
			return fmt.Errorf("build connection string: %w", err)
		}
	}

	if connStr == "" {
		if c.supabaseSDK == nil {
			return fmt.Errorf("either connection string/password or Supabase URL+key must be provided")
		}
		return nil
	}

	// pgbouncer in transaction mode rejects cached prepared statements
	connStr = addConnectionParam(connStr, "statement_cache_capacity", "0")
	connStr = addConnectionParam(connStr, "default_query_exec_mode", "simple_protocol")

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("open supabase postgres: %w", err)
	}

	applyPool(db, c.cfg.MaxOpenConns, c.cfg.MaxIdleConns, c.cfg.ConnMaxIdle, c.cfg.ConnMaxLife)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping supabase postgres: %w", err)
	}

	c.db = db
	return nil
}

// Close closes the database connection.
func (c *SupabaseClient) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// DB exposes the underlying sql.DB handle; nil without a direct connection.
func (c *SupabaseClient) DB() *sql.DB {
	return c.db
}

// Dialect reports Postgres; Supabase is hosted Postgres.
func (c *SupabaseClient) Dialect() Dialect {
	return Postgres
}

// Ping checks the Postgres handle and, when the SDK is configured, that the
// REST API answers a one-row read of the sources table.
func (c *SupabaseClient) Ping(ctx context.Context) error {
	if c.db != nil {
		if err := c.db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping supabase postgres: %w", err)
		}
	}
	if c.supabaseSDK == nil {
		return nil
	}

	// postgrest-go has no context support; abandon the request on cancel
	done := make(chan error, 1)
	go func() {
		_, _, err := c.supabaseSDK.From("sources").Select("id", "", false).Limit(1, "").Execute()
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("supabase REST: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HasDirectDB returns true if direct database connection is available.
func (c *SupabaseClient) HasDirectDB() bool {
	return c.db != nil
}

// SDK returns the Supabase SDK client, or nil when no key was configured.
func (c *SupabaseClient) SDK() *supabase.Client {
	return c.supabaseSDK
}

// buildConnectionString derives the direct Postgres URL from the project URL.
func (c *SupabaseClient) buildConnectionString() (string, error) {
	if c.cfg.SupabaseURL == "" {
		return "", fmt.Errorf("supabase URL is required when connection string is not provided")
	}

	parsedURL, err := url.Parse(c.cfg.SupabaseURL)
	if err != nil {
		return "", fmt.Errorf("parse supabase URL: %w", err)
	}

	parts := strings.Split(parsedURL.Host, ".")
	if len(parts) < 2 || parts[0] == "" {
		return "", fmt.Errorf("invalid supabase URL format: expected [project-ref].supabase.co")
	}
	projectRef := parts[0]

	u := &url.URL{
		Scheme:   "postgresql",
		User:     url.UserPassword("postgres", c.cfg.Password),
		Host:     "db." + projectRef + ".supabase.co:5432",
		Path:     "/postgres",
		RawQuery: "sslmode=require",
	}
	return u.String(), nil
}

// addConnectionParam appends key=value unless the key is already present.
func addConnectionParam(connStr, key, value string) string {
	if strings.Contains(connStr, key+"=") {
		return connStr
	}

	separator := "?"
	if strings.Contains(connStr, "?") {
		separator = "&"
	}

	return connStr + separator + key + "=" + value
}
