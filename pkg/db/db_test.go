package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_SQLiteMemory(t *testing.T) {
	p, err := Open(context.Background(), Config{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, SQLite, p.Dialect())

	var one int
	require.NoError(t, p.DB().QueryRow("SELECT 1").Scan(&one))
	assert.Equal(t, 1, one)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"})
	assert.Error(t, err)
}

func TestOpen_PostgresRequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "postgres"})
	assert.ErrorContains(t, err, "DSN is required")
}

func TestSupabase_BuildConnectionString(t *testing.T) {
	c := NewSupabaseClient(SupabaseConfig{SupabaseURL: "https://abcdefgh.supabase.co", Password: "p@ss word+1/x"})
	got, err := c.buildConnectionString()
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "postgresql", u.Scheme)
	assert.Equal(t, "db.abcdefgh.supabase.co:5432", u.Host)
	assert.Equal(t, "/postgres", u.Path)
	assert.Equal(t, "require", u.Query().Get("sslmode"))
	assert.Equal(t, "postgres", u.User.Username())
	pw, ok := u.User.Password()
	require.True(t, ok)
	assert.Equal(t, "p@ss word+1/x", pw)

	_, err = NewSupabaseClient(SupabaseConfig{SupabaseURL: "https://localhost", Password: "x"}).buildConnectionString()
	assert.Error(t, err)
}

func TestAddConnectionParam(t *testing.T) {
	assert.Equal(t, "postgres://h/db?a=1", addConnectionParam("postgres://h/db", "a", "1"))
	assert.Equal(t, "postgres://h/db?x=2&a=1", addConnectionParam("postgres://h/db?x=2", "a", "1"))
	assert.Equal(t, "postgres://h/db?a=9", addConnectionParam("postgres://h/db?a=9", "a", "1"))
}

func TestSupabase_NothingConfigured(t *testing.T) {
	err := NewSupabaseClient(SupabaseConfig{}).Connect(context.Background())
	assert.Error(t, err)
}

func TestSupabase_PingUsesREST(t *testing.T) {
	var hits atomic.Int32
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/rest/v1/sources", r.URL.Path)
		assert.Equal(t, "id", r.URL.Query().Get("select"))
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		assert.Equal(t, "service-key", r.Header.Get("apikey"))
		w.Header().Set("Content-Type", "application/json")
		code := int(status.Load())
		w.WriteHeader(code)
		if code >= 400 {
			_, _ = w.Write([]byte(`{"code":"42P01","message":"relation does not exist"}`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewSupabaseClient(SupabaseConfig{SupabaseURL: srv.URL, SupabaseKey: "service-key"})
	require.NoError(t, c.Connect(context.Background()))
	require.NotNil(t, c.SDK())
	assert.False(t, c.HasDirectDB())

	require.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, int32(1), hits.Load())

	status.Store(http.StatusNotFound)
	err := c.Ping(context.Background())
	assert.ErrorContains(t, err, "relation does not exist")
}

func TestSQLite_Ping(t *testing.T) {
	c := NewSQLiteClient(SQLiteConfig{Path: ":memory:"})
	assert.Error(t, c.Ping(context.Background()))

	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()
	assert.NoError(t, c.Ping(context.Background()))
}
