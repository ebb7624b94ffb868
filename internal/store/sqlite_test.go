package store

import (
	"context"
	"path/filepath"
	"testing"

	"strategy-engine/internal/config"
)

func TestNewSQLiteOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "engine.db")
	s, err := NewSQLite(config.DatabaseConfig{Path: path, MaxOpenConns: 2, MaxIdleConns: 2})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.Migrate(ctx, "test", `CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v TEXT)`); err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}
	if _, err := s.DB().ExecContext(ctx, `INSERT INTO kv (k, v) VALUES ('a', 'b')`); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	var v string
	if err := s.DB().QueryRowContext(ctx, `SELECT v FROM kv WHERE k = 'a'`).Scan(&v); err != nil || v != "b" {
		t.Fatalf("unexpected read v=%q err=%v", v, err)
	}
}

func TestNewSQLiteInMemorySharesOneConnection(t *testing.T) {
	s, err := NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 8})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	defer s.Close()

	if got := s.DB().Stats().MaxOpenConnections; got != 1 {
		t.Fatalf("in-memory store must use a single connection, got %d", got)
	}
	if err := s.Migrate(context.Background(), "test", `CREATE TABLE t (id INTEGER)`, `bogus statement`); err == nil {
		t.Fatalf("expected migration error")
	}
}
