package session

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// kvSchemaVersion is the current version of the state/auth_kv schema.
// Generalizes SQLiteStore's schema_version/migrations pattern (sqlite.go)
// down to the two key-value tables spec.md §6 names: "state" for
// non-sensitive profile/workspace bookkeeping (current profile, start URL),
// "auth_kv" for credentials, kept in a separate table so a backup or log
// capture of one doesn't also leak the other.
const kvSchemaVersion = 1

const kvSchema = `
CREATE TABLE IF NOT EXISTS state (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS auth_kv (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);
`

type kvMigration struct {
	version     int
	description string
	up          func(tx *sql.Tx) error
}

// kvMigrations runs in order against databases created at an older
// kvSchemaVersion. Empty for now; the slot exists so a future schema change
// follows SQLiteStore's migration discipline instead of an ad hoc ALTER.
var kvMigrations = []kvMigration{}

// KVStore is the SQLite-backed state/auth_kv store spec.md §6 describes:
// single file in the user's data directory, 0600 permissions, versioned
// migrations applied in one transaction at open.
type KVStore struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenKVStore opens (creating if absent) the KV database at path. Pass ""
// to use DefaultKVPath.
func OpenKVStore(path string) (*KVStore, error) {
	if path == "" {
		p, err := DefaultKVPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := initKVSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	if path != ":memory:" {
		if err := os.Chmod(path, 0o600); err != nil {
			db.Close()
			return nil, fmt.Errorf("chmod database: %w", err)
		}
	}

	return &KVStore{db: db}, nil
}

// DefaultKVPath returns <data dir>/agentcore/state.db.
func DefaultKVPath() (string, error) {
	dir, err := GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "state.db"), nil
}

func initKVSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(kvSchema); err != nil {
		return fmt.Errorf("create kv schema: %w", err)
	}

	var currentVersion int
	err = tx.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&currentVersion)
	switch {
	case err == sql.ErrNoRows:
		currentVersion = kvSchemaVersion
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", currentVersion); err != nil {
			return fmt.Errorf("insert initial kv version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read kv schema version: %w", err)
	}

	for _, m := range kvMigrations {
		if m.version <= currentVersion {
			continue
		}
		if err := m.up(tx); err != nil {
			return fmt.Errorf("kv migration %d (%s): %w", m.version, m.description, err)
		}
		if _, err := tx.Exec("UPDATE schema_version SET version = ?", m.version); err != nil {
			return fmt.Errorf("update kv version to %d: %w", m.version, err)
		}
	}

	return tx.Commit()
}

// Get reads a value from table ("state" or "auth_kv"). Returns ok=false if
// the key is absent.
func (s *KVStore) Get(ctx context.Context, table, key string) (value string, ok bool, err error) {
	if table != "state" && table != "auth_kv" {
		return "", false, fmt.Errorf("unknown kv table %q", table)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	query := fmt.Sprintf("SELECT value FROM %s WHERE key = ?", table)
	err = s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set upserts a value into table ("state" or "auth_kv").
func (s *KVStore) Set(ctx context.Context, table, key, value string) error {
	if table != "state" && table != "auth_kv" {
		return fmt.Errorf("unknown kv table %q", table)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	query := fmt.Sprintf("INSERT INTO %s (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value", table)
	_, err := s.db.ExecContext(ctx, query, key, value)
	return err
}

// Delete removes a key from table ("state" or "auth_kv").
func (s *KVStore) Delete(ctx context.Context, table, key string) error {
	if table != "state" && table != "auth_kv" {
		return fmt.Errorf("unknown kv table %q", table)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	query := fmt.Sprintf("DELETE FROM %s WHERE key = ?", table)
	_, err := s.db.ExecContext(ctx, query, key)
	return err
}

// Close closes the underlying database handle.
func (s *KVStore) Close() error {
	return s.db.Close()
}
