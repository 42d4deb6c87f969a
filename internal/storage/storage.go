// Package storage provides the persistent key/value backend the off-chain
// engine's storable abstractions are layered on top of.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage is a single-table namespaced key/value store backed by SQLite.
// All engine state (object store, reference index, committed commands,
// pending requests, object locks) is kept in the one `kv` table, rows
// partitioned by a `prefix` column built with key_join.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	DataDir  string
	FileName string // defaults to "offchain.db"
}

// New opens (creating if needed) the SQLite-backed store under cfg.DataDir.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	fileName := cfg.FileName
	if fileName == "" {
		fileName = "offchain.db"
	}
	dbPath := filepath.Join(dataDir, fileName)

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// NewInMemory opens a process-local, non-persistent store. Useful for tests
// and for `payment_process`-style synchronous unit exercises.
func NewInMemory() (*Storage, error) {
	db, err := sql.Open("sqlite3", "file::memory:?cache=shared")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Storage{db: db, dbPath: ":memory:"}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		rowid   INTEGER PRIMARY KEY AUTOINCREMENT,
		prefix  TEXT NOT NULL,
		key     TEXT NOT NULL,
		value   BLOB NOT NULL,
		UNIQUE(prefix, key)
	);
	CREATE INDEX IF NOT EXISTS idx_kv_prefix ON kv(prefix);
	`
	_, err := s.db.Exec(schema)
	return err
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// --- raw row operations, used by StorableDict ---

func (s *Storage) put(prefix, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO kv(prefix, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(prefix, key) DO UPDATE SET value = excluded.value`,
		prefix, key, value,
	)
	return err
}

func (s *Storage) tryGet(prefix, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE prefix = ? AND key = ?`, prefix, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *Storage) delete(prefix, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM kv WHERE prefix = ? AND key = ?`, prefix, key)
	return err
}

func (s *Storage) contains(prefix, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM kv WHERE prefix = ? AND key = ? LIMIT 1`, prefix, key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Storage) count(prefix string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM kv WHERE prefix = ?`, prefix).Scan(&n)
	return n, err
}

// keysInInsertionOrder returns keys under prefix ordered by first-write
// order (rowid), which crash recovery relies on to replay committed
// commands in the order they were originally committed.
func (s *Storage) keysInInsertionOrder(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`SELECT key FROM kv WHERE prefix = ? ORDER BY rowid ASC`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
