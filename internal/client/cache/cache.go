// Package cache is the device-local key/value store: durable settings
// (start date, invite code, language) plus disposable JSON snapshots of
// the latest known pair and memory collections, used as the offline
// fallback. Snapshots are fully replaced on each authoritative fetch and
// never patched in place.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Durable setting keys. These survive until explicitly changed.
const (
	KeyStartDate  = "start_date"
	KeyInviteCode = "invite_code"
	KeyLanguage   = "language"
)

// MemoriesKey returns the disposable snapshot key for a user's memories.
func MemoriesKey(userID string) string {
	return "memories_cache_" + userID
}

// PairKey returns the disposable snapshot key for a user's pair.
func PairKey(userID string) string {
	return "pair_cache_" + userID
}

// Store is a sqlite-backed key/value store. A single key is last-write-
// wins; sqlite serializes concurrent access per connection.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the local store at path. Use
// ":memory:" for tests.
func Open(path string) (*Store, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS kv (
  key        TEXT PRIMARY KEY,
  value      BLOB NOT NULL,
  updated_at INTEGER NOT NULL
);
`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init local store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the stored value, or (nil, nil) on a miss.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return value, nil
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
`, key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Remove deletes key. Removing an absent key is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

// GetString returns a stored string setting, or "" on a miss.
func (s *Store) GetString(ctx context.Context, key string) (string, error) {
	value, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return string(value), nil
}

// SetString stores a string setting.
func (s *Store) SetString(ctx context.Context, key, value string) error {
	return s.Set(ctx, key, []byte(value))
}

// GetJSON decodes the snapshot stored under key into a fresh T. The
// second return is false on a miss.
func GetJSON[T any](ctx context.Context, s *Store, key string) (T, bool, error) {
	var out T
	value, err := s.Get(ctx, key)
	if err != nil || value == nil {
		return out, false, err
	}
	if err := json.Unmarshal(value, &out); err != nil {
		return out, false, fmt.Errorf("decode %q: %w", key, err)
	}
	return out, true, nil
}

// SetJSON stores v as a JSON snapshot under key.
func SetJSON[T any](ctx context.Context, s *Store, key string, v T) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return s.Set(ctx, key, value)
}
