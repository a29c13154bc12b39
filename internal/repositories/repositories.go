// package repositories provides persistence layer implementations for the progress store and mutation queue.
package repositories

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Storage keys of the persisted records.
const (
	LibraryKey    = "library_entries"
	QueueKey      = "mutation_queue"
	DeadLetterKey = "mutation_dead_letter"
)

// Storage persists opaque values under string keys.
//
// Load returns (nil, nil) when the key has never been saved.
type Storage interface {
	Load(key string) ([]byte, error)
	Save(key string, value []byte) error
}

// SQLiteStorage implements [Storage] on the "storage" table created by the embedded migrations.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLiteStorage with the given database connection
func NewSQLiteStorage(db *sql.DB) *SQLiteStorage {
	return &SQLiteStorage{db: db}
}

// Load reads the value stored under key.
func (s *SQLiteStorage) Load(key string) ([]byte, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM storage WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}
	return []byte(value), nil
}

// Save upserts the value stored under key.
func (s *SQLiteStorage) Save(key string, value []byte) error {
	query := `
		INSERT INTO storage (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := s.db.Exec(query, key, string(value), time.Now()); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

// MemoryStorage implements [Storage] in memory.
type MemoryStorage struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string][]byte)}
}

// Load returns a copy of the value stored under key.
func (s *MemoryStorage) Load(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

// Save stores a copy of value under key.
func (s *MemoryStorage) Save(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
	return nil
}

// jsonList reads and writes a JSON array of T under one storage key.
type jsonList[T any] struct {
	storage Storage
	key     string
}

func (l jsonList[T]) load() ([]T, error) {
	raw, err := l.storage.Load(l.key)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return []T{}, nil
	}

	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", l.key, err)
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

func (l jsonList[T]) save(items []T) error {
	if items == nil {
		items = []T{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", l.key, err)
	}
	return l.storage.Save(l.key, raw)
}
