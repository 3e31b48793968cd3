// Package ttlstore persists small JSON values under a cache directory,
// each with its own time-to-live. Entries are written atomically
// (temp file + rename) and expired entries read as missing.
package ttlstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ZephyrCloudIO/zephyr-agent/internal/clock"
)

// ErrNotFound is returned when a key is absent or its entry expired.
var ErrNotFound = errors.New("entry not found")

// Store is a file-backed TTL key-value store. It is safe for
// concurrent use within one process; the edge remains the source of
// truth for everything cached here.
type Store struct {
	dir   string
	clock clock.Clock

	mu sync.Mutex
}

// entry is the on-disk envelope around a stored value.
type entry struct {
	Value      json.RawMessage `json:"value"`
	StoredAt   time.Time       `json:"stored_at"`
	TTLSeconds int64           `json:"ttl_seconds"`
}

// New creates a store rooted at dir, creating the directory if needed.
func New(dir string, clk clock.Clock) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory %s: %w", dir, err)
	}
	return &Store{dir: dir, clock: clk}, nil
}

// Get reads the value stored under key into dest. Expired entries are
// removed and reported as ErrNotFound.
func (s *Store) Get(key string, dest any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("read cache entry %s: %w", key, err)
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		// A corrupt entry is treated as a miss; the next Put repairs it.
		_ = os.Remove(path)
		return ErrNotFound
	}

	if e.TTLSeconds > 0 {
		expiresAt := e.StoredAt.Add(time.Duration(e.TTLSeconds) * time.Second)
		if !s.clock.Now().Before(expiresAt) {
			_ = os.Remove(path)
			return ErrNotFound
		}
	}

	if err := json.Unmarshal(e.Value, dest); err != nil {
		return fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return nil
}

// Put stores value under key with the given TTL. A non-positive TTL
// means the entry never expires.
func (s *Store) Put(key string, value any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}

	e := entry{
		Value:      raw,
		StoredAt:   s.clock.Now().UTC(),
		TTLSeconds: int64(ttl / time.Second),
	}
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache envelope %s: %w", key, err)
	}

	path := s.path(key)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("write cache temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

// Delete removes the entry under key. Missing entries are not an error.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cache entry %s: %w", key, err)
	}
	return nil
}

// path maps a key to a file name, replacing characters that are not
// filesystem-safe.
func (s *Store) path(key string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '_' || r == '-':
			return r
		default:
			return '-'
		}
	}, key)
	return filepath.Join(s.dir, safe+".json")
}
