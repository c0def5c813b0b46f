// Package cache stores analysis results as JSON files keyed by content
// hash, fronted by an in-memory layer so repeat hits skip the disk.
package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Store is a two-level result cache. The disk layer is authoritative and
// survives restarts; the memory layer holds recently-touched entries with a
// TTL. Keys are hex content hashes, safe to use as file names.
type Store struct {
	dir    string
	mem    *gocache.Cache
	logger *slog.Logger
}

// New creates a Store rooted at dir, creating it if needed.
func New(dir string, ttl time.Duration, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Store{
		dir:    dir,
		mem:    gocache.New(ttl, 2*ttl),
		logger: logger,
	}, nil
}

// Get loads the entry for key into v. Returns false on miss. Disk hits are
// promoted into the memory layer.
func (s *Store) Get(key string, v any) bool {
	if raw, ok := s.mem.Get(key); ok {
		if err := json.Unmarshal(raw.([]byte), v); err == nil {
			return true
		}
		s.mem.Delete(key)
	}

	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		s.logger.Warn("corrupt cache entry", "key", key, "error", err)
		return false
	}
	s.mem.SetDefault(key, raw)
	return true
}

// Put stores v under key in both layers.
func (s *Store) Put(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := os.WriteFile(s.path(key), raw, 0600); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	s.mem.SetDefault(key, raw)
	return nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}
