// Package cache persists confirmed device-model resolutions across process
// lifetimes, keyed by the device's hardware address. A cache hit lets the
// identity resolver skip re-prompting the user for a model they already
// picked in an earlier session.
package cache

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store is a YAML-file-backed address→model map. Disk errors never
// propagate: the in-memory map stays authoritative for the running process
// and failures are logged. An empty path yields a purely in-memory store.
type Store struct {
	path string

	mu      sync.Mutex
	entries map[string]string
}

// New creates a store backed by the file at path and loads any existing
// entries. A missing file is not an error; it is created on first write.
func New(path string) *Store {
	s := &Store{
		path:    path,
		entries: make(map[string]string),
	}
	s.load()
	slog.Debug("[cache] store ready", "path", path, "entries", len(s.entries))
	return s
}

// Get returns the confirmed model for a device address, if one is cached.
func (s *Store) Get(addr string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	model, ok := s.entries[addr]
	return model, ok
}

// Put records a confirmed resolution, overwriting any previous entry for
// the address. Disagreement with an older entry replaces it outright —
// entries are never merged.
func (s *Store) Put(addr, model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[addr] = model
	s.flush()
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// load reads the cache file into memory. Caller must not hold mu.
func (s *Store) load() {
	if s.path == "" {
		return
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("[cache] read failed", "path", s.path, "error", err)
		}
		return
	}
	entries := make(map[string]string)
	if err := yaml.Unmarshal(data, &entries); err != nil {
		slog.Warn("[cache] parse failed, starting empty", "path", s.path, "error", err)
		return
	}
	s.entries = entries
}

// flush writes the current entries to disk. Caller must hold mu.
func (s *Store) flush() {
	if s.path == "" {
		return
	}
	data, err := yaml.Marshal(s.entries)
	if err != nil {
		slog.Warn("[cache] marshal failed", "error", err)
		return
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Warn("[cache] create cache dir failed", "dir", dir, "error", err)
			return
		}
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		slog.Warn("[cache] write failed", "path", s.path, "error", err)
	}
}
