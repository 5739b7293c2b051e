package cache

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toys.yaml")

	s := New(path)
	if _, ok := s.Get("DC:F5:05:A3:6D:1E"); ok {
		t.Fatal("empty store returned a hit")
	}

	s.Put("DC:F5:05:A3:6D:1E", "Nora")
	s.Put("AA:BB:CC:DD:EE:FF", "Lush")

	// A fresh store over the same file sees the persisted entries.
	reloaded := New(path)
	if model, ok := reloaded.Get("DC:F5:05:A3:6D:1E"); !ok || model != "Nora" {
		t.Errorf("Get after reload = %q, %v; want Nora, true", model, ok)
	}
	if reloaded.Len() != 2 {
		t.Errorf("Len() = %d, want 2", reloaded.Len())
	}
}

func TestStoreOverwriteOnDisagreement(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toys.yaml")
	s := New(path)

	s.Put("DC:F5:05:A3:6D:1E", "Nora")
	s.Put("DC:F5:05:A3:6D:1E", "Ridge")

	if model, _ := s.Get("DC:F5:05:A3:6D:1E"); model != "Ridge" {
		t.Errorf("Get = %q, want Ridge (later resolution overwrites)", model)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestStoreEmptyPathIsMemoryOnly(t *testing.T) {
	s := New("")
	s.Put("AA:BB:CC:DD:EE:FF", "Max")
	if model, ok := s.Get("AA:BB:CC:DD:EE:FF"); !ok || model != "Max" {
		t.Errorf("in-memory store Get = %q, %v; want Max, true", model, ok)
	}
}

func TestStoreCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toys.yaml")
	if err := os.WriteFile(path, []byte("::: not yaml {{{"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Corrupt cache must not take the process down; it starts empty.
	s := New(path)
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0 for corrupt file", s.Len())
	}
	s.Put("AA:BB:CC:DD:EE:FF", "Hush")
	if model, _ := New(path).Get("AA:BB:CC:DD:EE:FF"); model != "Hush" {
		t.Errorf("store did not recover after corrupt file, got %q", model)
	}
}

func TestStoreCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "toys.yaml")
	s := New(path)
	s.Put("AA:BB:CC:DD:EE:FF", "Domi")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("cache file not created: %v", err)
	}
}
