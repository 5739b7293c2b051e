package identity

import (
	"errors"
	"testing"
)

// fakeStore is an in-memory Store for resolver tests.
type fakeStore struct {
	entries map[string]string
	puts    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]string)}
}

func (s *fakeStore) Get(addr string) (string, bool) {
	model, ok := s.entries[addr]
	return model, ok
}

func (s *fakeStore) Put(addr, model string) {
	s.entries[addr] = model
	s.puts++
}

const addr = "DC:F5:05:A3:6D:1E"

func TestResolveExplicitModel(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(DefaultTable(), store)

	id, err := r.Resolve("LVS-Flexer", addr)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !id.Resolved() || id.Model != "Flexer" {
		t.Errorf("Model = %q, want Flexer", id.Model)
	}
	if len(id.Candidates) != 1 {
		t.Errorf("Candidates = %v, want singleton", id.Candidates)
	}
	if model := store.entries[addr]; model != "Flexer" {
		t.Errorf("cache entry = %q, want Flexer", model)
	}
}

func TestResolveExplicitModelIgnoresCache(t *testing.T) {
	// A stale cache entry must not override the explicit encoding.
	store := newFakeStore()
	store.entries[addr] = "Lush"
	r := NewResolver(DefaultTable(), store)

	id, err := r.Resolve("LVS-Domi38", addr)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if id.Model != "Domi" {
		t.Errorf("Model = %q, want Domi", id.Model)
	}
	if id.Firmware != "38" {
		t.Errorf("Firmware = %q, want 38", id.Firmware)
	}
	if store.entries[addr] != "Domi" {
		t.Errorf("cache not overwritten, still %q", store.entries[addr])
	}
}

func TestResolveExplicitCaseInsensitive(t *testing.T) {
	r := NewResolver(DefaultTable(), newFakeStore())
	id, err := r.Resolve("LVS-GUSH", addr)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if id.Model != "Gush" {
		t.Errorf("Model = %q, want Gush (canonical casing)", id.Model)
	}
}

func TestResolveCodedSingleton(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(DefaultTable(), store)

	id, err := r.Resolve("LVS-Z36D", addr)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if id.Model != "Hush" {
		t.Errorf("Model = %q, want Hush", id.Model)
	}
	if id.Letter != "Z" || id.Firmware != "36D" {
		t.Errorf("Letter/Firmware = %q/%q, want Z/36D", id.Letter, id.Firmware)
	}
	if store.entries[addr] != "Hush" {
		t.Errorf("cache entry = %q, want Hush", store.entries[addr])
	}
}

func TestResolveSharedIdentifierAmbiguous(t *testing.T) {
	table := Table{"B": {"Max", "SolacePro"}}
	r := NewResolver(table, newFakeStore())

	id, err := r.Resolve("LVS-B123", addr)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if id.Resolved() {
		t.Fatalf("identity should be ambiguous, resolved to %q", id.Model)
	}
	if len(id.Candidates) != 2 || id.Candidates[0] != "Max" || id.Candidates[1] != "SolacePro" {
		t.Errorf("Candidates = %v, want [Max SolacePro]", id.Candidates)
	}
}

func TestResolveCacheDisambiguates(t *testing.T) {
	table := Table{"B": {"Max", "SolacePro"}}
	store := newFakeStore()
	r := NewResolver(table, store)

	// First session: ambiguous, caller picks SolacePro.
	id, err := r.Resolve("LVS-B123", addr)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	id, err = r.Disambiguate(id, "SolacePro")
	if err != nil {
		t.Fatalf("Disambiguate() error = %v", err)
	}
	if id.Model != "SolacePro" {
		t.Fatalf("Model after Disambiguate = %q, want SolacePro", id.Model)
	}

	// Later session from the same address: resolved from cache, no prompt.
	id2, err := r.Resolve("LVS-B123", addr)
	if err != nil {
		t.Fatalf("second Resolve() error = %v", err)
	}
	if !id2.Resolved() || id2.Model != "SolacePro" {
		t.Errorf("second Resolve Model = %q, want SolacePro from cache", id2.Model)
	}
}

func TestResolveCachedModelOutsideCandidates(t *testing.T) {
	// A cache entry naming a model outside the candidate set must not
	// disambiguate: the device letter says it cannot be that model.
	table := Table{"B": {"Max", "SolacePro"}}
	store := newFakeStore()
	store.entries[addr] = "Lush"
	r := NewResolver(table, store)

	id, err := r.Resolve("LVS-B123", addr)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if id.Resolved() {
		t.Errorf("identity resolved to %q despite cache mismatch", id.Model)
	}
}

func TestDisambiguateRejectsNonCandidate(t *testing.T) {
	table := Table{"B": {"Max", "SolacePro"}}
	r := NewResolver(table, newFakeStore())

	id, err := r.Resolve("LVS-B123", addr)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	_, err = r.Disambiguate(id, "Lush")
	var aerr *AmbiguousIdentityError
	if !errors.As(err, &aerr) {
		t.Fatalf("Disambiguate(Lush) error = %v, want *AmbiguousIdentityError", err)
	}
	if len(aerr.Candidates) != 2 {
		t.Errorf("error candidates = %v, want the full set", aerr.Candidates)
	}
}

func TestResolveUnrecognizedNames(t *testing.T) {
	r := NewResolver(DefaultTable(), newFakeStore())
	for _, name := range []string{
		"Widget-9",    // wrong prefix
		"LVS-",        // prefix only
		"LVS-!!",      // neither encoding
		"LVS-Q9",      // letter not in table
		"LVS-Z",       // letter without firmware token
		"LVS-ZX1",     // two letters before the firmware token
		"lvs-Flexer",  // prefix is case-sensitive
		"LVS-FlexerX", // explicit model with non-numeric tail
	} {
		_, err := r.Resolve(name, addr)
		var uerr *UnrecognizedDeviceError
		if !errors.As(err, &uerr) {
			t.Errorf("Resolve(%q) error = %v, want *UnrecognizedDeviceError", name, err)
		}
	}
}

func TestIdentityInvariant(t *testing.T) {
	table := Table{"B": {"Max", "SolacePro"}, "S": {"Lush"}}
	r := NewResolver(table, newFakeStore())

	for _, name := range []string{"LVS-B123", "LVS-S77", "LVS-Gravity"} {
		id, err := r.Resolve(name, addr)
		if err != nil {
			t.Fatalf("Resolve(%q) error = %v", name, err)
		}
		resolved := len(id.Candidates) == 1
		if id.Resolved() != resolved {
			t.Errorf("Resolve(%q): Resolved()=%v but candidates=%v", name, id.Resolved(), id.Candidates)
		}
	}
}

func TestTableCandidatesIsolation(t *testing.T) {
	table := Table{"G": {"Gush", "Gravity"}}
	cands := table.Candidates("G")
	cands[0] = "mutated"
	if table["G"][0] != "Gush" {
		t.Error("Candidates() must return a copy, table was mutated")
	}
	if table.Candidates("Q") != nil {
		t.Error("Candidates() for unknown letter should be nil")
	}
}
