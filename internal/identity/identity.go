// Package identity resolves advertised BLE names into device models.
//
// Lovense devices advertise under two name encodings: an explicit form
// where the model name follows the "LVS-" prefix directly ("LVS-Flexer"),
// and an older coded form carrying a single identifier letter plus a
// firmware token ("LVS-Z36D"). Identifier letters are ambiguous: one letter
// may map to several models, and one model may own several letters. The
// resolver narrows the candidate set using the static identifier table and
// the per-address cache of previously confirmed models; when that is not
// enough, the result stays ambiguous and the caller has to pick.
package identity

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/quodana/toylink/internal/protocol"
)

// NamePrefix is the advertised-name prefix shared by all supported devices.
const NamePrefix = "LVS-"

// Identity is the outcome of resolving one advertised name. Model is set
// if and only if Candidates holds exactly one entry; otherwise resolution
// is pending and model-gated commands must be refused.
type Identity struct {
	RawName    string
	Address    string
	Letter     string // identifier letter, "" for the explicit encoding
	Firmware   string // firmware token, "" if the name carries none
	Model      string // resolved model, "" while ambiguous
	Candidates []string
}

// Resolved reports whether the identity names exactly one model.
func (id Identity) Resolved() bool { return id.Model != "" }

// Store is the cache consumed and produced by resolution. Implementations
// persist confirmed address→model pairs across sessions.
type Store interface {
	Get(addr string) (string, bool)
	Put(addr, model string)
}

// Resolver resolves advertised names against an identifier table and a
// cache store. The table is read-only; the store is written on every
// successful resolution.
type Resolver struct {
	table Table
	store Store
}

// NewResolver builds a resolver over the given table and store.
func NewResolver(table Table, store Store) *Resolver {
	return &Resolver{table: table, store: store}
}

// Resolve parses rawName and narrows it to a model.
//
// An ambiguous outcome is not an error: the returned Identity carries the
// candidate set and the caller is expected to Disambiguate. A name matching
// neither encoding fails with *UnrecognizedDeviceError.
func (r *Resolver) Resolve(rawName, addr string) (Identity, error) {
	rest, ok := strings.CutPrefix(rawName, NamePrefix)
	if !ok || rest == "" {
		return Identity{}, &UnrecognizedDeviceError{Name: rawName}
	}
	id := Identity{RawName: rawName, Address: addr}

	// Explicit encoding: model token right after the prefix, optionally
	// followed by a firmware token. Unambiguous regardless of cache state.
	if model, fw, ok := matchExplicit(rest); ok {
		id.Model = model
		id.Firmware = fw
		id.Candidates = []string{model}
		r.store.Put(addr, model)
		slog.Debug("[identity] explicit resolution", "name", rawName, "model", model)
		return id, nil
	}

	// Coded encoding: identifier letter + firmware token.
	letter, fw, ok := matchCoded(rest)
	if !ok {
		return Identity{}, &UnrecognizedDeviceError{Name: rawName}
	}
	id.Letter = letter
	id.Firmware = fw

	candidates := r.table.Candidates(letter)
	if len(candidates) == 0 {
		return Identity{}, &UnrecognizedDeviceError{Name: rawName}
	}
	id.Candidates = candidates

	if len(candidates) == 1 {
		id.Model = candidates[0]
		r.store.Put(addr, id.Model)
		return id, nil
	}

	// Shared identifier: a cached confirmation from an earlier session
	// disambiguates, but only if it is still a member of the candidate set.
	if cached, ok := r.store.Get(addr); ok {
		for _, cand := range candidates {
			if cand == cached {
				id.Model = cached
				id.Candidates = []string{cached}
				r.store.Put(addr, cached)
				slog.Debug("[identity] cache disambiguation", "name", rawName, "model", cached)
				return id, nil
			}
		}
	}

	slog.Debug("[identity] ambiguous resolution", "name", rawName, "candidates", candidates)
	return id, nil
}

// Disambiguate applies an externally supplied model pick to an ambiguous
// identity. The pick must be one of the identity's candidates; the
// confirmed choice is written through to the cache.
func (r *Resolver) Disambiguate(id Identity, model string) (Identity, error) {
	if id.Resolved() {
		if id.Model == model {
			return id, nil
		}
		return Identity{}, fmt.Errorf("identity: %s already resolved to %s", id.RawName, id.Model)
	}
	for _, cand := range id.Candidates {
		if cand == model {
			id.Model = model
			id.Candidates = []string{model}
			r.store.Put(id.Address, model)
			return id, nil
		}
	}
	return Identity{}, &AmbiguousIdentityError{Name: id.RawName, Candidates: id.Candidates}
}

// matchExplicit matches "<Model><firmware?>" against the capability table,
// case-insensitively. The firmware token, when present, must be numeric in
// this encoding ("Domi38").
func matchExplicit(rest string) (model, firmware string, ok bool) {
	for _, name := range protocol.ModelNames() {
		if len(rest) < len(name) || !strings.EqualFold(rest[:len(name)], name) {
			continue
		}
		tail := rest[len(name):]
		if tail == "" {
			return name, "", true
		}
		if isDigits(tail) {
			return name, tail, true
		}
	}
	return "", "", false
}

// matchCoded matches "<letter><firmware>" where the firmware token starts
// with a digit and may carry trailing alphanumerics ("Z36D").
func matchCoded(rest string) (letter, firmware string, ok bool) {
	if len(rest) < 2 {
		return "", "", false
	}
	c := rest[0]
	if !(c >= 'A' && c <= 'Z') && !(c >= 'a' && c <= 'z') {
		return "", "", false
	}
	tail := rest[1:]
	if tail[0] < '0' || tail[0] > '9' {
		return "", "", false
	}
	for i := 1; i < len(tail); i++ {
		if !isAlnum(tail[i]) {
			return "", "", false
		}
	}
	return strings.ToUpper(rest[:1]), tail, true
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

func isAlnum(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z'
}

// UnrecognizedDeviceError reports an advertised name matching neither
// supported encoding. Not transient: retrying without a different name
// cannot succeed.
type UnrecognizedDeviceError struct {
	Name string
}

func (e *UnrecognizedDeviceError) Error() string {
	return fmt.Sprintf("identity: unrecognized device name %q", e.Name)
}

// AmbiguousIdentityError reports an identity that still names several
// candidate models. Resolution needs caller input, not a retry.
type AmbiguousIdentityError struct {
	Name       string
	Candidates []string
}

func (e *AmbiguousIdentityError) Error() string {
	return fmt.Sprintf("identity: %q is ambiguous between %s", e.Name, strings.Join(e.Candidates, ", "))
}
