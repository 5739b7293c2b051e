package identity

// Table maps single-letter identifiers to their candidate model sets.
// Tables are loaded once and never mutated afterwards.
type Table map[string][]string

// Candidates returns the candidate models for an identifier letter, or nil
// for an unknown letter. The returned slice is a copy; callers may keep it.
func (t Table) Candidates(letter string) []string {
	cands, ok := t[letter]
	if !ok {
		return nil
	}
	out := make([]string, len(cands))
	copy(out, cands)
	return out
}

// defaultTable is the identifier mapping assembled from reverse-engineered
// capture logs. Letters are not unique across models: where captures showed
// the same letter on distinct models, the entry lists every candidate.
// Nora owns two letters (A on early units, C on later ones).
var defaultTable = Table{
	"A": {"Nora"},
	"B": {"Max"},
	"C": {"Nora"},
	"D": {"Diamo", "Dolce"},
	"F": {"Ferri", "Flexer"},
	"G": {"Gush", "Gravity"},
	"L": {"Ambi"},
	"M": {"Mission"},
	"O": {"Osci"},
	"P": {"Edge"},
	"S": {"Lush"},
	"V": {"Vulse"},
	"W": {"Domi"},
	"Z": {"Hush"},
}

// DefaultTable returns the built-in identifier table.
func DefaultTable() Table { return defaultTable }
