package grid

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Roster is the fixed, ordered set of identities tracked by a grid.
// Names are NFC normalized so that labels coming from a recognizer compare
// equal to roster entries regardless of how they were composed.
type Roster struct {
	names []string
	index map[string]int
}

// NewRoster builds a roster from names in display order.
// Names are trimmed and NFC normalized; blanks and duplicates are rejected.
func NewRoster(names ...string) (Roster, error) {
	r := Roster{
		names: make([]string, 0, len(names)),
		index: make(map[string]int, len(names)),
	}
	for i, raw := range names {
		name := Normalize(raw)
		if name == "" {
			return Roster{}, fmt.Errorf("roster[%d]: %w", i, ErrEmptyIdentity)
		}
		if _, dup := r.index[name]; dup {
			return Roster{}, fmt.Errorf("roster[%d] %q: %w", i, name, ErrDuplicateIdentity)
		}
		r.index[name] = len(r.names)
		r.names = append(r.names, name)
	}
	return r, nil
}

// MustRoster is NewRoster for fixed rosters known to be valid.
func MustRoster(names ...string) Roster {
	r, err := NewRoster(names...)
	if err != nil {
		panic(err)
	}
	return r
}

// Normalize returns the canonical form of an identity label.
func Normalize(label string) string {
	return norm.NFC.String(strings.TrimSpace(label))
}

// Contains reports whether label names a roster identity.
func (r Roster) Contains(label string) bool {
	_, ok := r.index[Normalize(label)]
	return ok
}

// Names returns the identities in roster order.
func (r Roster) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Len returns the number of identities.
func (r Roster) Len() int {
	return len(r.names)
}
