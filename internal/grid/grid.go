package grid

import (
	"fmt"
	"slices"
	"strings"
)

// Row is a read-only view of one identity's attendance.
type Row struct {
	Identity     string `json:"identity"`
	Marks        []Mark `json:"marks"`
	PresentCount int    `json:"present_count"`
}

// row is the mutable storage behind a Row.
type row struct {
	marks        []Mark
	presentCount int
}

func (r *row) recompute() {
	r.presentCount = Recompute(r.marks)
}

// Grid holds the header sequence and one row per roster identity.
type Grid struct {
	roster  Roster
	headers SessionHeaders
	rows    map[string]*row
}

// New returns an empty grid with capacity unclaimed slots and an all-Unset
// row for every roster identity.
func New(roster Roster, capacity int) *Grid {
	g := &Grid{
		roster:  roster,
		headers: NewSessionHeaders(capacity),
		rows:    make(map[string]*row, roster.Len()),
	}
	for _, name := range roster.names {
		g.rows[name] = &row{marks: make([]Mark, g.headers.Len())}
	}
	return g
}

// FromSnapshot rebuilds a grid from persisted header labels and marks.
//
// Stored identities outside the roster are dropped and returned in dropped.
// When several stored keys normalize to one identity, the key already in
// normal form wins, else the first key in sorted order; the others are
// dropped too. dropped is sorted. Roster identities without stored marks
// get an all-Unset row. Stored rows are padded with Unset or truncated to
// the header length. When fewer than capacity headers were stored,
// unclaimed slots are appended.
func FromSnapshot(roster Roster, labels []string, marks map[string][]Mark, capacity int) (g *Grid, dropped []string) {
	n := len(labels)
	if n < capacity {
		n = capacity
	}
	g = New(roster, n)
	copy(g.headers.labels, labels)

	keys := make([]string, 0, len(marks))
	for stored := range marks {
		keys = append(keys, stored)
	}
	slices.SortFunc(keys, func(a, b string) int {
		an, bn := a == Normalize(a), b == Normalize(b)
		switch {
		case an && !bn:
			return -1
		case bn && !an:
			return 1
		}
		return strings.Compare(a, b)
	})

	loaded := make(map[string]bool, len(keys))
	for _, stored := range keys {
		name := Normalize(stored)
		r, ok := g.rows[name]
		if !ok || loaded[name] {
			dropped = append(dropped, stored)
			continue
		}
		loaded[name] = true
		copy(r.marks, marks[stored])
		r.recompute()
	}
	slices.Sort(dropped)
	return g, dropped
}

// Roster returns the grid's roster.
func (g *Grid) Roster() Roster {
	return g.roster
}

// Headers returns the session header sequence.
// Slots can be claimed through it; adding slots goes through AddSlot.
func (g *Grid) Headers() *SessionHeaders {
	return &g.headers
}

// AddSlot appends one unclaimed slot and an Unset mark to every row.
func (g *Grid) AddSlot() int {
	i := g.headers.grow()
	for _, r := range g.rows {
		r.marks = append(r.marks, Unset)
	}
	return i
}

// Row returns a copy of the row for identity.
func (g *Grid) Row(identity string) (Row, error) {
	name := Normalize(identity)
	r, ok := g.rows[name]
	if !ok {
		return Row{}, fmt.Errorf("%q: %w", identity, ErrUnknownIdentity)
	}
	return g.view(name, r), nil
}

// Rows returns a copy of every row in roster order.
func (g *Grid) Rows() []Row {
	out := make([]Row, 0, len(g.roster.names))
	for _, name := range g.roster.names {
		out = append(out, g.view(name, g.rows[name]))
	}
	return out
}

// Marks returns a copy of every row's marks keyed by identity.
func (g *Grid) Marks() map[string][]Mark {
	out := make(map[string][]Mark, len(g.rows))
	for name, r := range g.rows {
		ms := make([]Mark, len(r.marks))
		copy(ms, r.marks)
		out[name] = ms
	}
	return out
}

func (g *Grid) view(name string, r *row) Row {
	ms := make([]Mark, len(r.marks))
	copy(ms, r.marks)
	return Row{Identity: name, Marks: ms, PresentCount: r.presentCount}
}

// CheckInvariants verifies row/header lockstep, derived counts and roster
// coverage.
func (g *Grid) CheckInvariants() error {
	if len(g.rows) != g.roster.Len() {
		return fmt.Errorf("grid has %d rows for %d roster identities", len(g.rows), g.roster.Len())
	}
	for _, name := range g.roster.names {
		r, ok := g.rows[name]
		if !ok {
			return fmt.Errorf("no row for %q", name)
		}
		if len(r.marks) != g.headers.Len() {
			return fmt.Errorf("row %q has %d marks, headers have %d slots", name, len(r.marks), g.headers.Len())
		}
		if want := Recompute(r.marks); r.presentCount != want {
			return fmt.Errorf("row %q present count %d, marks say %d", name, r.presentCount, want)
		}
	}
	return nil
}

// Checkpoint is a copy of the grid's mutable state.
type Checkpoint struct {
	labels []string
	marks  map[string][]Mark
}

// Checkpoint captures the current headers and marks.
func (g *Grid) Checkpoint() Checkpoint {
	return Checkpoint{labels: g.headers.Labels(), marks: g.Marks()}
}

// Rollback restores the state captured by cp, including the slot count.
func (g *Grid) Rollback(cp Checkpoint) {
	g.headers.labels = append(g.headers.labels[:0], cp.labels...)
	for name, r := range g.rows {
		r.marks = append(r.marks[:0], cp.marks[name]...)
		r.recompute()
	}
}
