package grid

import "fmt"

// ApplyResult describes what one Apply call did to a slot.
type ApplyResult struct {
	Slot int `json:"slot"`

	// Present lists roster identities that were recognized.
	Present []string `json:"present"`

	// Absent lists identities marked Absent by this call.
	Absent []string `json:"absent"`

	// Kept lists identities not recognized this time whose earlier Present
	// mark in the slot was preserved.
	Kept []string `json:"kept,omitempty"`

	// Unknown lists recognized labels that are not in the roster. They are
	// ignored and do not make the call fail.
	Unknown []string `json:"unknown,omitempty"`

	// Changed lists identities whose mark in the slot changed.
	Changed []string `json:"changed,omitempty"`
}

// Apply records one capture's recognized labels into slot.
//
// Recognized roster identities become Present. Every other identity becomes
// Absent unless it is already Present in the slot, so a later capture that
// misses someone cannot demote them. Labels outside the roster are reported
// in Unknown. Present counts are recomputed for every touched row.
func (g *Grid) Apply(labels []string, slot int) (ApplyResult, error) {
	if slot < 0 || slot >= g.headers.Len() {
		return ApplyResult{}, fmt.Errorf("apply to slot %d of %d: %w", slot, g.headers.Len(), ErrSlotOutOfRange)
	}

	res := ApplyResult{Slot: slot}
	recognized := make(map[string]bool, len(labels))
	for _, label := range labels {
		name := Normalize(label)
		if recognized[name] {
			continue
		}
		if _, ok := g.rows[name]; !ok {
			res.Unknown = appendOnce(res.Unknown, label)
			continue
		}
		recognized[name] = true
	}

	for _, name := range g.roster.names {
		r := g.rows[name]
		before := r.marks[slot]

		switch {
		case recognized[name]:
			r.marks[slot] = Present
			res.Present = append(res.Present, name)
		case before == Present:
			res.Kept = append(res.Kept, name)
		default:
			r.marks[slot] = Absent
			res.Absent = append(res.Absent, name)
		}

		if r.marks[slot] != before {
			res.Changed = append(res.Changed, name)
		}
		r.recompute()
	}

	return res, nil
}

func appendOnce(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
