package grid

import "fmt"

// Mark is the attendance state of one identity in one session slot.
type Mark uint8

const (
	// Unset means nothing has been recorded for the slot yet.
	Unset Mark = iota
	// Present means the identity was recognized during the session.
	Present
	// Absent means a capture ran for the session without recognizing the identity.
	Absent
)

// String returns the persisted name of the mark.
// Unset is the empty string so that untouched cells stay blank on disk.
func (m Mark) String() string {
	switch m {
	case Present:
		return "present"
	case Absent:
		return "absent"
	default:
		return ""
	}
}

// Glyph returns the symbol used when rendering the grid.
func (m Mark) Glyph() string {
	switch m {
	case Present:
		return "✔"
	case Absent:
		return "✖"
	default:
		return ""
	}
}

// ParseMark parses a persisted mark name.
// Check and cross glyphs are accepted as well.
func ParseMark(s string) (Mark, error) {
	switch s {
	case "":
		return Unset, nil
	case "present", "✔", "✔️":
		return Present, nil
	case "absent", "✖", "❌":
		return Absent, nil
	default:
		return Unset, fmt.Errorf("unknown mark %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mark) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mark) UnmarshalText(text []byte) error {
	parsed, err := ParseMark(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
