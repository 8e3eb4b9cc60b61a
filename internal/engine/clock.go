package engine

import (
	"fmt"
	"time"
)

// Clock supplies the wall-clock time used for session labels and capture
// timestamps. Implemented by SystemClock (production) and
// testutil.FixedClock (tests).
type Clock interface {
	Now() time.Time
}

// SystemClock reads the local wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Labeler produces the header label for a newly claimed slot.
type Labeler func(slot int, now time.Time) string

// DefaultLabelPrefix is the session label prefix used by DefaultLabeler.
const DefaultLabelPrefix = "Session"

// DefaultLabeler returns labels of the form "<prefix> <ordinal> <day>/<month>",
// where the ordinal is the 1-based slot position.
//
// Example: slot 2 claimed on 14 March with prefix "Session" is "Session 3 14/3".
func DefaultLabeler(prefix string) Labeler {
	if prefix == "" {
		prefix = DefaultLabelPrefix
	}
	return func(slot int, now time.Time) string {
		return fmt.Sprintf("%s %d %d/%d", prefix, slot+1, now.Day(), int(now.Month()))
	}
}
