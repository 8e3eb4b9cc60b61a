package harness

import (
	"fmt"
	"slices"

	"github.com/roach88/rollcall/internal/grid"
)

// AssertionError describes a failed assertion.
type AssertionError struct {
	Index    int
	Type     string
	Message  string
	Expected any
	Actual   any
}

func (e *AssertionError) Error() string {
	if e.Expected != nil || e.Actual != nil {
		return fmt.Sprintf("assertion[%d] %s: %s\n  expected: %v\n  actual:   %v",
			e.Index, e.Type, e.Message, e.Expected, e.Actual)
	}
	return fmt.Sprintf("assertion[%d] %s: %s", e.Index, e.Type, e.Message)
}

// EvaluateAssertions runs every assertion against result and returns the
// messages of those that failed.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			err.Index = i
			err.Type = a.Type
			failures = append(failures, err.Error())
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion) *AssertionError {
	switch a.Type {
	case AssertMarks:
		return assertMarks(result.Rows, a)
	case AssertPresentCount:
		return assertPresentCount(result.Rows, a)
	case AssertHeaders:
		if !slices.Equal(a.Labels, result.Headers) {
			return &AssertionError{Message: "headers differ", Expected: a.Labels, Actual: result.Headers}
		}
	case AssertNoRow:
		if _, ok := findRow(result.Rows, a.Identity); ok {
			return &AssertionError{Message: fmt.Sprintf("unexpected row for %q", a.Identity)}
		}
	case AssertCaptures:
		if result.Captures != *a.Count {
			return &AssertionError{Message: "capture log size differs", Expected: *a.Count, Actual: result.Captures}
		}
	default:
		return &AssertionError{Message: fmt.Sprintf("unknown assertion type %q", a.Type)}
	}
	return nil
}

func assertMarks(rows []grid.Row, a Assertion) *AssertionError {
	r, ok := findRow(rows, a.Identity)
	if !ok {
		return &AssertionError{Message: fmt.Sprintf("no row for %q", a.Identity)}
	}
	actual := make([]string, len(r.Marks))
	for i, m := range r.Marks {
		actual[i] = m.String()
	}
	expected := make([]string, len(a.Marks))
	for i, s := range a.Marks {
		m, err := grid.ParseMark(s)
		if err != nil {
			return &AssertionError{Message: err.Error()}
		}
		expected[i] = m.String()
	}
	if !slices.Equal(expected, actual) {
		return &AssertionError{Message: fmt.Sprintf("marks of %q differ", a.Identity), Expected: expected, Actual: actual}
	}
	return nil
}

func assertPresentCount(rows []grid.Row, a Assertion) *AssertionError {
	r, ok := findRow(rows, a.Identity)
	if !ok {
		return &AssertionError{Message: fmt.Sprintf("no row for %q", a.Identity)}
	}
	if r.PresentCount != *a.Count {
		return &AssertionError{Message: fmt.Sprintf("present count of %q differs", a.Identity), Expected: *a.Count, Actual: r.PresentCount}
	}
	return nil
}

func findRow(rows []grid.Row, identity string) (grid.Row, bool) {
	name := grid.Normalize(identity)
	for _, r := range rows {
		if r.Identity == name {
			return r, true
		}
	}
	return grid.Row{}, false
}
