package roster

import (
	"errors"
	"fmt"
)

// ValidationError is one roster file problem, shaped for CLI output.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a roster file and returns every problem found.
// The definition is returned when the file is valid.
func Validate(path string) (*Definition, []ValidationError) {
	def, err := LoadFile(path)
	if err == nil {
		return def, nil
	}

	var le *LoadError
	if errors.As(err, &le) {
		ve := ValidationError{Field: "roster", Message: le.Message, Code: le.Code}
		if le.Pos.IsValid() {
			ve.Line = le.Pos.Line()
		}
		return nil, []ValidationError{ve}
	}
	return nil, []ValidationError{{Field: "roster", Message: err.Error(), Code: "E200"}}
}
