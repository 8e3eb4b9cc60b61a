// Package roster loads roster definitions written in CUE.
//
// A roster file declares the class name and its members in display order:
//
//	roster: {
//		name: "Avengers 101"
//		members: ["Black Widow", "Captain America", "Thor"]
//	}
//
// Files are unified with an embedded schema before decoding, so a missing
// name, an empty member list or a blank member is reported with its CUE
// position.
package roster

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/rollcall/internal/grid"
)

//go:embed schema.cue
var schemaCUE string

// Definition is a decoded roster file.
type Definition struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// Roster converts the definition into a grid roster.
func (d *Definition) Roster() (grid.Roster, error) {
	return grid.NewRoster(d.Members...)
}

// LoadError is a roster file problem with its CUE position, if known.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for roster files.
const (
	ErrCodeNotFound     = "E201" // file missing or unreadable
	ErrCodeSyntax       = "E202" // CUE does not parse or build
	ErrCodeSchema       = "E203" // file does not satisfy the roster schema
	ErrCodeDuplicate    = "E204" // member listed twice
	ErrCodeDecodeFailed = "E205" // value could not be decoded
)

// LoadFile reads, validates and decodes a roster file.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("reading roster file: %v", err)}
	}
	return Parse(path, data)
}

// Parse validates and decodes roster source. filename is used in positions.
func Parse(filename string, src []byte) (*Definition, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("roster schema: %w", err)
	}

	file := ctx.CompileBytes(src, cue.Filename(filename))
	if err := file.Err(); err != nil {
		return nil, cueError(ErrCodeSyntax, err)
	}

	value := schema.Unify(file)
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, cueError(ErrCodeSchema, err)
	}

	var def Definition
	if err := value.LookupPath(cue.ParsePath("roster")).Decode(&def); err != nil {
		return nil, cueError(ErrCodeDecodeFailed, err)
	}

	if _, err := def.Roster(); err != nil {
		return nil, &LoadError{
			Code:    ErrCodeDuplicate,
			Message: err.Error(),
			Pos:     value.LookupPath(cue.ParsePath("roster.members")).Pos(),
		}
	}

	return &def, nil
}

// cueError converts the first CUE error into a LoadError with position.
func cueError(code string, err error) *LoadError {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Code: code, Message: err.Error()}
	}

	first := errs[0]
	le := &LoadError{Code: code, Message: first.Error()}
	if positions := errors.Positions(first); len(positions) > 0 {
		// Prefer a position in the roster file over one in the schema.
		le.Pos = positions[0]
		for _, p := range positions {
			if p.Filename() != "schema.cue" {
				le.Pos = p
				break
			}
		}
	}
	return le
}
