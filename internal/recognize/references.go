package recognize

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/rollcall/internal/grid"
)

// MaxDescriptorsPerLabel caps the reference descriptors kept per identity.
const MaxDescriptorsPerLabel = 2

// referenceFile is the on-disk layout of a reference set:
//
//	references:
//	  Tony Stark:
//	    - [0.01, -0.12, ...]
//	    - [0.03, -0.10, ...]
type referenceFile struct {
	References map[string][]Descriptor `yaml:"references"`
}

// LoadReferenceSet reads a reference set and aligns it with roster.
//
// Entries are returned in roster order. Labels outside the roster are
// skipped, and roster identities without descriptors are left out (they
// can never be recognized). Both cases are logged.
func LoadReferenceSet(path string, roster grid.Roster) (ReferenceSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read reference file: %w", err)
	}

	var file referenceFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse reference file: %w", err)
	}

	byName := make(map[string][]Descriptor, len(file.References))
	for label, ds := range file.References {
		name := grid.Normalize(label)
		if !roster.Contains(name) {
			slog.Warn("reference label not in roster, skipping", "label", label)
			continue
		}
		byName[name] = append(byName[name], ds...)
	}

	refs := make(ReferenceSet, 0, roster.Len())
	for _, name := range roster.Names() {
		ds := byName[name]
		if len(ds) == 0 {
			slog.Warn("no reference descriptors for roster identity", "identity", name)
			continue
		}
		if len(ds) > MaxDescriptorsPerLabel {
			ds = ds[:MaxDescriptorsPerLabel]
		}
		refs = append(refs, LabeledDescriptors{Label: name, Descriptors: ds})
	}
	return refs, nil
}

// LoadFrame reads a frame (detected face descriptors and/or labels) from a
// YAML or JSON file.
func LoadFrame(path string) (Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to read frame file: %w", err)
	}

	var frame Frame
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&frame); err != nil {
		return Frame{}, fmt.Errorf("failed to parse frame file: %w", err)
	}
	return frame, nil
}
