// Package recognize defines the face-recognition collaborator consumed by
// the engine, and a reference implementation that matches precomputed face
// descriptors against a labeled reference set.
//
// Face detection and descriptor extraction happen outside this module; a
// Frame carries their output. A recognizer turns a frame into the set of
// recognized labels for one capture event. Faces that match nobody yield
// the Unknown sentinel, which is never a roster member.
package recognize

import (
	"context"

	"github.com/roach88/rollcall/internal/grid"
)

// Unknown is the label reported for a face that matches no reference.
const Unknown = "unknown"

// Descriptor is a face descriptor vector.
type Descriptor []float32

// Frame is the recognizer input for one capture event.
type Frame struct {
	// Faces holds one descriptor per face detected in the image.
	Faces []Descriptor `yaml:"faces" json:"faces"`

	// Labels holds identities already recognized upstream. Used by
	// LabelRecognizer when recognition ran elsewhere.
	Labels []string `yaml:"labels,omitempty" json:"labels,omitempty"`
}

// LabeledDescriptors are the reference descriptors for one identity.
type LabeledDescriptors struct {
	Label       string
	Descriptors []Descriptor
}

// ReferenceSet is the labeled reference data faces are matched against.
type ReferenceSet []LabeledDescriptors

// Recognizer converts a frame into recognized labels with duplicates
// collapsed. It must either complete or fail; a failure means the capture
// event contributes nothing.
type Recognizer interface {
	Recognize(ctx context.Context, frame Frame, refs ReferenceSet) ([]string, error)
}

// Dedupe collapses per-face match results into a set of unique labels,
// keeping first-seen order. Labels are NFC normalized; blanks are dropped.
func Dedupe(labels []string) []string {
	seen := make(map[string]bool, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		n := grid.Normalize(l)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// LabelRecognizer reports the labels carried by the frame itself.
type LabelRecognizer struct{}

// Recognize implements Recognizer.
func (LabelRecognizer) Recognize(ctx context.Context, frame Frame, _ ReferenceSet) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Dedupe(frame.Labels), nil
}

// Func adapts a function to the Recognizer interface.
type Func func(ctx context.Context, frame Frame, refs ReferenceSet) ([]string, error)

// Recognize implements Recognizer.
func (f Func) Recognize(ctx context.Context, frame Frame, refs ReferenceSet) ([]string, error) {
	return f(ctx, frame, refs)
}
