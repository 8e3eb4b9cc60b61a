package recognize

import (
	"context"
	"fmt"
	"math"

	"github.com/coder/hnsw"
)

// DefaultThreshold is the maximum mean descriptor distance for a match.
const DefaultThreshold = 0.6

// Matcher recognizes faces by nearest reference label.
//
// For each face, every label is scored by its exact mean Euclidean
// distance to the face across all of that label's descriptors. The HNSW
// graph orders the search; a label the graph search misses is still
// scored. The best label wins if its score is within Threshold, otherwise
// the face is Unknown.
type Matcher struct {
	Threshold float64
}

// NewMatcher returns a matcher with the given threshold. A non-positive
// threshold selects DefaultThreshold.
func NewMatcher(threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Matcher{Threshold: threshold}
}

// Recognize implements Recognizer.
func (m *Matcher) Recognize(ctx context.Context, frame Frame, refs ReferenceSet) ([]string, error) {
	idx, err := NewIndex(refs)
	if err != nil {
		return nil, err
	}

	labels := make([]string, 0, len(frame.Faces))
	for i, face := range frame.Faces {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		label, _, err := idx.Match(face, m.Threshold)
		if err != nil {
			return nil, fmt.Errorf("face %d: %w", i, err)
		}
		labels = append(labels, label)
	}
	return Dedupe(labels), nil
}

// Index is a searchable reference set.
type Index struct {
	graph   *hnsw.Graph[int]
	owner   []string // node key -> label
	byLabel map[string][]Descriptor
	order   []string
	dim     int
}

// NewIndex builds a search index over refs. All descriptors must share one
// dimension.
func NewIndex(refs ReferenceSet) (*Index, error) {
	idx := &Index{byLabel: make(map[string][]Descriptor, len(refs))}

	g := hnsw.NewGraph[int]()
	g.Distance = hnsw.EuclideanDistance

	for _, ref := range refs {
		for _, d := range ref.Descriptors {
			if len(d) == 0 {
				continue
			}
			if idx.dim == 0 {
				idx.dim = len(d)
			}
			if len(d) != idx.dim {
				return nil, fmt.Errorf("reference %q: descriptor has %d dimensions, want %d", ref.Label, len(d), idx.dim)
			}
			if _, seen := idx.byLabel[ref.Label]; !seen {
				idx.order = append(idx.order, ref.Label)
			}
			idx.byLabel[ref.Label] = append(idx.byLabel[ref.Label], d)
			g.Add(hnsw.MakeNode(len(idx.owner), hnsw.Vector(d)))
			idx.owner = append(idx.owner, ref.Label)
		}
	}

	if len(idx.owner) > 0 {
		idx.graph = g
	}
	return idx, nil
}

// Len returns the number of indexed descriptors.
func (idx *Index) Len() int {
	return len(idx.owner)
}

// Match returns the best label for face and its mean distance, or Unknown
// when no label is within threshold.
func (idx *Index) Match(face Descriptor, threshold float64) (string, float64, error) {
	if idx.graph == nil {
		return Unknown, math.Inf(1), nil
	}
	if len(face) != idx.dim {
		return "", 0, fmt.Errorf("descriptor has %d dimensions, want %d", len(face), idx.dim)
	}

	// A label's mean can be within threshold while none of its descriptors
	// is among the few nearest, so the search covers the whole set.
	candidates := make(map[string]bool, len(idx.order))
	for _, n := range idx.graph.Search(hnsw.Vector(face), idx.Len()) {
		candidates[idx.owner[n.Key]] = true
	}
	if len(candidates) < len(idx.order) {
		for _, label := range idx.order {
			candidates[label] = true
		}
	}

	best, bestDist := Unknown, math.Inf(1)
	// Iterate in reference order so ties resolve deterministically.
	for _, label := range idx.order {
		if !candidates[label] {
			continue
		}
		d := meanDistance(face, idx.byLabel[label])
		if d < bestDist {
			best, bestDist = label, d
		}
	}

	if bestDist > threshold {
		return Unknown, bestDist, nil
	}
	return best, bestDist, nil
}

func meanDistance(face Descriptor, refs []Descriptor) float64 {
	var sum float64
	for _, r := range refs {
		sum += euclidean(face, r)
	}
	return sum / float64(len(refs))
}

func euclidean(a, b Descriptor) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
