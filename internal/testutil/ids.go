package testutil

import (
	"fmt"
	"sync"
)

// SequenceIDGenerator generates capture IDs of the form "<prefix>-<n>",
// starting at 1.
//
// This enables deterministic test execution and golden snapshot comparison.
// The same scenario with the same generator produces byte-identical capture logs.
//
// Thread-safety: SequenceIDGenerator is safe for concurrent use via internal mutex.
type SequenceIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceIDGenerator creates a generator with the given prefix.
//
// If prefix is empty, IDs look like "capture-1", "capture-2", ...
func NewSequenceIDGenerator(prefix string) *SequenceIDGenerator {
	if prefix == "" {
		prefix = "capture"
	}
	return &SequenceIDGenerator{prefix: prefix}
}

// Generate returns the next ID.
//
// Implements engine.IDGenerator interface.
func (g *SequenceIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// Reset restarts the sequence at 1.
func (g *SequenceIDGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
