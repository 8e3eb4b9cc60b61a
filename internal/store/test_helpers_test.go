package store

import (
	"path/filepath"
	"testing"
	"time"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestCapture creates a capture record with minimal required fields.
func createTestCapture(id string, slot int, recognized ...string) CaptureRecord {
	return CaptureRecord{
		ID:         id,
		Slot:       slot,
		SlotLabel:  "Session 1 3/10",
		Recognized: recognized,
		CapturedAt: time.Date(2026, 10, 3, 9, 0, 0, 0, time.UTC),
	}
}
