// Package engine runs attendance capture events against the grid.
//
// An Engine is one run of the attendance surface. It owns the in-memory
// grid restored from the persistence gateway and applies capture events to
// it one at a time.
//
// Capture Pipeline:
// 1. The recognizer turns the frame into labels (or fails, leaving state untouched)
// 2. Labels are deduplicated and the "unknown" sentinel is dropped
// 3. The run's active slot is claimed on first use and reused afterwards
// 4. The reducer marks the slot and recomputes present counts
// 5. Headers and marks are saved once; a failed save rolls the grid back
// 6. The capture is appended to the capture log, if one is configured
//
// Concurrency:
// Capture and Apply hold an in-flight guard for their whole duration, so
// overlapping capture events are serialized. TryCapture reports
// CAPTURE_IN_FLIGHT instead of waiting. Hosts that produce frames from
// several goroutines can Submit them to a FIFO queue drained by Run.
//
// Slot Policy:
// When every slot is claimed, PolicyReject fails the claim with
// NO_AVAILABLE_SLOT and leaves the grid untouched. PolicyGrow appends a new
// slot to the headers and every row.
package engine
