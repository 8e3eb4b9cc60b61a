package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error detected while running a capture event.
//
// Runtime errors include:
//   - Slot exhaustion: No unclaimed slot and the policy forbids growing
//   - Persistence: Stored state could not be read or the grid could not be saved
//   - Recognition: The recognizer failed; the event contributed nothing
//   - Closed slot: Apply targeted a slot other than the run's active slot
//
// RuntimeError includes structured fields for diagnostics and recovery.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// CaptureID identifies the affected capture event, if any.
	CaptureID string

	// Slot is the affected slot index, or -1.
	Slot int

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeNoAvailableSlot indicates every slot is claimed under PolicyReject.
	ErrCodeNoAvailableSlot RuntimeErrorCode = "NO_AVAILABLE_SLOT"

	// ErrCodePersistenceRead indicates stored state was unreadable and the
	// engine started from an empty grid.
	ErrCodePersistenceRead RuntimeErrorCode = "PERSISTENCE_READ"

	// ErrCodePersistenceWrite indicates the grid could not be saved.
	ErrCodePersistenceWrite RuntimeErrorCode = "PERSISTENCE_WRITE"

	// ErrCodeRecognizerFailure indicates the recognizer returned an error.
	ErrCodeRecognizerFailure RuntimeErrorCode = "RECOGNIZER_FAILURE"

	// ErrCodeSlotClosed indicates a write to a slot that is not active.
	ErrCodeSlotClosed RuntimeErrorCode = "SLOT_CLOSED"

	// ErrCodeCaptureInFlight indicates TryCapture found another capture running.
	ErrCodeCaptureInFlight RuntimeErrorCode = "CAPTURE_IN_FLIGHT"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.CaptureID != "" && e.Slot >= 0 {
		msg = fmt.Sprintf("%s (capture=%s, slot=%d)", msg, e.CaptureID, e.Slot)
	} else if e.CaptureID != "" {
		msg = fmt.Sprintf("%s (capture=%s)", msg, e.CaptureID)
	} else if e.Slot >= 0 {
		msg = fmt.Sprintf("%s (slot=%d)", msg, e.Slot)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// CodeOf returns the RuntimeErrorCode carried by err, or "" if err is not
// a RuntimeError. Uses errors.As to handle wrapped errors.
func CodeOf(err error) RuntimeErrorCode {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsNoAvailableSlot returns true if the claim failed because every slot is taken.
func IsNoAvailableSlot(err error) bool {
	return CodeOf(err) == ErrCodeNoAvailableSlot
}

// IsPersistenceRead returns true if stored state could not be read.
func IsPersistenceRead(err error) bool {
	return CodeOf(err) == ErrCodePersistenceRead
}

// IsPersistenceWrite returns true if a save failed.
func IsPersistenceWrite(err error) bool {
	return CodeOf(err) == ErrCodePersistenceWrite
}

// IsRecognizerFailure returns true if the recognizer failed.
func IsRecognizerFailure(err error) bool {
	return CodeOf(err) == ErrCodeRecognizerFailure
}

// IsSlotClosed returns true if Apply targeted an inactive slot.
func IsSlotClosed(err error) bool {
	return CodeOf(err) == ErrCodeSlotClosed
}

// IsInFlight returns true if TryCapture was refused by the in-flight guard.
func IsInFlight(err error) bool {
	return CodeOf(err) == ErrCodeCaptureInFlight
}

// NewNoAvailableSlotError creates a RuntimeError for slot exhaustion.
func NewNoAvailableSlotError(captureID string, slots int) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeNoAvailableSlot,
		Message:   fmt.Sprintf("all %d slots are claimed", slots),
		CaptureID: captureID,
		Slot:      -1,
	}
}

// NewPersistenceReadError creates a RuntimeError for a degraded load.
func NewPersistenceReadError(err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodePersistenceRead,
		Message: "stored attendance unreadable, started empty",
		Slot:    -1,
		Err:     err,
	}
}

// NewPersistenceWriteError creates a RuntimeError for a failed save.
func NewPersistenceWriteError(captureID string, slot int, err error) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodePersistenceWrite,
		Message:   "save failed, capture discarded",
		CaptureID: captureID,
		Slot:      slot,
		Err:       err,
	}
}

// NewRecognizerError creates a RuntimeError for a recognizer failure.
func NewRecognizerError(captureID string, err error) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeRecognizerFailure,
		Message:   "recognition failed, capture discarded",
		CaptureID: captureID,
		Slot:      -1,
		Err:       err,
	}
}

// NewSlotClosedError creates a RuntimeError for a write to an inactive slot.
func NewSlotClosedError(slot, active int) *RuntimeError {
	msg := fmt.Sprintf("slot %d is not the active slot", slot)
	if active >= 0 {
		msg = fmt.Sprintf("slot %d is not the active slot %d", slot, active)
	}
	return &RuntimeError{
		Code:    ErrCodeSlotClosed,
		Message: msg,
		Slot:    slot,
	}
}

// NewInFlightError creates a RuntimeError for a refused overlapping capture.
func NewInFlightError() *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeCaptureInFlight,
		Message: "another capture is in flight",
		Slot:    -1,
	}
}
