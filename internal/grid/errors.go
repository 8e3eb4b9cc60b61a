package grid

import "errors"

var (
	// ErrEmptyIdentity is returned when a roster entry is blank after normalization.
	ErrEmptyIdentity = errors.New("identity is empty")

	// ErrDuplicateIdentity is returned when a roster lists the same identity twice.
	ErrDuplicateIdentity = errors.New("duplicate identity")

	// ErrSlotOutOfRange is returned for a slot index outside the header sequence.
	ErrSlotOutOfRange = errors.New("session slot out of range")

	// ErrSlotClaimed is returned when claiming a slot that already has a label.
	ErrSlotClaimed = errors.New("session slot already claimed")

	// ErrEmptyLabel is returned when claiming a slot with an empty label.
	ErrEmptyLabel = errors.New("session label is empty")

	// ErrNoAvailableSlot is returned when every slot in the sequence is claimed.
	ErrNoAvailableSlot = errors.New("no available session slot")

	// ErrUnknownIdentity is returned by lookups for names outside the roster.
	ErrUnknownIdentity = errors.New("identity not in roster")
)
