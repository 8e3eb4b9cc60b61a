package grid

import "fmt"

// SessionHeaders is the ordered sequence of session slot labels.
// An empty label marks an unclaimed slot.
type SessionHeaders struct {
	labels []string
}

// NewSessionHeaders returns a sequence of n unclaimed slots.
func NewSessionHeaders(n int) SessionHeaders {
	if n < 0 {
		n = 0
	}
	return SessionHeaders{labels: make([]string, n)}
}

// Len returns the number of slots, claimed or not.
func (h *SessionHeaders) Len() int {
	return len(h.labels)
}

// Label returns the label of slot i ("" when unclaimed).
func (h *SessionHeaders) Label(i int) (string, error) {
	if i < 0 || i >= len(h.labels) {
		return "", fmt.Errorf("slot %d of %d: %w", i, len(h.labels), ErrSlotOutOfRange)
	}
	return h.labels[i], nil
}

// Labels returns a copy of every slot label in order.
func (h *SessionHeaders) Labels() []string {
	out := make([]string, len(h.labels))
	copy(out, h.labels)
	return out
}

// IsClaimed reports whether slot i carries a label.
func (h *SessionHeaders) IsClaimed(i int) bool {
	return i >= 0 && i < len(h.labels) && h.labels[i] != ""
}

// FirstUnclaimed returns the lowest unclaimed slot index.
func (h *SessionHeaders) FirstUnclaimed() (int, bool) {
	for i, label := range h.labels {
		if label == "" {
			return i, true
		}
	}
	return -1, false
}

// LastClaimed returns the highest claimed slot index.
func (h *SessionHeaders) LastClaimed() (int, bool) {
	for i := len(h.labels) - 1; i >= 0; i-- {
		if h.labels[i] != "" {
			return i, true
		}
	}
	return -1, false
}

// Claim labels slot i. A claimed slot is never relabeled.
func (h *SessionHeaders) Claim(i int, label string) error {
	if i < 0 || i >= len(h.labels) {
		return fmt.Errorf("claim slot %d of %d: %w", i, len(h.labels), ErrSlotOutOfRange)
	}
	if label == "" {
		return fmt.Errorf("claim slot %d: %w", i, ErrEmptyLabel)
	}
	if h.labels[i] != "" {
		return fmt.Errorf("claim slot %d (%q): %w", i, h.labels[i], ErrSlotClaimed)
	}
	h.labels[i] = label
	return nil
}

// unclaim clears slot i. Only used to roll back a claim whose capture
// failed to persist.
func (h *SessionHeaders) unclaim(i int) {
	if i >= 0 && i < len(h.labels) {
		h.labels[i] = ""
	}
}

func (h *SessionHeaders) grow() int {
	h.labels = append(h.labels, "")
	return len(h.labels) - 1
}

func (h *SessionHeaders) shrink() {
	if len(h.labels) > 0 {
		h.labels = h.labels[:len(h.labels)-1]
	}
}
