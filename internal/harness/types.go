package harness

import "github.com/roach88/rollcall/internal/grid"

// StepTrace records what one step did.
type StepTrace struct {
	Step    int      `json:"step"`
	Action  string   `json:"action"`
	Slot    int      `json:"slot"`              // slot touched, or -1
	Error   string   `json:"error,omitempty"`   // RuntimeError code
	Present []string `json:"present,omitempty"` // recognized roster identities, apply and capture only
	Unknown []string `json:"unknown,omitempty"`

	applied bool
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success.
	// True if every step expectation, assertion and invariant held.
	Pass bool `json:"pass"`

	// Trace contains one entry per step in order.
	Trace []StepTrace `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Headers and Rows are the final grid.
	Headers []string   `json:"headers"`
	Rows    []grid.Row `json:"rows"`

	// Persisted holds the stored values by key after the last step.
	Persisted map[string]string `json:"persisted"`

	// Captures is the number of capture log entries.
	Captures int `json:"captures"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Trace:     []StepTrace{},
		Errors:    []string{},
		Persisted: make(map[string]string),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
