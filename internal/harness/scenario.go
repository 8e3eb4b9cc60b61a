package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/rollcall/internal/grid"
)

// DefaultStart is the date of the first run when a scenario sets no start.
const DefaultStart = "2024-10-03"

// Scenario defines an attendance scenario.
// A scenario runs a sequence of capture steps, possibly across several
// runs, and asserts on the resulting grid and persisted state.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Roster lists the tracked identities in display order.
	Roster []string `yaml:"roster,omitempty"`

	// RosterFile is a CUE roster definition, used instead of Roster.
	// Relative paths are resolved against the scenario file's directory.
	RosterFile string `yaml:"roster_file,omitempty"`

	// Slots is the slot capacity of a fresh grid.
	Slots int `yaml:"slots"`

	// Policy is the slot exhaustion policy: reject (default) or grow.
	Policy string `yaml:"policy,omitempty"`

	// Start is the first run's date (YYYY-MM-DD). Each new_run step
	// advances the clock by one day.
	Start string `yaml:"start,omitempty"`

	// LabelPrefix overrides the session label prefix.
	LabelPrefix string `yaml:"label_prefix,omitempty"`

	// Seed is persisted state written to the store before the first run.
	Seed *Seed `yaml:"seed,omitempty"`

	// Steps are executed in order against the engine.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final grid.
	Assertions []Assertion `yaml:"assertions"`
}

// Seed is persisted state from an earlier deployment, possibly with a
// different roster.
type Seed struct {
	Headers []string            `yaml:"headers"`
	Marks   map[string][]string `yaml:"marks"`
}

// Step is one engine operation.
type Step struct {
	// Action is one of claim, capture, apply, new_run, resume.
	Action string `yaml:"action"`

	// Labels are the recognized labels for capture and apply.
	Labels []string `yaml:"labels,omitempty"`

	// Slot is the target of apply. Defaults to the run's active slot.
	Slot *int `yaml:"slot,omitempty"`

	// Fail injects a failure into this step: recognizer or save.
	Fail string `yaml:"fail,omitempty"`

	// Expect validates the step's outcome. If nil, the step must succeed.
	Expect *StepExpect `yaml:"expect,omitempty"`
}

// StepExpect specifies the expected outcome of a step.
type StepExpect struct {
	// Slot is the expected slot index.
	Slot *int `yaml:"slot,omitempty"`

	// Error is the expected RuntimeError code (e.g. "NO_AVAILABLE_SLOT").
	Error string `yaml:"error,omitempty"`

	// Unknown lists the expected unknown-label diagnostics.
	Unknown []string `yaml:"unknown,omitempty"`
}

// Step actions.
const (
	ActionClaim   = "claim"
	ActionCapture = "capture"
	ActionApply   = "apply"
	ActionNewRun  = "new_run"
	ActionResume  = "resume"
)

// Injected failures.
const (
	FailRecognizer = "recognizer"
	FailSave       = "save"
)

// Assertion validates the final grid.
type Assertion struct {
	// Type specifies the assertion type:
	// - "marks": Row of Identity has exactly Marks
	// - "present_count": Row of Identity has Count present marks
	// - "headers": Session header labels equal Labels
	// - "no_row": The grid has no row for Identity
	// - "captures": The capture log holds Count entries
	Type string `yaml:"type"`

	// Identity is the roster identity (used by marks, present_count, no_row).
	Identity string `yaml:"identity,omitempty"`

	// Marks are mark names: present, absent, or "" for unset (used by marks).
	Marks []string `yaml:"marks,omitempty"`

	// Count is the expected number (used by present_count, captures).
	Count *int `yaml:"count,omitempty"`

	// Labels are the expected header labels (used by headers).
	Labels []string `yaml:"labels,omitempty"`
}

// Assertion type constants.
const (
	AssertMarks        = "marks"
	AssertPresentCount = "present_count"
	AssertHeaders      = "headers"
	AssertNoRow        = "no_row"
	AssertCaptures     = "captures"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Resolve the roster path BEFORE validation
	if scenario.RosterFile != "" && !filepath.IsAbs(scenario.RosterFile) {
		scenario.RosterFile = filepath.Join(filepath.Dir(path), scenario.RosterFile)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// startTime parses Start, defaulting to DefaultStart at 09:00 UTC.
func (s *Scenario) startTime() (time.Time, error) {
	start := s.Start
	if start == "" {
		start = DefaultStart
	}
	d, err := time.Parse(time.DateOnly, start)
	if err != nil {
		return time.Time{}, fmt.Errorf("start: %w", err)
	}
	return d.Add(9 * time.Hour), nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch {
	case len(s.Roster) == 0 && s.RosterFile == "":
		return fmt.Errorf("roster or roster_file is required")
	case len(s.Roster) > 0 && s.RosterFile != "":
		return fmt.Errorf("roster and roster_file are mutually exclusive")
	case len(s.Roster) > 0:
		if _, err := grid.NewRoster(s.Roster...); err != nil {
			return fmt.Errorf("roster: %w", err)
		}
	default:
		if _, err := os.Stat(s.RosterFile); os.IsNotExist(err) {
			return fmt.Errorf("roster file not found: %s", s.RosterFile)
		}
	}

	if s.Slots < 0 {
		return fmt.Errorf("slots must be non-negative")
	}

	switch s.Policy {
	case "", "reject", "grow":
	default:
		return fmt.Errorf("unknown policy %q (want reject or grow)", s.Policy)
	}

	if _, err := s.startTime(); err != nil {
		return err
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateStep validates a single step based on its action.
func validateStep(index int, st *Step) error {
	switch st.Action {
	case ActionClaim, ActionNewRun, ActionResume:
		if len(st.Labels) > 0 {
			return fmt.Errorf("steps[%d]: labels are not allowed for %s", index, st.Action)
		}
	case ActionCapture, ActionApply:
	case "":
		return fmt.Errorf("steps[%d]: action is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, st.Action)
	}

	if st.Slot != nil && st.Action != ActionApply {
		return fmt.Errorf("steps[%d]: slot is only allowed for apply", index)
	}

	switch st.Fail {
	case "":
	case FailRecognizer:
		if st.Action != ActionCapture {
			return fmt.Errorf("steps[%d]: fail: recognizer is only allowed for capture", index)
		}
	case FailSave:
		if st.Action != ActionCapture && st.Action != ActionApply {
			return fmt.Errorf("steps[%d]: fail: save is only allowed for capture and apply", index)
		}
	default:
		return fmt.Errorf("steps[%d]: unknown failure %q", index, st.Fail)
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertMarks:
		if a.Identity == "" {
			return fmt.Errorf("assertions[%d]: identity is required for marks", index)
		}
		for _, m := range a.Marks {
			if _, err := grid.ParseMark(m); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
	case AssertPresentCount:
		if a.Identity == "" {
			return fmt.Errorf("assertions[%d]: identity is required for present_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for present_count", index)
		}
	case AssertHeaders:
		if a.Labels == nil {
			return fmt.Errorf("assertions[%d]: labels is required for headers", index)
		}
	case AssertNoRow:
		if a.Identity == "" {
			return fmt.Errorf("assertions[%d]: identity is required for no_row", index)
		}
	case AssertCaptures:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for captures", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
