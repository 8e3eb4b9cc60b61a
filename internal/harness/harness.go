package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/rollcall/internal/codec"
	"github.com/roach88/rollcall/internal/engine"
	"github.com/roach88/rollcall/internal/grid"
	"github.com/roach88/rollcall/internal/persist"
	"github.com/roach88/rollcall/internal/recognize"
	"github.com/roach88/rollcall/internal/roster"
	"github.com/roach88/rollcall/internal/store"
	"github.com/roach88/rollcall/internal/testutil"
)

// errInjected is the cause reported by injected failures.
var errInjected = errors.New("injected failure")

// Harness is the scenario execution engine.
// It runs steps with a fixed clock and sequential capture IDs.
type Harness struct {
	store    *store.Store
	roster   grid.Roster
	scenario *Scenario
	engine   *engine.Engine
	gateway  *faultyGateway
	clock    *testutil.FixedClock
	ids      *testutil.SequenceIDGenerator
	logger   *slog.Logger

	failRecognizer bool
	saved          bool // some step saved the grid
}

// faultyGateway fails the next save when armed.
type faultyGateway struct {
	*persist.Gateway
	failNext bool
}

func (g *faultyGateway) Save(ctx context.Context, gr *grid.Grid) error {
	if g.failNext {
		g.failNext = false
		return &persist.WriteError{Err: errInjected}
	}
	return g.Gateway.Save(ctx, gr)
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Create fresh in-memory database and write the seed, if any
// 2. Start the first run
// 3. Execute steps, checking step expectations
// 4. Check grid invariants and the idempotent re-save law
// 5. Evaluate assertions and return the result
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	rs, err := scenarioRoster(scenario)
	if err != nil {
		return nil, err
	}

	start, err := scenario.startTime()
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &Harness{
		store:    st,
		roster:   rs,
		scenario: scenario,
		gateway: &faultyGateway{
			Gateway: persist.New(st, rs, scenario.Slots, persist.WithLogger(logger)),
		},
		clock:  testutil.NewFixedClock(start),
		ids:    testutil.NewSequenceIDGenerator("capture"),
		logger: logger,
	}

	if scenario.Seed != nil {
		if err := h.writeSeed(ctx, scenario.Seed); err != nil {
			return nil, fmt.Errorf("failed to write seed: %w", err)
		}
	}

	if err := h.startRun(ctx); err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("failed to execute step %d (%s): %w", i, step.Action, err)
		}
	}

	if err := h.collect(ctx, result); err != nil {
		return nil, err
	}
	h.checkInvariants(ctx, result)

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}

	return result, nil
}

func scenarioRoster(s *Scenario) (grid.Roster, error) {
	if s.RosterFile == "" {
		return grid.NewRoster(s.Roster...)
	}
	def, err := roster.LoadFile(s.RosterFile)
	if err != nil {
		return grid.Roster{}, err
	}
	return def.Roster()
}

// writeSeed stores persisted values as an earlier deployment would have.
func (h *Harness) writeSeed(ctx context.Context, seed *Seed) error {
	headers, err := codec.Marshal(seed.Headers)
	if err != nil {
		return err
	}
	marks, err := codec.Marshal(seed.Marks)
	if err != nil {
		return err
	}
	return h.store.SetMany(ctx, map[string]string{
		persist.KeyHeaders: string(headers),
		persist.KeyMarks:   string(marks),
	})
}

// startRun begins a new run: a fresh engine that reloads persisted state.
func (h *Harness) startRun(ctx context.Context) error {
	policy, err := engine.ParseSlotPolicy(h.scenario.Policy)
	if err != nil {
		return err
	}

	rec := recognize.Func(func(ctx context.Context, f recognize.Frame, refs recognize.ReferenceSet) ([]string, error) {
		if h.failRecognizer {
			h.failRecognizer = false
			return nil, errInjected
		}
		return recognize.LabelRecognizer{}.Recognize(ctx, f, refs)
	})

	eng, err := engine.New(ctx, h.gateway, rec,
		engine.WithSlotPolicy(policy),
		engine.WithLabeler(engine.DefaultLabeler(h.scenario.LabelPrefix)),
		engine.WithClock(h.clock),
		engine.WithIDGenerator(h.ids),
		engine.WithCaptureLog(h.store),
		engine.WithLogger(h.logger),
	)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	if lerr := eng.LoadError(); lerr != nil {
		return fmt.Errorf("failed to load persisted state: %w", lerr)
	}
	h.engine = eng
	return nil
}

// executeStep runs one step and records it in the trace.
// Runtime errors are expected outcomes and end up in the trace; any other
// error aborts the scenario.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	tr := StepTrace{Step: i, Action: step.Action, Slot: -1}

	var (
		res *engine.CaptureResult
		err error
	)
	switch step.Action {
	case ActionClaim:
		tr.Slot, err = h.engine.ClaimActiveSlot(ctx)

	case ActionResume:
		tr.Slot, _ = h.engine.Resume()

	case ActionNewRun:
		h.clock.Advance(24 * time.Hour)
		if err := h.startRun(ctx); err != nil {
			return err
		}

	case ActionCapture:
		h.failRecognizer = step.Fail == FailRecognizer
		h.gateway.failNext = step.Fail == FailSave
		res, err = h.engine.Capture(ctx, recognize.Frame{Labels: step.Labels})

	case ActionApply:
		slot := h.engine.ActiveSlot()
		if step.Slot != nil {
			slot = *step.Slot
		}
		h.gateway.failNext = step.Fail == FailSave
		res, err = h.engine.Apply(ctx, step.Labels, slot)
	}

	// Disarm anything the step did not reach.
	h.failRecognizer = false
	h.gateway.failNext = false

	if err != nil {
		code := engine.CodeOf(err)
		if code == "" {
			return err
		}
		tr.Error = string(code)
		tr.Slot = -1
	}
	if res != nil {
		tr.Slot = res.Slot
		tr.Present = nonNil(res.Present)
		tr.Unknown = res.Unknown
		tr.applied = true
		h.saved = true
	}
	result.Trace = append(result.Trace, tr)

	checkStep(tr, step.Expect, result)
	return nil
}

// checkStep compares a step's outcome with its expectation.
func checkStep(tr StepTrace, expect *StepExpect, result *Result) {
	prefix := fmt.Sprintf("steps[%d] (%s)", tr.Step, tr.Action)

	if expect == nil {
		if tr.Error != "" {
			result.AddError(fmt.Sprintf("%s: unexpected error %s", prefix, tr.Error))
		}
		return
	}

	if expect.Error != tr.Error {
		result.AddError(fmt.Sprintf("%s: expected error %s, got %s", prefix, orNone(expect.Error), orNone(tr.Error)))
	}
	if expect.Slot != nil && *expect.Slot != tr.Slot {
		result.AddError(fmt.Sprintf("%s: expected slot %d, got %d", prefix, *expect.Slot, tr.Slot))
	}
	if expect.Unknown != nil && !slices.Equal(expect.Unknown, tr.Unknown) {
		result.AddError(fmt.Sprintf("%s: expected unknown %v, got %v", prefix, expect.Unknown, tr.Unknown))
	}
}

// collect copies the final grid, persisted values and capture count into result.
func (h *Harness) collect(ctx context.Context, result *Result) error {
	result.Headers = h.engine.Headers()
	result.Rows = h.engine.Rows()

	for _, key := range []string{persist.KeyHeaders, persist.KeyMarks} {
		v, ok, err := h.store.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", key, err)
		}
		if ok {
			result.Persisted[key] = v
		}
	}

	recs, err := h.store.ListCaptures(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to list captures: %w", err)
	}
	result.Captures = len(recs)
	return nil
}

// checkInvariants verifies lockstep, statistics, and that loading and
// saving again reproduces the persisted bytes.
func (h *Harness) checkInvariants(ctx context.Context, result *Result) {
	for _, r := range result.Rows {
		if len(r.Marks) != len(result.Headers) {
			result.AddError(fmt.Sprintf("invariant: row %s has %d marks for %d headers", r.Identity, len(r.Marks), len(result.Headers)))
		}
		if want := grid.Recompute(r.Marks); r.PresentCount != want {
			result.AddError(fmt.Sprintf("invariant: row %s present count %d, marks say %d", r.Identity, r.PresentCount, want))
		}
	}

	// Seeded state written by another roster only round-trips once saved.
	if !h.saved {
		return
	}

	g, err := h.gateway.Load(ctx)
	if err != nil {
		result.AddError(fmt.Sprintf("invariant: reload failed: %v", err))
		return
	}
	encoded, err := persist.Encode(g)
	if err != nil {
		result.AddError(fmt.Sprintf("invariant: re-encode failed: %v", err))
		return
	}
	for key, want := range result.Persisted {
		if encoded[key] != want {
			result.AddError(fmt.Sprintf("invariant: re-save of %s changed bytes:\n  stored: %s\n  resave: %s", key, want, encoded[key]))
		}
	}
}

func orNone(code string) string {
	if code == "" {
		return "none"
	}
	return code
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
