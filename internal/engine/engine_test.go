package engine

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rollcall/internal/grid"
	"github.com/roach88/rollcall/internal/persist"
	"github.com/roach88/rollcall/internal/recognize"
	"github.com/roach88/rollcall/internal/store"
	"github.com/roach88/rollcall/internal/testutil"
)

var (
	day1 = time.Date(2024, time.October, 3, 9, 0, 0, 0, time.UTC)
	day2 = time.Date(2024, time.October, 4, 9, 0, 0, 0, time.UTC)
)

// testGateway is a store-backed persistence gateway with failure injection.
type testGateway struct {
	*persist.Gateway
	roster   grid.Roster
	capacity int

	mu        sync.Mutex
	saves     int
	SaveError error
	LoadError error
}

func (g *testGateway) Load(ctx context.Context) (*grid.Grid, error) {
	if g.LoadError != nil {
		return grid.New(g.roster, g.capacity), &persist.ReadError{Key: persist.KeyHeaders, Err: g.LoadError}
	}
	return g.Gateway.Load(ctx)
}

func (g *testGateway) Save(ctx context.Context, gr *grid.Grid) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.SaveError != nil {
		return &persist.WriteError{Err: g.SaveError}
	}
	g.saves++
	return g.Gateway.Save(ctx, gr)
}

func (g *testGateway) Saves() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.saves
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "rollcall.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func setupGateway(t *testing.T, s *store.Store, capacity int, names ...string) *testGateway {
	t.Helper()
	roster := grid.MustRoster(names...)
	return &testGateway{
		Gateway:  persist.New(s, roster, capacity),
		roster:   roster,
		capacity: capacity,
	}
}

// startRun creates an engine for one run on the given day.
func startRun(t *testing.T, gw Gateway, day time.Time, opts ...EngineOption) *Engine {
	t.Helper()
	base := []EngineOption{
		WithClock(testutil.NewFixedClock(day)),
		WithIDGenerator(testutil.NewSequenceIDGenerator("cap")),
	}
	e, err := New(context.Background(), gw, recognize.LabelRecognizer{}, append(base, opts...)...)
	require.NoError(t, err)
	return e
}

func frame(labels ...string) recognize.Frame {
	return recognize.Frame{Labels: labels}
}

func marksOf(t *testing.T, e *Engine) map[string][]grid.Mark {
	t.Helper()
	out := make(map[string][]grid.Mark)
	for _, r := range e.Rows() {
		assert.Equal(t, grid.Recompute(r.Marks), r.PresentCount, "present count of %s", r.Identity)
		out[r.Identity] = r.Marks
	}
	return out
}

func presentCounts(e *Engine) map[string]int {
	out := make(map[string]int)
	for _, r := range e.Rows() {
		out[r.Identity] = r.PresentCount
	}
	return out
}

func TestEngine_TwoSessionScenario(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	gw := setupGateway(t, s, 2, "A", "B")

	// Run 1: first capture marks A present, B absent.
	run1 := startRun(t, gw, day1)
	slot, err := run1.ClaimActiveSlot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, slot)

	_, err = run1.Apply(ctx, []string{"A"}, 0)
	require.NoError(t, err)
	assert.Equal(t, map[string][]grid.Mark{
		"A": {grid.Present, grid.Unset},
		"B": {grid.Absent, grid.Unset},
	}, marksOf(t, run1))
	assert.Equal(t, map[string]int{"A": 1, "B": 0}, presentCounts(run1))

	// Second capture in the same session: B promoted, A not demoted.
	_, err = run1.Apply(ctx, []string{"B"}, 0)
	require.NoError(t, err)
	assert.Equal(t, map[string][]grid.Mark{
		"A": {grid.Present, grid.Unset},
		"B": {grid.Present, grid.Unset},
	}, marksOf(t, run1))

	// Run 2: a new session claims slot 1 and nobody is recognized.
	run2 := startRun(t, gw, day2)
	slot, err = run2.ClaimActiveSlot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, slot)

	_, err = run2.Apply(ctx, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, map[string][]grid.Mark{
		"A": {grid.Present, grid.Absent},
		"B": {grid.Present, grid.Absent},
	}, marksOf(t, run2))
	assert.Equal(t, map[string]int{"A": 1, "B": 1}, presentCounts(run2))
	assert.Equal(t, []string{"Session 1 3/10", "Session 2 4/10"}, run2.Headers())
}

func TestEngine_ClaimActiveSlot_IdempotentPerRun(t *testing.T) {
	ctx := context.Background()
	gw := setupGateway(t, setupTestStore(t), 3, "A", "B")
	e := startRun(t, gw, day1)

	first, err := e.ClaimActiveSlot(ctx)
	require.NoError(t, err)
	second, err := e.ClaimActiveSlot(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"Session 1 3/10", "", ""}, e.Headers())
	assert.Equal(t, 0, e.ActiveSlot())
}

func TestEngine_ClaimActiveSlot_RejectWhenExhausted(t *testing.T) {
	ctx := context.Background()
	gw := setupGateway(t, setupTestStore(t), 1, "A", "B")

	run1 := startRun(t, gw, day1)
	_, err := run1.Capture(ctx, frame("A"))
	require.NoError(t, err)

	run2 := startRun(t, gw, day2)
	before := marksOf(t, run2)

	_, err = run2.ClaimActiveSlot(ctx)
	require.Error(t, err)
	assert.True(t, IsNoAvailableSlot(err))

	_, err = run2.Capture(ctx, frame("B"))
	require.Error(t, err)
	assert.True(t, IsNoAvailableSlot(err))

	assert.Equal(t, before, marksOf(t, run2), "rows must not change")
	assert.Equal(t, []string{"Session 1 3/10"}, run2.Headers())
	assert.Equal(t, -1, run2.ActiveSlot())
}

func TestEngine_ClaimActiveSlot_GrowWhenExhausted(t *testing.T) {
	ctx := context.Background()
	gw := setupGateway(t, setupTestStore(t), 1, "A", "B")

	run1 := startRun(t, gw, day1, WithSlotPolicy(PolicyGrow))
	_, err := run1.Capture(ctx, frame("A"))
	require.NoError(t, err)

	run2 := startRun(t, gw, day2, WithSlotPolicy(PolicyGrow))
	res, err := run2.Capture(ctx, frame("B"))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Slot)
	assert.Equal(t, "Session 2 4/10", res.SlotLabel)
	assert.Equal(t, map[string][]grid.Mark{
		"A": {grid.Present, grid.Absent},
		"B": {grid.Absent, grid.Present},
	}, marksOf(t, run2))

	// The grown slot survives a reload.
	run3 := startRun(t, gw, day2)
	assert.Equal(t, []string{"Session 1 3/10", "Session 2 4/10"}, run3.Headers())
}

func TestEngine_UnknownLabelSafety(t *testing.T) {
	ctx := context.Background()
	gw := setupGateway(t, setupTestStore(t), 2, "A", "B")
	e := startRun(t, gw, day1)

	slot, err := e.ClaimActiveSlot(ctx)
	require.NoError(t, err)

	res, err := e.Apply(ctx, []string{"unknown-person"}, slot)
	require.NoError(t, err)

	assert.Equal(t, []string{"unknown-person"}, res.Unknown)
	assert.Empty(t, res.Present)
	assert.Equal(t, map[string][]grid.Mark{
		"A": {grid.Absent, grid.Unset},
		"B": {grid.Absent, grid.Unset},
	}, marksOf(t, e))
}

func TestEngine_Capture_DropsUnknownSentinel(t *testing.T) {
	ctx := context.Background()
	gw := setupGateway(t, setupTestStore(t), 2, "A", "B")
	e := startRun(t, gw, day1)

	res, err := e.Capture(ctx, frame("A", recognize.Unknown, "A", recognize.Unknown))
	require.NoError(t, err)

	assert.Equal(t, []string{"A"}, res.Recognized)
	assert.Empty(t, res.Unknown, "the sentinel is not reported as an unknown label")
	assert.Equal(t, "cap-1", res.ID)
	assert.Equal(t, day1, res.CapturedAt)
}

func TestEngine_Capture_RecognizerFailure(t *testing.T) {
	ctx := context.Background()
	gw := setupGateway(t, setupTestStore(t), 2, "A", "B")

	boom := errors.New("model not loaded")
	failing := recognize.Func(func(context.Context, recognize.Frame, recognize.ReferenceSet) ([]string, error) {
		return nil, boom
	})
	e, err := New(ctx, gw, failing, WithClock(testutil.NewFixedClock(day1)))
	require.NoError(t, err)

	_, err = e.Capture(ctx, frame("A"))
	require.Error(t, err)
	assert.True(t, IsRecognizerFailure(err))
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, -1, e.ActiveSlot(), "a failed recognition claims nothing")
	assert.Equal(t, []string{"", ""}, e.Headers())
	assert.Equal(t, 0, gw.Saves())
}

func TestEngine_Capture_SaveFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	gw := setupGateway(t, setupTestStore(t), 2, "A", "B")
	e := startRun(t, gw, day1)

	gw.SaveError = errors.New("disk full")
	_, err := e.Capture(ctx, frame("A"))
	require.Error(t, err)
	assert.True(t, IsPersistenceWrite(err))

	var we *persist.WriteError
	assert.ErrorAs(t, err, &we)

	assert.Equal(t, -1, e.ActiveSlot(), "the claim is rolled back")
	assert.Equal(t, []string{"", ""}, e.Headers())
	assert.Equal(t, map[string][]grid.Mark{
		"A": {grid.Unset, grid.Unset},
		"B": {grid.Unset, grid.Unset},
	}, marksOf(t, e))

	// The operator retries once storage is back.
	gw.SaveError = nil
	res, err := e.Capture(ctx, frame("A"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Slot)
	assert.Equal(t, 1, gw.Saves())
}

func TestEngine_Apply_SaveFailureKeepsEarlierCaptures(t *testing.T) {
	ctx := context.Background()
	gw := setupGateway(t, setupTestStore(t), 2, "A", "B")
	e := startRun(t, gw, day1)

	_, err := e.Capture(ctx, frame("A"))
	require.NoError(t, err)
	before := marksOf(t, e)

	gw.SaveError = errors.New("disk full")
	_, err = e.Apply(ctx, []string{"B"}, 0)
	require.Error(t, err)
	assert.True(t, IsPersistenceWrite(err))

	assert.Equal(t, before, marksOf(t, e))
	assert.Equal(t, 0, e.ActiveSlot(), "a claim from an earlier capture stays")
}

func TestEngine_Apply_SlotClosed(t *testing.T) {
	ctx := context.Background()
	gw := setupGateway(t, setupTestStore(t), 3, "A", "B")
	e := startRun(t, gw, day1)

	_, err := e.Apply(ctx, []string{"A"}, 0)
	require.Error(t, err)
	assert.True(t, IsSlotClosed(err), "nothing claimed yet")

	slot, err := e.ClaimActiveSlot(ctx)
	require.NoError(t, err)

	_, err = e.Apply(ctx, []string{"A"}, slot+1)
	require.Error(t, err)
	assert.True(t, IsSlotClosed(err))
	assert.Equal(t, 0, gw.Saves())
}

func TestEngine_LoadDegradesToEmpty(t *testing.T) {
	gw := setupGateway(t, setupTestStore(t), 2, "A", "B")
	gw.LoadError = errors.New("database is locked")

	e := startRun(t, gw, day1)

	require.Error(t, e.LoadError())
	assert.True(t, IsPersistenceRead(e.LoadError()))
	assert.Equal(t, []string{"", ""}, e.Headers())
	for _, r := range e.Rows() {
		assert.Equal(t, []grid.Mark{grid.Unset, grid.Unset}, r.Marks)
	}
}

func TestEngine_New_CancelledContext(t *testing.T) {
	gw := setupGateway(t, setupTestStore(t), 2, "A", "B")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(ctx, gw, recognize.LabelRecognizer{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_Resume(t *testing.T) {
	ctx := context.Background()
	gw := setupGateway(t, setupTestStore(t), 3, "A", "B")

	run1 := startRun(t, gw, day1)
	_, err := run1.Capture(ctx, frame("A"))
	require.NoError(t, err)

	run2 := startRun(t, gw, day1)
	slot, ok := run2.Resume()
	require.True(t, ok)
	assert.Equal(t, 0, slot)

	res, err := run2.Capture(ctx, frame("B"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Slot)
	assert.Equal(t, []string{"Session 1 3/10", "", ""}, run2.Headers())
	assert.Equal(t, map[string]int{"A": 1, "B": 1}, presentCounts(run2))
}

func TestEngine_Resume_NothingClaimed(t *testing.T) {
	gw := setupGateway(t, setupTestStore(t), 2, "A", "B")
	e := startRun(t, gw, day1)

	slot, ok := e.Resume()
	assert.False(t, ok)
	assert.Equal(t, -1, slot)
	assert.Equal(t, -1, e.ActiveSlot())
}

func TestEngine_CaptureLog(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	gw := setupGateway(t, s, 2, "A", "B")
	e := startRun(t, gw, day1, WithCaptureLog(s))

	_, err := e.Capture(ctx, frame("A", "Zed"))
	require.NoError(t, err)
	_, err = e.Capture(ctx, frame("B"))
	require.NoError(t, err)

	recs, err := s.ListCaptures(ctx, nil)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "cap-1", recs[0].ID)
	assert.Equal(t, "Session 1 3/10", recs[0].SlotLabel)
	assert.Equal(t, []string{"A"}, recs[0].Recognized)
	assert.Equal(t, []string{"Zed"}, recs[0].Unknown)
	assert.Equal(t, "cap-2", recs[1].ID)
	assert.Equal(t, []string{"B"}, recs[1].Recognized)
}

func TestEngine_IdempotentResave(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	gw := setupGateway(t, s, 3, "A", "B", "C")

	e := startRun(t, gw, day1)
	_, err := e.Capture(ctx, frame("A", "C"))
	require.NoError(t, err)

	before := map[string]string{}
	for _, key := range []string{persist.KeyHeaders, persist.KeyMarks} {
		v, ok, err := s.Get(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
		before[key] = v
	}

	g, err := gw.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, gw.Save(ctx, g))

	for key, want := range before {
		got, _, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, want, got, "key %s", key)
	}
}

// TestEngine_RandomCaptures checks lockstep, statistics and no-demotion
// after every capture of a long pseudo-random sequence.
func TestEngine_RandomCaptures(t *testing.T) {
	ctx := context.Background()
	names := []string{"Ana", "Ben", "Cleo", "Dev", "Eli"}
	gw := setupGateway(t, setupTestStore(t), 4, names...)
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 6; run++ {
		e := startRun(t, gw, day1.AddDate(0, 0, run), WithSlotPolicy(PolicyGrow))

		for capture := 0; capture < 5; capture++ {
			var labels []string
			for _, n := range names {
				if rng.Intn(3) == 0 {
					labels = append(labels, n)
				}
			}
			if rng.Intn(4) == 0 {
				labels = append(labels, "stranger")
			}

			before := marksOf(t, e)
			res, err := e.Capture(ctx, frame(labels...))
			require.NoError(t, err)

			after := marksOf(t, e)
			headers := e.Headers()
			for _, n := range names {
				require.Len(t, after[n], len(headers), "row %s out of lockstep", n)
				if res.Slot < len(before[n]) && before[n][res.Slot] == grid.Present {
					assert.Equal(t, grid.Present, after[n][res.Slot], "%s demoted in slot %d", n, res.Slot)
				}
			}
		}
		assert.Equal(t, run, e.ActiveSlot())
	}
}

// blockingRecognizer blocks every call until release is closed.
type blockingRecognizer struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingRecognizer) Recognize(ctx context.Context, f recognize.Frame, _ recognize.ReferenceSet) ([]string, error) {
	b.entered <- struct{}{}
	<-b.release
	return recognize.Dedupe(f.Labels), nil
}

func TestEngine_TryCapture_InFlight(t *testing.T) {
	ctx := context.Background()
	gw := setupGateway(t, setupTestStore(t), 2, "A", "B")
	rec := &blockingRecognizer{entered: make(chan struct{}, 1), release: make(chan struct{})}

	e, err := New(ctx, gw, rec,
		WithClock(testutil.NewFixedClock(day1)),
		WithIDGenerator(testutil.NewSequenceIDGenerator("cap")),
	)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := e.Capture(ctx, frame("A"))
		done <- err
	}()

	select {
	case <-rec.entered:
	case <-time.After(time.Second):
		t.Fatal("first capture never reached the recognizer")
	}

	_, err = e.TryCapture(ctx, frame("B"))
	require.Error(t, err)
	assert.True(t, IsInFlight(err))

	close(rec.release)
	require.NoError(t, <-done)

	assert.Equal(t, map[string]int{"A": 1, "B": 0}, presentCounts(e))
}

func TestEngine_Capture_Serialized(t *testing.T) {
	ctx := context.Background()
	gw := setupGateway(t, setupTestStore(t), 2, "A", "B")
	e := startRun(t, gw, day1)

	var wg sync.WaitGroup
	for _, l := range []string{"A", "B", "A", "B", "A", "B"} {
		wg.Add(1)
		go func(label string) {
			defer wg.Done()
			_, err := e.Capture(ctx, frame(label))
			assert.NoError(t, err)
		}(l)
	}
	wg.Wait()

	assert.Equal(t, map[string][]grid.Mark{
		"A": {grid.Present, grid.Unset},
		"B": {grid.Present, grid.Unset},
	}, marksOf(t, e))
	assert.Equal(t, 6, gw.Saves())
}

func TestEngine_SubmitAndRun(t *testing.T) {
	gw := setupGateway(t, setupTestStore(t), 2, "A", "B")
	e := startRun(t, gw, day1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outcomes := []<-chan CaptureOutcome{
		e.Submit(frame("A")),
		e.Submit(frame("stranger")),
		e.Submit(frame("B")),
	}

	runErr := make(chan error, 1)
	go func() { runErr <- e.Run(ctx) }()

	var ids []string
	for _, ch := range outcomes {
		select {
		case out := <-ch:
			require.NoError(t, out.Err)
			ids = append(ids, out.Result.ID)
		case <-time.After(5 * time.Second):
			t.Fatal("capture outcome not delivered")
		}
	}
	assert.Equal(t, []string{"cap-1", "cap-2", "cap-3"}, ids, "FIFO order")
	assert.Equal(t, map[string]int{"A": 1, "B": 1}, presentCounts(e))

	cancel()
	select {
	case err := <-runErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}

	out := <-e.Submit(frame("A"))
	assert.ErrorIs(t, out.Err, ErrStopped)
}

func TestEngine_Stop(t *testing.T) {
	gw := setupGateway(t, setupTestStore(t), 2, "A", "B")
	e := startRun(t, gw, day1)

	pending := e.Submit(frame("A"))
	e.Stop()

	out := <-pending
	assert.ErrorIs(t, out.Err, ErrStopped)
	assert.Equal(t, 0, e.QueueLen())

	require.NoError(t, e.Run(context.Background()))
}

func TestParseSlotPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    SlotPolicy
		wantErr bool
	}{
		{"", PolicyReject, false},
		{"reject", PolicyReject, false},
		{"GROW", PolicyGrow, false},
		{" grow ", PolicyGrow, false},
		{"append", PolicyReject, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSlotPolicy(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "grow", PolicyGrow.String())
	assert.Equal(t, "reject", PolicyReject.String())
}

func TestRuntimeError_Format(t *testing.T) {
	err := NewPersistenceWriteError("cap-1", 2, errors.New("disk full"))
	assert.Equal(t, "PERSISTENCE_WRITE: save failed, capture discarded (capture=cap-1, slot=2): disk full", err.Error())

	assert.Equal(t, "NO_AVAILABLE_SLOT: all 3 slots are claimed", NewNoAvailableSlotError("", 3).Error())
	assert.Equal(t, RuntimeErrorCode(""), CodeOf(errors.New("plain")))
}
