package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/roach88/rollcall/internal/grid"
	"github.com/roach88/rollcall/internal/recognize"
	"github.com/roach88/rollcall/internal/store"
)

// ErrStopped is delivered to submitted captures that the Run loop never
// processed because the engine stopped first.
var ErrStopped = errors.New("engine stopped")

// SlotPolicy decides what ClaimActiveSlot does when every slot is claimed.
type SlotPolicy int

const (
	// PolicyReject fails the claim with NO_AVAILABLE_SLOT.
	PolicyReject SlotPolicy = iota
	// PolicyGrow appends a new slot in lockstep with every row.
	PolicyGrow
)

// String returns the policy name used in configuration.
func (p SlotPolicy) String() string {
	if p == PolicyGrow {
		return "grow"
	}
	return "reject"
}

// ParseSlotPolicy parses "reject" or "grow". The empty string is reject.
func ParseSlotPolicy(s string) (SlotPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reject":
		return PolicyReject, nil
	case "grow":
		return PolicyGrow, nil
	default:
		return PolicyReject, fmt.Errorf("unknown slot policy %q (want reject or grow)", s)
	}
}

// Gateway loads and saves the grid.
// Implemented by *persist.Gateway.
//
// Load must return a usable grid even when it also returns an error.
type Gateway interface {
	Load(ctx context.Context) (*grid.Grid, error)
	Save(ctx context.Context, g *grid.Grid) error
}

// CaptureLog records applied captures.
// Implemented by *store.Store.
type CaptureLog interface {
	WriteCapture(ctx context.Context, rec store.CaptureRecord) error
}

// CaptureResult describes one applied capture event.
type CaptureResult struct {
	ID         string    `json:"id"`
	SlotLabel  string    `json:"slot_label"`
	Recognized []string  `json:"recognized"`
	CapturedAt time.Time `json:"captured_at"`
	grid.ApplyResult
}

// Engine is one run of the attendance surface.
//
// Thread-safety model:
//   - Capture, TryCapture, Apply, ClaimActiveSlot, Resume: safe from any
//     goroutine; they share one in-flight guard
//   - Submit: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//
// INVARIANTS:
//   - At most one capture event mutates the grid at a time
//   - The active slot, once claimed, is the only slot this run writes to
//   - After every successful capture the saved state equals the grid
type Engine struct {
	mu sync.Mutex // in-flight guard

	grid       *grid.Grid
	gateway    Gateway
	recognizer recognize.Recognizer
	refs       recognize.ReferenceSet
	labeler    Labeler
	clock      Clock
	ids        IDGenerator
	policy     SlotPolicy
	captures   CaptureLog
	logger     *slog.Logger

	active  int // active slot index, -1 until claimed
	loadErr error
	queue   *captureQueue
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithSlotPolicy sets the slot exhaustion policy.
//
// Default: PolicyReject
func WithSlotPolicy(p SlotPolicy) EngineOption {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithLabeler sets how new slots are labeled.
//
// Default: DefaultLabeler("Session")
func WithLabeler(l Labeler) EngineOption {
	return func(e *Engine) {
		e.labeler = l
	}
}

// WithClock sets the wall clock used for labels and capture timestamps.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithIDGenerator sets the capture ID generator.
//
// Default: UUIDv7Generator
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithReferences sets the reference set passed to the recognizer.
func WithReferences(refs recognize.ReferenceSet) EngineOption {
	return func(e *Engine) {
		e.refs = refs
	}
}

// WithCaptureLog appends every applied capture to log.
func WithCaptureLog(log CaptureLog) EngineOption {
	return func(e *Engine) {
		e.captures = log
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// New starts a run: it loads the grid through gw and returns an engine with
// no active slot.
//
// An unreadable store does not fail New. The engine starts from an empty
// grid and LoadError reports the PERSISTENCE_READ error. Only a cancelled
// context is returned as an error.
func New(ctx context.Context, gw Gateway, rec recognize.Recognizer, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		gateway:    gw,
		recognizer: rec,
		labeler:    DefaultLabeler(DefaultLabelPrefix),
		clock:      SystemClock{},
		ids:        UUIDv7Generator{},
		policy:     PolicyReject,
		logger:     slog.Default(),
		active:     -1,
		queue:      newCaptureQueue(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g, err := gw.Load(ctx)
	if err != nil {
		// A cancelled load never degrades to an empty grid.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		e.loadErr = NewPersistenceReadError(err)
		e.logger.Warn("starting from empty attendance", "error", err)
	}
	if g == nil {
		return nil, fmt.Errorf("load attendance: gateway returned no grid")
	}
	e.grid = g

	return e, nil
}

// LoadError returns the PERSISTENCE_READ error if the stored state could not
// be read when the run started, or nil.
func (e *Engine) LoadError() error {
	return e.loadErr
}

// ActiveSlot returns the run's active slot, or -1 if none is claimed yet.
func (e *Engine) ActiveSlot() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Rows returns a copy of the grid rows in roster order.
func (e *Engine) Rows() []grid.Row {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.grid.Rows()
}

// Headers returns a copy of the session header labels.
func (e *Engine) Headers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.grid.Headers().Labels()
}

// ClaimActiveSlot returns the run's active slot, claiming the first
// unclaimed slot on the first call.
//
// Later calls in the same run return the same index without relabeling.
// The claim is saved together with the first Apply to the slot.
func (e *Engine) ClaimActiveSlot(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return -1, err
	}
	return e.claim("")
}

// Resume makes the most recently claimed slot the run's active slot, so a
// new process can continue the session an earlier run started.
//
// Returns false (and leaves the run unclaimed) when no slot was ever claimed.
func (e *Engine) Resume() (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active >= 0 {
		return e.active, true
	}
	i, ok := e.grid.Headers().LastClaimed()
	if !ok {
		return -1, false
	}
	e.active = i
	e.logger.Debug("resumed session", "slot", i)
	return i, true
}

// claim implements ClaimActiveSlot. Caller must hold e.mu.
func (e *Engine) claim(captureID string) (int, error) {
	if e.active >= 0 {
		return e.active, nil
	}

	headers := e.grid.Headers()
	slot, ok := headers.FirstUnclaimed()
	if !ok {
		if e.policy != PolicyGrow {
			return -1, NewNoAvailableSlotError(captureID, headers.Len())
		}
		slot = e.grid.AddSlot()
		e.logger.Info("grew session headers", "slots", headers.Len())
	}

	label := e.labeler(slot, e.clock.Now())
	if err := headers.Claim(slot, label); err != nil {
		return -1, fmt.Errorf("claim slot %d: %w", slot, err)
	}
	e.active = slot
	e.logger.Info("claimed session slot", "slot", slot, "label", label)
	return slot, nil
}

// Apply records already-recognized labels into slot, which must be the
// run's active slot, and saves once.
//
// On a failed save the grid is restored to its state before the call and a
// PERSISTENCE_WRITE error is returned.
func (e *Engine) Apply(ctx context.Context, labels []string, slot int) (*CaptureResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active < 0 || slot != e.active {
		return nil, NewSlotClosedError(slot, e.active)
	}

	id := e.ids.Generate()
	cp := e.grid.Checkpoint()
	res, err := e.apply(ctx, id, recognized(labels), slot)
	if err != nil {
		e.grid.Rollback(cp)
		return nil, err
	}
	return res, nil
}

// Capture runs one capture event through the whole pipeline: recognize,
// claim the active slot, apply, save, log.
//
// A recognizer failure leaves the grid and the run's claim untouched. A
// save failure also discards a claim made by this event. Concurrent calls
// wait for the in-flight capture to finish.
func (e *Engine) Capture(ctx context.Context, frame recognize.Frame) (*CaptureResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.capture(ctx, frame)
}

// TryCapture is Capture without waiting: if another capture is in flight it
// returns a CAPTURE_IN_FLIGHT error and the frame is dropped.
func (e *Engine) TryCapture(ctx context.Context, frame recognize.Frame) (*CaptureResult, error) {
	if !e.mu.TryLock() {
		return nil, NewInFlightError()
	}
	defer e.mu.Unlock()
	return e.capture(ctx, frame)
}

// capture implements Capture. Caller must hold e.mu.
func (e *Engine) capture(ctx context.Context, frame recognize.Frame) (*CaptureResult, error) {
	id := e.ids.Generate()

	labels, err := e.recognizer.Recognize(ctx, frame, e.refs)
	if err != nil {
		e.logger.Error("recognition failed", "capture_id", id, "error", err)
		return nil, NewRecognizerError(id, err)
	}

	cp := e.grid.Checkpoint()
	prevActive := e.active

	slot, err := e.claim(id)
	if err != nil {
		return nil, err
	}

	res, err := e.apply(ctx, id, recognized(labels), slot)
	if err != nil {
		e.grid.Rollback(cp)
		e.active = prevActive
		return nil, err
	}
	return res, nil
}

// apply runs the reducer, saves, and logs the capture. Caller must hold
// e.mu and roll the grid back on error.
func (e *Engine) apply(ctx context.Context, id string, labels []string, slot int) (*CaptureResult, error) {
	ar, err := e.grid.Apply(labels, slot)
	if err != nil {
		return nil, fmt.Errorf("apply capture %s: %w", id, err)
	}
	for _, label := range ar.Unknown {
		e.logger.Warn("recognized label not in roster", "capture_id", id, "label", label, "slot", slot)
	}

	if err := e.gateway.Save(ctx, e.grid); err != nil {
		e.logger.Error("save failed", "capture_id", id, "slot", slot, "error", err)
		return nil, NewPersistenceWriteError(id, slot, err)
	}

	slotLabel, _ := e.grid.Headers().Label(slot)
	res := &CaptureResult{
		ID:          id,
		SlotLabel:   slotLabel,
		Recognized:  labels,
		CapturedAt:  e.clock.Now(),
		ApplyResult: ar,
	}

	if e.captures != nil {
		rec := store.CaptureRecord{
			ID:         id,
			Slot:       slot,
			SlotLabel:  slotLabel,
			Recognized: ar.Present,
			Unknown:    ar.Unknown,
			CapturedAt: res.CapturedAt,
		}
		// The grid is already saved; a missing history entry does not undo it.
		if err := e.captures.WriteCapture(ctx, rec); err != nil {
			e.logger.Error("capture log write failed", "capture_id", id, "error", err)
		}
	}

	e.logger.Debug("capture applied",
		"capture_id", id,
		"slot", slot,
		"present", len(ar.Present),
		"absent", len(ar.Absent),
		"unknown", len(ar.Unknown),
	)
	return res, nil
}

// recognized deduplicates labels and drops the "unknown" sentinel.
func recognized(labels []string) []string {
	deduped := recognize.Dedupe(labels)
	out := deduped[:0]
	for _, l := range deduped {
		if l != recognize.Unknown {
			out = append(out, l)
		}
	}
	return out
}

// Submit enqueues a frame for the Run loop and returns a channel that
// receives exactly one outcome.
// Thread-safe: may be called from any goroutine.
//
// If the engine has stopped, the outcome is ErrStopped.
func (e *Engine) Submit(frame recognize.Frame) <-chan CaptureOutcome {
	done := make(chan CaptureOutcome, 1)
	if !e.queue.Enqueue(captureRequest{frame: frame, done: done}) {
		done <- CaptureOutcome{Err: ErrStopped}
	}
	return done
}

// Run processes submitted frames in FIFO order until ctx is cancelled or
// Stop is called.
//
// CRITICAL: Must be called from exactly ONE goroutine.
//
// A failed capture is logged and delivered to its submitter; processing
// continues with the next frame. Requests still queued when the loop stops
// receive ErrStopped.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")

	for {
		req, ok := e.queue.TryDequeue()
		if ok {
			res, err := e.Capture(ctx, req.frame)
			if err != nil {
				e.logger.Error("capture failed", "error", err, "code", CodeOf(err))
			}
			req.done <- CaptureOutcome{Result: res, Err: err}
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.failPending(e.queue.Close())
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel closes when the queue is closed, which
			// fires this case immediately.
			if e.queue.Len() == 0 && e.stopped() {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue, which makes Run return once it is idle.
func (e *Engine) Stop() {
	e.failPending(e.queue.Close())
}

// QueueLen returns the number of frames waiting for the Run loop.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

func (e *Engine) stopped() bool {
	e.queue.mu.Lock()
	defer e.queue.mu.Unlock()
	return e.queue.closed
}

func (e *Engine) failPending(pending []captureRequest) {
	for _, req := range pending {
		req.done <- CaptureOutcome{Err: ErrStopped}
	}
}
