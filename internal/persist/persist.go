// Package persist saves and restores the attendance grid through a durable
// string key/value store.
//
// The session header labels and the mark table are stored under separate
// keys. Values are canonical JSON (see package codec), so loading a grid and
// saving it again without changes writes back identical bytes.
//
// Loading is forgiving: a missing or unreadable state yields an empty grid,
// and identities that are no longer on the roster are dropped. Saving is
// strict: any failure is returned to the caller.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/rollcall/internal/codec"
	"github.com/roach88/rollcall/internal/grid"
)

// Storage keys.
const (
	KeyHeaders = "headerDates"
	KeyMarks   = "attendanceStatuses"
)

// ErrMalformed is wrapped by read errors caused by undecodable stored values.
var ErrMalformed = errors.New("malformed persisted state")

// KV is the durable string store the gateway writes through.
type KV interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// BatchKV is a KV that can write several keys atomically. When the store
// implements it, headers and marks are saved in one batch.
type BatchKV interface {
	KV
	SetMany(ctx context.Context, entries map[string]string) error
}

// ReadError reports persisted state that could not be loaded.
type ReadError struct {
	Key string
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Key, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// WriteError reports a failed save.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("save attendance grid: %v", e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Gateway loads and saves grids for one roster.
type Gateway struct {
	kv       KV
	roster   grid.Roster
	capacity int
	logger   *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger used for load diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = l
	}
}

// New returns a gateway for roster. capacity is the number of slots a fresh
// grid starts with.
func New(kv KV, roster grid.Roster, capacity int, opts ...Option) *Gateway {
	g := &Gateway{
		kv:       kv,
		roster:   roster,
		capacity: capacity,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Load restores the grid.
//
// The returned grid is never nil. When nothing was saved yet, it is an
// empty grid with capacity unclaimed slots and a nil error. When the stored
// state is unreadable, it is also an empty grid, returned together with a
// *ReadError so the caller can report the degradation.
func (g *Gateway) Load(ctx context.Context) (*grid.Grid, error) {
	headersRaw, haveHeaders, err := g.kv.Get(ctx, KeyHeaders)
	if err != nil {
		return g.empty(&ReadError{Key: KeyHeaders, Err: err})
	}
	marksRaw, haveMarks, err := g.kv.Get(ctx, KeyMarks)
	if err != nil {
		return g.empty(&ReadError{Key: KeyMarks, Err: err})
	}
	if !haveHeaders && !haveMarks {
		return grid.New(g.roster, g.capacity), nil
	}

	var labels []string
	if haveHeaders {
		if err := json.Unmarshal([]byte(headersRaw), &labels); err != nil {
			return g.empty(&ReadError{Key: KeyHeaders, Err: fmt.Errorf("%w: %v", ErrMalformed, err)})
		}
	}

	var stored map[string][]grid.Mark
	if haveMarks {
		if err := json.Unmarshal([]byte(marksRaw), &stored); err != nil {
			return g.empty(&ReadError{Key: KeyMarks, Err: fmt.Errorf("%w: %v", ErrMalformed, err)})
		}
	}

	gr, dropped := grid.FromSnapshot(g.roster, labels, stored, g.capacity)
	if len(dropped) > 0 {
		g.logger.Info("dropped persisted rows outside the roster or duplicating a roster identity", "identities", dropped)
	}
	return gr, nil
}

func (g *Gateway) empty(err error) (*grid.Grid, error) {
	g.logger.Warn("persisted attendance unreadable, starting empty", "error", err)
	return grid.New(g.roster, g.capacity), err
}

// Encode returns the stored representation of gr keyed by storage key.
func Encode(gr *grid.Grid) (map[string]string, error) {
	headers, err := codec.Marshal(gr.Headers().Labels())
	if err != nil {
		return nil, fmt.Errorf("encode headers: %w", err)
	}

	table := make(map[string][]string, gr.Roster().Len())
	for _, r := range gr.Rows() {
		names := make([]string, len(r.Marks))
		for i, m := range r.Marks {
			names[i] = m.String()
		}
		table[r.Identity] = names
	}
	marks, err := codec.Marshal(table)
	if err != nil {
		return nil, fmt.Errorf("encode marks: %w", err)
	}

	return map[string]string{
		KeyHeaders: string(headers),
		KeyMarks:   string(marks),
	}, nil
}

// Save writes the full header sequence and mark table.
// Failures are returned as *WriteError.
func (g *Gateway) Save(ctx context.Context, gr *grid.Grid) error {
	entries, err := Encode(gr)
	if err != nil {
		return &WriteError{Err: err}
	}

	if b, ok := g.kv.(BatchKV); ok {
		if err := b.SetMany(ctx, entries); err != nil {
			return &WriteError{Err: err}
		}
		return nil
	}

	for _, key := range []string{KeyHeaders, KeyMarks} {
		if err := g.kv.Set(ctx, key, entries[key]); err != nil {
			return &WriteError{Err: err}
		}
	}
	return nil
}
