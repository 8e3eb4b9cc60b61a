package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/rollcall/internal/engine"
	"github.com/roach88/rollcall/internal/grid"
	"github.com/roach88/rollcall/internal/persist"
	"github.com/roach88/rollcall/internal/recognize"
	"github.com/roach88/rollcall/internal/roster"
	"github.com/roach88/rollcall/internal/store"
)

// EngineOverrides replace the engine's clock and capture IDs (for testing).
// Nil fields keep the engine defaults.
type EngineOverrides struct {
	Clock engine.Clock
	IDs   engine.IDGenerator
}

// session is one open database with a loaded roster and a started run.
type session struct {
	store  *store.Store
	roster grid.Roster
	engine *engine.Engine
}

func (s *session) Close() {
	if err := s.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// loadRoster reads the roster definition at path.
func loadRoster(path string) (grid.Roster, error) {
	def, err := roster.LoadFile(path)
	if err != nil {
		return grid.Roster{}, WrapExitError(ExitCommandError, "failed to load roster", err)
	}
	rs, err := def.Roster()
	if err != nil {
		return grid.Roster{}, WrapExitError(ExitCommandError, "invalid roster", err)
	}
	return rs, nil
}

// setupCode returns the CLI code for a failed session setup. Roster load
// errors keep their own code.
func setupCode(err error) string {
	var le *roster.LoadError
	if errors.As(err, &le) {
		return le.Code
	}
	return ErrCodeGeneric
}

// openStore opens the database named by opts.
func openStore(opts *RootOptions) (*store.Store, error) {
	slog.Debug("opening database", "path", opts.Database)
	st, err := store.Open(opts.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// gateway returns the persistence gateway for st and rs.
func gateway(opts *RootOptions, st *store.Store, rs grid.Roster) *persist.Gateway {
	return persist.New(st, rs, opts.Slots, persist.WithLogger(slog.Default()))
}

// openSession loads the roster, opens the store and starts a run with rec.
// When faces is set the reference set is loaded for the matcher.
func openSession(ctx context.Context, opts *RootOptions, rec recognize.Recognizer, faces bool, ov EngineOverrides) (*session, error) {
	policy, err := engine.ParseSlotPolicy(opts.SlotPolicy)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid slot policy", err)
	}

	rs, err := loadRoster(opts.Roster)
	if err != nil {
		return nil, err
	}

	var refs recognize.ReferenceSet
	if faces {
		refs, err = recognize.LoadReferenceSet(opts.References, rs)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load references", err)
		}
		slog.Debug("references loaded", "identities", len(refs))
	}

	st, err := openStore(opts)
	if err != nil {
		return nil, err
	}

	engOpts := []engine.EngineOption{
		engine.WithSlotPolicy(policy),
		engine.WithLabeler(engine.DefaultLabeler(opts.LabelPrefix)),
		engine.WithReferences(refs),
		engine.WithCaptureLog(st),
	}
	if ov.Clock != nil {
		engOpts = append(engOpts, engine.WithClock(ov.Clock))
	}
	if ov.IDs != nil {
		engOpts = append(engOpts, engine.WithIDGenerator(ov.IDs))
	}

	eng, err := engine.New(ctx, gateway(opts, st, rs), rec, engOpts...)
	if err != nil {
		_ = st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to start run", err)
	}
	return &session{store: st, roster: rs, engine: eng}, nil
}

// recognizerFor returns the matcher for face frames and the label
// pass-through otherwise.
func recognizerFor(opts *RootOptions, faces bool) recognize.Recognizer {
	if faces {
		return recognize.NewMatcher(opts.Threshold)
	}
	return recognize.LabelRecognizer{}
}

// printCapture writes a human-readable capture result.
func printCapture(f *OutputFormatter, res *engine.CaptureResult) {
	w := f.Writer
	fmt.Fprintf(w, "✓ %s (slot %d)\n", res.SlotLabel, res.Slot)
	printNames(w, "present", res.Present)
	printNames(w, "absent", res.Absent)
	if len(res.Kept) > 0 {
		printNames(w, "kept", res.Kept)
	}
	if len(res.Unknown) > 0 {
		printNames(w, "unknown", res.Unknown)
	}
	f.VerboseLog("capture %s at %s", res.ID, res.CapturedAt.Format(time.RFC3339))
}

func printNames(w io.Writer, title string, names []string) {
	list := "-"
	if len(names) > 0 {
		list = strings.Join(names, ", ")
	}
	fmt.Fprintf(w, "  %-8s %s\n", title+":", list)
}
