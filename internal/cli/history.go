package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/rollcall/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Slot int // -1 lists every slot
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List applied capture events",
		Long: `List the capture log: every applied capture in order, with the
slot it wrote to, the identities it recognized and any labels that were
not on the roster.

Examples:
  rollcall history
  rollcall history --slot 2 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Slot, "slot", -1, "only list captures of this slot")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := openStore(opts.RootOptions)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return err
	}
	defer func() { _ = st.Close() }()

	var slot *int
	if opts.Slot >= 0 {
		slot = &opts.Slot
	}
	recs, err := st.ListCaptures(ctx, slot)
	if err != nil {
		_ = formatter.Error(ErrCodePersistenceRead, err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to list captures", err)
	}

	if formatter.Format == "json" {
		if recs == nil {
			recs = []store.CaptureRecord{}
		}
		return formatter.Success(recs)
	}

	if len(recs) == 0 {
		fmt.Fprintln(formatter.Writer, "No captures recorded.")
		return nil
	}

	w := tabwriter.NewWriter(formatter.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tTIME\tSLOT\tSESSION\tRECOGNIZED\tUNKNOWN")
	for _, r := range recs {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\n",
			r.Seq, r.CapturedAt.UTC().Format(time.RFC3339), r.Slot, r.SlotLabel,
			joinOrDash(r.Recognized), joinOrDash(r.Unknown))
	}
	_ = w.Flush()
	formatter.VerboseLog("%d capture(s)", len(recs))
	return nil
}

func joinOrDash(names []string) string {
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ", ")
}
