package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/rollcall/internal/grid"
)

// GridView is the JSON shape of the attendance grid.
type GridView struct {
	Headers []string   `json:"headers"`
	Rows    []grid.Row `json:"rows"`
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the attendance grid",
		Long: `Print the saved attendance grid for the current roster.

Text output lists claimed sessions only, with one row per roster member
and the number of sessions attended. JSON output includes unclaimed
slots as empty headers.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(rootOpts, cmd)
		},
	}
	return cmd
}

func runShow(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rs, err := loadRoster(opts.Roster)
	if err != nil {
		_ = formatter.Error(setupCode(err), err.Error(), nil)
		return err
	}
	st, err := openStore(opts)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return err
	}
	defer func() { _ = st.Close() }()

	g, err := gateway(opts, st, rs).Load(ctx)
	if err != nil {
		// The grid is empty but usable; say why before printing it.
		fmt.Fprintf(formatter.GetErrWriter(), "warning: %s: stored attendance unreadable: %v\n", ErrCodePersistenceRead, err)
	}

	view := GridView{Headers: g.Headers().Labels(), Rows: g.Rows()}
	if formatter.Format == "json" {
		return formatter.Success(view)
	}
	printGrid(formatter, view)
	return nil
}

// printGrid renders the claimed columns of view as a table.
func printGrid(f *OutputFormatter, view GridView) {
	var cols []int
	for i, label := range view.Headers {
		if label != "" {
			cols = append(cols, i)
		}
	}
	if len(cols) == 0 {
		fmt.Fprintln(f.Writer, "No sessions recorded.")
	}

	w := tabwriter.NewWriter(f.Writer, 0, 0, 2, ' ', 0)
	head := []string{"IDENTITY"}
	for _, i := range cols {
		head = append(head, view.Headers[i])
	}
	head = append(head, "PRESENT")
	fmt.Fprintln(w, strings.Join(head, "\t"))

	for _, r := range view.Rows {
		cells := []string{r.Identity}
		for _, i := range cols {
			g := r.Marks[i].Glyph()
			if g == "" {
				g = "·"
			}
			cells = append(cells, g)
		}
		cells = append(cells, fmt.Sprint(r.PresentCount))
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	_ = w.Flush()
	f.VerboseLog("%d of %d slot(s) claimed", len(cols), len(view.Headers))
}
