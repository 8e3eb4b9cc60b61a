package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/rollcall/internal/recognize"
)

// CaptureOptions holds flags for the capture command.
type CaptureOptions struct {
	*RootOptions
	Labels []string
	Faces  string
	Resume bool

	// Overrides replace the clock and capture IDs (for testing).
	Overrides EngineOverrides
}

// NewCaptureCommand creates the capture command.
func NewCaptureCommand(rootOpts *RootOptions) *cobra.Command {
	return newCaptureCommand(&CaptureOptions{RootOptions: rootOpts})
}

func newCaptureCommand(opts *CaptureOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Record one capture event",
		Long: `Record one capture event and save the grid.

The capture either names recognized identities directly (--labels) or
points at a frame file of detected face descriptors (--faces), which are
matched against the reference set.

Each invocation is a new run and claims the next free session slot.
Use --resume to keep writing to the most recently claimed slot instead.

Examples:
  rollcall capture --labels "Tony Stark,Bruce Banner"
  rollcall capture --faces ./frame.yaml --references ./refs.yaml
  rollcall capture --labels "Thor" --resume --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapture(opts, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Labels, "labels", nil, "comma-separated recognized identities")
	cmd.Flags().StringVar(&opts.Faces, "faces", "", "frame file with detected face descriptors")
	cmd.Flags().BoolVar(&opts.Resume, "resume", false, "write to the most recently claimed slot")
	cmd.MarkFlagsMutuallyExclusive("labels", "faces")
	cmd.MarkFlagsOneRequired("labels", "faces")

	return cmd
}

func runCapture(opts *CaptureOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	faces := opts.Faces != ""
	frame := recognize.Frame{Labels: opts.Labels}
	if faces {
		var err error
		frame, err = recognize.LoadFrame(opts.Faces)
		if err != nil {
			_ = formatter.Error(ErrCodeBadInput, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to load frame", err)
		}
		formatter.VerboseLog("Loaded %d face(s) from %s", len(frame.Faces), opts.Faces)
	}

	sess, err := openSession(ctx, opts.RootOptions, recognizerFor(opts.RootOptions, faces), faces, opts.Overrides)
	if err != nil {
		_ = formatter.Error(setupCode(err), err.Error(), nil)
		return err
	}
	defer sess.Close()

	if opts.Resume {
		if slot, ok := sess.engine.Resume(); ok {
			formatter.VerboseLog("Resuming slot %d", slot)
		} else {
			formatter.VerboseLog("No claimed slot to resume, claiming a new one")
		}
	}

	res, err := sess.engine.Capture(ctx, frame)
	if err != nil {
		return formatter.Fail("capture failed", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(res)
	}
	printCapture(formatter, res)
	return nil
}
