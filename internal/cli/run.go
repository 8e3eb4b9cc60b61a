package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/rollcall/internal/engine"
	"github.com/roach88/rollcall/internal/recognize"
)

// emptyCapture is the input line for a capture that recognized nobody.
const emptyCapture = "-"

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Faces bool

	// Overrides replace the clock and capture IDs (for testing).
	Overrides EngineOverrides
}

// RunLine is the outcome of one input line.
type RunLine struct {
	Line   int                   `json:"line"`
	Result *engine.CaptureResult `json:"result,omitempty"`
	Error  *CLIError             `json:"error,omitempty"`
}

// RunReport summarizes a run.
type RunReport struct {
	Captures []RunLine `json:"captures"`
	Applied  int       `json:"applied"`
	Failed   int       `json:"failed"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a run and capture from standard input",
		Long: `Start one run and process one capture event per input line.

Every line is a comma-separated list of recognized identities. With
--faces every line is instead the path of a frame file of face
descriptors. A line holding only "-" is a capture that recognized
nobody. Blank lines and lines starting with # are skipped.

All captures of a run write to the same session slot. Captures are
processed one at a time in input order. A failed capture is reported
and the run continues.

Example:
  printf 'Tony Stark,Thor\nBruce Banner\n' | rollcall run
  ls frames/*.yaml | rollcall run --faces --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCaptures(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Faces, "faces", false, "read frame file paths instead of labels")

	return cmd
}

func runCaptures(opts *RunOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	sess, err := openSession(ctx, opts.RootOptions, recognizerFor(opts.RootOptions, opts.Faces), opts.Faces, opts.Overrides)
	if err != nil {
		_ = formatter.Error(setupCode(err), err.Error(), nil)
		return err
	}
	defer sess.Close()

	eng := sess.engine
	runErr := make(chan error, 1)
	go func() {
		runErr <- eng.Run(ctx)
	}()

	slog.Info("run started", "db", opts.Database, "policy", opts.SlotPolicy)
	report := RunReport{Captures: []RunLine{}}

	lines, scanErr := readLines(ctx, cmd.InOrStdin())
	lineNo := 0
read:
	for {
		var text string
		select {
		case <-ctx.Done():
			break read
		case l, ok := <-lines:
			if !ok {
				break read
			}
			text = l
		}

		lineNo++
		line := strings.TrimSpace(text)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		out := RunLine{Line: lineNo}
		frame, err := parseFrame(line, opts.Faces)
		if err == nil {
			outcome := <-eng.Submit(frame)
			out.Result, err = outcome.Result, outcome.Err
		}

		if err != nil {
			report.Failed++
			out.Error = &CLIError{Code: lineCode(err), Message: err.Error()}
			if formatter.Format != "json" {
				fmt.Fprintf(formatter.Writer, "✗ line %d: %s: %v\n", lineNo, out.Error.Code, err)
			}
		} else {
			report.Applied++
			if formatter.Format != "json" {
				printCapture(formatter, out.Result)
			}
		}
		report.Captures = append(report.Captures, out)
	}

	eng.Stop()
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "engine error", err)
	}
	select {
	case err := <-scanErr:
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read input", err)
		}
	default:
	}
	slog.Info("run stopped", "applied", report.Applied, "failed", report.Failed)

	return outputRunReport(formatter, report)
}

// readLines scans r on its own goroutine until EOF or ctx is done. At EOF
// the scan error (possibly nil) is sent before the lines channel closes.
func readLines(ctx context.Context, r io.Reader) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()
	return lines, errc
}

// parseFrame turns one input line into a frame.
func parseFrame(line string, faces bool) (recognize.Frame, error) {
	if faces {
		return recognize.LoadFrame(line)
	}
	if line == emptyCapture {
		return recognize.Frame{Labels: []string{}}, nil
	}
	parts := strings.Split(line, ",")
	labels := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			labels = append(labels, p)
		}
	}
	return recognize.Frame{Labels: labels}, nil
}

// lineCode returns the code reported for a failed line.
func lineCode(err error) string {
	if errors.Is(err, engine.ErrStopped) {
		return ErrCodeGeneric
	}
	if engine.CodeOf(err) == "" {
		return ErrCodeBadInput
	}
	return cliCode(err)
}

func outputRunReport(formatter *OutputFormatter, report RunReport) error {
	if formatter.Format == "json" {
		response := CLIResponse{Status: "ok", Data: report}
		if report.Failed > 0 {
			response.Status = "error"
			response.Error = &CLIError{
				Code:    report.firstError(),
				Message: fmt.Sprintf("%d capture(s) failed", report.Failed),
			}
		}
		if err := json.NewEncoder(formatter.Writer).Encode(response); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(formatter.Writer, "\nRun Summary: %d applied, %d failed\n", report.Applied, report.Failed)
	}

	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d capture(s) failed", report.Failed))
	}
	return nil
}

func (r RunReport) firstError() string {
	for _, c := range r.Captures {
		if c.Error != nil {
			return c.Error.Code
		}
	}
	return ErrCodeGeneric
}
