package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/rollcall/internal/roster"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool                     `json:"valid"`
	Name    string                   `json:"name,omitempty"`
	Members []string                 `json:"members,omitempty"`
	Errors  []roster.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [roster.cue]",
		Short: "Validate a roster file",
		Long: `Validate a CUE roster definition without touching the database.

Checks syntax, the roster schema, empty and duplicate member names.
Defaults to the configured roster file.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.Roster
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(rootOpts, path, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	formatter.VerboseLog("Validating roster %s", path)

	def, errs := roster.Validate(path)
	if len(errs) > 0 {
		return outputValidationErrors(formatter, errs)
	}

	formatter.VerboseLog("Roster %q has %d member(s)", def.Name, len(def.Members))
	return outputValidateSuccess(formatter, def)
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, def *roster.Definition) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Name: def.Name, Members: def.Members})
	}

	fmt.Fprintf(formatter.Writer, "✓ Roster %q valid (%d members)\n", def.Name, len(def.Members))
	return nil
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []roster.ValidationError) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1 (test/validation failure)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", err.Code, err.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
