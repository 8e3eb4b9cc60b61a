package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/rollcall/internal/engine"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Capture rejected, scenario or roster validation failed
	ExitCommandError = 2 // Command error (bad flags, unreadable roster, database not openable)
)

// CLI error codes.
const (
	ErrCodeGeneric          = "E001"
	ErrCodeBadInput         = "E002"
	ErrCodeNoAvailableSlot  = "E301"
	ErrCodePersistenceRead  = "E302"
	ErrCodePersistenceWrite = "E303"
	ErrCodeRecognizer       = "E304"
	ErrCodeSlotClosed       = "E305"
	ErrCodeInFlight         = "E306"
)

// runtimeCodes maps engine error codes to CLI codes.
var runtimeCodes = map[engine.RuntimeErrorCode]string{
	engine.ErrCodeNoAvailableSlot:   ErrCodeNoAvailableSlot,
	engine.ErrCodePersistenceRead:   ErrCodePersistenceRead,
	engine.ErrCodePersistenceWrite:  ErrCodePersistenceWrite,
	engine.ErrCodeRecognizerFailure: ErrCodeRecognizer,
	engine.ErrCodeSlotClosed:        ErrCodeSlotClosed,
	engine.ErrCodeCaptureInFlight:   ErrCodeInFlight,
}

// cliCode returns the CLI code for an engine error, or ErrCodeGeneric.
func cliCode(err error) string {
	if code, ok := runtimeCodes[engine.CodeOf(err)]; ok {
		return code
	}
	return ErrCodeGeneric
}

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string      `json:"status"`          // "ok" or "error"
	Data   interface{} `json:"data,omitempty"`  // success payload
	Error  *CLIError   `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string      `json:"code"`              // "E001", "E301", etc.
	Message string      `json:"message"`           // human-readable message
	Details interface{} `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...interface{}) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// Fail reports err through the formatter and returns the ExitError the
// command should return. Engine errors keep their code and exit with
// ExitFailure; anything else is a command error.
func (f *OutputFormatter) Fail(message string, err error) error {
	code := cliCode(err)
	var details interface{}
	var rerr *engine.RuntimeError
	if errors.As(err, &rerr) {
		details = map[string]interface{}{"runtime_code": rerr.Code, "slot": rerr.Slot}
	}
	_ = f.Error(code, fmt.Sprintf("%s: %v", message, err), details)

	exit := ExitCommandError
	if code != ErrCodeGeneric {
		exit = ExitFailure
	}
	return WrapExitError(exit, message, err)
}
