package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/roach88/rollcall/internal/config"
)

// RootOptions holds global flags for all commands.
//
// Settings left unset on the command line come from the environment
// (and an optional .env file) through config.Load.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	EnvFile     string
	Database    string
	Roster      string
	References  string
	Slots       int
	SlotPolicy  string
	Threshold   float64
	LabelPrefix string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the rollcall CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "rollcall",
		Short: "rollcall - camera attendance tracking",
		Long: `Track attendance for a fixed roster across sessions.

Each run claims one session slot. Every capture marks the recognized
roster members present and everyone else absent, and the grid is saved
after each capture.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if err := loadEnvFile(opts.EnvFile); err != nil {
				return err
			}
			opts.applyConfig(cmd, config.Load())
			setupLogging(opts.Verbose)
			return nil
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.EnvFile, "env-file", ".env", "optional dotenv file read before the environment")
	flags.StringVar(&opts.Database, "db", config.DefaultDatabase, "path to SQLite database (ROLLCALL_DB)")
	flags.StringVar(&opts.Roster, "roster", config.DefaultRoster, "CUE roster file (ROLLCALL_ROSTER)")
	flags.StringVar(&opts.References, "references", config.DefaultReferences, "YAML reference descriptors (ROLLCALL_REFERENCES)")
	flags.IntVar(&opts.Slots, "slots", config.DefaultSlots, "slots in a fresh grid (ROLLCALL_SLOTS)")
	flags.StringVar(&opts.SlotPolicy, "policy", config.PolicyReject, "slot exhaustion policy: reject|grow (ROLLCALL_SLOT_POLICY)")
	flags.Float64Var(&opts.Threshold, "threshold", config.DefaultMatchThreshold, "max mean descriptor distance for a match (ROLLCALL_MATCH_THRESHOLD)")
	flags.StringVar(&opts.LabelPrefix, "label-prefix", config.DefaultLabelPrefix, "session header prefix (ROLLCALL_LABEL_PREFIX)")

	// Add subcommands
	cmd.AddCommand(NewCaptureCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// loadEnvFile loads path into the environment. A missing file is fine.
// Variables already set in the environment win.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return WrapExitError(ExitCommandError, "failed to load env file", err)
	}
	return nil
}

// applyConfig fills every setting not given as a flag from cfg.
func (o *RootOptions) applyConfig(cmd *cobra.Command, cfg *config.Config) {
	changed := func(name string) bool {
		f := cmd.Flag(name)
		return f != nil && f.Changed
	}
	if !changed("db") {
		o.Database = cfg.Database
	}
	if !changed("roster") {
		o.Roster = cfg.Roster
	}
	if !changed("references") {
		o.References = cfg.References
	}
	if !changed("slots") {
		o.Slots = cfg.Slots
	}
	if !changed("policy") {
		o.SlotPolicy = cfg.SlotPolicy
	}
	if !changed("threshold") {
		o.Threshold = cfg.MatchThreshold
	}
	if !changed("label-prefix") {
		o.LabelPrefix = cfg.LabelPrefix
	}
}

// setupLogging sends structured logs to stderr so stdout stays parseable.
func setupLogging(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// newFormatter returns the formatter for a command's output.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}
