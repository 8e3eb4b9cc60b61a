package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rollcall/internal/testutil"
)

const testRoster = `roster: {
	name: "Avengers 101"
	members: ["Black Widow", "Captain America", "Thor"]
}
`

var day1 = time.Date(2024, 10, 3, 9, 0, 0, 0, time.UTC)

// testEnv is a temp directory with a roster file and a database path.
type testEnv struct {
	opts      *RootOptions
	overrides EngineOverrides
	clock     *testutil.FixedClock
	dir       string
}

func newTestEnv(t *testing.T, format string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	rosterPath := filepath.Join(dir, "roster.cue")
	require.NoError(t, os.WriteFile(rosterPath, []byte(testRoster), 0644))

	clock := testutil.NewFixedClock(day1)
	return &testEnv{
		opts: &RootOptions{
			Format:      format,
			Database:    filepath.Join(dir, "rollcall.db"),
			Roster:      rosterPath,
			References:  filepath.Join(dir, "references.yaml"),
			Slots:       3,
			SlotPolicy:  "reject",
			Threshold:   0.6,
			LabelPrefix: "Session",
		},
		overrides: EngineOverrides{Clock: clock, IDs: testutil.NewSequenceIDGenerator("cap")},
		clock:     clock,
		dir:       dir,
	}
}

func (e *testEnv) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// execute runs cmd with args and returns its stdout.
func execute(cmd *cobra.Command, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	if args == nil {
		args = []string{} // never fall back to os.Args
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func (e *testEnv) capture(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newCaptureCommand(&CaptureOptions{RootOptions: e.opts, Overrides: e.overrides})
	return execute(cmd, args...)
}

// run feeds input to the run command.
func (e *testEnv) run(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()
	cmd := newRunCommand(&RunOptions{RootOptions: e.opts, Overrides: e.overrides})
	cmd.SetIn(strings.NewReader(input))
	return execute(cmd, args...)
}

// decodeData decodes the data payload of a JSON CLIResponse into v.
func decodeData(t *testing.T, out string, v any) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	if v != nil && resp.Data != nil {
		raw, err := json.Marshal(resp.Data)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, v))
	}
	return resp
}
