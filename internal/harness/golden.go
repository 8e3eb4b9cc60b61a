package harness

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/rollcall/internal/codec"
)

// GoldenDir is where scenario golden files live, relative to the package.
const GoldenDir = "testdata/scenarios/golden"

// Snapshot serializes a scenario's trace and persisted state as canonical
// JSON for golden comparison.
//
// Persisted values are embedded as decoded JSON so that the golden file
// shows them as they are stored, not as escaped strings.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	trace := make([]any, len(result.Trace))
	for i, tr := range result.Trace {
		m := map[string]any{
			"step":   tr.Step,
			"action": tr.Action,
			"slot":   tr.Slot,
		}
		if tr.Error != "" {
			m["error"] = tr.Error
		}
		if tr.applied {
			m["present"] = tr.Present
		}
		if len(tr.Unknown) > 0 {
			m["unknown"] = tr.Unknown
		}
		trace[i] = m
	}

	persisted := make(map[string]any, len(result.Persisted))
	for key, raw := range result.Persisted {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode persisted %s: %w", key, err)
		}
		persisted[key] = v
	}

	return codec.Marshal(map[string]any{
		"scenario_name": scenarioName,
		"trace":         trace,
		"persisted":     persisted,
	})
}

// RunWithGolden executes a scenario and compares its snapshot against
// GoldenDir/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	data, err := Snapshot(scenario.Name, result)
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)

	return result, nil
}
