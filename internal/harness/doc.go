// Package harness runs attendance scenarios against the real engine.
//
// A scenario is a YAML file naming a roster, a slot capacity and a slot
// policy, followed by steps (claim, capture, apply, new_run, resume) and
// assertions on the final grid. Each scenario runs in a fresh in-memory
// SQLite store with a fixed clock and sequential capture IDs, so the same
// scenario always produces the same persisted bytes.
//
// Besides the scenario's own assertions, every run checks that:
//   - each row has one mark per session header
//   - each present count equals the number of present marks
//   - loading the saved state and saving it again reproduces the stored bytes
//
// Failures can be injected per step with fail: recognizer or fail: save to
// exercise the discard and rollback paths.
//
// # Golden Files
//
// Snapshot serializes the step trace and the decoded persisted values as
// canonical JSON. RunWithGolden compares it with
// testdata/scenarios/golden/<name>.golden using goldie; the rollcall test
// command compares <scenarios-dir>/golden/<file>.golden the same way.
package harness
