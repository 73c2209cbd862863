package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/andyan77/diyu-agent-sub001/internal/checkpoint"
	"github.com/andyan77/diyu-agent-sub001/internal/evidence"
)

type testEnv struct {
	manifestPath string
	stateDir     string
	workDir      string
	out          bytes.Buffer
}

func newTestEnv(t *testing.T, manifestYAML string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		manifestPath: filepath.Join(dir, "workflows.yaml"),
		stateDir:     filepath.Join(dir, "state"),
		workDir:      dir,
	}
	env.writeManifest(t, manifestYAML)
	return env
}

func (e *testEnv) writeManifest(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(e.manifestPath, []byte(content), 0o644))
}

func (e *testEnv) options() Options {
	return Options{
		ManifestPath: e.manifestPath,
		StateDir:     e.stateDir,
		WorkDir:      e.workDir,
		Out:          &e.out,
	}
}

func (e *testEnv) statuses(t *testing.T) map[string]checkpoint.Status {
	t.Helper()
	store, err := checkpoint.NewStore(e.stateDir)
	require.NoError(t, err)
	snap, err := store.Load()
	require.NoError(t, err)
	return snap.Statuses()
}

func (e *testEnv) sessionID(t *testing.T) string {
	t.Helper()
	store, err := checkpoint.NewStore(e.stateDir)
	require.NoError(t, err)
	snap, err := store.Load()
	require.NoError(t, err)
	return snap.SessionID
}

// pipelineManifest is the canonical three-node chain: A passes, B's command
// is parameterized, C passes. aMarker counts A's executions.
func pipelineManifest(aMarker, bCommand string) string {
	return fmt.Sprintf(`
workflows:
  - id: A
    name: alpha
    checks:
      - description: c1
        command: ["sh", "-c", "echo ran >> %s"]
  - id: B
    name: beta
    depends_on: [A]
    checks:
      - description: c2
        command: [%q]
  - id: C
    name: gamma
    depends_on: [B]
    checks:
      - description: c3
        command: ["true"]
`, aMarker, bCommand)
}

func TestFullRun_FailFastThenResume(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "a.ran")
	env := newTestEnv(t, pipelineManifest(marker, "false"))

	code, err := Run(context.Background(), env.options())
	require.Error(t, err)
	require.Equal(t, ExitNodeFailure, code)

	st := env.statuses(t)
	require.Equal(t, checkpoint.StatusDone, st["A"])
	require.Equal(t, checkpoint.StatusFailed, st["B"])
	_, touched := st["C"]
	require.False(t, touched, "C must remain pending after fail-fast halt")

	require.Contains(t, env.out.String(), "--resume")

	// Fix B and resume: only B and C run.
	env.writeManifest(t, pipelineManifest(marker, "true"))
	opts := env.options()
	opts.Resume = true
	code, err = Run(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, ExitSuccess, code)

	st = env.statuses(t)
	require.Equal(t, checkpoint.StatusDone, st["A"])
	require.Equal(t, checkpoint.StatusDone, st["B"])
	require.Equal(t, checkpoint.StatusDone, st["C"])

	ran, err := os.ReadFile(marker)
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(string(ran), "ran"), "A must not re-execute on resume")
}

func TestFullRun_WithoutResumeStartsFreshSession(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "a.ran")
	env := newTestEnv(t, pipelineManifest(marker, "true"))

	code, err := Run(context.Background(), env.options())
	require.NoError(t, err)
	require.Equal(t, ExitSuccess, code)
	first := env.sessionID(t)

	code, err = Run(context.Background(), env.options())
	require.NoError(t, err)
	require.Equal(t, ExitSuccess, code)
	require.NotEqual(t, first, env.sessionID(t))

	// Both sessions' evidence survive side by side.
	entries, err := os.ReadDir(filepath.Join(env.stateDir, "evidence"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestFullRun_AllChecksInFailingNodeStillRun(t *testing.T) {
	probe := filepath.Join(t.TempDir(), "sibling.ran")
	env := newTestEnv(t, fmt.Sprintf(`
workflows:
  - id: gate
    name: gate
    checks:
      - description: breaks
        command: ["false"]
      - description: sibling
        command: ["sh", "-c", "touch %s"]
`, probe))

	code, err := Run(context.Background(), env.options())
	require.Error(t, err)
	require.Equal(t, ExitNodeFailure, code)

	_, statErr := os.Stat(probe)
	require.NoError(t, statErr, "sibling checks must run to completion after a failure")
}

func TestFullRun_BlockedByDeclarationOrderHalts(t *testing.T) {
	// Valid DAG, but declaration order puts the dependent first: the
	// controller must halt blocked rather than skip ahead.
	env := newTestEnv(t, `
workflows:
  - id: late
    name: late
    depends_on: [early]
    checks: [{description: c, command: ["true"]}]
  - id: early
    name: early
    checks: [{description: c, command: ["true"]}]
`)

	code, err := Run(context.Background(), env.options())
	require.Error(t, err)
	require.Equal(t, ExitBlocked, code)
	require.Contains(t, env.out.String(), "blocked")
}

func TestDryRun_HasNoSideEffects(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "a.ran")
	env := newTestEnv(t, pipelineManifest(marker, "true"))

	opts := env.options()
	opts.DryRun = true
	code, err := Run(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, ExitSuccess, code)

	_, statErr := os.Stat(env.stateDir)
	require.True(t, os.IsNotExist(statErr), "dry-run must not create state")
	_, statErr = os.Stat(marker)
	require.True(t, os.IsNotExist(statErr), "dry-run must not execute checks")

	require.Contains(t, env.out.String(), "A")
	require.Contains(t, env.out.String(), "alpha")
}

func TestStatus_ReportsPerNodeState(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "a.ran")
	env := newTestEnv(t, pipelineManifest(marker, "false"))

	_, _ = Run(context.Background(), env.options())

	opts := env.options()
	opts.Status = true
	opts.JSON = true
	env.out.Reset()
	code, err := Run(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, ExitSuccess, code)

	var doc struct {
		Event     string `json:"event"`
		Workflows []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"workflows"`
	}
	require.NoError(t, json.Unmarshal(env.out.Bytes(), &doc))
	require.Equal(t, "status", doc.Event)
	byID := map[string]string{}
	for _, w := range doc.Workflows {
		byID[w.ID] = w.Status
	}
	require.Equal(t, "done", byID["A"])
	require.Equal(t, "failed", byID["B"])
	require.Equal(t, "pending", byID["C"])
}

func TestReset_ClearsCheckpointKeepsEvidence(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "a.ran")
	env := newTestEnv(t, pipelineManifest(marker, "true"))

	_, err := Run(context.Background(), env.options())
	require.NoError(t, err)
	session := env.sessionID(t)
	evidenceFile := filepath.Join(env.stateDir, "evidence", session, "A.json")
	_, statErr := os.Stat(evidenceFile)
	require.NoError(t, statErr)

	opts := env.options()
	opts.Reset = true
	code, err := Run(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, ExitSuccess, code)

	require.Empty(t, env.statuses(t))
	_, statErr = os.Stat(evidenceFile)
	require.NoError(t, statErr, "reset must not delete evidence")
}

func TestSingleTarget_BlockedWithoutExecution(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "a.ran")
	env := newTestEnv(t, pipelineManifest(marker, "true"))

	opts := env.options()
	opts.Target = "B"
	code, err := Run(context.Background(), opts)
	require.Error(t, err)
	require.Equal(t, ExitBlocked, code)

	st := env.statuses(t)
	_, touched := st["B"]
	require.False(t, touched, "blocked single target must not execute")
	_, statErr := os.Stat(marker)
	require.True(t, os.IsNotExist(statErr), "dependency A must not be executed on B's behalf")
}

func TestSingleTarget_RunsWhenDependencyDone(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "a.ran")
	env := newTestEnv(t, pipelineManifest(marker, "true"))

	opts := env.options()
	opts.Target = "A"
	code, err := Run(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, ExitSuccess, code)

	opts.Target = "B"
	code, err = Run(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, ExitSuccess, code)

	st := env.statuses(t)
	require.Equal(t, checkpoint.StatusDone, st["A"])
	require.Equal(t, checkpoint.StatusDone, st["B"])

	// Already-done targets are reported, not re-executed.
	opts.Target = "A"
	env.out.Reset()
	code, err = Run(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, ExitSuccess, code)
	require.Contains(t, env.out.String(), "already done")

	ran, err := os.ReadFile(marker)
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(string(ran), "ran"))
}

func TestSingleTarget_UnknownID(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "a.ran")
	env := newTestEnv(t, pipelineManifest(marker, "true"))

	opts := env.options()
	opts.Target = "ghost"
	code, err := Run(context.Background(), opts)
	require.Error(t, err)
	require.Equal(t, ExitManifestError, code)
}

func TestRun_ManifestErrorBeforeAnyExecution(t *testing.T) {
	env := newTestEnv(t, `
workflows:
  - id: a
    depends_on: [b]
    checks: [{description: c, command: ["true"]}]
  - id: b
    depends_on: [a]
    checks: [{description: c, command: ["true"]}]
`)

	code, err := Run(context.Background(), env.options())
	require.Error(t, err)
	require.Equal(t, ExitManifestError, code)

	_, statErr := os.Stat(env.stateDir)
	require.True(t, os.IsNotExist(statErr), "a cyclic manifest must fail before any state is created")
}

func TestEvidence_RecordsEffectiveTimeoutAndFingerprint(t *testing.T) {
	env := newTestEnv(t, `
workflows:
  - id: quick
    name: quick
    timeout_budget_seconds: 30
    checks:
      - description: one
        command: ["true"]
      - description: two
        command: ["true"]
`)

	code, err := Run(context.Background(), env.options())
	require.NoError(t, err)
	require.Equal(t, ExitSuccess, code)

	session := env.sessionID(t)
	data, err := os.ReadFile(filepath.Join(env.stateDir, "evidence", session, "quick.json"))
	require.NoError(t, err)

	var rec evidence.NodeRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	// 30s budget over 2 checks clamps to the 30s floor, not 15s.
	require.Equal(t, 30, rec.CheckTimeoutSeconds)
	require.Equal(t, 2, rec.Passed)
	require.NotEmpty(t, rec.CommitFingerprint)

	progress, err := os.ReadFile(filepath.Join(env.stateDir, "evidence", session, "progress.log"))
	require.NoError(t, err)
	require.Contains(t, string(progress), "workflow quick")
}

func TestRun_JSONRunEmitsEvents(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "a.ran")
	env := newTestEnv(t, pipelineManifest(marker, "true"))

	opts := env.options()
	opts.JSON = true
	code, err := Run(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, ExitSuccess, code)

	var events []string
	for _, line := range strings.Split(strings.TrimSpace(env.out.String()), "\n") {
		var doc struct {
			Event string `json:"event"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &doc), "every line must be valid JSON: %s", line)
		events = append(events, doc.Event)
	}
	require.Contains(t, events, "session")
	require.Contains(t, events, "workflow_finished")
	require.Contains(t, events, "completed")
}
