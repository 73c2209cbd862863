// Package orchestrator coordinates one CLI invocation: it resolves the run
// mode, drives the scheduler over the manifest, executes checks through the
// runner, and records outcomes in the checkpoint store and evidence writer.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/andyan77/diyu-agent-sub001/internal/checkpoint"
	"github.com/andyan77/diyu-agent-sub001/internal/evidence"
	"github.com/andyan77/diyu-agent-sub001/internal/manifest"
	"github.com/andyan77/diyu-agent-sub001/internal/runner"
	"github.com/andyan77/diyu-agent-sub001/internal/schedule"
)

// Semantic exit codes.
//
// Blocked is distinct from node failure so operators can tell "a check
// broke" from "the plan could not proceed".
const (
	ExitSuccess          = 0
	ExitNodeFailure      = 1
	ExitBlocked          = 2
	ExitManifestError    = 3
	ExitPersistenceError = 4
	ExitInternalError    = 5
)

// Options is the canonicalized description of one invocation.
type Options struct {
	// ManifestPath locates the workflow manifest.
	ManifestPath string

	// StateDir holds the checkpoint file and evidence directories.
	StateDir string

	// WorkDir is where check commands execute and where the commit
	// fingerprint is taken. Empty means the process current directory.
	WorkDir string

	// Target, when non-empty, runs exactly one workflow node (--wf).
	Target string

	// Resume skips nodes whose checkpoint status is done.
	Resume bool

	// DryRun prints the execution plan without executing anything.
	DryRun bool

	// JSON switches every mode to machine-readable output.
	JSON bool

	// Status prints the current checkpoint state per node, no execution.
	Status bool

	// Reset clears the checkpoint store, no execution.
	Reset bool

	// DefaultBudgetSeconds overrides the built-in default node budget when
	// positive.
	DefaultBudgetSeconds int

	// Out receives all report output. Nil means os.Stdout.
	Out io.Writer
}

// Run executes one invocation and returns the semantic exit code.
//
// The returned error carries diagnostic detail for the CLI layer; the exit
// code alone is authoritative for scripting.
func Run(ctx context.Context, opts Options) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	rep := newReporter(opts.Out, opts.JSON)

	store, err := checkpoint.NewStore(opts.StateDir)
	if err != nil {
		return ExitInternalError, err
	}

	// Reset touches only the checkpoint store; no manifest needed.
	if opts.Reset {
		if err := store.Reset(); err != nil {
			return ExitPersistenceError, err
		}
		rep.resetDone()
		return ExitSuccess, nil
	}

	man, err := manifest.Load(opts.ManifestPath)
	if err != nil {
		rep.manifestError(err)
		return ExitManifestError, err
	}

	switch {
	case opts.Status:
		snap, err := store.Load()
		if err != nil {
			return ExitPersistenceError, err
		}
		rep.status(man.Nodes(), snap)
		return ExitSuccess, nil

	case opts.DryRun:
		rep.plan(man.Nodes(), opts.DefaultBudgetSeconds)
		return ExitSuccess, nil

	case opts.Target != "":
		return runSingle(ctx, opts, man, store, rep)

	default:
		return runFull(ctx, opts, man, store, rep)
	}
}

// runFull executes nodes in declaration order until the pipeline completes,
// a node fails (fail-fast) or the next node is blocked.
func runFull(ctx context.Context, opts Options, man *manifest.Manifest, store *checkpoint.Store, rep *reporter) (int, error) {
	// Without --resume the previous session's progress is ignored: the run
	// starts a fresh session. With --resume the session and its done nodes
	// carry over.
	snap, err := store.Begin(!opts.Resume)
	if err != nil {
		return ExitPersistenceError, err
	}
	rep.sessionStarted(snap.SessionID, opts.Resume)

	nodes := man.Nodes()
	for {
		decision, ok := schedule.NextPending(nodes, snap.Statuses())
		if !ok {
			rep.completed(nodes, snap)
			return ExitSuccess, nil
		}
		if decision.Blocked {
			// Declaration order respecting the DAG should make this
			// unreachable in a full run; defended against regardless.
			rep.blocked(decision)
			return ExitBlocked, fmt.Errorf("workflow %q is blocked on %v", decision.ID, decision.Unmet)
		}

		node, _ := man.Node(decision.ID)
		outcome, snap2, err := executeNode(ctx, opts, store, node, snap.SessionID, rep)
		if err != nil {
			return classifyEngineError(err), err
		}
		snap = snap2
		if outcome.status == checkpoint.StatusFailed {
			rep.halted(node, outcome.results)
			return ExitNodeFailure, fmt.Errorf("workflow %q failed", node.ID)
		}
	}
}

// runSingle executes exactly one node. Its dependencies are checked but
// never executed on its behalf.
func runSingle(ctx context.Context, opts Options, man *manifest.Manifest, store *checkpoint.Store, rep *reporter) (int, error) {
	node, ok := man.Node(opts.Target)
	if !ok {
		err := fmt.Errorf("unknown workflow id: %q", opts.Target)
		rep.manifestError(err)
		return ExitManifestError, err
	}

	snap, err := store.Begin(false)
	if err != nil {
		return ExitPersistenceError, err
	}
	rep.sessionStarted(snap.SessionID, true)

	if snap.Get(node.ID) == checkpoint.StatusDone {
		rep.alreadyDone(node)
		return ExitSuccess, nil
	}
	if !schedule.IsRunnable(node, snap.Statuses()) {
		decision := schedule.Decision{ID: node.ID, Blocked: true}
		for _, dep := range node.DependsOn {
			if snap.Get(dep) != checkpoint.StatusDone {
				decision.Unmet = append(decision.Unmet, dep)
			}
		}
		rep.blocked(decision)
		return ExitBlocked, fmt.Errorf("workflow %q is blocked on %v", node.ID, decision.Unmet)
	}

	outcome, _, err := executeNode(ctx, opts, store, node, snap.SessionID, rep)
	if err != nil {
		return classifyEngineError(err), err
	}
	if outcome.status == checkpoint.StatusFailed {
		rep.halted(node, outcome.results)
		return ExitNodeFailure, fmt.Errorf("workflow %q failed", node.ID)
	}
	rep.singleDone(node)
	return ExitSuccess, nil
}

type nodeOutcome struct {
	status  checkpoint.Status
	results []*runner.Result
}

// executeNode runs every check of one node to completion, writes the
// evidence record set, appends to the progress log and transitions the
// checkpoint record. Failures within a single check do not abort sibling
// checks; a persistence failure aborts immediately.
func executeNode(ctx context.Context, opts Options, store *checkpoint.Store, node manifest.WorkflowNode, sessionID string, rep *reporter) (nodeOutcome, checkpoint.Snapshot, error) {
	if _, err := store.Save(node.ID, checkpoint.StatusRunning); err != nil {
		return nodeOutcome{}, checkpoint.Snapshot{}, persistf("checkpoint: %w", err)
	}
	rep.nodeStarted(node)

	budget := node.TimeoutBudgetSeconds
	if budget == 0 && opts.DefaultBudgetSeconds > 0 {
		budget = opts.DefaultBudgetSeconds
	}
	timeout := runner.EffectiveTimeout(budget, len(node.Checks))

	r := &runner.Runner{WorkDir: opts.WorkDir}
	results := make([]*runner.Result, 0, len(node.Checks))
	failed := 0
	for _, check := range node.Checks {
		res, err := r.Run(ctx, check, timeout)
		if err != nil {
			return nodeOutcome{}, checkpoint.Snapshot{}, fmt.Errorf("running check %q: %w", check.Description, err)
		}
		if res.Status != runner.StatusPass {
			failed++
		}
		results = append(results, res)
		rep.checkFinished(node, res)
	}

	writer, err := evidence.NewWriter(opts.StateDir)
	if err != nil {
		return nodeOutcome{}, checkpoint.Snapshot{}, err
	}
	fingerprint := evidence.CommitFingerprint(opts.WorkDir)
	rec := evidence.FromRunnerResults(node.ID, sessionID, fingerprint, timeout, results)
	if err := writer.WriteNode(rec); err != nil {
		return nodeOutcome{}, checkpoint.Snapshot{}, persistf("evidence: %w", err)
	}

	status := checkpoint.StatusDone
	if failed > 0 {
		status = checkpoint.StatusFailed
	}
	line := fmt.Sprintf("workflow %s (%s): %s, %d/%d checks passed", node.ID, node.Name, status, rec.Passed, len(results))
	if err := writer.AppendProgress(sessionID, line); err != nil {
		return nodeOutcome{}, checkpoint.Snapshot{}, persistf("evidence: %w", err)
	}

	snap, err := store.Save(node.ID, status)
	if err != nil {
		return nodeOutcome{}, checkpoint.Snapshot{}, persistf("checkpoint: %w", err)
	}
	rep.nodeFinished(node, status, rec)
	return nodeOutcome{status: status, results: results}, snap, nil
}

// persistenceError marks checkpoint/evidence write failures so they map to
// their own exit code. These must propagate loudly, never be swallowed.
type persistenceError struct{ err error }

func (e *persistenceError) Error() string { return e.err.Error() }
func (e *persistenceError) Unwrap() error { return e.err }

func persistf(format string, args ...any) error {
	return &persistenceError{err: fmt.Errorf(format, args...)}
}

func classifyEngineError(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var pe *persistenceError
	if errors.As(err, &pe) {
		return ExitPersistenceError
	}
	return ExitInternalError
}
