// Package evidence persists the durable audit trail of what was executed
// and with what result.
//
// Layout under the state directory:
//
//	<stateDir>/evidence/<session-id>/<workflow-id>.json   (overwritten per re-run)
//	<stateDir>/evidence/<session-id>/progress.log          (append-only)
//
// Node records are idempotent at node granularity: a re-run of the same node
// within the same session overwrites its own record set only. Prior
// sessions' evidence is never deleted.
package evidence

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andyan77/diyu-agent-sub001/internal/runner"
)

// CheckResult is the serialized outcome of one check.
type CheckResult struct {
	Description     string  `json:"description"`
	Status          string  `json:"status"`
	Reason          string  `json:"reason,omitempty"`
	ExitCode        *int    `json:"exit_code"`
	DurationSeconds float64 `json:"duration_seconds"`
	OutputExcerpt   string  `json:"output_excerpt"`
}

// NodeRecord is the result set for one executed workflow node.
type NodeRecord struct {
	WorkflowID          string        `json:"workflow_id"`
	SessionID           string        `json:"session_id"`
	CommitFingerprint   string        `json:"commit_fingerprint"`
	CheckTimeoutSeconds int           `json:"check_timeout_seconds"`
	Passed              int           `json:"passed"`
	Failed              int           `json:"failed"`
	Checks              []CheckResult `json:"checks"`
	RecordedAt          time.Time     `json:"recorded_at"`
}

// FromRunnerResults converts runner results into a NodeRecord, counting
// passes and failures.
func FromRunnerResults(workflowID, sessionID, fingerprint string, checkTimeout time.Duration, results []*runner.Result) NodeRecord {
	rec := NodeRecord{
		WorkflowID:          workflowID,
		SessionID:           sessionID,
		CommitFingerprint:   fingerprint,
		CheckTimeoutSeconds: int(checkTimeout / time.Second),
		Checks:              make([]CheckResult, 0, len(results)),
		RecordedAt:          time.Now().UTC(),
	}
	for _, r := range results {
		rec.Checks = append(rec.Checks, CheckResult{
			Description:     r.Description,
			Status:          string(r.Status),
			Reason:          r.Reason,
			ExitCode:        r.ExitCode,
			DurationSeconds: r.Duration.Seconds(),
			OutputExcerpt:   r.Output,
		})
		switch r.Status {
		case runner.StatusPass:
			rec.Passed++
		case runner.StatusFail:
			rec.Failed++
		}
	}
	return rec
}

// Writer persists node records and the session progress log.
type Writer struct {
	stateDir string
}

func NewWriter(stateDir string) (*Writer, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, errors.New("stateDir is required")
	}
	return &Writer{stateDir: stateDir}, nil
}

func (w *Writer) sessionDir(sessionID string) string {
	return filepath.Join(w.stateDir, "evidence", sessionID)
}

// NodePath returns where the record set for a workflow id lives.
func (w *Writer) NodePath(sessionID, workflowID string) string {
	return filepath.Join(w.sessionDir(sessionID), workflowID+".json")
}

// WriteNode serializes the record set for one node, creating directories as
// needed. The write is atomic, so a crash never leaves a half-written
// record, and an overwrite replaces the file in one step.
func (w *Writer) WriteNode(rec NodeRecord) error {
	if strings.TrimSpace(rec.SessionID) == "" {
		return errors.New("session id is required")
	}
	if strings.TrimSpace(rec.WorkflowID) == "" {
		return errors.New("workflow id is required")
	}
	if err := os.MkdirAll(w.sessionDir(rec.SessionID), 0o755); err != nil {
		return fmt.Errorf("ensure evidence dir: %w", err)
	}
	data, err := jsonMarshalStable(rec)
	if err != nil {
		return fmt.Errorf("marshal evidence: %w", err)
	}
	if err := writeFileAtomic(w.NodePath(rec.SessionID, rec.WorkflowID), data, 0o644); err != nil {
		return fmt.Errorf("write evidence: %w", err)
	}
	return nil
}

// AppendProgress appends one timestamped line to the session's
// human-readable progress log. The log is never rewritten.
func (w *Writer) AppendProgress(sessionID, line string) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("session id is required")
	}
	if err := os.MkdirAll(w.sessionDir(sessionID), 0o755); err != nil {
		return fmt.Errorf("ensure evidence dir: %w", err)
	}
	path := filepath.Join(w.sessionDir(sessionID), "progress.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open progress log: %w", err)
	}
	defer f.Close()
	stamp := time.Now().UTC().Format(time.RFC3339)
	if _, err := fmt.Fprintf(f, "%s %s\n", stamp, line); err != nil {
		return fmt.Errorf("append progress log: %w", err)
	}
	return nil
}
