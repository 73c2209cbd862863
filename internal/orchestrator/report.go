package orchestrator

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/andyan77/diyu-agent-sub001/internal/checkpoint"
	"github.com/andyan77/diyu-agent-sub001/internal/evidence"
	"github.com/andyan77/diyu-agent-sub001/internal/manifest"
	"github.com/andyan77/diyu-agent-sub001/internal/runner"
	"github.com/andyan77/diyu-agent-sub001/internal/schedule"
)

var (
	styleDone    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	stylePending = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleHeading = lipgloss.NewStyle().Bold(true)
)

func marker(s checkpoint.Status) string {
	switch s {
	case checkpoint.StatusDone:
		return styleDone.Render("✓")
	case checkpoint.StatusFailed:
		return styleFailed.Render("✗")
	case checkpoint.StatusRunning:
		return styleRunning.Render("~")
	default:
		return stylePending.Render("·")
	}
}

// reporter renders invocation output. Human mode prints styled text as
// events happen; JSON mode emits one machine-readable object per line.
type reporter struct {
	out  io.Writer
	json bool
}

func newReporter(out io.Writer, jsonMode bool) *reporter {
	return &reporter{out: out, json: jsonMode}
}

func (r *reporter) emit(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintln(r.out, string(b))
}

func (r *reporter) resetDone() {
	if r.json {
		r.emit(map[string]any{"event": "reset", "ok": true})
		return
	}
	fmt.Fprintln(r.out, "checkpoint store cleared")
}

func (r *reporter) manifestError(err error) {
	if r.json {
		r.emit(map[string]any{"event": "manifest_error", "error": err.Error()})
		return
	}
	fmt.Fprintf(r.out, "%s manifest error: %v\n", styleFailed.Render("✗"), err)
}

func (r *reporter) sessionStarted(sessionID string, resume bool) {
	if r.json {
		r.emit(map[string]any{"event": "session", "session_id": sessionID, "resume": resume})
		return
	}
	fmt.Fprintf(r.out, "session %s\n", sessionID)
}

func (r *reporter) plan(nodes []manifest.WorkflowNode, defaultBudget int) {
	if r.json {
		type planNode struct {
			ID           string   `json:"id"`
			Name         string   `json:"name"`
			DependsOn    []string `json:"depends_on"`
			Checks       int      `json:"checks"`
			BudgetSecs   int      `json:"timeout_budget_seconds"`
			PerCheckSecs int      `json:"effective_check_timeout_seconds"`
		}
		out := make([]planNode, 0, len(nodes))
		for _, n := range nodes {
			budget := n.TimeoutBudgetSeconds
			if budget == 0 && defaultBudget > 0 {
				budget = defaultBudget
			}
			out = append(out, planNode{
				ID:           n.ID,
				Name:         n.Name,
				DependsOn:    n.DependsOn,
				Checks:       len(n.Checks),
				BudgetSecs:   budget,
				PerCheckSecs: int(runner.EffectiveTimeout(budget, len(n.Checks)).Seconds()),
			})
		}
		r.emit(map[string]any{"event": "plan", "workflows": out})
		return
	}

	fmt.Fprintln(r.out, styleHeading.Render("execution plan"))
	for _, n := range nodes {
		budget := n.TimeoutBudgetSeconds
		if budget == 0 && defaultBudget > 0 {
			budget = defaultBudget
		}
		per := runner.EffectiveTimeout(budget, len(n.Checks))
		deps := "-"
		if len(n.DependsOn) > 0 {
			deps = strings.Join(n.DependsOn, ", ")
		}
		fmt.Fprintf(r.out, "  %s (%s)  deps: %s  checks: %d  timeout/check: %s\n",
			n.ID, n.Name, deps, len(n.Checks), per)
		for _, c := range n.Checks {
			fmt.Fprintf(r.out, "      - %s: %s\n", c.Description, strings.Join(c.Command, " "))
		}
	}
}

func (r *reporter) status(nodes []manifest.WorkflowNode, snap checkpoint.Snapshot) {
	if r.json {
		type statusNode struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			Status string `json:"status"`
		}
		out := make([]statusNode, 0, len(nodes))
		for _, n := range nodes {
			out = append(out, statusNode{ID: n.ID, Name: n.Name, Status: string(snap.Get(n.ID))})
		}
		r.emit(map[string]any{"event": "status", "session_id": snap.SessionID, "workflows": out})
		return
	}

	if snap.SessionID != "" {
		fmt.Fprintf(r.out, "%s  session %s\n", styleHeading.Render("checkpoint status"), snap.SessionID)
	} else {
		fmt.Fprintln(r.out, styleHeading.Render("checkpoint status"))
	}
	for _, n := range nodes {
		st := snap.Get(n.ID)
		fmt.Fprintf(r.out, "  %s %-24s %s\n", marker(st), n.ID, st)
	}
}

func (r *reporter) nodeStarted(node manifest.WorkflowNode) {
	if r.json {
		r.emit(map[string]any{"event": "workflow_started", "id": node.ID, "name": node.Name})
		return
	}
	fmt.Fprintf(r.out, "%s %s (%s)\n", styleRunning.Render("~"), node.ID, node.Name)
}

func (r *reporter) checkFinished(node manifest.WorkflowNode, res *runner.Result) {
	if r.json {
		out := map[string]any{
			"event":            "check_finished",
			"workflow_id":      node.ID,
			"description":      res.Description,
			"status":           string(res.Status),
			"duration_seconds": res.Duration.Seconds(),
		}
		if res.Reason != "" {
			out["reason"] = res.Reason
		}
		if res.ExitCode != nil {
			out["exit_code"] = *res.ExitCode
		}
		r.emit(out)
		return
	}
	mark := styleDone.Render("✓")
	if res.Status != runner.StatusPass {
		mark = styleFailed.Render("✗")
	}
	suffix := ""
	if res.Reason != "" {
		suffix = " (" + res.Reason + ")"
	}
	fmt.Fprintf(r.out, "    %s %s%s [%s]\n", mark, res.Description, suffix, res.Duration.Round(10*time.Millisecond))
}

func (r *reporter) nodeFinished(node manifest.WorkflowNode, status checkpoint.Status, rec evidence.NodeRecord) {
	if r.json {
		r.emit(map[string]any{
			"event":       "workflow_finished",
			"id":          node.ID,
			"status":      string(status),
			"passed":      rec.Passed,
			"failed":      rec.Failed,
			"fingerprint": rec.CommitFingerprint,
		})
		return
	}
	fmt.Fprintf(r.out, "  %s %s: %s (%d/%d checks passed)\n",
		marker(status), node.ID, status, rec.Passed, rec.Passed+rec.Failed)
}

func (r *reporter) blocked(d schedule.Decision) {
	if r.json {
		r.emit(map[string]any{"event": "blocked", "id": d.ID, "unmet": d.Unmet})
		return
	}
	fmt.Fprintf(r.out, "%s %s is blocked: dependencies not done: %s\n",
		styleFailed.Render("✗"), d.ID, strings.Join(d.Unmet, ", "))
}

func (r *reporter) halted(node manifest.WorkflowNode, results []*runner.Result) {
	if r.json {
		var failedChecks []string
		for _, res := range results {
			if res.Status != runner.StatusPass {
				failedChecks = append(failedChecks, res.Description)
			}
		}
		r.emit(map[string]any{"event": "halted", "id": node.ID, "failed_checks": failedChecks})
		return
	}
	fmt.Fprintf(r.out, "%s pipeline halted: workflow %s failed\n", styleFailed.Render("✗"), node.ID)
	for _, res := range results {
		if res.Status == runner.StatusPass {
			continue
		}
		fmt.Fprintf(r.out, "    failed check: %s (%s)\n", res.Description, res.Reason)
	}
	fmt.Fprintln(r.out, "fix the failing checks and re-invoke with --resume to continue from here")
}

func (r *reporter) completed(nodes []manifest.WorkflowNode, snap checkpoint.Snapshot) {
	if r.json {
		r.emit(map[string]any{"event": "completed", "session_id": snap.SessionID, "workflows": len(nodes)})
		return
	}
	fmt.Fprintf(r.out, "%s all %d workflows done\n", styleDone.Render("✓"), len(nodes))
}

func (r *reporter) alreadyDone(node manifest.WorkflowNode) {
	if r.json {
		r.emit(map[string]any{"event": "already_done", "id": node.ID})
		return
	}
	fmt.Fprintf(r.out, "%s %s is already done (reset the store to re-run)\n", styleDone.Render("✓"), node.ID)
}

func (r *reporter) singleDone(node manifest.WorkflowNode) {
	if r.json {
		r.emit(map[string]any{"event": "workflow_done", "id": node.ID})
		return
	}
	fmt.Fprintf(r.out, "%s %s done\n", styleDone.Render("✓"), node.ID)
}
