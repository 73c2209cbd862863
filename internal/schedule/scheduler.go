// Package schedule decides which workflow node runs next.
//
// The scheduler is pure: it reads the manifest and a checkpoint status
// snapshot and mutates neither. Policy decisions about what to do with a
// blocked node (halt, report, ignore) belong to the controller.
package schedule

import (
	"github.com/andyan77/diyu-agent-sub001/internal/checkpoint"
	"github.com/andyan77/diyu-agent-sub001/internal/manifest"
)

// Decision describes the next candidate node in declaration order.
type Decision struct {
	// ID is the candidate workflow id.
	ID string

	// Blocked is true when at least one dependency is not done.
	Blocked bool

	// Unmet lists the dependency ids that are not done, in declared order.
	Unmet []string
}

// IsRunnable reports whether every dependency of node has status done.
//
// A node with no dependencies is always runnable.
func IsRunnable(node manifest.WorkflowNode, statuses map[string]checkpoint.Status) bool {
	return len(unmetDeps(node, statuses)) == 0
}

// NextPending walks declaration order and returns the first node whose
// status is not done.
//
// The returned node is deliberately not required to be runnable: a blocked
// node is surfaced as Decision.Blocked with its unmet dependencies, never
// silently skipped, so the caller can report why progress stopped. The
// second return is false when every node is done.
func NextPending(nodes []manifest.WorkflowNode, statuses map[string]checkpoint.Status) (Decision, bool) {
	for _, n := range nodes {
		if status(n.ID, statuses) == checkpoint.StatusDone {
			continue
		}
		unmet := unmetDeps(n, statuses)
		return Decision{ID: n.ID, Blocked: len(unmet) > 0, Unmet: unmet}, true
	}
	return Decision{}, false
}

func unmetDeps(node manifest.WorkflowNode, statuses map[string]checkpoint.Status) []string {
	var unmet []string
	for _, dep := range node.DependsOn {
		if status(dep, statuses) != checkpoint.StatusDone {
			unmet = append(unmet, dep)
		}
	}
	return unmet
}

func status(id string, statuses map[string]checkpoint.Status) checkpoint.Status {
	if s, ok := statuses[id]; ok {
		return s
	}
	return checkpoint.StatusPending
}
