// Package manifest defines the declarative workflow model and its loader.
//
// A manifest is an ordered list of workflow nodes. Declaration order is
// significant: it is the default execution order whenever the dependency
// graph does not force a different one. Nodes are immutable once loaded;
// nothing in the engine mutates a WorkflowNode after Load returns.
package manifest

// Check is one externally-invoked verification step belonging to a node.
//
// Command is an argument vector executed by direct process spawn. It is
// never re-parsed by a shell, so quoting in the manifest is literal.
type Check struct {
	// Description is the human label, unique within its node for reporting.
	Description string `yaml:"description"`

	// Command is the argv to execute: Command[0] is the program.
	Command []string `yaml:"command"`
}

// WorkflowNode is one schedulable unit of orchestrated work.
type WorkflowNode struct {
	// ID is the unique, stable identifier used for dependencies,
	// checkpointing and evidence naming.
	ID string `yaml:"id"`

	// Name is the human-readable label.
	Name string `yaml:"name"`

	// DependsOn lists ids of nodes that must be done before this one runs.
	// The loader guarantees the resulting graph is a DAG.
	DependsOn []string `yaml:"depends_on"`

	// Checks run in declared order. All of them run to completion even
	// after a failure, so the evidence set for the node is complete.
	Checks []Check `yaml:"checks"`

	// TimeoutBudgetSeconds is the total time budget for the node's checks.
	// Zero means "use the engine default".
	TimeoutBudgetSeconds int `yaml:"timeout_budget_seconds"`

	// TaskRefs is opaque traceability metadata (task-card identifiers).
	TaskRefs []string `yaml:"task_refs"`

	// DispatchHints is opaque traceability metadata (role/agent identifiers).
	DispatchHints []string `yaml:"dispatch_hints"`
}

// Manifest is the validated, ordered definition of all workflow nodes for a
// session. Safe for concurrent read access.
type Manifest struct {
	nodes []WorkflowNode
	byID  map[string]int
}

// Nodes returns the nodes in declaration order.
func (m *Manifest) Nodes() []WorkflowNode {
	out := make([]WorkflowNode, len(m.nodes))
	copy(out, m.nodes)
	return out
}

// Node returns the node with the given id.
func (m *Manifest) Node(id string) (WorkflowNode, bool) {
	i, ok := m.byID[id]
	if !ok {
		return WorkflowNode{}, false
	}
	return m.nodes[i], true
}

// Len returns the number of nodes.
func (m *Manifest) Len() int { return len(m.nodes) }
