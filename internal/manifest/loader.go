package manifest

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type manifestFile struct {
	Workflows []WorkflowNode `yaml:"workflows"`
}

// Load reads and validates the workflow manifest at path.
//
// The loader is a pure read: it has no side effects and does not consult
// environment variables. It rejects:
//   - YAML that does not match the schema (unknown fields included)
//   - empty or duplicate node ids
//   - depends_on entries referencing unknown ids
//   - self-dependencies and dependency cycles
//   - checks without a description or a command vector
//   - duplicate check descriptions within one node
//
// On success the returned Manifest preserves declaration order.
func Load(path string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(b)
}

// Parse validates manifest bytes. See Load for the rejection rules.
func Parse(b []byte) (*Manifest, error) {
	var mf manifestFile
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&mf); err != nil {
		if err == io.EOF {
			return nil, invalidf("empty manifest")
		}
		return nil, invalidf("parse yaml: %v", err)
	}
	if len(mf.Workflows) == 0 {
		return nil, invalidf("no workflows defined")
	}

	byID := make(map[string]int, len(mf.Workflows))
	for i, n := range mf.Workflows {
		if strings.TrimSpace(n.ID) == "" {
			return nil, invalidf("workflow at position %d: id is required", i)
		}
		if _, exists := byID[n.ID]; exists {
			return nil, invalidf("duplicate workflow id: %q", n.ID)
		}
		byID[n.ID] = i

		seen := make(map[string]struct{}, len(n.Checks))
		for j, c := range n.Checks {
			if strings.TrimSpace(c.Description) == "" {
				return nil, invalidf("workflow %q: check at position %d: description is required", n.ID, j)
			}
			if _, dup := seen[c.Description]; dup {
				return nil, invalidf("workflow %q: duplicate check description: %q", n.ID, c.Description)
			}
			seen[c.Description] = struct{}{}
			if len(c.Command) == 0 || strings.TrimSpace(c.Command[0]) == "" {
				return nil, invalidf("workflow %q: check %q: command is required", n.ID, c.Description)
			}
		}
		if n.TimeoutBudgetSeconds < 0 {
			return nil, invalidf("workflow %q: timeout_budget_seconds must be >= 0", n.ID)
		}
	}

	// Dependency references must resolve before cycle detection runs.
	for _, n := range mf.Workflows {
		for _, dep := range n.DependsOn {
			if dep == n.ID {
				return nil, invalidf("workflow %q depends on itself", n.ID)
			}
			if _, ok := byID[dep]; !ok {
				return nil, invalidf("workflow %q depends on unknown id: %q", n.ID, dep)
			}
		}
	}

	if path := findCycle(mf.Workflows, byID); path != nil {
		return nil, cycleError(path)
	}

	return &Manifest{nodes: mf.Workflows, byID: byID}, nil
}

// findCycle runs a depth-first traversal with a recursion-stack marker and
// returns one cycle path as a stable witness, or nil when the graph is a DAG.
//
// Determinism: nodes are visited in declaration order and dependencies in
// declared order, so the same manifest always yields the same witness.
func findCycle(nodes []WorkflowNode, byID map[string]int) []string {
	const (
		white = 0 // unvisited
		gray  = 1 // on the recursion stack
		black = 2 // fully explored
	)

	color := make([]int, len(nodes))
	stack := make([]string, 0, len(nodes))

	var cycle []string
	var dfs func(i int) bool
	dfs = func(i int) bool {
		color[i] = gray
		stack = append(stack, nodes[i].ID)
		for _, dep := range nodes[i].DependsOn {
			j := byID[dep]
			switch color[j] {
			case white:
				if dfs(j) {
					return true
				}
			case gray:
				// Back-edge: the cycle is the stack suffix from dep onward,
				// closed with dep itself.
				for k, id := range stack {
					if id == dep {
						cycle = append(cycle, stack[k:]...)
						cycle = append(cycle, dep)
						return true
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[i] = black
		return false
	}

	for i := range nodes {
		if color[i] != white {
			continue
		}
		if dfs(i) {
			return cycle
		}
	}
	return nil
}
