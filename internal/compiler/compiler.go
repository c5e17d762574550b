// Package compiler turns an authored node/edge graph into an immutable,
// branch-aware execution plan. Compilation is deterministic and pure: the
// same graph always compiles to the same plan, so plans are cacheable by
// template version.
package compiler

import (
	"github.com/aretw0/chatflow/pkg/domain"
)

// Compile walks the graph from its entry node and emits a CompiledPlan.
// Choice nodes terminate their branch; each of their options gets a
// separate sub-plan rooted at the option's edge target, registered under
// (nodeID, handle). An option with no resolvable target is a compile-time
// fault, never a silently dropped branch.
func Compile(graph *domain.Graph) (*domain.CompiledPlan, error) {
	if graph.Node(graph.EntryNodeID) == nil {
		return nil, &domain.GraphError{
			TemplateID: graph.TemplateID,
			NodeID:     graph.EntryNodeID,
			Reason:     "missing entry node",
		}
	}

	c := &compilation{
		graph: graph,
		plan: &domain.CompiledPlan{
			TemplateID:  graph.TemplateID,
			Version:     graph.Version,
			EntryNodeID: graph.EntryNodeID,
			Keywords:    append([]string(nil), graph.Keywords...),
			Branches:    make(map[domain.BranchKey][]domain.Step),
		},
		inProgress: make(map[domain.BranchKey]bool),
	}

	steps, err := c.walk(graph.EntryNodeID, make(map[string]bool))
	if err != nil {
		return nil, err
	}
	c.plan.Steps = steps
	c.plan.Finalize()
	return c.plan, nil
}

type compilation struct {
	graph      *domain.Graph
	plan       *domain.CompiledPlan
	inProgress map[domain.BranchKey]bool
}

// walk emits the step sequence reachable from nodeID. The visited set is
// per-walk: it guards against cycles within one branch without starving
// other branches of shared nodes (first occurrence wins inside a walk).
func (c *compilation) walk(nodeID string, visited map[string]bool) ([]domain.Step, error) {
	var steps []domain.Step

	for nodeID != "" && !visited[nodeID] {
		visited[nodeID] = true

		node := c.graph.Node(nodeID)
		if node == nil {
			return nil, &domain.GraphError{
				TemplateID: c.graph.TemplateID,
				NodeID:     nodeID,
				Reason:     "edge references unknown node",
			}
		}

		step := domain.Step{
			NodeID:        node.ID,
			Kind:          node.Kind,
			Content:       node.Content,
			Options:       append([]domain.Option(nil), node.Options...),
			Variable:      node.VariableName(),
			StageTrigger:  node.StageTrigger,
			WaitsForReply: node.Waits(),
		}

		if domain.IsChoiceKind(node.Kind) {
			if err := c.compileChoice(node, &step); err != nil {
				return nil, err
			}
			// A choice terminates its branch; re-entry happens through
			// the per-option sub-plans.
			steps = append(steps, step)
			return steps, nil
		}

		if node.Kind != domain.KindEnd {
			step.Next = c.defaultNext(node.ID)
		}
		steps = append(steps, step)

		// A missing outgoing edge on a non-terminal kind is an
		// implicit end, not an error.
		nodeID = step.Next
	}

	return steps, nil
}

// compileChoice resolves every option to its branch target and compiles
// the sub-plan rooted there.
func (c *compilation) compileChoice(node *domain.GraphNode, step *domain.Step) error {
	step.HandleTargets = make(map[string]string, len(node.Options))
	seen := make(map[string]bool, len(node.Options))
	outgoing := c.outgoing(node.ID)

	for i, opt := range node.Options {
		handle := opt.Handle
		if handle == "" {
			handle = domain.DefaultHandle(i)
		}
		if seen[handle] {
			return &domain.GraphError{
				TemplateID: c.graph.TemplateID,
				NodeID:     node.ID,
				Handle:     handle,
				Reason:     "duplicate option handle",
			}
		}
		seen[handle] = true

		target := c.handleTarget(node.ID, handle)
		if target == "" && i < len(outgoing) {
			// No handle-qualified edge: fall back to the edge at the
			// option's ordinal position.
			target = outgoing[i].Target
		}
		if target == "" {
			return &domain.GraphError{
				TemplateID: c.graph.TemplateID,
				NodeID:     node.ID,
				Handle:     handle,
				Reason:     "dangling choice",
			}
		}
		step.HandleTargets[handle] = target

		key := domain.BranchKey{NodeID: node.ID, Handle: handle}
		if _, done := c.plan.Branches[key]; done || c.inProgress[key] {
			continue
		}
		c.inProgress[key] = true
		branch, err := c.walk(target, make(map[string]bool))
		if err != nil {
			return err
		}
		c.plan.Branches[key] = branch
		delete(c.inProgress, key)
	}
	return nil
}

// outgoing returns the handle-less edges leaving a node, in authored order.
func (c *compilation) outgoing(nodeID string) []domain.GraphEdge {
	var edges []domain.GraphEdge
	for _, e := range c.graph.Edges {
		if e.Source == nodeID && e.SourceHandle == "" {
			edges = append(edges, e)
		}
	}
	return edges
}

// handleTarget finds the edge qualified with the given option handle.
func (c *compilation) handleTarget(nodeID, handle string) string {
	for _, e := range c.graph.Edges {
		if e.Source == nodeID && e.SourceHandle == handle {
			return e.Target
		}
	}
	return ""
}

// defaultNext picks the single transition a non-choice node follows:
// the edge marked "default", else the first unconditional edge, else the
// first edge. No edge at all terminates the branch. Graphs that went
// through template.Validate carry at most one default edge per node;
// for anything else the tie-break is declaration order.
func (c *compilation) defaultNext(nodeID string) string {
	outgoing := c.outgoing(nodeID)
	if len(outgoing) == 0 {
		return ""
	}
	for _, e := range outgoing {
		if e.Condition == "default" {
			return e.Target
		}
	}
	for _, e := range outgoing {
		if e.Condition == "" {
			return e.Target
		}
	}
	return outgoing[0].Target
}
