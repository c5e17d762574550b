package domain

import "fmt"

// NodeKind constants define the control flow behavior of a graph node.
const (
	// KindMessage displays content and continues immediately (soft step).
	KindMessage = "message"
	// KindInput displays content and halts waiting for free-text input (hard step).
	KindInput = "input"
	// KindButtons offers a small set of tappable options and halts.
	KindButtons = "buttons"
	// KindList offers a selectable list of options and halts.
	KindList = "list"
	// KindCondition routes silently based on its outgoing edges.
	KindCondition = "condition"
	// KindAction executes an external side-effect and continues.
	KindAction = "action"
	// KindEnd is a sink state.
	KindEnd = "end"
)

// IsChoiceKind reports whether the kind offers options to pick from.
func IsChoiceKind(kind string) bool {
	return kind == KindButtons || kind == KindList
}

// KindWaitsForReply reports the default reply behavior for a kind.
// Choice and input nodes halt the turn; everything else flows through.
func KindWaitsForReply(kind string) bool {
	return kind == KindInput || IsChoiceKind(kind)
}

// Option is one selectable entry offered by a choice node.
type Option struct {
	Label  string `json:"label" yaml:"label"`
	Value  string `json:"value,omitempty" yaml:"value,omitempty"`
	Handle string `json:"handle,omitempty" yaml:"handle,omitempty"`
}

// DefaultHandle returns the handle assigned to an option that was
// authored without one. It is stable across recompiles of the same graph.
func DefaultHandle(index int) string {
	return fmt.Sprintf("handle-%d", index)
}

// GraphNode represents one authoring-time step in a conversation template.
type GraphNode struct {
	ID   string `json:"id" yaml:"id"`
	Kind string `json:"kind" yaml:"kind"`

	// Content holds the display text for this node. The engine treats it
	// as opaque; templating is the host's concern.
	Content string `json:"content,omitempty" yaml:"content,omitempty"`

	// Options is the ordered choice set for buttons/list kinds.
	Options []Option `json:"options,omitempty" yaml:"options,omitempty"`

	// Variable names the collected-data key the user's answer is stored
	// under. Defaults to the node ID when unset.
	Variable string `json:"variable,omitempty" yaml:"variable,omitempty"`

	// StageTrigger is an opaque funnel stage id dispatched to the stage
	// hook when execution crosses this node.
	StageTrigger string `json:"stage_trigger,omitempty" yaml:"stage_trigger,omitempty"`

	// WaitsForReply overrides the kind's default halting behavior.
	WaitsForReply *bool `json:"waits_for_reply,omitempty" yaml:"waits_for_reply,omitempty"`
}

// Waits resolves the effective reply behavior for the node.
func (n *GraphNode) Waits() bool {
	if n.WaitsForReply != nil {
		return *n.WaitsForReply
	}
	return KindWaitsForReply(n.Kind)
}

// VariableName resolves the collected-data key for the node's answer.
func (n *GraphNode) VariableName() string {
	if n.Variable != "" {
		return n.Variable
	}
	return n.ID
}

// GraphEdge is a directed transition between two nodes.
// A handle-qualified edge disambiguates which choice option it belongs to.
type GraphEdge struct {
	Source       string `json:"source" yaml:"source"`
	Target       string `json:"target" yaml:"target"`
	SourceHandle string `json:"source_handle,omitempty" yaml:"source_handle,omitempty"`

	// Condition marks an edge as conditional. An empty or "default"
	// condition is the always-taken transition.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// IsDefault reports whether the edge is the unconditional transition.
func (e *GraphEdge) IsDefault() bool {
	return e.Condition == "" || e.Condition == "default"
}

// Graph is the full conversation template as supplied by the template source.
type Graph struct {
	TemplateID  string      `json:"template_id" yaml:"template_id"`
	Version     string      `json:"version,omitempty" yaml:"version,omitempty"`
	EntryNodeID string      `json:"entry_node_id" yaml:"entry_node_id"`
	Keywords    []string    `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Nodes       []GraphNode `json:"nodes" yaml:"nodes"`
	Edges       []GraphEdge `json:"edges" yaml:"edges"`
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *GraphNode {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}
