package dsl

import "github.com/aretw0/chatflow/pkg/domain"

// NodeBuilder provides a fluent API for configuring a node.
type NodeBuilder struct {
	node    domain.GraphNode
	builder *Builder

	edges []domain.GraphEdge
}

// Message sets the content and marks the node as a flow-through message.
func (n *NodeBuilder) Message(content string) *NodeBuilder {
	n.node.Kind = domain.KindMessage
	n.node.Content = content
	return n
}

// Input sets the content and marks the node as a free-text question.
func (n *NodeBuilder) Input(content string) *NodeBuilder {
	n.node.Kind = domain.KindInput
	n.node.Content = content
	return n
}

// Buttons sets the content and marks the node as a button choice.
func (n *NodeBuilder) Buttons(content string) *NodeBuilder {
	n.node.Kind = domain.KindButtons
	n.node.Content = content
	return n
}

// List sets the content and marks the node as a list choice.
func (n *NodeBuilder) List(content string) *NodeBuilder {
	n.node.Kind = domain.KindList
	n.node.Content = content
	return n
}

// End sets the content and marks the node as terminal.
func (n *NodeBuilder) End(content string) *NodeBuilder {
	n.node.Kind = domain.KindEnd
	n.node.Content = content
	return n
}

// Option adds a choice option routed to the target node. The handle
// defaults to the target id.
func (n *NodeBuilder) Option(label, target string) *NodeBuilder {
	handle := target
	n.node.Options = append(n.node.Options, domain.Option{Label: label, Handle: handle})
	n.edges = append(n.edges, domain.GraphEdge{
		Source:       n.node.ID,
		Target:       target,
		SourceHandle: handle,
	})
	return n
}

// SaveTo specifies the collected-data key the answer is stored under.
func (n *NodeBuilder) SaveTo(variable string) *NodeBuilder {
	n.node.Variable = variable
	return n
}

// Stage marks the node with a funnel stage trigger.
func (n *NodeBuilder) Stage(stageID string) *NodeBuilder {
	n.node.StageTrigger = stageID
	return n
}

// Wait overrides the kind's default halting behavior.
func (n *NodeBuilder) Wait(wait bool) *NodeBuilder {
	n.node.WaitsForReply = &wait
	return n
}

// Go adds an unconditional transition to the target node.
func (n *NodeBuilder) Go(target string) *NodeBuilder {
	n.edges = append(n.edges, domain.GraphEdge{
		Source: n.node.ID,
		Target: target,
	})
	return n
}

// Branch adds a conditional transition to the target node.
func (n *NodeBuilder) Branch(condition, target string) *NodeBuilder {
	n.edges = append(n.edges, domain.GraphEdge{
		Source:    n.node.ID,
		Target:    target,
		Condition: condition,
	})
	return n
}
