// Package template parses conversation templates from YAML documents
// into executable graphs. Authoring keys are forgiving: several aliases
// map to each canonical field so hand-written templates stay terse.
package template

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/chatflow/pkg/domain"
)

// templateDoc mirrors the YAML document shape. It uses mapstructure
// tags so alias keys decode through the same path as canonical ones.
type templateDoc struct {
	TemplateID  string   `mapstructure:"template_id"`
	ID          string   `mapstructure:"id"`
	Version     string   `mapstructure:"version"`
	Entry       string   `mapstructure:"entry"`
	EntryNodeID string   `mapstructure:"entry_node_id"`
	Keywords    []string `mapstructure:"keywords"`

	Nodes []nodeDoc `mapstructure:"nodes"`
	Edges []edgeDoc `mapstructure:"edges"`
}

type nodeDoc struct {
	ID      string `mapstructure:"id"`
	Kind    string `mapstructure:"kind"`
	Type    string `mapstructure:"type"`
	Content string `mapstructure:"content"`
	Text    string `mapstructure:"text"`

	Options []optionDoc `mapstructure:"options"`

	Variable string `mapstructure:"variable"`
	SaveTo   string `mapstructure:"save_to"`

	StageTrigger string `mapstructure:"stage_trigger"`
	Wait         *bool  `mapstructure:"wait"`

	// Next is the single-edge shorthand: authoring "next: x" on a node
	// is equivalent to declaring an edge node -> x.
	Next string `mapstructure:"next"`
}

type optionDoc struct {
	Label  string `mapstructure:"label"`
	Text   string `mapstructure:"text"`
	Value  string `mapstructure:"value"`
	Handle string `mapstructure:"handle"`
}

type edgeDoc struct {
	Source string `mapstructure:"source"`
	From   string `mapstructure:"from"`
	Target string `mapstructure:"target"`
	To     string `mapstructure:"to"`

	SourceHandle string `mapstructure:"source_handle"`
	Handle       string `mapstructure:"handle"`
	Condition    string `mapstructure:"condition"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Parse decodes one YAML template document into a validated graph.
func Parse(data []byte) (*domain.Graph, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse template yaml: %w", err)
	}

	var doc templateDoc
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &doc,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("failed to decode template document: %w", err)
	}

	graph := buildGraph(doc)
	if err := Validate(graph); err != nil {
		return nil, err
	}
	return graph, nil
}

func buildGraph(doc templateDoc) *domain.Graph {
	g := &domain.Graph{
		TemplateID:  firstNonEmpty(doc.TemplateID, doc.ID),
		Version:     doc.Version,
		EntryNodeID: firstNonEmpty(doc.EntryNodeID, doc.Entry),
		Keywords:    doc.Keywords,
	}

	for _, n := range doc.Nodes {
		node := domain.GraphNode{
			ID:            n.ID,
			Kind:          firstNonEmpty(n.Kind, n.Type, domain.KindMessage),
			Content:       firstNonEmpty(n.Content, n.Text),
			Variable:      firstNonEmpty(n.Variable, n.SaveTo),
			StageTrigger:  n.StageTrigger,
			WaitsForReply: n.Wait,
		}
		for _, o := range n.Options {
			node.Options = append(node.Options, domain.Option{
				Label:  firstNonEmpty(o.Label, o.Text),
				Value:  o.Value,
				Handle: o.Handle,
			})
		}
		g.Nodes = append(g.Nodes, node)

		if n.Next != "" {
			g.Edges = append(g.Edges, domain.GraphEdge{Source: n.ID, Target: n.Next})
		}
	}

	for _, e := range doc.Edges {
		g.Edges = append(g.Edges, domain.GraphEdge{
			Source:       firstNonEmpty(e.Source, e.From),
			Target:       firstNonEmpty(e.Target, e.To),
			SourceHandle: firstNonEmpty(e.SourceHandle, e.Handle),
			Condition:    e.Condition,
		})
	}

	return g
}

var knownKinds = map[string]bool{
	domain.KindMessage:   true,
	domain.KindInput:     true,
	domain.KindButtons:   true,
	domain.KindList:      true,
	domain.KindCondition: true,
	domain.KindAction:    true,
	domain.KindEnd:       true,
}

// Validate checks the structural rules a graph must satisfy before it
// reaches the compiler: a resolvable entry node, unique node ids, edges
// between declared nodes, at most one default outgoing edge per node,
// and options on every choice node.
func Validate(g *domain.Graph) error {
	if g.TemplateID == "" {
		return &domain.GraphError{Reason: "template has no id"}
	}
	if len(g.Nodes) == 0 {
		return &domain.GraphError{TemplateID: g.TemplateID, Reason: "template has no nodes"}
	}

	seen := map[string]bool{}
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.ID == "" {
			return &domain.GraphError{TemplateID: g.TemplateID, Reason: "node without id"}
		}
		if seen[n.ID] {
			return &domain.GraphError{TemplateID: g.TemplateID, NodeID: n.ID, Reason: "duplicate node id"}
		}
		seen[n.ID] = true

		if !knownKinds[n.Kind] {
			return &domain.GraphError{TemplateID: g.TemplateID, NodeID: n.ID,
				Reason: fmt.Sprintf("unknown node kind %q", n.Kind)}
		}
		if domain.IsChoiceKind(n.Kind) && len(n.Options) == 0 {
			return &domain.GraphError{TemplateID: g.TemplateID, NodeID: n.ID,
				Reason: "choice node has no options"}
		}
		for _, o := range n.Options {
			if o.Label == "" {
				return &domain.GraphError{TemplateID: g.TemplateID, NodeID: n.ID,
					Reason: "option without label"}
			}
		}
	}

	if g.EntryNodeID == "" {
		return &domain.GraphError{TemplateID: g.TemplateID, Reason: "template has no entry node"}
	}
	if !seen[g.EntryNodeID] {
		return &domain.GraphError{TemplateID: g.TemplateID, NodeID: g.EntryNodeID,
			Reason: "entry node not declared"}
	}

	defaults := map[string]bool{}
	for i := range g.Edges {
		e := &g.Edges[i]
		if !seen[e.Source] {
			return &domain.GraphError{TemplateID: g.TemplateID, NodeID: e.Source,
				Reason: "edge from undeclared node"}
		}
		if !seen[e.Target] {
			return &domain.GraphError{TemplateID: g.TemplateID, NodeID: e.Target,
				Reason: "edge to undeclared node"}
		}
		if e.SourceHandle == "" && e.IsDefault() {
			if defaults[e.Source] {
				return &domain.GraphError{TemplateID: g.TemplateID, NodeID: e.Source,
					Reason: "node has more than one default outgoing edge"}
			}
			defaults[e.Source] = true
		}
	}

	return nil
}
