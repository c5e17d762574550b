package dsl

import (
	"context"

	"github.com/aretw0/chatflow/internal/template"
	"github.com/aretw0/chatflow/pkg/domain"
)

// Builder manages the graph construction.
type Builder struct {
	templateID string
	version    string
	entry      string
	keywords   []string

	order []string
	nodes map[string]*NodeBuilder
}

// New creates a new graph builder for the given template id.
func New(templateID string) *Builder {
	return &Builder{
		templateID: templateID,
		nodes:      make(map[string]*NodeBuilder),
	}
}

// Version sets the template version, used for plan cache keying.
func (b *Builder) Version(v string) *Builder {
	b.version = v
	return b
}

// Keywords sets the entry keywords that start this flow.
func (b *Builder) Keywords(kw ...string) *Builder {
	b.keywords = append(b.keywords, kw...)
	return b
}

// Entry overrides the entry node. By default the first node added is
// the entry.
func (b *Builder) Entry(id string) *Builder {
	b.entry = id
	return b
}

// Add creates a new node in the graph.
// If the node already exists, it returns the existing builder.
func (b *Builder) Add(id string) *NodeBuilder {
	if nb, ok := b.nodes[id]; ok {
		return nb
	}
	nb := &NodeBuilder{
		node:    domain.GraphNode{ID: id},
		builder: b,
	}
	b.nodes[id] = nb
	b.order = append(b.order, id)
	if b.entry == "" {
		b.entry = id
	}
	return nb
}

// Build assembles and validates the graph.
func (b *Builder) Build() (*domain.Graph, error) {
	g := &domain.Graph{
		TemplateID:  b.templateID,
		Version:     b.version,
		EntryNodeID: b.entry,
		Keywords:    b.keywords,
	}
	for _, id := range b.order {
		nb := b.nodes[id]
		g.Nodes = append(g.Nodes, nb.node)
		g.Edges = append(g.Edges, nb.edges...)
	}
	if err := template.Validate(g); err != nil {
		return nil, err
	}
	return g, nil
}

// Source is an in-memory graph source over built graphs, for hosts and
// tests that author flows in Go instead of YAML.
type Source map[string]*domain.Graph

// NewSource indexes the graphs by template id.
func NewSource(graphs ...*domain.Graph) Source {
	s := make(Source, len(graphs))
	for _, g := range graphs {
		s[g.TemplateID] = g
	}
	return s
}

// GetGraph implements ports.GraphSource.
func (s Source) GetGraph(_ context.Context, templateID string) (*domain.Graph, error) {
	g, ok := s[templateID]
	if !ok {
		return nil, domain.ErrPlanNotFound
	}
	return g, nil
}

// TemplateIDs lists the indexed templates, in insertion-independent
// map order; callers that care about entry matching order should pass
// an explicit slice to the engine.
func (s Source) TemplateIDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	return ids
}
