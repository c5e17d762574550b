package domain

import "strings"

// Step is one executable unit of a compiled plan.
type Step struct {
	NodeID        string   `json:"node_id"`
	Kind          string   `json:"kind"`
	Content       string   `json:"content,omitempty"`
	Options       []Option `json:"options,omitempty"`
	Variable      string   `json:"variable,omitempty"`
	StageTrigger  string   `json:"stage_trigger,omitempty"`
	WaitsForReply bool     `json:"waits_for_reply"`

	// Next is the node to advance to for non-choice steps.
	// Empty means the branch terminates here (implicit end).
	Next string `json:"next,omitempty"`

	// HandleTargets maps an option handle to the node its branch
	// sub-plan is rooted at. Populated only for choice steps.
	HandleTargets map[string]string `json:"handle_targets,omitempty"`
}

// BranchKey identifies the sub-plan entered by picking one option
// on one choice node.
type BranchKey struct {
	NodeID string `json:"node_id"`
	Handle string `json:"handle"`
}

// CompiledPlan is the immutable, branch-aware execution plan derived
// from one template version. It is built once per (template, version),
// cached, and never mutated after construction.
type CompiledPlan struct {
	TemplateID  string   `json:"template_id"`
	Version     string   `json:"version,omitempty"`
	EntryNodeID string   `json:"entry_node_id"`
	Keywords    []string `json:"keywords,omitempty"`

	// Steps is the main walk from the entry node, in emission order.
	Steps []Step `json:"steps"`

	// Branches holds one sub-plan per (choice node, handle) pair.
	Branches map[BranchKey][]Step `json:"-"`

	index map[string]*Step
}

// Finalize builds the node index. The compiler calls it once after all
// steps are placed; the plan is treated as immutable afterwards.
func (p *CompiledPlan) Finalize() {
	p.index = make(map[string]*Step, len(p.Steps))
	for i := range p.Steps {
		p.index[p.Steps[i].NodeID] = &p.Steps[i]
	}
	for key := range p.Branches {
		branch := p.Branches[key]
		for i := range branch {
			if _, ok := p.index[branch[i].NodeID]; !ok {
				p.index[branch[i].NodeID] = &branch[i]
			}
		}
	}
}

// Step returns the compiled step for a node id, or nil if the node is
// not part of the plan.
func (p *CompiledPlan) Step(nodeID string) *Step {
	return p.index[nodeID]
}

// Branch returns the sub-plan rooted at the target of one choice option.
func (p *CompiledPlan) Branch(nodeID, handle string) ([]Step, bool) {
	steps, ok := p.Branches[BranchKey{NodeID: nodeID, Handle: handle}]
	return steps, ok
}

// MatchesKeyword reports whether the raw text is an entry keyword for
// this plan. An empty keyword list accepts any text.
func (p *CompiledPlan) MatchesKeyword(text string) bool {
	if len(p.Keywords) == 0 {
		return true
	}
	for _, kw := range p.Keywords {
		if strings.EqualFold(strings.TrimSpace(kw), strings.TrimSpace(text)) {
			return true
		}
	}
	return false
}
