package compiler

import (
	"sync"

	"github.com/aretw0/chatflow/pkg/domain"
)

// Cache memoizes compiled plans by (template, version). Plans are
// rebuilt on template change, never patched in place.
type Cache struct {
	mu    sync.RWMutex
	plans map[string]*domain.CompiledPlan
}

// NewCache creates an empty plan cache.
func NewCache() *Cache {
	return &Cache{
		plans: make(map[string]*domain.CompiledPlan),
	}
}

func cacheKey(templateID, version string) string {
	return templateID + "@" + version
}

// Get returns the cached plan for a template version, if present.
func (c *Cache) Get(templateID, version string) (*domain.CompiledPlan, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	plan, ok := c.plans[cacheKey(templateID, version)]
	return plan, ok
}

// GetOrCompile returns the cached plan or compiles and caches it.
// Compilation errors are never cached.
func (c *Cache) GetOrCompile(graph *domain.Graph) (*domain.CompiledPlan, error) {
	if plan, ok := c.Get(graph.TemplateID, graph.Version); ok {
		return plan, nil
	}

	plan, err := Compile(graph)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A concurrent compile of the same version wins harmlessly:
	// compilation is deterministic, both plans are identical.
	key := cacheKey(graph.TemplateID, graph.Version)
	if existing, ok := c.plans[key]; ok {
		return existing, nil
	}
	c.plans[key] = plan
	return plan, nil
}

// Invalidate drops every cached version of a template.
func (c *Cache) Invalidate(templateID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.plans {
		if plan := c.plans[key]; plan.TemplateID == templateID {
			delete(c.plans, key)
		}
	}
}
