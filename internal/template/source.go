package template

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/chatflow/pkg/domain"
)

// DirSource serves templates from a directory of YAML files. The file
// stem is the template id: tpl-welcome.yaml serves template
// "tpl-welcome". Parsed graphs are cached until Invalidate.
type DirSource struct {
	root string

	mu    sync.RWMutex
	cache map[string]*domain.Graph
}

// NewDirSource creates a source rooted at dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{
		root:  dir,
		cache: make(map[string]*domain.Graph),
	}
}

// GetGraph loads and parses the template, hitting the cache first.
func (s *DirSource) GetGraph(_ context.Context, templateID string) (*domain.Graph, error) {
	s.mu.RLock()
	g, ok := s.cache[templateID]
	s.mu.RUnlock()
	if ok {
		return g, nil
	}

	path, err := s.resolve(templateID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template %s: %w", templateID, err)
	}
	g, err = Parse(data)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", templateID, err)
	}
	if g.TemplateID != templateID {
		return nil, &domain.GraphError{TemplateID: templateID,
			Reason: fmt.Sprintf("file declares template_id %q", g.TemplateID)}
	}

	s.mu.Lock()
	s.cache[templateID] = g
	s.mu.Unlock()
	return g, nil
}

func (s *DirSource) resolve(templateID string) (string, error) {
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(s.root, templateID+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("template %s: %w", templateID, domain.ErrPlanNotFound)
}

// List returns the ids of every template file under the root, sorted.
func (s *DirSource) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates in %s: %w", s.root, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ext))
	}
	sort.Strings(ids)
	return ids, nil
}

// Invalidate drops the cached graph for a template, or every graph when
// templateID is empty.
func (s *DirSource) Invalidate(templateID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if templateID == "" {
		s.cache = make(map[string]*domain.Graph)
		return
	}
	delete(s.cache, templateID)
}
