package compiler_test

import (
	"testing"

	"github.com/aretw0/chatflow/internal/compiler"
	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_ReturnsSamePlan(t *testing.T) {
	cache := compiler.NewCache()

	first, err := cache.GetOrCompile(welcomeGraph())
	require.NoError(t, err)

	again, err := cache.GetOrCompile(welcomeGraph())
	require.NoError(t, err)
	assert.Same(t, first, again, "same template version must hit the cache")
}

func TestCache_VersionsAreDistinct(t *testing.T) {
	cache := compiler.NewCache()

	v1, err := cache.GetOrCompile(welcomeGraph())
	require.NoError(t, err)

	g2 := welcomeGraph()
	g2.Version = "v2"
	v2, err := cache.GetOrCompile(g2)
	require.NoError(t, err)

	assert.NotSame(t, v1, v2)
}

func TestCache_ErrorsAreNotCached(t *testing.T) {
	cache := compiler.NewCache()

	bad := welcomeGraph()
	bad.EntryNodeID = "nope"
	_, err := cache.GetOrCompile(bad)
	var gerr *domain.GraphError
	require.ErrorAs(t, err, &gerr)

	_, ok := cache.Get(bad.TemplateID, bad.Version)
	assert.False(t, ok)
}

func TestCache_Invalidate(t *testing.T) {
	cache := compiler.NewCache()

	_, err := cache.GetOrCompile(welcomeGraph())
	require.NoError(t, err)

	cache.Invalidate("tpl-welcome")
	_, ok := cache.Get("tpl-welcome", "v1")
	assert.False(t, ok)
}
