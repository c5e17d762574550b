package dsl_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/chatflow/internal/compiler"
	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/aretw0/chatflow/pkg/dsl"
)

func buildWelcome(t *testing.T) *domain.Graph {
	t.Helper()
	flow := dsl.New("tpl-welcome").Version("v1").Keywords("hola")

	flow.Add("greet").Message("¡Hola!").Go("ask-name")
	flow.Add("ask-name").Input("¿Cómo te llamas?").SaveTo("name").Go("menu")
	flow.Add("menu").Buttons("¿Qué te interesa?").
		Option("Ver precios", "prices").
		Option("Agendar visita", "visit")
	flow.Add("prices").Message("Desde $100.").Go("bye")
	flow.Add("visit").Input("¿Qué día?").SaveTo("visit_day").Go("bye")
	flow.Add("bye").End("¡Gracias!")

	g, err := flow.Build()
	require.NoError(t, err)
	return g
}

func TestBuilder_ProducesCompilableGraph(t *testing.T) {
	g := buildWelcome(t)

	assert.Equal(t, "tpl-welcome", g.TemplateID)
	assert.Equal(t, "greet", g.EntryNodeID, "first node added is the entry")
	assert.Equal(t, []string{"hola"}, g.Keywords)

	plan, err := compiler.Compile(g)
	require.NoError(t, err)
	menu := plan.Step("menu")
	require.NotNil(t, menu)
	assert.Equal(t, "prices", menu.HandleTargets["prices"])
	assert.Equal(t, "visit", menu.HandleTargets["visit"])
}

func TestBuilder_AddIsIdempotent(t *testing.T) {
	flow := dsl.New("tpl")
	first := flow.Add("a").Message("hola")
	again := flow.Add("a")
	assert.Same(t, first, again)
}

func TestBuilder_ValidatesOnBuild(t *testing.T) {
	flow := dsl.New("tpl")
	flow.Add("a").Message("hola").Go("ghost")

	_, err := flow.Build()
	var gerr *domain.GraphError
	require.ErrorAs(t, err, &gerr)
	assert.Contains(t, gerr.Reason, "undeclared")
}

func TestBuilder_RejectsTwoDefaultTransitions(t *testing.T) {
	flow := dsl.New("tpl")
	flow.Add("a").Message("hola").Go("b").Go("c")
	flow.Add("b").End("fin")
	flow.Add("c").End("fin")

	_, err := flow.Build()
	var gerr *domain.GraphError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "a", gerr.NodeID)
	assert.Contains(t, gerr.Reason, "default outgoing edge")
}

func TestBuilder_ExplicitEntry(t *testing.T) {
	flow := dsl.New("tpl").Entry("real-start")
	flow.Add("alt").Message("x").Go("real-start")
	flow.Add("real-start").End("fin")

	g, err := flow.Build()
	require.NoError(t, err)
	assert.Equal(t, "real-start", g.EntryNodeID)
}

func TestSource_ServesBuiltGraphs(t *testing.T) {
	g := buildWelcome(t)
	src := dsl.NewSource(g)

	got, err := src.GetGraph(context.Background(), "tpl-welcome")
	require.NoError(t, err)
	assert.Same(t, g, got)

	_, err = src.GetGraph(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrPlanNotFound)

	assert.ElementsMatch(t, []string{"tpl-welcome"}, src.TemplateIDs())
}
