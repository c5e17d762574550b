/*
Package chatflow is a stateful conversation engine: it executes declarative
flow graphs (greeting funnels, lead capture, menu navigation) against
per-user sessions, with deterministic input resolution and built-in error
recovery that never loses captured contact data.

# Concept

A flow is a graph of nodes (messages, questions, button/list choices, ends)
connected by edges. The compiler turns a graph into an execution plan; the
executor walks the plan one turn at a time, auto-advancing through message
nodes and halting at nodes that wait for a reply. Session state (current
step, collected answers, lead data, history) lives behind a locked store,
so concurrent messages for the same user serialize instead of racing.

# Key Features

  - Deterministic resolution: option id, ordinal, label, and unique prefix
    matching, in a fixed order, so the same reply always goes the same way.
  - Durable sessions: pluggable store (in-memory or redis) with sliding
    TTL, per-user caps, and background cleanup.
  - Error recovery: failed turns roll back to the last consistent step;
    lead data survives rollback, fallback, and even emergency degradation.
  - Funnel hooks: nodes can trigger stage transitions toward an external
    CRM collaborator, without that collaborator being able to fail a turn.

# Usage

Author flows in YAML (see internal/template) or in Go with pkg/dsl, then
drive turns through the Engine:

	package main

	import (
		"context"
		"fmt"
		"log"

		"github.com/aretw0/chatflow"
		"github.com/aretw0/chatflow/pkg/dsl"
	)

	func main() {
		b := dsl.New("welcome").Keywords("hola")
		b.Add("greet").Message("¡Hola!").Go("ask-name")
		b.Add("ask-name").Input("¿Cómo te llamas?").SaveTo("name").Go("bye")
		b.Add("bye").End("¡Gracias!")

		graph, err := b.Build()
		if err != nil {
			log.Fatal(err)
		}

		engine, err := chatflow.New(dsl.NewSource(graph), []string{"welcome"})
		if err != nil {
			log.Fatal(err)
		}

		ctx := context.Background()
		result, _ := engine.HandleTurn(ctx, "user-1", "tenant-1", "hola")
		for _, msg := range result.Messages {
			fmt.Println(msg.Text)
		}
	}

HandleTurn always returns a usable result: runtime faults are classified,
retried when transient, and otherwise rolled back by the recovery
subsystem before the caller sees anything.
*/
package chatflow
