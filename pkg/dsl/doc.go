/*
Package dsl provides a fluent Go builder for constructing conversation
graphs programmatically, instead of authoring YAML template files. This
is useful for dynamic flow generation, unit tests, and leveraging IDE
autocompletion and type-checking.

Example usage:

	flow := dsl.New("tpl-welcome").Keywords("hola")

	flow.Add("greet").Message("¡Hola!").Go("ask-name")
	flow.Add("ask-name").Input("¿Cómo te llamas?").SaveTo("name").Go("menu")
	flow.Add("menu").Buttons("¿Qué te interesa?").
		Option("Ver precios", "prices").
		Option("Agendar visita", "visit")
	flow.Add("prices").Message("Desde $100.").Go("bye")
	flow.Add("visit").Input("¿Qué día?").SaveTo("visit_day").Go("bye")
	flow.Add("bye").End("¡Gracias!")

	graph, err := flow.Build()
	// dsl.NewSource(graph) can be passed straight to chatflow.New.
*/
package dsl
