// Package domain holds the core types shared across the chatflow engine:
// the authoring-time graph, the compiled execution plan, the per-user
// session, and the error taxonomy. It has no dependencies on the rest of
// the module so every layer can import it freely.
package domain
