// Package ports defines the interfaces between the chatflow core and its
// collaborators: session persistence, distributed locking, the template
// source, and the stage-transition hook into the external funnel.
// Adapters implement these; the core depends only on this package.
package ports
