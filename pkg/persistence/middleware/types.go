// Package middleware provides composable wrappers around a session
// store: encryption at rest for the collected answers and lead data,
// and PII masking for stored free-form answers.
package middleware

import "github.com/aretw0/chatflow/pkg/ports"

// Middleware allows wrapping a SessionStore to add behavior.
type Middleware func(ports.SessionStore) ports.SessionStore

// Chain applies middlewares left to right: the first middleware is the
// outermost wrapper.
func Chain(store ports.SessionStore, mws ...Middleware) ports.SessionStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}
