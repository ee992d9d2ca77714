// Package scope binds conversation registries to request scopes.
//
// Hook implements the three lifecycle points the registry depends on:
// Enter before a scope's work (cancels conversations not covering the new
// scope), Exit after it (cancels non-persistent conversations) and Teardown
// when a session ends (cancels everything).
//
// Middleware drives the hook for HTTP hosts. It resolves the session from a
// signed cookie, holds the session's lock for the whole request, and exposes
// the request's Scope to handlers through the context.
package scope
