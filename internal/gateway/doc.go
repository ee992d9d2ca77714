// Package gateway is the consumer-facing facade over conversations.
//
// # Overview
//
// A Gateway is bound to one consumer type. It does not hold a registry of
// its own: every call reads the request's *scope.Scope from the context and
// works on that session's registry, keyed by the scope id. A single Gateway
// therefore serves every session and every request.
//
// # Demarcation
//
//	gw.BeginConversation(ctx, persistent)        // default conversation
//	name, err := gw.BeginConversationUnique(ctx, persistent)
//	gw.CommitConversation(ctx, persistent)
//	gw.CancelConversation(ctx, persistent)
//	gw.CommitNamed(ctx, name)
//	gw.CancelNamed(ctx, name)
//
// Target folds the two addressing styles into one value for callers, such
// as the HTTP API, that pick between them at runtime.
//
// # Data Access
//
// Access resolves an interface through the access.Factory, binding it to the
// conversation's unit of work. The default conversation is begun on first
// use:
//
//	a, err := gateway.Access[notes.Access](ctx, gw, false)
//	n, err := a.ByKey(ctx, owner, key)
//
// In mock mode the factory ignores the unit of work and hands out shared
// in-memory implementations.
//
// # Transactions
//
// BeginTransaction, CommitTransaction and RollbackTransaction open and close
// a database transaction inside the targeted conversation. Changes submitted
// while it is open only reach the database when it commits.
//
// # Errors
//
// ErrNoScope is returned when the context carries no scope. Everything else
// comes from the conversation and access packages unchanged, so callers
// match with errors.Is against conversation.ErrNotFound,
// conversation.ErrConstruction and the rest.
package gateway
