// Package conversation manages transactional unit-of-work sessions.
//
// # Overview
//
// A Conversation wraps one persistence context (a store.UnitOfWork in
// production) for as long as a caller needs it: across several requests
// against the same path, or just one. A Registry holds the live
// conversations of one logical session.
//
//	reg := conversation.NewRegistry(conversation.CatalogOpener(catalog), logger)
//
// # Identity
//
// Default conversations are addressed by (consumer type, scope id,
// persistent). At most one default matches any such key, so at most two
// defaults (persistent and not) claim one scope for a consumer type.
// BeginDefault is idempotent: if any requested scope already has a match,
// nothing is created.
//
// Named conversations are created with BeginNamed, which always creates a new
// conversation and returns its UUID name.
//
// # Lifecycle
//
//	Active -> Committed
//	Active -> Cancelled
//	Active -> Failed     (commit/cancel attempted, an error was returned)
//
// Commit submits pending changes. A write conflict is resolved by keeping
// this conversation's values (store.KeepCurrentValues) and submitting once
// more. Either way the context is released and the completion callback
// fires, which removes the conversation from its registry. A conversation is
// single-use; operations on a completed one return ErrCompleted.
//
// # Sweeps
//
// The host drives three sweeps at scope boundaries:
//
//   - CancelAllOutOfScope(scope): on scope entry
//   - CancelAllNonPersistent(): on scope exit
//   - CancelAllConversations(): on session teardown
//
// Sweeps iterate a snapshot, so the removal each Cancel triggers is safe, and
// keep going when one cancel fails; failures are joined into the result.
//
// # Errors
//
//   - ErrInvalidArgument: empty consumer, scope list, scope id or name
//   - ErrNotFound: no live conversation for the key or name
//   - ErrDuplicateState: two defaults matched one key (a bug, logged at error)
//   - ErrConstruction: the persistence context could not be opened
//   - ErrCommitFailed / ErrCancelFailed: wrap the underlying cause
//
// # Concurrency
//
// Nothing here locks. One scope at a time uses a registry; the session
// package serializes requests per session.
package conversation
