// ABOUTME: Sentinel errors for conversation and registry operations
// ABOUTME: Callers match them with errors.Is; wrapped errors carry the cause

package conversation

import "errors"

// Registry errors
var (
	// ErrInvalidArgument is returned for an empty consumer, scope list, scope id or name
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound is returned when no live conversation matches the key
	ErrNotFound = errors.New("conversation not found")
	// ErrDuplicateState means two live defaults claim the same key. It is
	// never expected at runtime and indicates a registry bug.
	ErrDuplicateState = errors.New("duplicate default conversations")
	// ErrConstruction is returned when the persistence context cannot be opened
	ErrConstruction = errors.New("conversation construction failed")
)

// Conversation errors
var (
	ErrCommitFailed      = errors.New("commit failed")
	ErrCancelFailed      = errors.New("cancel failed")
	ErrCompleted         = errors.New("conversation already completed")
	ErrNoTransaction     = errors.New("no active transaction")
	ErrTransactionActive = errors.New("transaction already active")
)
