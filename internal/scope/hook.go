// ABOUTME: Scope lifecycle hook driving the registry sweeps at scope boundaries
// ABOUTME: Entry cancels out-of-scope conversations, exit cancels transient ones, teardown cancels all

package scope

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/palaver/internal/conversation"
	"github.com/2389/palaver/internal/session"
)

// Hook is the contract between the host and the registry. Enter must run
// before any Begin/Get for the new scope; Exit after the scope's work.
type Hook struct {
	opener conversation.Opener
	logger *slog.Logger
}

// NewHook creates a hook that builds registries around opener
func NewHook(opener conversation.Opener, logger *slog.Logger) *Hook {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hook{
		opener: opener,
		logger: logger,
	}
}

// Enter obtains or creates the session's registry and cancels every
// conversation not valid in the binding's scope. The registry is returned
// even when the sweep reports failures.
func (h *Hook) Enter(ctx context.Context, b session.Binding) (*conversation.Registry, error) {
	r := b.Registry()
	if r == nil {
		r = conversation.NewRegistry(h.opener, h.logger)
		b.SetRegistry(r)
	}
	if err := r.CancelAllOutOfScope(ctx, b.ScopeID()); err != nil {
		return r, fmt.Errorf("entry sweep for %q: %w", b.ScopeID(), err)
	}
	return r, nil
}

// Exit cancels every non-persistent conversation of the session
func (h *Hook) Exit(ctx context.Context, b session.Binding) error {
	r := b.Registry()
	if r == nil {
		return nil
	}
	if err := r.CancelAllNonPersistent(ctx); err != nil {
		return fmt.Errorf("exit sweep for %q: %w", b.ScopeID(), err)
	}
	return nil
}

// Teardown cancels every conversation of an ending session
func (h *Hook) Teardown(ctx context.Context, r *conversation.Registry) error {
	if r == nil {
		return nil
	}
	if err := r.CancelAllConversations(ctx); err != nil {
		return fmt.Errorf("session teardown: %w", err)
	}
	return nil
}

// Evict is a session.Store eviction callback. It waits for any in-flight
// scope of the session, then tears the session down.
func (h *Hook) Evict(e *session.Entry) {
	e.Lock()
	defer e.Unlock()

	if err := h.Teardown(context.Background(), e.Registry()); err != nil {
		h.logger.Error("session teardown failed", "session", e.ID(), "error", err)
	}
	e.SetRegistry(nil)
	e.MarkEvicted()
}
