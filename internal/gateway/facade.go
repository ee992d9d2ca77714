// ABOUTME: Per-consumer facade over the session's conversation registry
// ABOUTME: Demarcates conversations and resolves data access for the request's scope

package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/palaver/internal/access"
	"github.com/2389/palaver/internal/conversation"
	"github.com/2389/palaver/internal/scope"
	"github.com/2389/palaver/internal/store"
)

// ErrNoScope is returned when the context carries no request scope
var ErrNoScope = errors.New("no conversation scope in context")

// Target selects a conversation: the named one when Name is set, otherwise
// the default conversation of the given persistence.
type Target struct {
	Name       string
	Persistent bool
}

// Gateway is a facade bound to one consumer type. It reads the session
// registry and scope from the request context, so one Gateway serves every
// request.
type Gateway struct {
	consumer conversation.ConsumerType
	factory  *access.Factory
}

// New creates a facade for consumer
func New(consumer conversation.ConsumerType, factory *access.Factory) *Gateway {
	return &Gateway{
		consumer: consumer,
		factory:  factory,
	}
}

// Consumer returns the consumer type the facade is bound to
func (g *Gateway) Consumer() conversation.ConsumerType { return g.consumer }

func (g *Gateway) scope(ctx context.Context) (*scope.Scope, error) {
	sc := scope.FromContext(ctx)
	if sc == nil || sc.Registry == nil {
		return nil, ErrNoScope
	}
	return sc, nil
}

// BeginConversation starts the default conversation for the current scope
// unless one is already live
func (g *Gateway) BeginConversation(ctx context.Context, persistent bool) error {
	sc, err := g.scope(ctx)
	if err != nil {
		return err
	}
	return sc.Registry.BeginDefault(ctx, g.consumer, []string{sc.ID()}, persistent)
}

// BeginConversationUnique starts a named conversation for the current scope
// and returns its name
func (g *Gateway) BeginConversationUnique(ctx context.Context, persistent bool) (string, error) {
	sc, err := g.scope(ctx)
	if err != nil {
		return "", err
	}
	return sc.Registry.BeginNamed(ctx, g.consumer, []string{sc.ID()}, persistent)
}

// CommitConversation commits the default conversation of the current scope
func (g *Gateway) CommitConversation(ctx context.Context, persistent bool) error {
	sc, err := g.scope(ctx)
	if err != nil {
		return err
	}
	return sc.Registry.CommitDefault(ctx, g.consumer, sc.ID(), persistent)
}

// CancelConversation cancels the default conversation of the current scope
func (g *Gateway) CancelConversation(ctx context.Context, persistent bool) error {
	sc, err := g.scope(ctx)
	if err != nil {
		return err
	}
	return sc.Registry.CancelDefault(ctx, g.consumer, sc.ID(), persistent)
}

// CommitNamed commits a named conversation
func (g *Gateway) CommitNamed(ctx context.Context, name string) error {
	sc, err := g.scope(ctx)
	if err != nil {
		return err
	}
	return sc.Registry.CommitNamed(ctx, name)
}

// CancelNamed cancels a named conversation
func (g *Gateway) CancelNamed(ctx context.Context, name string) error {
	sc, err := g.scope(ctx)
	if err != nil {
		return err
	}
	return sc.Registry.CancelNamed(ctx, name)
}

// Commit commits the targeted conversation
func (g *Gateway) Commit(ctx context.Context, t Target) error {
	if t.Name != "" {
		return g.CommitNamed(ctx, t.Name)
	}
	return g.CommitConversation(ctx, t.Persistent)
}

// Cancel cancels the targeted conversation
func (g *Gateway) Cancel(ctx context.Context, t Target) error {
	if t.Name != "" {
		return g.CancelNamed(ctx, t.Name)
	}
	return g.CancelConversation(ctx, t.Persistent)
}

// Conversation returns the targeted conversation. A default conversation is
// begun first if none is live; a named one must already exist.
func (g *Gateway) Conversation(ctx context.Context, t Target) (*conversation.Conversation, error) {
	sc, err := g.scope(ctx)
	if err != nil {
		return nil, err
	}
	if t.Name != "" {
		return sc.Registry.GetNamed(t.Name)
	}
	if err := sc.Registry.BeginDefault(ctx, g.consumer, []string{sc.ID()}, t.Persistent); err != nil {
		return nil, err
	}
	return sc.Registry.GetDefault(g.consumer, sc.ID(), t.Persistent)
}

// BeginTransaction opens a database transaction inside the targeted conversation
func (g *Gateway) BeginTransaction(ctx context.Context, t Target) error {
	c, err := g.Conversation(ctx, t)
	if err != nil {
		return err
	}
	return c.BeginTransaction(ctx)
}

// CommitTransaction commits the targeted conversation's open transaction
func (g *Gateway) CommitTransaction(ctx context.Context, t Target) error {
	c, err := g.Conversation(ctx, t)
	if err != nil {
		return err
	}
	return c.CommitTransaction()
}

// RollbackTransaction rolls back the targeted conversation's open transaction
func (g *Gateway) RollbackTransaction(ctx context.Context, t Target) error {
	c, err := g.Conversation(ctx, t)
	if err != nil {
		return err
	}
	return c.RollbackTransaction()
}

// Resolve returns the I implementation bound to the targeted conversation
func Resolve[I any](ctx context.Context, g *Gateway, t Target) (I, error) {
	var zero I
	c, err := g.Conversation(ctx, t)
	if err != nil {
		return zero, err
	}
	uow, _ := c.Context().(*store.UnitOfWork)
	impl, err := access.Resolve[I](g.factory, uow)
	if err != nil {
		return zero, fmt.Errorf("conversation %s: %w", c.Name(), err)
	}
	return impl, nil
}

// Access returns the I implementation bound to the default conversation,
// beginning it if needed
func Access[I any](ctx context.Context, g *Gateway, persistent bool) (I, error) {
	return Resolve[I](ctx, g, Target{Persistent: persistent})
}

// AccessNamed returns the I implementation bound to a named conversation
func AccessNamed[I any](ctx context.Context, g *Gateway, name string) (I, error) {
	return Resolve[I](ctx, g, Target{Name: name})
}
