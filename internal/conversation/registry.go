// ABOUTME: Registry owns the live conversations of one logical session
// ABOUTME: Enforces default/named identity rules and runs the scope-boundary sweeps

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/2389/palaver/internal/store"
)

// Opener constructs a fresh persistence context for a consumer type
type Opener interface {
	Open(ctx context.Context, consumer ConsumerType) (Context, error)
}

// OpenerFunc adapts a function to Opener
type OpenerFunc func(ctx context.Context, consumer ConsumerType) (Context, error)

// Open calls f
func (f OpenerFunc) Open(ctx context.Context, consumer ConsumerType) (Context, error) {
	return f(ctx, consumer)
}

// CatalogOpener opens units of work from a store catalog, one database per consumer
func CatalogOpener(cat *store.Catalog) Opener {
	return OpenerFunc(func(ctx context.Context, consumer ConsumerType) (Context, error) {
		return cat.Open(ctx, string(consumer))
	})
}

// Registry tracks the live conversations of one session.
//
// A Registry is not safe for concurrent use. The host serializes access, one
// scope at a time per session.
type Registry struct {
	opener        Opener
	logger        *slog.Logger
	conversations []*Conversation
}

// NewRegistry creates an empty registry
func NewRegistry(opener Opener, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		opener: opener,
		logger: logger.With("component", "conversation"),
	}
}

// Len returns the number of live conversations
func (r *Registry) Len() int {
	return len(r.conversations)
}

// Conversations returns a snapshot of the live conversations
func (r *Registry) Conversations() []*Conversation {
	return slices.Clone(r.conversations)
}

// BeginDefault ensures a default conversation exists for consumer and
// persistence mode. If any of scopes already has a matching default, nothing
// is created; otherwise one conversation covering all of scopes is.
func (r *Registry) BeginDefault(ctx context.Context, consumer ConsumerType, scopes []string, persistent bool) error {
	if err := validateBegin(consumer, scopes); err != nil {
		return err
	}

	for _, id := range scopes {
		_, err := r.GetDefault(consumer, id, persistent)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
	}

	_, err := r.create(ctx, consumer, scopes, persistent, true)
	return err
}

// GetDefault returns the default conversation for (consumer, persistent, scope)
func (r *Registry) GetDefault(consumer ConsumerType, scope string, persistent bool) (*Conversation, error) {
	if consumer == "" {
		return nil, fmt.Errorf("%w: consumer type is required", ErrInvalidArgument)
	}
	if scope == "" {
		return nil, fmt.Errorf("%w: scope identifier is required", ErrInvalidArgument)
	}

	var found *Conversation
	for _, c := range r.conversations {
		if !c.isDefault || c.consumer != consumer || c.persistent != persistent || !c.CoversScope(scope) {
			continue
		}
		if found != nil {
			r.logger.Error("registry invariant violated: duplicate default conversations",
				"consumer", consumer,
				"scope", scope,
				"persistent", persistent,
				"first", found.name,
				"second", c.name)
			return nil, fmt.Errorf("%w: consumer %s scope %q persistent=%t", ErrDuplicateState, consumer, scope, persistent)
		}
		found = c
	}
	if found == nil {
		return nil, fmt.Errorf("%w: default %s at %q (persistent=%t)", ErrNotFound, consumer, scope, persistent)
	}
	return found, nil
}

// BeginNamed always creates a new conversation and returns its name
func (r *Registry) BeginNamed(ctx context.Context, consumer ConsumerType, scopes []string, persistent bool) (string, error) {
	if err := validateBegin(consumer, scopes); err != nil {
		return "", err
	}
	c, err := r.create(ctx, consumer, scopes, persistent, false)
	if err != nil {
		return "", err
	}
	return c.name, nil
}

// GetNamed returns the live conversation with the given name
func (r *Registry) GetNamed(name string) (*Conversation, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: conversation name is required", ErrInvalidArgument)
	}
	for _, c := range r.conversations {
		if c.name == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// CommitDefault commits the default conversation for the key
func (r *Registry) CommitDefault(ctx context.Context, consumer ConsumerType, scope string, persistent bool) error {
	c, err := r.GetDefault(consumer, scope, persistent)
	if err != nil {
		return err
	}
	return c.Commit(ctx)
}

// CancelDefault cancels the default conversation for the key
func (r *Registry) CancelDefault(ctx context.Context, consumer ConsumerType, scope string, persistent bool) error {
	c, err := r.GetDefault(consumer, scope, persistent)
	if err != nil {
		return err
	}
	return c.Cancel(ctx)
}

// CommitNamed commits the named conversation
func (r *Registry) CommitNamed(ctx context.Context, name string) error {
	c, err := r.GetNamed(name)
	if err != nil {
		return err
	}
	return c.Commit(ctx)
}

// CancelNamed cancels the named conversation
func (r *Registry) CancelNamed(ctx context.Context, name string) error {
	c, err := r.GetNamed(name)
	if err != nil {
		return err
	}
	return c.Cancel(ctx)
}

// CancelAllNonPersistent cancels every conversation that does not outlive its scope
func (r *Registry) CancelAllNonPersistent(ctx context.Context) error {
	return r.sweep(ctx, "non_persistent", func(c *Conversation) bool {
		return !c.persistent
	})
}

// CancelAllOutOfScope cancels every conversation not valid in scope
func (r *Registry) CancelAllOutOfScope(ctx context.Context, scope string) error {
	return r.sweep(ctx, "out_of_scope", func(c *Conversation) bool {
		return !c.CoversScope(scope)
	})
}

// CancelAllConversations cancels every live conversation
func (r *Registry) CancelAllConversations(ctx context.Context) error {
	return r.sweep(ctx, "all", func(*Conversation) bool { return true })
}

// sweep cancels every match over a snapshot, since each Cancel removes its
// conversation from r.conversations. A failed cancel does not stop the sweep.
func (r *Registry) sweep(ctx context.Context, kind string, match func(*Conversation) bool) error {
	var errs []error
	cancelled := 0
	for _, c := range slices.Clone(r.conversations) {
		if c.state != StateActive || !match(c) {
			continue
		}
		if err := c.Cancel(ctx); err != nil {
			errs = append(errs, err)
			continue
		}
		cancelled++
	}

	if cancelled > 0 || len(errs) > 0 {
		r.logger.Debug("sweep finished",
			"sweep", kind,
			"cancelled", cancelled,
			"failed", len(errs),
			"remaining", len(r.conversations))
	}
	return errors.Join(errs...)
}

func validateBegin(consumer ConsumerType, scopes []string) error {
	if consumer == "" {
		return fmt.Errorf("%w: consumer type is required", ErrInvalidArgument)
	}
	if len(scopes) == 0 {
		return fmt.Errorf("%w: at least one scope identifier is required", ErrInvalidArgument)
	}
	for _, id := range scopes {
		if id == "" {
			return fmt.Errorf("%w: scope identifiers must not be empty", ErrInvalidArgument)
		}
	}
	return nil
}

// create opens a context and registers a new conversation around it
func (r *Registry) create(ctx context.Context, consumer ConsumerType, scopes []string, persistent, isDefault bool) (*Conversation, error) {
	pctx, err := r.opener.Open(ctx, consumer)
	if err != nil {
		r.logger.Error("failed to open persistence context", "consumer", consumer, "error", err)
		return nil, fmt.Errorf("%w: opening %s context: %w", ErrConstruction, consumer, err)
	}
	if pctx == nil {
		return nil, fmt.Errorf("%w: opener returned no context for %s", ErrConstruction, consumer)
	}

	c := newConversation(r.newName(), consumer, pctx, persistent, isDefault, scopes, r.remove, r.logger)
	r.conversations = append(r.conversations, c)

	r.logger.Debug("conversation created",
		"conversation", c.name,
		"consumer", consumer,
		"scopes", scopes,
		"persistent", persistent,
		"default", isDefault)
	return c, nil
}

// newName generates a UUID not held by any live conversation
func (r *Registry) newName() string {
	for {
		name := uuid.New().String()
		if !slices.ContainsFunc(r.conversations, func(c *Conversation) bool { return c.name == name }) {
			return name
		}
	}
}

// remove is the completion callback handed to every conversation
func (r *Registry) remove(c *Conversation) {
	r.conversations = slices.DeleteFunc(r.conversations, func(x *Conversation) bool { return x == c })
}
