// ABOUTME: Conversation wraps one persistence context and its commit/cancel lifecycle
// ABOUTME: Resolves write conflicts by keeping submitted values and fires a one-shot completion callback

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/2389/palaver/internal/store"
)

// ConsumerType names the kind of persistence context a conversation serves.
// It is part of the default-conversation identity.
type ConsumerType string

// State is the lifecycle state of a conversation
type State int

const (
	StateActive State = iota
	StateCommitted
	StateCancelled
	StateFailed // commit or cancel attempted and failed; context still released
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCommitted:
		return "committed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Context is the capability a conversation needs from its persistence
// context. *store.UnitOfWork implements it.
type Context interface {
	SubmitChanges(ctx context.Context) error
	ResolveConflicts(ctx context.Context, mode store.RefreshMode) ([]store.Conflict, error)
	BeginTx(ctx context.Context) error
	CommitTx() error
	RollbackTx() error
	InTransaction() bool
	Close() error
}

// Conversation owns one persistence context from creation until Commit or
// Cancel. It is single-use: once completed, every operation returns ErrCompleted.
type Conversation struct {
	name       string
	consumer   ConsumerType
	persistent bool
	isDefault  bool
	scopes     []string

	pctx        Context
	state       State
	createdAt   time.Time
	completedAt time.Time

	onDone func(*Conversation)
	logger *slog.Logger
}

func newConversation(name string, consumer ConsumerType, pctx Context, persistent, isDefault bool, scopes []string, onDone func(*Conversation), logger *slog.Logger) *Conversation {
	return &Conversation{
		name:       name,
		consumer:   consumer,
		persistent: persistent,
		isDefault:  isDefault,
		scopes:     slices.Clone(scopes),
		pctx:       pctx,
		state:      StateActive,
		createdAt:  time.Now(),
		onDone:     onDone,
		logger:     logger.With("conversation", name),
	}
}

// Name returns the globally unique conversation name
func (c *Conversation) Name() string { return c.name }

// Consumer returns the consumer type the conversation was created for
func (c *Conversation) Consumer() ConsumerType { return c.consumer }

// Persistent reports whether the conversation survives the end of a scope
func (c *Conversation) Persistent() bool { return c.persistent }

// Default reports whether the conversation is addressed by key rather than name
func (c *Conversation) Default() bool { return c.isDefault }

// Scopes returns a copy of the scope identifiers the conversation is valid in
func (c *Conversation) Scopes() []string { return slices.Clone(c.scopes) }

// CoversScope reports whether id is one of the conversation's scopes
func (c *Conversation) CoversScope(id string) bool { return slices.Contains(c.scopes, id) }

// State returns the lifecycle state
func (c *Conversation) State() State { return c.state }

// CreatedAt returns when the conversation was created
func (c *Conversation) CreatedAt() time.Time { return c.createdAt }

// Context returns the wrapped persistence context. It must not be used after
// the conversation completes.
func (c *Conversation) Context() Context { return c.pctx }

// InTransaction reports whether an explicit transaction is open
func (c *Conversation) InTransaction() bool {
	return c.state == StateActive && c.pctx.InTransaction()
}

// Commit persists all pending changes. Write conflicts are resolved by
// keeping this conversation's values and submitting once more. An open
// transaction is committed on success and rolled back on failure. The
// context is always released and the completion callback always fires.
func (c *Conversation) Commit(ctx context.Context) error {
	if c.state != StateActive {
		return fmt.Errorf("commit %s: %w", c.name, ErrCompleted)
	}

	err := c.submit(ctx)
	if err == nil && c.pctx.InTransaction() {
		if txErr := c.pctx.CommitTx(); txErr != nil {
			err = fmt.Errorf("committing transaction: %w", txErr)
		}
	}
	if err != nil && c.pctx.InTransaction() {
		if rbErr := c.pctx.RollbackTx(); rbErr != nil {
			err = errors.Join(err, fmt.Errorf("rolling back transaction: %w", rbErr))
		}
	}

	if err = c.finish(err, StateCommitted); err != nil {
		return fmt.Errorf("%w: conversation %s: %w", ErrCommitFailed, c.name, err)
	}
	c.logger.Debug("conversation committed")
	return nil
}

// submit writes pending changes, resolving conflicts once with KeepCurrentValues
func (c *Conversation) submit(ctx context.Context) error {
	err := c.pctx.SubmitChanges(ctx)
	if err == nil || !errors.Is(err, store.ErrChangeConflict) {
		return err
	}

	conflicts, err := c.pctx.ResolveConflicts(ctx, store.KeepCurrentValues)
	if err != nil {
		return fmt.Errorf("resolving conflicts: %w", err)
	}
	for _, cf := range conflicts {
		c.logger.Warn("write conflict, keeping submitted values",
			"owner", cf.Owner,
			"key", cf.Key,
			"kind", cf.Kind,
			"fields", cf.Fields)
	}

	if err := c.pctx.SubmitChanges(ctx); err != nil {
		return fmt.Errorf("submitting after conflict resolution: %w", err)
	}
	return nil
}

// Cancel discards pending changes, rolling back an open transaction. The
// context is always released and the completion callback always fires.
func (c *Conversation) Cancel(ctx context.Context) error {
	if c.state != StateActive {
		return fmt.Errorf("cancel %s: %w", c.name, ErrCompleted)
	}

	var err error
	if c.pctx.InTransaction() {
		if rbErr := c.pctx.RollbackTx(); rbErr != nil {
			err = fmt.Errorf("rolling back transaction: %w", rbErr)
		}
	}

	if err = c.finish(err, StateCancelled); err != nil {
		return fmt.Errorf("%w: conversation %s: %w", ErrCancelFailed, c.name, err)
	}
	c.logger.Debug("conversation cancelled")
	return nil
}

// finish releases the context, records the terminal state and then signals
// completion exactly once
func (c *Conversation) finish(err error, success State) error {
	if closeErr := c.pctx.Close(); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("releasing context: %w", closeErr))
	}

	c.state = success
	if err != nil {
		c.state = StateFailed
	}
	c.completedAt = time.Now()

	if done := c.onDone; done != nil {
		c.onDone = nil
		done(c)
	}
	return err
}

// BeginTransaction opens an explicit transaction on the context
func (c *Conversation) BeginTransaction(ctx context.Context) error {
	if c.state != StateActive {
		return fmt.Errorf("begin transaction on %s: %w", c.name, ErrCompleted)
	}
	if c.pctx.InTransaction() {
		return ErrTransactionActive
	}
	return c.pctx.BeginTx(ctx)
}

// CommitTransaction commits the explicit transaction
func (c *Conversation) CommitTransaction() error {
	if c.state != StateActive {
		return fmt.Errorf("commit transaction on %s: %w", c.name, ErrCompleted)
	}
	if !c.pctx.InTransaction() {
		return ErrNoTransaction
	}
	return c.pctx.CommitTx()
}

// RollbackTransaction rolls back the explicit transaction
func (c *Conversation) RollbackTransaction() error {
	if c.state != StateActive {
		return fmt.Errorf("rollback transaction on %s: %w", c.name, ErrCompleted)
	}
	if !c.pctx.InTransaction() {
		return ErrNoTransaction
	}
	return c.pctx.RollbackTx()
}
