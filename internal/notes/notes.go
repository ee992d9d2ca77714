// ABOUTME: Note data-access interface and its unit-of-work implementation
// ABOUTME: Staged upserts and deletes are written when the owning conversation commits

package notes

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/palaver/internal/access"
	"github.com/2389/palaver/internal/store"
)

var (
	// ErrInvalid indicates a missing owner or key
	ErrInvalid = errors.New("invalid note")

	// ErrExists indicates an insert for a key the owner already has
	ErrExists = errors.New("note already exists")
)

// Access reads and stages changes to notes
type Access interface {
	All(ctx context.Context, owner string) ([]*store.Note, error)
	ByID(ctx context.Context, id string) (*store.Note, error)
	ByKey(ctx context.Context, owner, key string) (*store.Note, error)
	Insert(ctx context.Context, owner, key, value string) (*store.Note, error)
	Update(ctx context.Context, owner, key, value string) (*store.Note, error)
	Delete(ctx context.Context, owner, key string) error
}

// Register adds Access to the factory with SQL and Mock implementations
func Register(f *access.Factory) error {
	return access.Register[Access](f,
		func(u *store.UnitOfWork) Access { return NewSQL(u) },
		func() Access { return NewMock() },
	)
}

// Put updates the note if it exists, otherwise inserts it
func Put(ctx context.Context, a Access, owner, key, value string) (*store.Note, error) {
	n, err := a.Update(ctx, owner, key, value)
	if errors.Is(err, store.ErrNotFound) {
		return a.Insert(ctx, owner, key, value)
	}
	return n, err
}

func validate(owner, key string) error {
	if owner == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalid)
	}
	if key == "" {
		return fmt.Errorf("%w: key is required", ErrInvalid)
	}
	return nil
}

// SQL is the natural Access over a unit of work
type SQL struct {
	uow *store.UnitOfWork
}

// NewSQL wraps a unit of work
func NewSQL(uow *store.UnitOfWork) *SQL {
	return &SQL{uow: uow}
}

func (s *SQL) All(ctx context.Context, owner string) ([]*store.Note, error) {
	return s.uow.ListNotes(ctx, owner)
}

func (s *SQL) ByID(ctx context.Context, id string) (*store.Note, error) {
	return s.uow.GetNote(ctx, id)
}

// ByKey returns the staged insert for the key if there is one, otherwise
// the stored note
func (s *SQL) ByKey(ctx context.Context, owner, key string) (*store.Note, error) {
	if n := s.uow.Pending(owner, key); n != nil {
		return n, nil
	}
	return s.uow.GetNoteByKey(ctx, owner, key)
}

func (s *SQL) Insert(ctx context.Context, owner, key, value string) (*store.Note, error) {
	if err := validate(owner, key); err != nil {
		return nil, err
	}
	_, err := s.ByKey(ctx, owner, key)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: %s/%s", ErrExists, owner, key)
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	n := &store.Note{Owner: owner, Key: key, Value: value}
	if err := s.uow.Insert(n); err != nil {
		return nil, err
	}
	return n, nil
}

// Update changes the value of a loaded note; the unit of work detects the
// modification on submit
func (s *SQL) Update(ctx context.Context, owner, key, value string) (*store.Note, error) {
	if err := validate(owner, key); err != nil {
		return nil, err
	}
	n, err := s.ByKey(ctx, owner, key)
	if err != nil {
		return nil, err
	}
	n.Value = value
	return n, nil
}

func (s *SQL) Delete(ctx context.Context, owner, key string) error {
	if err := validate(owner, key); err != nil {
		return err
	}
	n, err := s.ByKey(ctx, owner, key)
	if err != nil {
		return err
	}
	return s.uow.Delete(n)
}
