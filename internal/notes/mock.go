// ABOUTME: In-memory note access for running without a database
// ABOUTME: Changes apply immediately and are shared by every conversation

package notes

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/palaver/internal/store"
)

// Mock is an in-memory Access. Returned notes are copies.
type Mock struct {
	mu    sync.Mutex
	notes map[string]*store.Note // keyed by ID
}

// NewMock creates an empty Mock
func NewMock() *Mock {
	return &Mock{notes: make(map[string]*store.Note)}
}

func (m *Mock) All(ctx context.Context, owner string) ([]*store.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*store.Note
	for _, n := range m.notes {
		if n.Owner == owner {
			c := *n
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *store.Note) int { return cmp.Compare(a.Key, b.Key) })
	return out, nil
}

func (m *Mock) ByID(ctx context.Context, id string) (*store.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *n
	return &c, nil
}

func (m *Mock) ByKey(ctx context.Context, owner, key string) (*store.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.findLocked(owner, key)
	if n == nil {
		return nil, store.ErrNotFound
	}
	c := *n
	return &c, nil
}

func (m *Mock) Insert(ctx context.Context, owner, key, value string) (*store.Note, error) {
	if err := validate(owner, key); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findLocked(owner, key) != nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrExists, owner, key)
	}
	now := time.Now().UTC()
	n := &store.Note{
		ID:        uuid.New().String(),
		Owner:     owner,
		Key:       key,
		Value:     value,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.notes[n.ID] = n
	c := *n
	return &c, nil
}

func (m *Mock) Update(ctx context.Context, owner, key, value string) (*store.Note, error) {
	if err := validate(owner, key); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.findLocked(owner, key)
	if n == nil {
		return nil, store.ErrNotFound
	}
	n.Value = value
	n.Version++
	n.UpdatedAt = time.Now().UTC()
	c := *n
	return &c, nil
}

func (m *Mock) Delete(ctx context.Context, owner, key string) error {
	if err := validate(owner, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.findLocked(owner, key)
	if n == nil {
		return store.ErrNotFound
	}
	delete(m.notes, n.ID)
	return nil
}

func (m *Mock) findLocked(owner, key string) *store.Note {
	for _, n := range m.notes {
		if n.Owner == owner && n.Key == key {
			return n
		}
	}
	return nil
}
