// ABOUTME: Tests for the SQL and mock note access implementations
// ABOUTME: SQL changes must stay staged until the unit of work submits

package notes

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/palaver/internal/access"
	"github.com/2389/palaver/internal/conversation"
	"github.com/2389/palaver/internal/store"
)

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open("notes", filepath.Join(t.TempDir(), "notes.db"), store.DriverModernc)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newUnitOfWork(t *testing.T, db *store.DB) *store.UnitOfWork {
	t.Helper()
	uow := store.NewUnitOfWork(db)
	t.Cleanup(func() { _ = uow.Close() })
	return uow
}

func TestSQL_PutIsStagedUntilSubmit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	uow := newUnitOfWork(t, db)
	a := NewSQL(uow)

	_, err := Put(ctx, a, "alice", "color", "blue")
	require.NoError(t, err)

	// Upsert over the staged insert
	n, err := Put(ctx, a, "alice", "color", "green")
	require.NoError(t, err)
	assert.Equal(t, "green", n.Value)

	reader := NewSQL(newUnitOfWork(t, db))
	_, err = reader.ByKey(ctx, "alice", "color")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, uow.SubmitChanges(ctx))

	got, err := NewSQL(newUnitOfWork(t, db)).ByKey(ctx, "alice", "color")
	require.NoError(t, err)
	assert.Equal(t, "green", got.Value)
}

func TestSQL_UpdateAndDelete(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	seed := newUnitOfWork(t, db)
	_, err := NewSQL(seed).Insert(ctx, "alice", "k", "v1")
	require.NoError(t, err)
	require.NoError(t, seed.SubmitChanges(ctx))

	uow := newUnitOfWork(t, db)
	a := NewSQL(uow)
	n, err := a.Update(ctx, "alice", "k", "v2")
	require.NoError(t, err)
	require.NoError(t, uow.SubmitChanges(ctx))

	byID, err := NewSQL(newUnitOfWork(t, db)).ByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2", byID.Value)
	assert.Equal(t, int64(2), byID.Version)

	require.NoError(t, a.Delete(ctx, "alice", "k"))
	all, err := a.All(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, all)
	require.NoError(t, uow.SubmitChanges(ctx))

	all, err = NewSQL(newUnitOfWork(t, db)).All(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSQL_DeleteThenPutCommits(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	seed := newUnitOfWork(t, db)
	_, err := Put(ctx, NewSQL(seed), "alice", "k", "v1")
	require.NoError(t, err)
	require.NoError(t, seed.SubmitChanges(ctx))

	cat := store.NewCatalog()
	cat.Add(db)
	reg := conversation.NewRegistry(conversation.CatalogOpener(cat), nil)
	name, err := reg.BeginNamed(ctx, "notes", []string{"/notes/alice"}, false)
	require.NoError(t, err)
	c, err := reg.GetNamed(name)
	require.NoError(t, err)

	a := NewSQL(c.Context().(*store.UnitOfWork))
	require.NoError(t, a.Delete(ctx, "alice", "k"))
	_, err = Put(ctx, a, "alice", "k", "v2")
	require.NoError(t, err)

	require.NoError(t, reg.CommitNamed(ctx, name))

	got, err := NewSQL(newUnitOfWork(t, db)).ByKey(ctx, "alice", "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Value)
}

func TestSQL_InsertExisting(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	a := NewSQL(newUnitOfWork(t, db))

	_, err := a.Insert(ctx, "alice", "k", "v")
	require.NoError(t, err)
	_, err = a.Insert(ctx, "alice", "k", "v")
	assert.ErrorIs(t, err, ErrExists)
}

func TestSQL_Missing(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	a := NewSQL(newUnitOfWork(t, db))

	_, err := a.Update(ctx, "alice", "nope", "v")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, a.Delete(ctx, "alice", "nope"), store.ErrNotFound)
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	impls := map[string]Access{
		"sql":  NewSQL(newUnitOfWork(t, openTestDB(t))),
		"mock": NewMock(),
	}
	for name, a := range impls {
		t.Run(name, func(t *testing.T) {
			_, err := a.Insert(ctx, "", "k", "v")
			assert.ErrorIs(t, err, ErrInvalid)
			_, err = a.Update(ctx, "alice", "", "v")
			assert.ErrorIs(t, err, ErrInvalid)
			assert.ErrorIs(t, a.Delete(ctx, "", ""), ErrInvalid)
		})
	}
}

func TestMock_Lifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMock()

	n, err := Put(ctx, m, "alice", "b", "1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n.Version)
	_, err = Put(ctx, m, "alice", "a", "2")
	require.NoError(t, err)
	_, err = Put(ctx, m, "bob", "a", "3")
	require.NoError(t, err)

	n, err = Put(ctx, m, "alice", "b", "changed")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n.Version)

	all, err := m.All(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Key)
	assert.Equal(t, "changed", all[1].Value)

	// Copies are returned
	all[0].Value = "mutated"
	got, err := m.ByID(ctx, all[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "2", got.Value)

	require.NoError(t, m.Delete(ctx, "alice", "a"))
	_, err = m.ByKey(ctx, "alice", "a")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = m.ByID(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRegister(t *testing.T) {
	ctx := context.Background()

	mock := access.NewFactory(access.ModeMock)
	require.NoError(t, Register(mock))
	a, err := access.Resolve[Access](mock, nil)
	require.NoError(t, err)
	_, err = a.Insert(ctx, "alice", "k", "v")
	require.NoError(t, err)

	b, err := access.Resolve[Access](mock, nil)
	require.NoError(t, err)
	_, err = b.ByKey(ctx, "alice", "k")
	assert.NoError(t, err)

	natural := access.NewFactory(access.ModeNatural)
	require.NoError(t, Register(natural))
	c, err := access.Resolve[Access](natural, newUnitOfWork(t, openTestDB(t)))
	require.NoError(t, err)
	assert.IsType(t, &SQL{}, c)
}
