// ABOUTME: Tests for the access factory
// ABOUTME: Covers mode parsing, registration, natural and mock resolution

package access

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/palaver/internal/store"
)

type counter interface {
	Inc() int
}

type naturalCounter struct {
	uow *store.UnitOfWork
}

func (c *naturalCounter) Inc() int { return 1 }

type mockCounter struct {
	n int
}

func (c *mockCounter) Inc() int {
	c.n++
	return c.n
}

func newTestUnitOfWork(t *testing.T) *store.UnitOfWork {
	t.Helper()
	db, err := store.Open("notes", filepath.Join(t.TempDir(), "notes.db"), store.DriverModernc)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	uow := store.NewUnitOfWork(db)
	t.Cleanup(func() { _ = uow.Close() })
	return uow
}

func registerCounter(t *testing.T, f *Factory) {
	t.Helper()
	require.NoError(t, Register[counter](f,
		func(u *store.UnitOfWork) counter { return &naturalCounter{uow: u} },
		func() counter { return &mockCounter{} },
	))
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeNatural, false},
		{"natural", ModeNatural, false},
		{"MOCK", ModeMock, false},
		{" mock ", ModeMock, false},
		{"fake", ModeNatural, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "mock", ModeMock.String())
	assert.Equal(t, "mode(7)", Mode(7).String())
}

func TestResolve_Natural(t *testing.T) {
	f := NewFactory(ModeNatural)
	registerCounter(t, f)
	uow := newTestUnitOfWork(t)

	c, err := Resolve[counter](f, uow)
	require.NoError(t, err)
	nc, ok := c.(*naturalCounter)
	require.True(t, ok)
	assert.Same(t, uow, nc.uow)
}

func TestResolve_NaturalRequiresUnitOfWork(t *testing.T) {
	f := NewFactory(ModeNatural)
	registerCounter(t, f)

	_, err := Resolve[counter](f, nil)
	assert.ErrorIs(t, err, ErrNoUnitOfWork)
}

func TestResolve_MockIsShared(t *testing.T) {
	f := NewFactory(ModeMock)
	registerCounter(t, f)

	a, err := Resolve[counter](f, nil)
	require.NoError(t, err)
	b, err := Resolve[counter](f, nil)
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, 1, a.Inc())
	assert.Equal(t, 2, b.Inc())
}

func TestResolve_MockPerFactory(t *testing.T) {
	f1 := NewFactory(ModeMock)
	f2 := NewFactory(ModeMock)
	registerCounter(t, f1)
	registerCounter(t, f2)

	a, _ := Resolve[counter](f1, nil)
	b, _ := Resolve[counter](f2, nil)
	assert.NotSame(t, a, b)
}

func TestResolve_NotRegistered(t *testing.T) {
	f := NewFactory(ModeNatural)
	_, err := Resolve[counter](f, nil)
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestResolve_MissingConstructorForMode(t *testing.T) {
	f := NewFactory(ModeMock)
	require.NoError(t, Register[counter](f, func(u *store.UnitOfWork) counter { return &naturalCounter{uow: u} }, nil))

	_, err := Resolve[counter](f, nil)
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestRegister_Twice(t *testing.T) {
	f := NewFactory(ModeNatural)
	registerCounter(t, f)

	err := Register[counter](f, nil, func() counter { return &mockCounter{} })
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}
