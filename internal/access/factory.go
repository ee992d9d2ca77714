// ABOUTME: Registration table mapping data-access interfaces to their constructors
// ABOUTME: Resolves natural implementations over a unit of work, or shared mocks in mock mode

package access

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/2389/palaver/internal/store"
)

var (
	// ErrNotRegistered indicates no constructor is registered for the interface
	ErrNotRegistered = errors.New("access type not registered")

	// ErrAlreadyRegistered indicates the interface was registered twice
	ErrAlreadyRegistered = errors.New("access type already registered")

	// ErrNoUnitOfWork indicates a natural lookup without a unit of work
	ErrNoUnitOfWork = errors.New("no unit of work")
)

// Mode selects between natural and mock implementations
type Mode int

const (
	ModeNatural Mode = iota
	ModeMock
)

func (m Mode) String() string {
	switch m {
	case ModeNatural:
		return "natural"
	case ModeMock:
		return "mock"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses "natural" or "mock". An empty string is natural.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "natural":
		return ModeNatural, nil
	case "mock":
		return ModeMock, nil
	default:
		return ModeNatural, fmt.Errorf("unknown access mode %q", s)
	}
}

type entry struct {
	natural func(*store.UnitOfWork) any
	mock    func() any

	once   sync.Once
	shared any
}

// Factory maps interface types to constructors
type Factory struct {
	mode    Mode
	mu      sync.RWMutex
	entries map[reflect.Type]*entry
}

// NewFactory creates an empty Factory in the given mode
func NewFactory(mode Mode) *Factory {
	return &Factory{
		mode:    mode,
		entries: make(map[reflect.Type]*entry),
	}
}

// Mode returns the factory's mode
func (f *Factory) Mode() Mode { return f.mode }

// Register binds interface I to its natural and mock constructors.
// Either constructor may be nil if that mode is never used.
func Register[I any](f *Factory, natural func(*store.UnitOfWork) I, mock func() I) error {
	t := reflect.TypeFor[I]()

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.entries[t]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, t)
	}

	e := &entry{}
	if natural != nil {
		e.natural = func(u *store.UnitOfWork) any { return natural(u) }
	}
	if mock != nil {
		e.mock = func() any { return mock() }
	}
	f.entries[t] = e
	return nil
}

// Resolve returns the implementation of I for the factory's mode
func Resolve[I any](f *Factory, uow *store.UnitOfWork) (I, error) {
	var zero I
	t := reflect.TypeFor[I]()

	f.mu.RLock()
	e, ok := f.entries[t]
	f.mu.RUnlock()
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrNotRegistered, t)
	}

	var v any
	switch f.mode {
	case ModeMock:
		if e.mock == nil {
			return zero, fmt.Errorf("%w: no mock for %s", ErrNotRegistered, t)
		}
		e.once.Do(func() { e.shared = e.mock() })
		v = e.shared
	default:
		if e.natural == nil {
			return zero, fmt.Errorf("%w: no natural implementation for %s", ErrNotRegistered, t)
		}
		if uow == nil {
			return zero, fmt.Errorf("%w for %s", ErrNoUnitOfWork, t)
		}
		v = e.natural(uow)
	}

	impl, ok := v.(I)
	if !ok {
		return zero, fmt.Errorf("constructor for %s returned %T", t, v)
	}
	return impl, nil
}
