// ABOUTME: Thread-safe TTL store holding one conversation registry per logical session
// ABOUTME: Evicts idle or overflow sessions oldest-first and hands them to a teardown callback

package session

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/palaver/internal/conversation"
)

// Entry is one logical session. Its mutex serializes the scopes (requests)
// that use the session's registry.
type Entry struct {
	id       string
	mu       sync.Mutex
	registry *conversation.Registry
	evicted  bool
	lastSeen time.Time
	element  *list.Element
}

// ID returns the session identifier
func (e *Entry) ID() string { return e.id }

// Lock acquires exclusive use of the session
func (e *Entry) Lock() { e.mu.Lock() }

// Unlock releases exclusive use of the session
func (e *Entry) Unlock() { e.mu.Unlock() }

// Registry returns the session's registry, nil until one is set.
// Callers must hold the entry lock.
func (e *Entry) Registry() *conversation.Registry { return e.registry }

// SetRegistry stores the session's registry. Callers must hold the entry lock.
func (e *Entry) SetRegistry(r *conversation.Registry) { e.registry = r }

// MarkEvicted records that the session was torn down after leaving the
// store. Callers must hold the entry lock.
func (e *Entry) MarkEvicted() { e.evicted = true }

// Evicted reports whether the session was torn down. A request that locks an
// evicted entry must acquire the session again. Callers must hold the entry lock.
func (e *Entry) Evicted() bool { return e.evicted }

// Bind returns the session-storage view for one scope of this session
func (e *Entry) Bind(scope string) Binding {
	return &binding{entry: e, scope: scope}
}

// Binding is what the scope hook needs from session storage: the registry of
// the current session and the identifier of the current scope.
type Binding interface {
	Registry() *conversation.Registry
	SetRegistry(r *conversation.Registry)
	ScopeID() string
}

type binding struct {
	entry *Entry
	scope string
}

func (b *binding) Registry() *conversation.Registry     { return b.entry.Registry() }
func (b *binding) SetRegistry(r *conversation.Registry) { b.entry.SetRegistry(r) }
func (b *binding) ScopeID() string                      { return b.scope }

// Store keeps sessions in memory with an idle TTL and a size cap. Uses a
// doubly-linked list in last-seen order for O(1) eviction.
type Store struct {
	mu      sync.Mutex
	entries map[string]*Entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	onEvict func(*Entry)
	logger  *slog.Logger
	done    chan struct{}
	closed  bool
}

// New creates a session store. onEvict runs, outside the store lock, for
// every session that expires, overflows, is ended or is dropped by Close.
// A background goroutine periodically removes expired sessions.
func New(ttl time.Duration, maxSize int, onEvict func(*Entry), logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		entries: make(map[string]*Entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		onEvict: onEvict,
		logger:  logger.With("component", "session"),
		done:    make(chan struct{}),
	}
	go s.cleanup()
	return s
}

// Acquire returns the live session with id, creating it if needed, and marks
// it as seen. created reports whether a new entry was made.
func (s *Store) Acquire(id string) (entry *Entry, created bool) {
	var evicted []*Entry
	defer func() { s.evict(evicted) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if e, ok := s.entries[id]; ok {
		if now.Sub(e.lastSeen) < s.ttl {
			e.lastSeen = now
			s.order.MoveToBack(e.element)
			return e, false
		}
		evicted = append(evicted, s.removeLocked(e))
	}

	for s.maxSize > 0 && len(s.entries) >= s.maxSize {
		front := s.order.Front()
		if front == nil {
			break
		}
		evicted = append(evicted, s.removeLocked(front.Value.(*Entry)))
	}

	e := &Entry{id: id, lastSeen: now}
	e.element = s.order.PushBack(e)
	s.entries[id] = e
	return e, true
}

// Get returns the live session with id without touching it
func (s *Store) Get(id string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || time.Since(e.lastSeen) >= s.ttl {
		return nil, false
	}
	return e, true
}

// End removes the session and runs the eviction callback for it
func (s *Store) End(id string) bool {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		s.removeLocked(e)
	}
	s.mu.Unlock()

	if ok {
		s.evict([]*Entry{e})
	}
	return ok
}

// Len returns the number of sessions held, expired or not
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// removeLocked unlinks e. Must be called with mu held.
func (s *Store) removeLocked(e *Entry) *Entry {
	s.order.Remove(e.element)
	delete(s.entries, e.id)
	return e
}

func (s *Store) evict(entries []*Entry) {
	for _, e := range entries {
		s.logger.Debug("session evicted", "session", e.id)
		if s.onEvict != nil {
			s.onEvict(e)
		}
	}
}

// cleanup runs in a background goroutine, periodically removing expired sessions.
func (s *Store) cleanup() {
	interval := time.Minute
	if s.ttl > 0 && s.ttl < interval {
		interval = s.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runCleanup()
		case <-s.done:
			return
		}
	}
}

// runCleanup removes all expired sessions
func (s *Store) runCleanup() {
	s.mu.Lock()
	now := time.Now()
	var expired []*Entry
	// Oldest first; stop at the first live one
	for el := s.order.Front(); el != nil; {
		e := el.Value.(*Entry)
		if now.Sub(e.lastSeen) < s.ttl {
			break
		}
		el = el.Next()
		expired = append(expired, s.removeLocked(e))
	}
	s.mu.Unlock()

	s.evict(expired)
}

// Close stops the background cleanup goroutine and evicts every session.
// It is safe to call multiple times.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	close(s.done)
	s.closed = true

	var all []*Entry
	for el := s.order.Front(); el != nil; {
		e := el.Value.(*Entry)
		el = el.Next()
		all = append(all, s.removeLocked(e))
	}
	s.mu.Unlock()

	s.evict(all)
}
