// ABOUTME: Tests for the session store and session tokens
// ABOUTME: Validates TTL expiry, capacity eviction, End/Close callbacks and token round trips

package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/palaver/internal/conversation"
)

type evictRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *evictRecorder) record(e *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, e.ID())
}

func (r *evictRecorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func TestStore_AcquireCreatesOnce(t *testing.T) {
	s := New(time.Minute, 10, nil, nil)
	defer s.Close()

	a, created := s.Acquire("s1")
	require.True(t, created)
	b, created := s.Acquire("s1")
	assert.False(t, created)
	assert.Same(t, a, b)
	assert.Equal(t, 1, s.Len())
}

func TestStore_RegistryRoundTrip(t *testing.T) {
	s := New(time.Minute, 10, nil, nil)
	defer s.Close()

	e, _ := s.Acquire("s1")
	assert.Nil(t, e.Registry())

	r := conversation.NewRegistry(nil, nil)
	b := e.Bind("/notes/alice")
	b.SetRegistry(r)

	assert.Same(t, r, e.Registry())
	assert.Same(t, r, b.Registry())
	assert.Equal(t, "/notes/alice", b.ScopeID())
}

func TestStore_ExpiredSessionIsReplaced(t *testing.T) {
	rec := &evictRecorder{}
	s := New(20*time.Millisecond, 10, rec.record, nil)
	defer s.Close()

	first, _ := s.Acquire("s1")
	time.Sleep(30 * time.Millisecond)

	_, ok := s.Get("s1")
	assert.False(t, ok)

	second, created := s.Acquire("s1")
	assert.True(t, created)
	assert.NotSame(t, first, second)
	assert.Contains(t, rec.get(), "s1")
}

func TestStore_CapacityEvictsOldest(t *testing.T) {
	rec := &evictRecorder{}
	s := New(time.Minute, 2, rec.record, nil)
	defer s.Close()

	s.Acquire("s1")
	s.Acquire("s2")
	s.Acquire("s1") // s2 is now oldest
	s.Acquire("s3")

	assert.Equal(t, []string{"s2"}, rec.get())
	_, ok := s.Get("s1")
	assert.True(t, ok)
	_, ok = s.Get("s2")
	assert.False(t, ok)
	assert.Equal(t, 2, s.Len())
}

func TestStore_End(t *testing.T) {
	rec := &evictRecorder{}
	s := New(time.Minute, 10, rec.record, nil)
	defer s.Close()

	s.Acquire("s1")
	assert.True(t, s.End("s1"))
	assert.False(t, s.End("s1"))
	assert.Equal(t, []string{"s1"}, rec.get())
	assert.Equal(t, 0, s.Len())
}

func TestStore_CleanupRemovesExpired(t *testing.T) {
	rec := &evictRecorder{}
	s := New(10*time.Millisecond, 10, rec.record, nil)
	defer s.Close()

	s.Acquire("s1")
	s.Acquire("s2")

	assert.Eventually(t, func() bool {
		return len(rec.get()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.Len())
}

func TestStore_CloseEvictsAll(t *testing.T) {
	rec := &evictRecorder{}
	s := New(time.Minute, 10, rec.record, nil)

	s.Acquire("s1")
	s.Acquire("s2")
	s.Close()
	s.Close()

	assert.ElementsMatch(t, []string{"s1", "s2"}, rec.get())
}

func TestStore_ConcurrentAcquire(t *testing.T) {
	s := New(time.Minute, 1000, nil, nil)
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, _ := s.Acquire("shared")
			e.Lock()
			defer e.Unlock()
			if e.Registry() == nil {
				e.SetRegistry(conversation.NewRegistry(nil, nil))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, s.Len())
}

func TestTokens_RoundTrip(t *testing.T) {
	tokens, err := NewTokens([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	require.NoError(t, err)

	tok, err := tokens.Issue("session-1")
	require.NoError(t, err)

	id, err := tokens.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "session-1", id)
}

func TestTokens_RejectsOtherSecret(t *testing.T) {
	a, err := NewTokens([]byte("secret-a"), time.Hour)
	require.NoError(t, err)
	b, err := NewTokens([]byte("secret-b"), time.Hour)
	require.NoError(t, err)

	tok, err := a.Issue("session-1")
	require.NoError(t, err)

	_, err = b.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokens_Expired(t *testing.T) {
	tokens, err := NewTokens([]byte("secret"), -time.Minute)
	require.NoError(t, err)

	tok, err := tokens.Issue("session-1")
	require.NoError(t, err)

	_, err = tokens.Verify(tok)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestTokens_Garbage(t *testing.T) {
	tokens, err := NewTokens([]byte("secret"), time.Hour)
	require.NoError(t, err)

	_, err = tokens.Verify("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewTokens_RequiresSecret(t *testing.T) {
	_, err := NewTokens(nil, time.Hour)
	assert.Error(t, err)
}
