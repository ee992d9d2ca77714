// ABOUTME: HTTP middleware binding each request to its session registry and scope
// ABOUTME: Serializes requests per session and runs the entry/exit sweeps around the handler

package scope

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/2389/palaver/internal/conversation"
	"github.com/2389/palaver/internal/session"
)

// ScopeFunc derives the scope identifier of a request
type ScopeFunc func(r *http.Request) string

// PathScope scopes conversations to the request path
func PathScope(r *http.Request) string {
	return r.URL.Path
}

// Scope is the per-request view handed to handlers
type Scope struct {
	SessionID string
	Binding   session.Binding
	Registry  *conversation.Registry

	w      http.ResponseWriter
	cookie string
	end    bool
}

// ID returns the scope identifier of the request
func (s *Scope) ID() string { return s.Binding.ScopeID() }

// EndSession clears the session cookie and marks the session for teardown
// once the request completes. Call it before writing the response.
func (s *Scope) EndSession() {
	s.end = true
	if s.w != nil {
		http.SetCookie(s.w, &http.Cookie{Name: s.cookie, Value: "", Path: "/", MaxAge: -1})
	}
}

type scopeContextKey struct{}

// WithScope returns a new context with the Scope attached
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, s)
}

// FromContext retrieves the Scope from the context, returning nil if not present
func FromContext(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeContextKey{}).(*Scope)
	return s
}

// MiddlewareConfig configures Middleware
type MiddlewareConfig struct {
	CookieName   string
	CookieSecure bool
	CookieTTL    time.Duration
	Scope        ScopeFunc // defaults to PathScope
}

// Middleware wires the hook into an HTTP server
type Middleware struct {
	hook     *Hook
	sessions *session.Store
	tokens   *session.Tokens
	cfg      MiddlewareConfig
	logger   *slog.Logger
}

// NewMiddleware creates the session/scope middleware
func NewMiddleware(hook *Hook, sessions *session.Store, tokens *session.Tokens, cfg MiddlewareConfig, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "palaver_session"
	}
	if cfg.Scope == nil {
		cfg.Scope = PathScope
	}
	return &Middleware{
		hook:     hook,
		sessions: sessions,
		tokens:   tokens,
		cfg:      cfg,
		logger:   logger.With("component", "scope"),
	}
}

// Wrap returns next wrapped with session resolution and the scope sweeps
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID, err := m.resolveSession(w, r)
		if err != nil {
			m.logger.Error("failed to issue session token", "error", err)
			http.Error(w, `{"error":"session unavailable"}`, http.StatusInternalServerError)
			return
		}

		sc := m.serve(w, r, sessionID, next)

		// Teardown locks the entry, so it must run after serve released it
		if sc.end {
			m.sessions.End(sessionID)
		}
	})
}

func (m *Middleware) serve(w http.ResponseWriter, r *http.Request, sessionID string, next http.Handler) *Scope {
	entry, _ := m.sessions.Acquire(sessionID)
	entry = m.lockLive(entry)
	defer entry.Unlock()

	binding := entry.Bind(m.cfg.Scope(r))
	reg, err := m.hook.Enter(r.Context(), binding)
	if err != nil {
		m.logger.Warn("entry sweep reported failures", "session", sessionID, "scope", binding.ScopeID(), "error", err)
	}

	sc := &Scope{SessionID: sessionID, Binding: binding, Registry: reg, w: w, cookie: m.cfg.CookieName}
	defer func() {
		if err := m.hook.Exit(context.WithoutCancel(r.Context()), binding); err != nil {
			m.logger.Warn("exit sweep reported failures", "session", sessionID, "scope", binding.ScopeID(), "error", err)
		}
	}()

	next.ServeHTTP(w, r.WithContext(WithScope(r.Context(), sc)))
	return sc
}

// lockLive locks e and returns it. If e was evicted between Acquire and Lock
// the session is acquired again; a scope must never run on a detached entry.
func (m *Middleware) lockLive(e *session.Entry) *session.Entry {
	e.Lock()
	for e.Evicted() {
		e.Unlock()
		m.logger.Debug("session evicted before lock, reacquiring", "session", e.ID())
		e, _ = m.sessions.Acquire(e.ID())
		e.Lock()
	}
	return e
}

// resolveSession returns the session ID from a valid cookie, or starts a new
// session and sets its cookie
func (m *Middleware) resolveSession(w http.ResponseWriter, r *http.Request) (string, error) {
	if c, err := r.Cookie(m.cfg.CookieName); err == nil {
		id, verr := m.tokens.Verify(c.Value)
		if verr == nil {
			return id, nil
		}
		m.logger.Debug("discarding session cookie", "error", verr)
	}

	id := uuid.New().String()
	token, err := m.tokens.Issue(id)
	if err != nil {
		return "", err
	}
	cookie := &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if m.cfg.CookieTTL > 0 {
		cookie.MaxAge = int(m.cfg.CookieTTL.Seconds())
	}
	http.SetCookie(w, cookie)
	return id, nil
}
