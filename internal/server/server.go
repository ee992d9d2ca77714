// ABOUTME: Server orchestrator wiring the catalog, sessions, scope middleware and HTTP API
// ABOUTME: Owns startup from config and graceful shutdown of every component

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/2389/palaver/internal/access"
	"github.com/2389/palaver/internal/config"
	"github.com/2389/palaver/internal/conversation"
	"github.com/2389/palaver/internal/gateway"
	"github.com/2389/palaver/internal/notes"
	"github.com/2389/palaver/internal/scope"
	"github.com/2389/palaver/internal/session"
	"github.com/2389/palaver/internal/store"
)

// NotesConsumer is the consumer type, and database name, backing the notes API
const NotesConsumer conversation.ConsumerType = "notes"

// Server serves the notes API over conversation-scoped units of work
type Server struct {
	config     *config.Config
	catalog    *store.Catalog
	sessions   *session.Store
	notes      *gateway.Gateway
	validate   *validator.Validate
	httpServer *http.Server
	logger     *slog.Logger
}

// openCatalog opens every configured database. On failure the databases
// opened so far are closed.
func openCatalog(cfg *config.Config) (*store.Catalog, error) {
	cat := store.NewCatalog()
	for name, db := range cfg.Databases {
		d, err := store.Open(name, db.Path, db.Driver)
		if err != nil {
			_ = cat.Close()
			return nil, fmt.Errorf("opening %s database: %w", name, err)
		}
		cat.Add(d)
	}
	return cat, nil
}

// New creates a Server from configuration
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, ok := cfg.Databases[string(NotesConsumer)]; !ok {
		return nil, fmt.Errorf("databases.%s is required", NotesConsumer)
	}

	tokens, err := session.NewTokens([]byte(cfg.Session.Secret), cfg.Session.TTL)
	if err != nil {
		return nil, fmt.Errorf("creating session tokens: %w", err)
	}

	factory := access.NewFactory(cfg.AccessMode())
	if err := notes.Register(factory); err != nil {
		return nil, fmt.Errorf("registering notes access: %w", err)
	}

	cat, err := openCatalog(cfg)
	if err != nil {
		return nil, err
	}

	hook := scope.NewHook(conversation.CatalogOpener(cat), logger)
	sessions := session.New(cfg.Session.TTL, cfg.Session.MaxSessions, hook.Evict, logger)
	mw := scope.NewMiddleware(hook, sessions, tokens, scope.MiddlewareConfig{
		CookieName:   cfg.Session.CookieName,
		CookieSecure: cfg.Session.CookieSecure,
		CookieTTL:    cfg.Session.TTL,
	}, logger)

	s := &Server{
		config:   cfg,
		catalog:  cat,
		sessions: sessions,
		notes:    gateway.New(NotesConsumer, factory),
		validate: validator.New(),
		logger:   logger.With("component", "server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("/notes/{owner}", mw.Wrap(http.HandlerFunc(s.handleNotes)))
	mux.Handle("POST /session/end", mw.Wrap(http.HandlerFunc(s.handleEndSession)))

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("server initialized",
		"databases", cat.Names(),
		"access_mode", factory.Mode().String(),
		"session_ttl", cfg.Session.TTL,
		"max_sessions", cfg.Session.MaxSessions,
	)
	return s, nil
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		_ = s.close()
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown uses a fresh context since the run context is already canceled
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops the HTTP server, tears down every session and closes the
// databases
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if err := s.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// close ends every session, cancelling their conversations, then closes the catalog
func (s *Server) close() error {
	s.sessions.Close()
	if err := s.catalog.Close(); err != nil {
		return fmt.Errorf("store close: %w", err)
	}
	return nil
}
