// ABOUTME: HTTP handlers for the notes API and conversation demarcation actions
// ABOUTME: Maps conversation and store errors to JSON responses with matching status codes

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/2389/palaver/internal/conversation"
	"github.com/2389/palaver/internal/gateway"
	"github.com/2389/palaver/internal/notes"
	"github.com/2389/palaver/internal/scope"
	"github.com/2389/palaver/internal/store"
)

// NoteResponse is the JSON form of a note. ID and timestamps are empty for a
// staged insert.
type NoteResponse struct {
	ID        string `json:"id,omitempty"`
	Owner     string `json:"owner"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	Version   int64  `json:"version"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// ListNotesResponse is returned by GET /notes/{owner}
type ListNotesResponse struct {
	Conversation string         `json:"conversation"`
	Notes        []NoteResponse `json:"notes"`
}

// PutNoteRequest is the body of POST /notes/{owner}
type PutNoteRequest struct {
	Key   string `json:"key" validate:"required,max=255"`
	Value string `json:"value" validate:"max=65536"`
}

// ActionResponse is returned by the demarcation actions
type ActionResponse struct {
	Action       string `json:"action"`
	Conversation string `json:"conversation,omitempty"`
	Status       string `json:"status"`
}

func toNoteResponse(n *store.Note) NoteResponse {
	r := NoteResponse{
		ID:      n.ID,
		Owner:   n.Owner,
		Key:     n.Key,
		Value:   n.Value,
		Version: n.Version,
	}
	if !n.CreatedAt.IsZero() {
		r.CreatedAt = n.CreatedAt.Format(time.RFC3339)
	}
	if !n.UpdatedAt.IsZero() {
		r.UpdatedAt = n.UpdatedAt.Format(time.RFC3339)
	}
	return r
}

// targetFromQuery reads ?conversation=NAME and ?persist=true
func targetFromQuery(r *http.Request) (gateway.Target, error) {
	q := r.URL.Query()
	t := gateway.Target{Name: q.Get("conversation")}
	if raw := q.Get("persist"); raw != "" {
		p, err := strconv.ParseBool(raw)
		if err != nil {
			return t, fmt.Errorf("%w: persist must be a boolean", conversation.ErrInvalidArgument)
		}
		t.Persistent = p
	}
	return t, nil
}

// wantsCommit reports whether ?commit=true asks for the change to be committed
// in the same request
func wantsCommit(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("commit"))
	return v
}

// statusFor maps an error to its HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, conversation.ErrInvalidArgument), errors.Is(err, notes.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, conversation.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrChangeConflict),
		errors.Is(err, notes.ErrExists),
		errors.Is(err, conversation.ErrTransactionActive),
		errors.Is(err, conversation.ErrNoTransaction),
		errors.Is(err, conversation.ErrCompleted):
		return http.StatusConflict
	case errors.Is(err, conversation.ErrConstruction):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// validationMessage flattens validator failures into one line
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

// sendJSON writes a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, map[string]string{"error": message})
}

// sendError maps err to a status and writes it. Server-side failures are
// logged and their detail withheld.
func (s *Server) sendError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		if status == http.StatusServiceUnavailable {
			s.sendJSONError(w, status, "storage unavailable")
			return
		}
		s.sendJSONError(w, status, "internal server error")
		return
	}
	s.sendJSONError(w, status, err.Error())
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if every database answers a ping.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.Ping(r.Context()); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("database unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d databases)", len(s.catalog.Names()))
}

// handleNotes routes /notes/{owner} by method and action
func (s *Server) handleNotes(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("owner")
	t, err := targetFromQuery(r)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleListNotes(w, r, owner, t)
	case http.MethodPost:
		if action := r.URL.Query().Get("action"); action != "" {
			s.handleAction(w, r, action, t)
			return
		}
		s.handlePutNote(w, r, owner, t)
	case http.MethodDelete:
		s.handleDeleteNote(w, r, owner, t)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleListNotes handles GET /notes/{owner}
func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request, owner string, t gateway.Target) {
	ctx := r.Context()
	c, err := s.notes.Conversation(ctx, t)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	a, err := gateway.Resolve[notes.Access](ctx, s.notes, t)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	list, err := a.All(ctx, owner)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	resp := ListNotesResponse{
		Conversation: c.Name(),
		Notes:        make([]NoteResponse, len(list)),
	}
	for i, n := range list {
		resp.Notes[i] = toNoteResponse(n)
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handlePutNote handles POST /notes/{owner}: stages an upsert
func (s *Server) handlePutNote(w http.ResponseWriter, r *http.Request, owner string, t gateway.Target) {
	var req PutNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	ctx := r.Context()
	a, err := gateway.Resolve[notes.Access](ctx, s.notes, t)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	n, err := notes.Put(ctx, a, owner, req.Key, req.Value)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	// Submit fills in ID, version and timestamps on n
	if wantsCommit(r) {
		if err := s.notes.Commit(ctx, t); err != nil {
			s.sendError(w, r, err)
			return
		}
	}
	s.sendJSON(w, http.StatusOK, toNoteResponse(n))
}

// handleDeleteNote handles DELETE /notes/{owner}?key=K: stages a delete
func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request, owner string, t gateway.Target) {
	key := r.URL.Query().Get("key")
	if key == "" {
		s.sendJSONError(w, http.StatusBadRequest, "key query parameter is required")
		return
	}

	ctx := r.Context()
	a, err := gateway.Resolve[notes.Access](ctx, s.notes, t)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	if err := a.Delete(ctx, owner, key); err != nil {
		s.sendError(w, r, err)
		return
	}

	if wantsCommit(r) {
		if err := s.notes.Commit(ctx, t); err != nil {
			s.sendError(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAction handles POST /notes/{owner}?action=...
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request, action string, t gateway.Target) {
	ctx := r.Context()
	resp := ActionResponse{Action: action, Conversation: t.Name, Status: "ok"}

	var err error
	switch action {
	case "commit":
		err = s.notes.Commit(ctx, t)
		resp.Status = "committed"
	case "cancel":
		err = s.notes.Cancel(ctx, t)
		resp.Status = "cancelled"
	case "begin-named":
		resp.Conversation, err = s.notes.BeginConversationUnique(ctx, t.Persistent)
		resp.Status = "active"
	case "begin-tx":
		err = s.notes.BeginTransaction(ctx, t)
		resp.Status = "transaction open"
	case "commit-tx":
		err = s.notes.CommitTransaction(ctx, t)
		resp.Status = "transaction committed"
	case "rollback-tx":
		err = s.notes.RollbackTransaction(ctx, t)
		resp.Status = "transaction rolled back"
	default:
		s.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown action %q", action))
		return
	}

	if err != nil {
		s.sendError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleEndSession handles POST /session/end
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sc := scope.FromContext(r.Context())
	if sc == nil {
		s.sendJSONError(w, http.StatusInternalServerError, "no session")
		return
	}
	sc.EndSession()
	w.WriteHeader(http.StatusNoContent)
}
