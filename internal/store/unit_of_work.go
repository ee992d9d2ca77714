// ABOUTME: UnitOfWork tracks loaded notes and staged changes against one DB
// ABOUTME: Submits with optimistic concurrency, reports conflicts and resolves them by refresh mode

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// tracked is a loaded note together with the values it was loaded with
type tracked struct {
	note     *Note
	original Note
}

// UnitOfWork is a change-tracking session over a DB. It is not safe for
// concurrent use; the owning conversation serializes access.
type UnitOfWork struct {
	db     *DB
	logger *slog.Logger

	tracked   map[string]*tracked // keyed by note ID
	inserts   []*Note
	deletes   map[string]*tracked // keyed by note ID
	conflicts []Conflict

	tx     *sql.Tx
	closed bool
}

// NewUnitOfWork starts an empty unit of work against db
func NewUnitOfWork(db *DB) *UnitOfWork {
	return &UnitOfWork{
		db:      db,
		logger:  db.logger.With("uow", uuid.New().String()[:8]),
		tracked: make(map[string]*tracked),
		deletes: make(map[string]*tracked),
	}
}

func (u *UnitOfWork) q() querier {
	if u.tx != nil {
		return u.tx
	}
	return u.db.db
}

// ListNotes loads all notes of owner ordered by key. Notes already tracked by
// this unit of work are returned as the same pointer; notes staged for
// deletion are omitted.
func (u *UnitOfWork) ListNotes(ctx context.Context, owner string) ([]*Note, error) {
	if u.closed {
		return nil, ErrClosed
	}

	query, args, err := selectNotes().Where(squirrel.Eq{"owner": owner}).OrderBy("key").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	rows, err := u.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying notes: %w", err)
	}
	defer rows.Close()

	var notes []*Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning note: %w", err)
		}
		if _, gone := u.deletes[n.ID]; gone {
			continue
		}
		notes = append(notes, u.track(n))
	}
	return notes, rows.Err()
}

// GetNote loads one note by ID
func (u *UnitOfWork) GetNote(ctx context.Context, id string) (*Note, error) {
	if u.closed {
		return nil, ErrClosed
	}
	if _, gone := u.deletes[id]; gone {
		return nil, ErrNotFound
	}
	n, err := loadNote(ctx, u.q(), squirrel.Eq{"id": id})
	if err != nil {
		return nil, err
	}
	return u.track(n), nil
}

// GetNoteByKey loads one note by owner and key
func (u *UnitOfWork) GetNoteByKey(ctx context.Context, owner, key string) (*Note, error) {
	if u.closed {
		return nil, ErrClosed
	}
	n, err := loadNote(ctx, u.q(), squirrel.Eq{"owner": owner, "key": key})
	if err != nil {
		return nil, err
	}
	if _, gone := u.deletes[n.ID]; gone {
		return nil, ErrNotFound
	}
	return u.track(n), nil
}

// track returns the identity-mapped instance for a freshly loaded row
func (u *UnitOfWork) track(n *Note) *Note {
	if t, ok := u.tracked[n.ID]; ok {
		return t.note
	}
	u.tracked[n.ID] = &tracked{note: n, original: *n}
	return n
}

// Insert stages a new note. ID, Version and timestamps are assigned on submit
// when unset.
func (u *UnitOfWork) Insert(n *Note) error {
	if u.closed {
		return ErrClosed
	}
	if n.Owner == "" || n.Key == "" {
		return fmt.Errorf("note owner and key are required")
	}
	u.inserts = append(u.inserts, n)
	return nil
}

// Pending returns the staged insert for owner and key, or nil. Staged
// inserts are not visible to the List/Get reads until submitted.
func (u *UnitOfWork) Pending(owner, key string) *Note {
	for _, n := range u.inserts {
		if n.Owner == owner && n.Key == key {
			return n
		}
	}
	return nil
}

// Delete stages removal of a note previously loaded by this unit of work.
// Deleting a staged insert simply unstages it.
func (u *UnitOfWork) Delete(n *Note) error {
	if u.closed {
		return ErrClosed
	}
	for i, ins := range u.inserts {
		if ins == n {
			u.inserts = append(u.inserts[:i], u.inserts[i+1:]...)
			return nil
		}
	}
	t, ok := u.tracked[n.ID]
	if !ok || t.note != n {
		return fmt.Errorf("note %s is not tracked by this unit of work", n.ID)
	}
	delete(u.tracked, n.ID)
	u.deletes[n.ID] = t
	return nil
}

// HasChanges reports whether anything is staged
func (u *UnitOfWork) HasChanges() bool {
	if len(u.inserts) > 0 || len(u.deletes) > 0 {
		return true
	}
	for _, t := range u.tracked {
		if len(diffFields(*t.note, t.original)) > 0 {
			return true
		}
	}
	return false
}

// Conflicts returns the conflicts reported by the last SubmitChanges that
// have not been resolved yet
func (u *UnitOfWork) Conflicts() []Conflict {
	out := make([]Conflict, len(u.conflicts))
	copy(out, u.conflicts)
	return out
}

// SubmitChanges writes every staged delete, modification and insert, in that
// order, so a key freed by a delete or a rename can be reused by an insert in
// the same batch. All changes are attempted even after a conflict. Without an
// explicit transaction the batch runs in its own transaction which is rolled
// back if any conflict was found; inside an explicit transaction the non-conflicting
// writes stay applied and only the conflicting ones remain staged.
func (u *UnitOfWork) SubmitChanges(ctx context.Context) error {
	if u.closed {
		return ErrClosed
	}

	var (
		tx  = u.tx
		own bool
		err error
	)
	if tx == nil {
		tx, err = u.db.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning submit transaction: %w", err)
		}
		own = true
	}

	var (
		conflicts []Conflict
		done      []func() // bookkeeping applied once the writes are durable in tx
		now       = time.Now()
	)

	fail := func(err error) error {
		if own {
			_ = tx.Rollback()
		}
		return err
	}

	for id, t := range u.deletes {
		c, err := deleteNote(ctx, tx, t)
		if err != nil {
			return fail(err)
		}
		if c != nil {
			conflicts = append(conflicts, *c)
			continue
		}
		id := id
		done = append(done, func() { delete(u.deletes, id) })
	}

	for _, t := range u.tracked {
		if len(diffFields(*t.note, t.original)) == 0 {
			continue
		}
		c, err := updateNote(ctx, tx, t, now)
		if err != nil {
			return fail(err)
		}
		if c != nil {
			conflicts = append(conflicts, *c)
			continue
		}
		t := t
		done = append(done, func() {
			t.note.Version = t.original.Version + 1
			t.note.UpdatedAt = now
			t.original = *t.note
		})
	}

	for _, n := range u.inserts {
		c, err := insertNote(ctx, tx, n, now)
		if err != nil {
			return fail(err)
		}
		if c != nil {
			conflicts = append(conflicts, *c)
			continue
		}
		n := n
		done = append(done, func() {
			u.removeInsert(n)
			u.tracked[n.ID] = &tracked{note: n, original: *n}
		})
	}

	if len(conflicts) > 0 && own {
		_ = tx.Rollback()
		u.conflicts = conflicts
		u.logger.Debug("submit rolled back on conflict", "conflicts", len(conflicts))
		return &ConflictError{Conflicts: conflicts}
	}

	if own {
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing submit transaction: %w", err)
		}
	}
	for _, fn := range done {
		fn()
	}

	u.conflicts = conflicts
	if len(conflicts) > 0 {
		return &ConflictError{Conflicts: conflicts}
	}
	u.logger.Debug("changes submitted", "writes", len(done))
	return nil
}

func (u *UnitOfWork) removeInsert(n *Note) {
	for i, ins := range u.inserts {
		if ins == n {
			u.inserts = append(u.inserts[:i], u.inserts[i+1:]...)
			return
		}
	}
}

// ResolveConflicts reconciles every pending conflict according to mode so
// that the next SubmitChanges can succeed. It returns the conflicts it resolved.
func (u *UnitOfWork) ResolveConflicts(ctx context.Context, mode RefreshMode) ([]Conflict, error) {
	if u.closed {
		return nil, ErrClosed
	}

	resolved := u.conflicts
	for _, c := range resolved {
		switch c.Kind {
		case ConflictDuplicate:
			u.resolveDuplicate(c, mode)
		case ConflictDeleted:
			if err := u.resolveDeleted(ctx, c, mode); err != nil {
				return nil, err
			}
		case ConflictModified:
			u.resolveModified(c, mode)
		default:
			return nil, fmt.Errorf("unknown conflict kind %q", c.Kind)
		}
	}
	u.conflicts = nil
	u.logger.Debug("conflicts resolved", "mode", mode.String(), "count", len(resolved))
	return resolved, nil
}

// resolveDuplicate turns a colliding insert into an update of the stored row
// (keep modes) or adopts the stored row (overwrite).
func (u *UnitOfWork) resolveDuplicate(c Conflict, mode RefreshMode) {
	var n *Note
	for _, ins := range u.inserts {
		if ins.Owner == c.Owner && ins.Key == c.Key {
			n = ins
			break
		}
	}
	if n == nil || c.Stored == nil {
		return
	}
	u.removeInsert(n)

	stored := *c.Stored
	switch mode {
	case OverwriteCurrentValues:
		*n = stored
	default:
		n.ID = stored.ID
		n.Version = stored.Version
		n.CreatedAt = stored.CreatedAt
	}
	u.tracked[n.ID] = &tracked{note: n, original: stored}
}

// resolveDeleted handles an update or delete whose row vanished. In the keep
// modes the note is written again: as an insert, or as an update of the row
// that now holds its owner and key if the other writer re-created it.
func (u *UnitOfWork) resolveDeleted(ctx context.Context, c Conflict, mode RefreshMode) error {
	if _, ok := u.deletes[c.NoteID]; ok {
		// Already gone; nothing left to delete
		delete(u.deletes, c.NoteID)
		return nil
	}
	t, ok := u.tracked[c.NoteID]
	if !ok {
		return nil
	}
	delete(u.tracked, c.NoteID)
	if mode == OverwriteCurrentValues {
		return nil
	}

	stored, err := loadNote(ctx, u.q(), squirrel.Eq{"owner": t.note.Owner, "key": t.note.Key})
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return fmt.Errorf("resolving deleted note %s: %w", c.NoteID, err)
	default:
		_, loaded := u.tracked[stored.ID]
		_, deleting := u.deletes[stored.ID]
		if !loaded && !deleting {
			t.note.ID = stored.ID
			t.note.Version = stored.Version
			t.note.CreatedAt = stored.CreatedAt
			t.original = *stored
			u.tracked[stored.ID] = t
			return nil
		}
	}

	t.note.Version = 0
	u.inserts = append(u.inserts, t.note)
	return nil
}

// resolveModified rebases a stale update or delete onto the stored version
func (u *UnitOfWork) resolveModified(c Conflict, mode RefreshMode) {
	if c.Stored == nil {
		return
	}
	stored := *c.Stored

	if t, ok := u.deletes[c.NoteID]; ok {
		if mode == OverwriteCurrentValues {
			delete(u.deletes, c.NoteID)
			*t.note = stored
			t.original = stored
			u.tracked[c.NoteID] = t
			return
		}
		t.original = stored
		return
	}

	t, ok := u.tracked[c.NoteID]
	if !ok {
		return
	}
	switch mode {
	case KeepCurrentValues:
		// Every local value wins; only the concurrency token moves
	case KeepChanges:
		if t.note.Key == t.original.Key {
			t.note.Key = stored.Key
		}
		if t.note.Value == t.original.Value {
			t.note.Value = stored.Value
		}
	case OverwriteCurrentValues:
		*t.note = stored
	}
	t.note.Version = stored.Version
	t.original = stored
}

// BeginTx starts an explicit transaction that subsequent reads and submits join
func (u *UnitOfWork) BeginTx(ctx context.Context) error {
	if u.closed {
		return ErrClosed
	}
	if u.tx != nil {
		return ErrTxActive
	}
	tx, err := u.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	u.tx = tx
	return nil
}

// CommitTx commits the explicit transaction
func (u *UnitOfWork) CommitTx() error {
	if u.tx == nil {
		return ErrNoTx
	}
	tx := u.tx
	u.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// RollbackTx rolls back the explicit transaction
func (u *UnitOfWork) RollbackTx() error {
	if u.tx == nil {
		return ErrNoTx
	}
	tx := u.tx
	u.tx = nil
	if err := tx.Rollback(); err != nil {
		return fmt.Errorf("rolling back transaction: %w", err)
	}
	return nil
}

// InTransaction reports whether an explicit transaction is open
func (u *UnitOfWork) InTransaction() bool {
	return u.tx != nil
}

// Close discards staged changes and rolls back any open transaction.
// Closing twice is a no-op.
func (u *UnitOfWork) Close() error {
	if u.closed {
		return nil
	}
	u.closed = true

	var err error
	if u.tx != nil {
		if rbErr := u.tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = fmt.Errorf("rolling back on close: %w", rbErr)
		}
		u.tx = nil
	}
	u.tracked = nil
	u.inserts = nil
	u.deletes = nil
	u.conflicts = nil
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNote(s scanner) (*Note, error) {
	var n Note
	var createdAt, updatedAt string
	if err := s.Scan(&n.ID, &n.Owner, &n.Key, &n.Value, &n.Version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	n.CreatedAt = parseTime(createdAt)
	n.UpdatedAt = parseTime(updatedAt)
	return &n, nil
}

var noteColumns = []string{"id", "owner", "key", "value", "version", "created_at", "updated_at"}

// selectNotes starts a query over every note column. Placeholders default to
// "?", which both SQLite drivers accept.
func selectNotes() squirrel.SelectBuilder {
	return squirrel.Select(noteColumns...).From("notes")
}

func loadNote(ctx context.Context, q querier, where squirrel.Eq) (*Note, error) {
	query, args, err := selectNotes().Where(where).Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	n, err := scanNote(q.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading note: %w", err)
	}
	return n, nil
}

// insertNote writes a staged note. A unique collision on (owner, key) is a
// conflict, not an error.
func insertNote(ctx context.Context, q querier, n *Note, now time.Time) (*Conflict, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now
	n.Version = 1

	query, args, err := squirrel.Insert("notes").
		Columns(noteColumns...).
		Values(n.ID, n.Owner, n.Key, n.Value, n.Version, formatTime(n.CreatedAt), formatTime(n.UpdatedAt)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building insert: %w", err)
	}
	_, err = q.ExecContext(ctx, query, args...)
	if err == nil {
		return nil, nil
	}
	if !isConstraintViolation(err) {
		return nil, fmt.Errorf("inserting note: %w", err)
	}

	stored, lookupErr := loadNote(ctx, q, squirrel.Eq{"owner": n.Owner, "key": n.Key})
	if lookupErr != nil {
		return nil, fmt.Errorf("inserting note: %w", err)
	}
	return &Conflict{
		NoteID: n.ID,
		Owner:  n.Owner,
		Key:    n.Key,
		Kind:   ConflictDuplicate,
		Fields: diffFields(*n, *stored),
		Stored: stored,
	}, nil
}

func updateNote(ctx context.Context, q querier, t *tracked, now time.Time) (*Conflict, error) {
	n := t.note
	query, args, err := squirrel.Update("notes").
		Set("key", n.Key).
		Set("value", n.Value).
		Set("version", squirrel.Expr("version + 1")).
		Set("updated_at", formatTime(now)).
		Where(squirrel.Eq{"id": n.ID, "version": t.original.Version}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building update: %w", err)
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("updating note %s: %w", n.ID, err)
	}
	return versionConflict(ctx, q, res, t)
}

func deleteNote(ctx context.Context, q querier, t *tracked) (*Conflict, error) {
	query, args, err := squirrel.Delete("notes").
		Where(squirrel.Eq{"id": t.note.ID, "version": t.original.Version}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building delete: %w", err)
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("deleting note %s: %w", t.note.ID, err)
	}
	return versionConflict(ctx, q, res, t)
}

// versionConflict inspects a version-guarded write; zero affected rows means
// someone else got there first.
func versionConflict(ctx context.Context, q querier, res sql.Result, t *tracked) (*Conflict, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("reading affected rows: %w", err)
	}
	if n > 0 {
		return nil, nil
	}

	c := &Conflict{
		NoteID: t.note.ID,
		Owner:  t.original.Owner,
		Key:    t.original.Key,
	}
	stored, err := loadNote(ctx, q, squirrel.Eq{"id": t.note.ID})
	switch {
	case errors.Is(err, ErrNotFound):
		c.Kind = ConflictDeleted
	case err != nil:
		return nil, err
	default:
		c.Kind = ConflictModified
		c.Stored = stored
		c.Fields = diffFields(*stored, t.original)
	}
	return c, nil
}
