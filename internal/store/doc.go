// Package store provides the persistence context that palaver conversations
// wrap: a change-tracking unit of work over SQLite.
//
// # Architecture
//
//   - DB: one SQLite database (schema, WAL, migrations)
//   - Catalog: consumer name -> DB, built once at startup
//   - UnitOfWork: identity map of loaded notes plus staged inserts and
//     deletes; modifications to loaded notes are detected at submit time
//
// A UnitOfWork is owned by exactly one conversation and is not safe for
// concurrent use.
//
// # Optimistic Concurrency
//
// Every note carries a version. Updates and deletes are guarded with
//
//	UPDATE notes SET ... WHERE id = ? AND version = ?
//
// and a zero row count is recorded as a Conflict instead of failing the
// batch. SubmitChanges attempts every staged change, then returns a
// *ConflictError (errors.Is(err, ErrChangeConflict)) listing them all.
// Statements are built with squirrel using "?" placeholders.
//
// ResolveConflicts reconciles the pending conflicts:
//
//   - KeepCurrentValues: local values win for every field
//   - KeepChanges: local values win only for fields changed locally
//   - OverwriteCurrentValues: stored values win
//
// After resolving, SubmitChanges is called again.
//
// # Transactions
//
// Without an explicit transaction each SubmitChanges runs in its own
// transaction, rolled back when any conflict is found. BeginTx opens an
// explicit transaction that reads and submits join until CommitTx or
// RollbackTx. Close rolls back anything still open.
//
// # Drivers
//
//   - "sqlite": modernc.org/sqlite (default, pure Go)
//   - "sqlite3": github.com/mattn/go-sqlite3 (cgo)
//
// # Testing
//
// Open a database under t.TempDir(); two units of work against the same file
// reproduce concurrent writers.
package store
