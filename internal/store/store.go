// ABOUTME: Entity types, conflict model and sentinel errors for palaver persistence
// ABOUTME: Defines Note, Conflict and RefreshMode shared by the unit of work and its callers

package store

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrChangeConflict is matched by the error SubmitChanges returns when a
// concurrent writer modified or removed a row this unit of work wanted to write.
var ErrChangeConflict = errors.New("change conflict")

// ErrClosed is returned by any operation on a unit of work that has been closed
var ErrClosed = errors.New("unit of work closed")

// ErrUnknownConsumer is returned by Catalog.Open for an unregistered consumer name
var ErrUnknownConsumer = errors.New("unknown consumer")

// Transaction errors
var (
	ErrTxActive = errors.New("transaction already active")
	ErrNoTx     = errors.New("no active transaction")
)

// Note is a keyed value owned by a principal. Version is bumped on every
// write and is used for optimistic concurrency control.
type Note struct {
	ID        string
	Owner     string
	Key       string
	Value     string
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ConflictKind classifies how a concurrent writer interfered with a change
type ConflictKind string

const (
	ConflictModified  ConflictKind = "modified"  // row version moved on
	ConflictDeleted   ConflictKind = "deleted"   // row removed underneath an update
	ConflictDuplicate ConflictKind = "duplicate" // insert collided with (owner, key)
)

// Conflict describes one row that could not be written as submitted
type Conflict struct {
	NoteID string
	Owner  string
	Key    string
	Kind   ConflictKind
	Fields []string // fields whose stored value differs from what this unit of work loaded
	Stored *Note    // row as found at detection time; nil when deleted
}

// ConflictError is returned by SubmitChanges when at least one conflict was detected
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	keys := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		keys = append(keys, fmt.Sprintf("%s/%s (%s)", c.Owner, c.Key, c.Kind))
	}
	return fmt.Sprintf("%d change conflict(s): %s", len(e.Conflicts), strings.Join(keys, ", "))
}

// Unwrap lets errors.Is(err, ErrChangeConflict) match
func (e *ConflictError) Unwrap() error {
	return ErrChangeConflict
}

// RefreshMode selects how ResolveConflicts reconciles local and stored values
type RefreshMode int

const (
	// KeepCurrentValues keeps every value this unit of work submitted and
	// overwrites whatever the concurrent writer stored.
	KeepCurrentValues RefreshMode = iota
	// KeepChanges keeps only the fields this unit of work changed and takes
	// stored values for the rest.
	KeepChanges
	// OverwriteCurrentValues discards local changes in favour of stored values.
	OverwriteCurrentValues
)

func (m RefreshMode) String() string {
	switch m {
	case KeepCurrentValues:
		return "keep_current_values"
	case KeepChanges:
		return "keep_changes"
	case OverwriteCurrentValues:
		return "overwrite_current_values"
	default:
		return fmt.Sprintf("refresh_mode(%d)", int(m))
	}
}

// diffFields lists the user-visible fields that differ between two notes
func diffFields(a, b Note) []string {
	var fields []string
	if a.Key != b.Key {
		fields = append(fields, "key")
	}
	if a.Value != b.Value {
		fields = append(fields, "value")
	}
	return fields
}
