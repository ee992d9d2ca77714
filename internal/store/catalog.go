// ABOUTME: Catalog maps consumer names to opened databases
// ABOUTME: Opens a fresh UnitOfWork per conversation and closes all databases on shutdown

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Catalog holds one DB per consumer name. It is populated once at startup and
// read-only afterwards.
type Catalog struct {
	dbs map[string]*DB
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{dbs: make(map[string]*DB)}
}

// Add registers db under its name, replacing any previous registration
func (c *Catalog) Add(db *DB) {
	c.dbs[db.Name()] = db
}

// Names returns the registered consumer names in sorted order
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.dbs))
	for name := range c.dbs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open starts a new unit of work for consumer. The database is pinged first
// so an unreachable file fails here rather than on first use.
func (c *Catalog) Open(ctx context.Context, consumer string) (*UnitOfWork, error) {
	db, ok := c.dbs[consumer]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConsumer, consumer)
	}
	if err := db.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging %s database: %w", consumer, err)
	}
	return NewUnitOfWork(db), nil
}

// Ping checks every registered database
func (c *Catalog) Ping(ctx context.Context) error {
	var errs []error
	for _, name := range c.Names() {
		if err := c.dbs[name].Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every registered database
func (c *Catalog) Close() error {
	var errs []error
	for _, name := range c.Names() {
		if err := c.dbs[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
