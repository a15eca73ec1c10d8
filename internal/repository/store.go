// Package repository provides storage for units and emergency cases.
//
// Two backends implement Store: MemoryStore (single process, used by tests
// and small deployments) and PostgresStore (pgx, row-level locking).
// Both guarantee that every write made through one Tx becomes visible
// together or not at all, and that Snapshot never observes half of a Tx.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shiva/sosdispatch/internal/model"
)

// ErrNotFound is returned when a case or unit id does not exist.
var ErrNotFound = errors.New("record not found")

// DefaultTxTimeout bounds a single transaction, lock waits included.
const DefaultTxTimeout = 5 * time.Second

// Tx is one atomic unit of work over cases and units.
//
// GetCase and GetUnit return the row as this Tx sees it (its own staged
// writes included). PostgresStore locks the row for the rest of the Tx;
// callers must read cases before units to keep a single lock order.
type Tx interface {
	GetCase(ctx context.Context, id string) (*model.Case, error)
	GetUnit(ctx context.Context, id string) (*model.Unit, error)
	InsertCase(ctx context.Context, c *model.Case) error
	InsertUnit(ctx context.Context, u *model.Unit) error
	UpdateCase(ctx context.Context, c *model.Case) error
	UpdateUnit(ctx context.Context, u *model.Unit) error
}

// Store is the persistence boundary of the dispatch core.
type Store interface {
	// InTx runs fn in a transaction. It commits if fn returns nil and
	// discards every staged write otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// GetCase and GetUnit are unlocked reads of committed state.
	GetCase(ctx context.Context, id string) (*model.Case, error)
	GetUnit(ctx context.Context, id string) (*model.Unit, error)

	// GetCaseWithUnit reads a case and its assigned unit at a single point
	// in time. The unit is nil when the case has none.
	GetCaseWithUnit(ctx context.Context, id string) (*model.Case, *model.Unit, error)

	// Snapshot returns cases matching f plus all units, read at a single
	// point in time. Both slices are ordered newest first.
	Snapshot(ctx context.Context, f model.CaseFilter) (*model.Snapshot, error)

	// Ping reports backend health.
	Ping(ctx context.Context) error
}

// ReporterDirectory resolves reporter ids to display details. Unknown ids
// are simply absent from the result.
type ReporterDirectory interface {
	Lookup(ctx context.Context, ids []string) (map[string]model.Reporter, error)
}
