// Package core defines the narrow contracts between the extraction engine and
// the two collaborators it does not own: the source connection (Conn, Stmt,
// Rows) and the host Runtime (partitions, checkpoint slots, broadcast,
// location registers, row delivery). Every contract here can be satisfied by
// an in-memory fake, which is how the engine is driven headlessly in tests.
package core

import (
	"context"

	"github.com/ajitpratap0/nebula-extract/pkg/cursor"
)

// Conn is one dedicated source connection. It runs in auto-commit mode for
// its whole lifetime.
type Conn interface {
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	Prepare(ctx context.Context, query string) (Stmt, error)
	// Ping is the liveness check; callers bound it with a context deadline.
	Ping(ctx context.Context) error
	Close() error
}

// Stmt is a prepared statement bound to the Conn that prepared it.
type Stmt interface {
	Query(ctx context.Context, args ...interface{}) (Rows, error)
	Close() error
}

// Rows is a forward-only result set.
type Rows interface {
	Next() bool
	// Values returns the current row. The slice is owned by the caller.
	Values() ([]interface{}, error)
	Columns() ([]string, error)
	Err() error
	Close() error
}

// Partition is one slice of a job, owned by exactly one state machine.
// Unavailable bounds mean "unbounded" on that side.
type Partition struct {
	Ordinal    int
	Count      int
	LowerBound cursor.Cursor
	UpperBound cursor.Cursor
}

// Row is an emitted record.
type Row struct {
	Partition int
	Columns   []string
	Values    []interface{}
	// Cursor is the decoded tracked column, unavailable in full mode without one.
	Cursor cursor.Cursor
}

// CheckpointSlot persists one opaque scalar per partition.
type CheckpointSlot interface {
	// Load returns the stored raw value; ok is false when nothing was stored.
	Load(ctx context.Context) (raw string, ok bool, err error)
	Store(ctx context.Context, raw string) error
}

// Broadcaster is a resolve-once, await-many value store keyed by a
// job-scoped name.
type Broadcaster interface {
	// Resolve publishes value under name. Resolving a name twice is an error.
	Resolve(name string, value cursor.Cursor) error
	// Reject publishes a failure under name; awaiting callers receive err.
	Reject(name string, err error) error
	// Await blocks until name is resolved or rejected, or ctx is done.
	Await(ctx context.Context, name string) (cursor.Cursor, error)
}

// LocationRegister is an append-only metrics register of cursor positions.
type LocationRegister interface {
	Add(c cursor.Cursor)
}

// Emitter delivers rows to the Runtime.
type Emitter interface {
	Emit(ctx context.Context, row Row) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, row Row) error

func (f EmitterFunc) Emit(ctx context.Context, row Row) error { return f(ctx, row) }

// Runtime hands each partition its collaborators.
type Runtime interface {
	Checkpoint(p Partition) CheckpointSlot
	Broadcaster() Broadcaster
	// Locations returns the start and end location registers of p.
	Locations(p Partition) (start, end LocationRegister)
	Emitter(p Partition) Emitter
}
