package testutil

import (
	"context"
	"sync"

	"github.com/ajitpratap0/nebula-extract/pkg/connector/core"
	"github.com/ajitpratap0/nebula-extract/pkg/cursor"
)

// Rows is an in-memory core.Rows.
type Rows struct {
	Cols []string
	Data [][]interface{}
	// Fail is reported by Err once the rows are exhausted.
	Fail error

	mu     sync.Mutex
	pos    int
	closed bool
}

// NewRows builds a result set with the given columns and rows.
func NewRows(cols []string, data ...[]interface{}) *Rows {
	return &Rows{Cols: cols, Data: data}
}

func (r *Rows) Next() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.pos >= len(r.Data) {
		return false
	}
	r.pos++
	return true
}

func (r *Rows) Values() ([]interface{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]interface{}(nil), r.Data[r.pos-1]...), nil
}

func (r *Rows) Columns() ([]string, error) { return r.Cols, nil }

func (r *Rows) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pos >= len(r.Data) {
		return r.Fail
	}
	return nil
}

func (r *Rows) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Closed reports whether Close was called.
func (r *Rows) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Conn is a scripted core.Conn. A nil QueryFunc answers every query with an
// empty result; a nil PingFunc reports a healthy connection.
type Conn struct {
	QueryFunc func(ctx context.Context, query string, args []interface{}) (core.Rows, error)
	PingFunc  func(ctx context.Context) error

	mu       sync.Mutex
	queries  []string
	prepared []string
	pings    int
	closed   bool
}

func (c *Conn) Query(ctx context.Context, query string, args ...interface{}) (core.Rows, error) {
	c.mu.Lock()
	c.queries = append(c.queries, query)
	fn := c.QueryFunc
	c.mu.Unlock()

	if fn == nil {
		return NewRows(nil), nil
	}
	return fn(ctx, query, args)
}

func (c *Conn) Prepare(_ context.Context, query string) (core.Stmt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prepared = append(c.prepared, query)
	return &Stmt{conn: c, query: query}, nil
}

func (c *Conn) Ping(ctx context.Context) error {
	c.mu.Lock()
	c.pings++
	fn := c.PingFunc
	c.mu.Unlock()

	if fn == nil {
		return nil
	}
	return fn(ctx)
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Queries returns every statement executed so far, prepared ones included.
func (c *Conn) Queries() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.queries...)
}

// Prepared returns every statement text passed to Prepare.
func (c *Conn) Prepared() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prepared...)
}

// Pings returns the number of liveness probes.
func (c *Conn) Pings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Stmt is the prepared statement of a Conn; it runs through the Conn's QueryFunc.
type Stmt struct {
	conn   *Conn
	query  string
	mu     sync.Mutex
	closed bool
}

func (s *Stmt) Query(ctx context.Context, args ...interface{}) (core.Rows, error) {
	return s.conn.Query(ctx, s.query, args...)
}

func (s *Stmt) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Stmt) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Factory counts connection attempts. OpenFunc receives the 1-based attempt number.
type Factory struct {
	OpenFunc func(ctx context.Context, attempt int) (core.Conn, error)

	mu    sync.Mutex
	opens int
}

func (f *Factory) Open(ctx context.Context) (core.Conn, error) {
	f.mu.Lock()
	f.opens++
	n := f.opens
	f.mu.Unlock()

	if f.OpenFunc == nil {
		return &Conn{}, nil
	}
	return f.OpenFunc(ctx, n)
}

// Opens returns the number of Open calls.
func (f *Factory) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

// FaultConn wraps a real connection and overrides its liveness probe.
type FaultConn struct {
	core.Conn
	PingFunc func(ctx context.Context) error
}

func (c *FaultConn) Ping(ctx context.Context) error {
	if c.PingFunc != nil {
		return c.PingFunc(ctx)
	}
	return c.Conn.Ping(ctx)
}

// Runtime is an in-memory core.Runtime that records every emitted row.
type Runtime struct {
	Broadcast core.Broadcaster
	// EmitFunc runs before a row is recorded; an error rejects the row
	EmitFunc func(ctx context.Context, row core.Row) error

	mu          sync.Mutex
	checkpoints map[int]string
	rows        []core.Row
	starts      map[int]*Register
	ends        map[int]*Register
}

// NewRuntime creates a Runtime publishing bounds through b.
func NewRuntime(b core.Broadcaster) *Runtime {
	return &Runtime{
		Broadcast:   b,
		checkpoints: make(map[int]string),
		starts:      make(map[int]*Register),
		ends:        make(map[int]*Register),
	}
}

// SetCheckpoint seeds the checkpoint of a partition, as a previous run would.
func (r *Runtime) SetCheckpoint(ordinal int, raw string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkpoints[ordinal] = raw
}

// CheckpointValue returns the stored checkpoint of a partition.
func (r *Runtime) CheckpointValue(ordinal int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	raw, ok := r.checkpoints[ordinal]
	return raw, ok
}

// Rows returns the rows emitted so far.
func (r *Runtime) Rows() []core.Row {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Row(nil), r.rows...)
}

// Cursors returns the raw cursor of every emitted row.
func (r *Runtime) Cursors() []string {
	rows := r.Rows()
	out := make([]string, len(rows))
	for i, row := range rows {
		out[i] = row.Cursor.Raw()
	}
	return out
}

func (r *Runtime) Checkpoint(p core.Partition) core.CheckpointSlot {
	return &memorySlot{rt: r, ordinal: p.Ordinal}
}

func (r *Runtime) Broadcaster() core.Broadcaster { return r.Broadcast }

func (r *Runtime) Locations(p core.Partition) (start, end core.LocationRegister) {
	return r.StartRegister(p.Ordinal), r.EndRegister(p.Ordinal)
}

// StartRegister returns the start location register of a partition.
func (r *Runtime) StartRegister(ordinal int) *Register {
	return r.register(r.starts, ordinal)
}

// EndRegister returns the end location register of a partition.
func (r *Runtime) EndRegister(ordinal int) *Register {
	return r.register(r.ends, ordinal)
}

func (r *Runtime) register(m map[int]*Register, ordinal int) *Register {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := m[ordinal]
	if !ok {
		reg = &Register{}
		m[ordinal] = reg
	}
	return reg
}

func (r *Runtime) Emitter(core.Partition) core.Emitter {
	return core.EmitterFunc(func(ctx context.Context, row core.Row) error {
		if r.EmitFunc != nil {
			if err := r.EmitFunc(ctx, row); err != nil {
				return err
			}
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		r.rows = append(r.rows, row)
		return nil
	})
}

type memorySlot struct {
	rt      *Runtime
	ordinal int
}

func (s *memorySlot) Load(context.Context) (string, bool, error) {
	raw, ok := s.rt.CheckpointValue(s.ordinal)
	return raw, ok, nil
}

func (s *memorySlot) Store(_ context.Context, raw string) error {
	s.rt.SetCheckpoint(s.ordinal, raw)
	return nil
}

// Register records every cursor added to it.
type Register struct {
	mu     sync.Mutex
	values []string
}

func (r *Register) Add(c cursor.Cursor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, c.Raw())
}

// Values returns the raw values added so far.
func (r *Register) Values() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.values...)
}
