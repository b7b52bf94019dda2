// Package extract runs one partition of an extraction job as a state machine:
// INIT resolves bounds and restores the checkpoint, OPENING acquires a
// connection and issues the first scan, READING streams rows to the Runtime,
// and WAITING (polling mode only) sleeps, checks liveness and re-queries past
// the last observed position.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-extract/pkg/clients"
	"github.com/ajitpratap0/nebula-extract/pkg/config"
	"github.com/ajitpratap0/nebula-extract/pkg/connector/core"
	"github.com/ajitpratap0/nebula-extract/pkg/coordinator"
	"github.com/ajitpratap0/nebula-extract/pkg/cursor"
	"github.com/ajitpratap0/nebula-extract/pkg/json"
	"github.com/ajitpratap0/nebula-extract/pkg/logger"
	"github.com/ajitpratap0/nebula-extract/pkg/metrics"
	"github.com/ajitpratap0/nebula-extract/pkg/nebulaerrors"
	"github.com/ajitpratap0/nebula-extract/pkg/observability"
	"github.com/ajitpratap0/nebula-extract/pkg/querybuilder"
)

// Deps are the collaborators of a Machine. Runtime, Supervisor and Builder
// are required; Coordinator is required when the upper bound is computed.
type Deps struct {
	Supervisor  *clients.Supervisor
	Builder     *querybuilder.Builder
	Coordinator *coordinator.BoundCoordinator
	Runtime     core.Runtime
	// Metrics defaults to an unregistered collector
	Metrics *metrics.PartitionMetrics
	Logger  *zap.Logger
}

// Machine reads one partition.
type Machine struct {
	opts Options
	part core.Partition

	sup     *clients.Supervisor
	builder *querybuilder.Builder
	coord   *coordinator.BoundCoordinator
	metrics *metrics.PartitionMetrics
	tracer  *observability.QueryTracer
	logger  *zap.Logger

	checkpoint core.CheckpointSlot
	emitter    core.Emitter
	startReg   core.LocationRegister
	endReg     core.LocationRegister

	// owned by the Run goroutine
	res        clients.Resources
	filter     querybuilder.Filter
	forwardSQL string

	mu      sync.RWMutex
	state   State
	last    cursor.Cursor
	lastRow []interface{}
	emitted int64
	err     error
}

// New creates a Machine for part.
func New(opts Options, part core.Partition, deps Deps) *Machine {
	pm := deps.Metrics
	if pm == nil {
		pm = metrics.NewCollector(opts.Job, nil).Partition(part.Ordinal)
	}
	log := deps.Logger
	if log == nil {
		log = logger.Get()
	}
	start, end := deps.Runtime.Locations(part)

	return &Machine{
		opts:       opts,
		part:       part,
		sup:        deps.Supervisor,
		builder:    deps.Builder,
		coord:      deps.Coordinator,
		metrics:    pm,
		tracer:     observability.NewQueryTracer(nil, opts.Job, part.Ordinal),
		logger:     log.With(zap.String("component", "extract"), zap.String("job_id", opts.Job), zap.Int("partition", part.Ordinal)),
		checkpoint: deps.Runtime.Checkpoint(part),
		emitter:    deps.Runtime.Emitter(part),
		startReg:   start,
		endReg:     end,
		state:      StateInit,
		last:       cursor.Unavailable(opts.Domain),
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// LastCursor returns the position of the last emitted row, or the lower
// bound the partition started from.
func (m *Machine) LastCursor() cursor.Cursor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// LastRow returns the values of the last emitted row.
func (m *Machine) LastRow() []interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRow
}

// Emitted returns the number of rows emitted.
func (m *Machine) Emitted() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.emitted
}

// Err returns the error the machine failed with.
func (m *Machine) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

// Filter returns the scan parameters resolved during INIT. It must not be
// called while Run is in progress.
func (m *Machine) Filter() querybuilder.Filter { return m.filter }

// Run drives the partition to a terminal state. Cancellation of ctx is a
// clean exit: Run releases the partition's resources and returns nil.
func (m *Machine) Run(ctx context.Context) error {
	defer m.sup.Release(&m.res, true)

	err := m.run(ctx)
	switch {
	case err == nil:
		m.transition(StateDone)
		m.logger.Info("partition finished", zap.Int64("rows", m.Emitted()), zap.Stringer("last", m.LastCursor()))
		return nil
	case ctx.Err() != nil:
		m.transition(StateCancelled)
		m.logger.Info("partition cancelled", zap.Int64("rows", m.Emitted()), zap.Stringer("last", m.LastCursor()))
		return nil
	default:
		m.mu.Lock()
		m.err = err
		m.mu.Unlock()
		m.transition(StateFailed)
		m.logger.Error("partition failed", zap.Error(err))
		return err
	}
}

func (m *Machine) run(ctx context.Context) error {
	skip, err := m.init(ctx)
	if err != nil {
		return err
	}
	if skip {
		m.logger.Info("lower bound equals upper bound, nothing to read",
			zap.Stringer("bound", m.filter.Lower))
		return nil
	}

	m.transition(StateOpening)
	if err := m.open(ctx); err != nil {
		return err
	}

	for {
		m.transition(StateReading)
		if err := m.read(ctx); err != nil {
			return err
		}
		if m.opts.Mode != config.ModePolling {
			return nil
		}

		m.transition(StateWaiting)
		if err := m.wait(ctx); err != nil {
			return err
		}
	}
}

func (m *Machine) transition(to State) {
	m.mu.Lock()
	from := m.state
	m.state = to
	m.mu.Unlock()
	if from != to {
		m.logger.Debug("state transition", zap.Stringer("from", from), zap.Stringer("to", to))
	}
}

// init resolves the partition's bounds. It reports skip when the bounds
// coincide and nothing can be read.
func (m *Machine) init(ctx context.Context) (skip bool, err error) {
	if err := m.validate(); err != nil {
		return false, err
	}

	lower, upper := m.part.LowerBound, m.part.UpperBound
	maxMode := false
	if m.opts.ComputeUpperBound {
		// every partition reaches the coordinator before any other blocking
		// call, so followers never wait on a leader stuck elsewhere
		upper, err = m.coord.Upper(ctx, m.part.Ordinal, m.opts.StartLocation)
		if err != nil {
			return false, err
		}
		maxMode = true
	}

	restored := false
	if m.opts.TrackedColumn != "" {
		raw, ok, err := m.checkpoint.Load(ctx)
		if err != nil {
			return false, nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeData, "failed to load checkpoint")
		}
		if ok && raw != "" {
			c, err := cursor.Parse(raw, m.opts.Domain)
			if err != nil {
				return false, nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeInvalidCursorFormat,
					"invalid checkpoint ["+raw+"] for column "+m.opts.TrackedColumn)
			}
			m.logger.Info("resuming from checkpoint",
				zap.String("checkpoint", raw),
				zap.Stringer("configured_start", lower))
			lower, restored = c, true
		}
	}

	m.filter = querybuilder.Filter{
		Lower:    lower,
		Upper:    upper,
		MaxMode:  maxMode,
		Restored: restored,
		Ordinal:  m.part.Ordinal,
		Count:    m.part.Count,
	}
	m.mu.Lock()
	m.last = lower
	m.mu.Unlock()

	if lower.Available() {
		m.startReg.Add(lower)
	}
	if maxMode && upper.Available() {
		m.endReg.Add(upper)
	}
	return lower.Available() && upper.Available() && cursor.Equal(lower, upper), nil
}

func (m *Machine) validate() error {
	if m.opts.Mode != config.ModeFull && m.opts.TrackedColumn == "" {
		return nebulaerrors.Newf(nebulaerrors.ErrorTypeValidation, "%s mode requires a tracked column", m.opts.Mode)
	}
	if m.opts.Mode == config.ModePolling && m.opts.PollInterval <= 0 {
		return nebulaerrors.New(nebulaerrors.ErrorTypeValidation, "polling mode requires a positive poll interval")
	}
	if m.opts.ComputeUpperBound && m.coord == nil {
		return nebulaerrors.New(nebulaerrors.ErrorTypeInternal, "computed upper bound without a bound coordinator")
	}
	return nil
}

func (m *Machine) open(ctx context.Context) error {
	conn, err := m.sup.Acquire(ctx)
	if err != nil {
		return err
	}
	m.res.Conn = conn

	if err := m.checkSchema(ctx); err != nil {
		return err
	}

	if m.opts.Mode != config.ModePolling {
		sql := m.builder.Scan(m.filter)
		m.logger.Info("executing scan", zap.String("sql", sql))
		rows, err := m.execute(ctx, "scan", sql, func(ctx context.Context) (core.Rows, error) {
			return m.res.Conn.Query(ctx, sql)
		})
		if err != nil {
			return m.queryError(ctx, sql, m.filter.Lower, err)
		}
		m.res.Rows = rows
		return nil
	}

	if !m.LastCursor().Available() {
		if err := m.seekTail(ctx); err != nil {
			return err
		}
	}
	if err := m.prepareForward(ctx); err != nil {
		return err
	}
	return m.forward(ctx)
}

// checkSchema fails fast when a configured column is missing from the source.
func (m *Machine) checkSchema(ctx context.Context) error {
	sql := m.builder.SchemaProbe()
	cols, _, _, err := m.queryOne(ctx, "schema_probe", sql)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		m.logger.Warn("source reported no columns, skipping column check", zap.String("sql", sql))
		return nil
	}

	var required []string
	if m.opts.TrackedColumn != "" {
		required = append(required, m.opts.TrackedColumn)
	}
	if m.opts.SplitKey != "" && m.part.Count > 1 {
		required = append(required, m.opts.SplitKey)
	}
	if !m.builder.SelectsAll() {
		required = append(required, m.opts.Columns...)
	}
	for _, name := range required {
		if indexFold(cols, name) < 0 {
			return unmapped(name, cols)
		}
	}
	return nil
}

func unmapped(name string, available []string) error {
	list, err := json.Marshal(available)
	if err != nil {
		list = []byte(strings.Join(available, ","))
	}
	return nebulaerrors.Newf(nebulaerrors.ErrorTypeUnmappedColumn,
		"can not find field:[%s] in columnNameList:[%s]", name, list).
		WithDetail("column", name)
}

// seekTail positions a polling partition after the newest row in the
// source, waiting for the first row when the source is empty.
func (m *Machine) seekTail(ctx context.Context) error {
	sql := m.builder.TailProbe(m.part.Ordinal, m.part.Count)
	m.logger.Info("probing source tail", zap.String("sql", sql))

	for {
		cols, vals, ok, err := m.queryOne(ctx, "tail_probe", sql)
		switch {
		case err != nil && m.transient(ctx, err):
			m.logger.Warn("tail probe interrupted, retrying", zap.Error(err))
		case err != nil:
			return err
		case ok:
			idx, err := m.trackedIndex(cols)
			if err != nil {
				return err
			}
			tail, err := m.decode(vals[idx], sql)
			if err != nil {
				return err
			}
			m.mu.Lock()
			m.last = tail
			m.mu.Unlock()
			m.filter.Lower = tail
			m.startReg.Add(tail)
			m.logger.Info("polling from source tail", zap.Stringer("start", tail))
			return nil
		default:
			m.logger.Debug("source is empty, waiting for the first row")
		}

		if err := m.sleep(ctx); err != nil {
			return err
		}
	}
}

func (m *Machine) prepareForward(ctx context.Context) error {
	sql := m.builder.ForwardQuery(m.part.Ordinal, m.part.Count)
	stmt, err := m.res.Conn.Prepare(ctx, sql)
	if err != nil {
		return m.queryError(ctx, sql, m.LastCursor(), err)
	}
	m.res.Stmt = stmt
	m.forwardSQL = sql
	m.logger.Info("prepared forward query", zap.String("sql", sql))
	return nil
}

// forward re-queries the source past the last observed position.
func (m *Machine) forward(ctx context.Context) error {
	last := m.LastCursor()
	rows, err := m.execute(ctx, "forward", m.forwardSQL, func(ctx context.Context) (core.Rows, error) {
		return m.res.Stmt.Query(ctx, last.Arg())
	})
	if err != nil {
		return m.queryError(ctx, m.forwardSQL, last, err)
	}
	m.res.Rows = rows
	return nil
}

// read streams the open result set to the Runtime.
func (m *Machine) read(ctx context.Context) error {
	rows := m.res.Rows
	sql := m.currentSQL()

	cols, err := rows.Columns()
	if err != nil {
		return m.queryError(ctx, sql, m.LastCursor(), err)
	}
	idx, err := m.trackedIndex(cols)
	if err != nil {
		return err
	}

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		vals, err := rows.Values()
		if err != nil {
			return m.queryError(ctx, sql, m.LastCursor(), err)
		}

		pos := cursor.Unavailable(m.opts.Domain)
		if idx >= 0 {
			if pos, err = m.decode(vals[idx], sql); err != nil {
				return err
			}
		}

		row := core.Row{Partition: m.part.Ordinal, Columns: cols, Values: vals, Cursor: pos}
		if err := m.emitter.Emit(ctx, row); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeInternal, "failed to emit row")
		}
		if err := m.record(ctx, pos, vals); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return m.queryError(ctx, sql, m.LastCursor(), err)
	}

	if err := rows.Close(); err != nil {
		m.logger.Warn("failed to close result set", zap.Error(err))
	}
	m.res.Rows = nil

	if !m.filter.MaxMode && m.LastCursor().Available() {
		m.endReg.Add(m.LastCursor())
	}
	m.logger.Info("result set exhausted", zap.Int64("rows", m.Emitted()), zap.Stringer("last", m.LastCursor()))
	return nil
}

// record advances the partition past an emitted row and persists the
// position, so a restart resumes strictly after it.
func (m *Machine) record(ctx context.Context, pos cursor.Cursor, vals []interface{}) error {
	m.mu.Lock()
	if pos.Available() {
		m.last = pos
	}
	m.lastRow = vals
	m.emitted++
	m.mu.Unlock()

	m.metrics.RowEmitted()
	if pos.Available() {
		if err := m.checkpoint.Store(ctx, pos.Raw()); err != nil {
			return nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeData, "failed to store checkpoint ["+pos.Raw()+"]")
		}
	}
	m.logger.Debug("row emitted", zap.Stringer("cursor", pos))
	return nil
}

// wait sleeps one poll interval, verifies the connection and reissues the
// forward query.
func (m *Machine) wait(ctx context.Context) error {
	m.metrics.PollCycle()
	if err := m.sleep(ctx); err != nil {
		return err
	}

	if err := m.sup.Probe(ctx, m.res.Conn); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.logger.Warn("connection unhealthy, reconnecting", zap.Error(err))
		if err := m.reconnect(ctx); err != nil {
			return err
		}
	}
	return m.forward(ctx)
}

// reconnect replaces the connection with a single attempt. A connection that
// cannot be opened or fails its own probe ends the partition.
func (m *Machine) reconnect(ctx context.Context) error {
	m.sup.Release(&m.res, true)
	m.metrics.Reconnected()

	lost := func(err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		src := m.sup.Source()
		return nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeConnectivityLost,
			fmt.Sprintf("cannot connect to %s, please check %s is available, last location [%s]",
				src, src, m.LastCursor())).
			WithDetail("last_location", m.LastCursor().Raw())
	}

	conn, err := m.sup.Reconnect(ctx)
	if err != nil {
		return lost(err)
	}
	m.res.Conn = conn
	if err := m.sup.Probe(ctx, conn); err != nil {
		return lost(err)
	}
	m.logger.Info("reconnected", zap.String("source", m.sup.Source()))
	return m.prepareForward(ctx)
}

func (m *Machine) sleep(ctx context.Context) error {
	t := time.NewTimer(m.opts.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// queryOne runs a statement expected to return at most one row, bounded by
// the query timeout.
func (m *Machine) queryOne(ctx context.Context, kind, sql string) (cols []string, vals []interface{}, ok bool, err error) {
	qctx := ctx
	if m.opts.QueryTimeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, m.opts.QueryTimeout)
		defer cancel()
	}

	rows, err := m.execute(qctx, kind, sql, func(ctx context.Context) (core.Rows, error) {
		return m.res.Conn.Query(ctx, sql)
	})
	if err != nil {
		return nil, nil, false, m.queryError(ctx, sql, m.filter.Lower, err)
	}
	defer rows.Close()

	if cols, err = rows.Columns(); err != nil {
		return nil, nil, false, m.queryError(ctx, sql, m.filter.Lower, err)
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, nil, false, m.queryError(ctx, sql, m.filter.Lower, err)
		}
		return cols, nil, false, nil
	}
	if vals, err = rows.Values(); err != nil {
		return nil, nil, false, m.queryError(ctx, sql, m.filter.Lower, err)
	}
	return cols, vals, true, nil
}

// execute runs a statement inside a span and records its latency.
func (m *Machine) execute(ctx context.Context, kind, sql string, run func(context.Context) (core.Rows, error)) (core.Rows, error) {
	ctx, span := m.tracer.Start(ctx, kind, sql)
	rows, err := run(ctx)
	span.End(err)
	m.metrics.ObserveQuery(kind, span.Elapsed())
	return rows, err
}

// queryError describes a failed statement. ctx is the job context: errors
// raised after cancellation are returned as they are.
func (m *Machine) queryError(ctx context.Context, sql string, lower cursor.Cursor, err error) error {
	if ctx.Err() != nil {
		return err
	}
	return nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeQuery,
		fmt.Sprintf("failed to execute sql [%s], lower bound [%s], upper bound [%s]", sql, lower, m.filter.Upper)).
		WithDetail("sql", sql)
}

// transient reports an interrupted statement while the job itself is alive.
func (m *Machine) transient(ctx context.Context, err error) bool {
	return ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded)
}

func (m *Machine) currentSQL() string {
	if m.opts.Mode == config.ModePolling {
		return m.forwardSQL
	}
	return m.builder.Scan(m.filter)
}

func (m *Machine) trackedIndex(cols []string) (int, error) {
	if m.opts.TrackedColumn == "" {
		return -1, nil
	}
	idx := indexFold(cols, m.opts.TrackedColumn)
	if idx < 0 {
		return -1, unmapped(m.opts.TrackedColumn, cols)
	}
	return idx, nil
}

func (m *Machine) decode(v interface{}, sql string) (cursor.Cursor, error) {
	c, err := cursor.FromValue(v, m.opts.Domain)
	if err != nil {
		return cursor.Cursor{}, nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeInvalidCursorFormat,
			fmt.Sprintf("cannot decode %s as %s from sql [%s], last location [%s]",
				m.opts.TrackedColumn, m.opts.Domain, sql, m.LastCursor()))
	}
	return c, nil
}

func indexFold(cols []string, name string) int {
	for i, c := range cols {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}
