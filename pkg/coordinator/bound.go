package coordinator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-extract/pkg/clients"
	"github.com/ajitpratap0/nebula-extract/pkg/connector/core"
	"github.com/ajitpratap0/nebula-extract/pkg/cursor"
	"github.com/ajitpratap0/nebula-extract/pkg/metrics"
	"github.com/ajitpratap0/nebula-extract/pkg/nebulaerrors"
	"github.com/ajitpratap0/nebula-extract/pkg/observability"
	"github.com/ajitpratap0/nebula-extract/pkg/querybuilder"
)

// Key returns the broadcast name of a job's upper bound.
func Key(job string) string {
	return job + "/max_value"
}

// Config parameterizes a BoundCoordinator.
type Config struct {
	Job    string
	Domain cursor.Domain
	// QueryTimeout bounds the MAX() probe; zero disables it
	QueryTimeout time.Duration
}

// BoundCoordinator lets partition 0 snapshot MAX(tracked column) once per
// job and hands the result to every partition.
type BoundCoordinator struct {
	cfg        Config
	broadcast  core.Broadcaster
	supervisor *clients.Supervisor
	builder    *querybuilder.Builder
	metrics    *metrics.PartitionMetrics
	tracer     *observability.QueryTracer
	logger     *zap.Logger
}

// New creates a BoundCoordinator. pm may be nil.
func New(cfg Config, broadcast core.Broadcaster, supervisor *clients.Supervisor,
	builder *querybuilder.Builder, pm *metrics.PartitionMetrics, logger *zap.Logger) *BoundCoordinator {
	return &BoundCoordinator{
		cfg:        cfg,
		broadcast:  broadcast,
		supervisor: supervisor,
		builder:    builder,
		metrics:    pm,
		tracer:     observability.NewQueryTracer(nil, cfg.Job, 0),
		logger:     logger.With(zap.String("component", "bound_coordinator")),
	}
}

// Upper returns the job's upper bound. Partition 0 queries the source and
// publishes the result; every other partition waits for it. An unavailable
// cursor means the source was empty and the scan is unbounded.
func (bc *BoundCoordinator) Upper(ctx context.Context, ordinal int, start cursor.Cursor) (cursor.Cursor, error) {
	key := Key(bc.cfg.Job)
	if ordinal != 0 {
		bc.logger.Debug("waiting for upper bound", zap.Int("partition", ordinal))
		return bc.broadcast.Await(ctx, key)
	}

	upper, err := bc.queryMax(ctx, start)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		if rerr := bc.broadcast.Reject(key, err); rerr != nil {
			bc.logger.Warn("failed to publish bound failure", zap.Error(rerr))
		}
		return cursor.Cursor{}, err
	}

	if err := bc.broadcast.Resolve(key, upper); err != nil {
		return cursor.Cursor{}, err
	}
	bc.logger.Info("upper bound published", zap.String("key", key), zap.Stringer("max_value", upper))
	return upper, nil
}

func (bc *BoundCoordinator) queryMax(ctx context.Context, start cursor.Cursor) (cursor.Cursor, error) {
	sql := bc.builder.BoundProbe(start)
	bc.logger.Info("querying upper bound", zap.String("sql", sql))

	fail := func(err error) error {
		return nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeMaxValueQueryFailed,
			"failed to query max value with sql ["+sql+"], start location ["+start.String()+"]").
			WithDetail("sql", sql).
			WithDetail("source", bc.supervisor.Source())
	}

	conn, err := bc.supervisor.Acquire(ctx)
	if err != nil {
		return cursor.Cursor{}, fail(err)
	}
	res := &clients.Resources{Conn: conn}
	defer bc.supervisor.Release(res, true)

	qctx := ctx
	if bc.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, bc.cfg.QueryTimeout)
		defer cancel()
	}

	qctx, span := bc.tracer.Start(qctx, "bound_probe", sql)
	upper, err := bc.readMax(qctx, res, sql)
	span.End(err)
	if bc.metrics != nil {
		bc.metrics.ObserveQuery("bound_probe", span.Elapsed())
	}
	if err != nil {
		return cursor.Cursor{}, fail(err)
	}
	return upper, nil
}

func (bc *BoundCoordinator) readMax(ctx context.Context, res *clients.Resources, sql string) (cursor.Cursor, error) {
	rows, err := res.Conn.Query(ctx, sql)
	if err != nil {
		return cursor.Cursor{}, err
	}
	res.Rows = rows

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return cursor.Cursor{}, err
		}
		return cursor.Unavailable(bc.cfg.Domain), nil
	}
	values, err := rows.Values()
	if err != nil {
		return cursor.Cursor{}, err
	}
	if len(values) == 0 {
		return cursor.Unavailable(bc.cfg.Domain), nil
	}
	return cursor.FromValue(values[0], bc.cfg.Domain)
}
