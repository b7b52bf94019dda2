package clients

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-extract/pkg/connector/core"
	"github.com/ajitpratap0/nebula-extract/pkg/nebulaerrors"
)

// SQLFactory hands out dedicated connections from one *sql.DB per job.
type SQLFactory struct {
	driver         string
	dsn            string
	connectTimeout time.Duration
	maxConns       int
	logger         *zap.Logger

	once    sync.Once
	db      *sql.DB
	openErr error
}

// NewSQLFactory creates a factory for driver and dsn. The pool is opened
// lazily on the first Open. maxConns bounds the pool; partitions hold one
// connection each, so it should be at least the job's parallelism.
func NewSQLFactory(driver, dsn string, connectTimeout time.Duration, maxConns int, logger *zap.Logger) *SQLFactory {
	return &SQLFactory{
		driver:         driver,
		dsn:            dsn,
		connectTimeout: connectTimeout,
		maxConns:       maxConns,
		logger:         logger.With(zap.String("component", "sql_factory")),
	}
}

func (f *SQLFactory) pool() (*sql.DB, error) {
	f.once.Do(func() {
		if f.dsn == "" {
			f.openErr = nebulaerrors.New(nebulaerrors.ErrorTypeConfig, "connection string is required")
			return
		}
		db, err := sql.Open(f.driver, f.dsn)
		if err != nil {
			f.openErr = nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeConnection, "failed to open database connection")
			return
		}
		if f.maxConns > 0 {
			// one for each partition plus the bound probe
			db.SetMaxOpenConns(f.maxConns + 1)
			db.SetMaxIdleConns(f.maxConns + 1)
		}
		f.db = db
		f.logger.Info("SQL database pool created", zap.String("driver", f.driver), zap.Int("max_connections", f.maxConns))
	})
	return f.db, f.openErr
}

// Open implements Factory.
func (f *SQLFactory) Open(ctx context.Context) (core.Conn, error) {
	db, err := f.pool()
	if err != nil {
		return nil, err
	}

	connCtx := ctx
	if f.connectTimeout > 0 {
		var cancel context.CancelFunc
		connCtx, cancel = context.WithTimeout(ctx, f.connectTimeout)
		defer cancel()
	}

	conn, err := db.Conn(connCtx)
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(connCtx); err != nil {
		_ = conn.Close() // the ping error is the one worth reporting
		return nil, err
	}
	return &sqlConn{conn: conn}, nil
}

// Close closes the underlying pool.
func (f *SQLFactory) Close() error {
	if f.db == nil {
		return nil
	}
	return f.db.Close()
}

type sqlConn struct {
	conn *sql.Conn
}

func (c *sqlConn) Query(ctx context.Context, query string, args ...interface{}) (core.Rows, error) {
	rows, err := c.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return newSQLRows(rows), nil
}

func (c *sqlConn) Prepare(ctx context.Context, query string) (core.Stmt, error) {
	stmt, err := c.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return &sqlStmt{stmt: stmt}, nil
}

func (c *sqlConn) Ping(ctx context.Context) error { return c.conn.PingContext(ctx) }

// Close returns the connection to the pool. sql.Conn.Close reports
// ErrConnDone on a second call; the connection is gone either way.
func (c *sqlConn) Close() error {
	if err := c.conn.Close(); err != nil && err != sql.ErrConnDone {
		return err
	}
	return nil
}

type sqlStmt struct {
	stmt *sql.Stmt
}

func (s *sqlStmt) Query(ctx context.Context, args ...interface{}) (core.Rows, error) {
	rows, err := s.stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, err
	}
	return newSQLRows(rows), nil
}

func (s *sqlStmt) Close() error { return s.stmt.Close() }

type sqlRows struct {
	rows *sql.Rows
	cols []string
}

func newSQLRows(rows *sql.Rows) *sqlRows {
	return &sqlRows{rows: rows}
}

func (r *sqlRows) Next() bool { return r.rows.Next() }

func (r *sqlRows) Columns() ([]string, error) {
	if r.cols == nil {
		cols, err := r.rows.Columns()
		if err != nil {
			return nil, err
		}
		r.cols = cols
	}
	return r.cols, nil
}

func (r *sqlRows) Values() ([]interface{}, error) {
	cols, err := r.Columns()
	if err != nil {
		return nil, err
	}
	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	// Scan into *interface{} copies driver-owned []byte
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return values, nil
}

func (r *sqlRows) Err() error   { return r.rows.Err() }
func (r *sqlRows) Close() error { return r.rows.Close() }
