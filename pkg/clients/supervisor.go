// Package clients owns source connections for the extraction engine: acquiring
// them through a factory with retries, checking their liveness, and releasing
// result sets, statements and connections exactly once.
package clients

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-extract/pkg/connector/core"
	"github.com/ajitpratap0/nebula-extract/pkg/logger"
	"github.com/ajitpratap0/nebula-extract/pkg/nebulaerrors"
)

// DefaultProbeTimeout bounds a liveness probe when none is configured.
const DefaultProbeTimeout = 3 * time.Second

// Factory opens source connections.
type Factory interface {
	Open(ctx context.Context) (core.Conn, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context) (core.Conn, error)

func (f FactoryFunc) Open(ctx context.Context) (core.Conn, error) { return f(ctx) }

// Supervisor acquires, probes and releases connections for one job.
type Supervisor struct {
	factory      Factory
	retry        *RetryPolicy
	probeTimeout time.Duration
	source       string
	logger       *zap.Logger
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithRetryPolicy sets the policy used by Acquire.
func WithRetryPolicy(rp *RetryPolicy) SupervisorOption {
	return func(s *Supervisor) { s.retry = rp }
}

// WithProbeTimeout sets the liveness probe bound.
func WithProbeTimeout(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		if d > 0 {
			s.probeTimeout = d
		}
	}
}

// WithSourceName sets the human readable source used in error messages.
func WithSourceName(name string) SupervisorOption {
	return func(s *Supervisor) { s.source = name }
}

// NewSupervisor creates a Supervisor over factory.
func NewSupervisor(factory Factory, logger *zap.Logger, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		factory:      factory,
		retry:        NoRetryPolicy(),
		probeTimeout: DefaultProbeTimeout,
		source:       "source",
		logger:       logger.With(zap.String("component", "connection_supervisor")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Source returns the human readable source name.
func (s *Supervisor) Source() string { return s.source }

// ProbeTimeout returns the configured liveness bound.
func (s *Supervisor) ProbeTimeout() time.Duration { return s.probeTimeout }

// Acquire opens a connection, retrying with the configured backoff.
// Cancellation is returned unwrapped so callers can tell it apart.
func (s *Supervisor) Acquire(ctx context.Context) (core.Conn, error) {
	var conn core.Conn
	attempt := 0
	log := logger.FromContext(ctx, s.logger)
	err := s.retry.Execute(ctx, func() error {
		attempt++
		c, err := s.factory.Open(ctx)
		if err != nil {
			log.Warn("connection attempt failed",
				zap.String("source", s.source),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}
		conn = c
		return nil
	}, func(error) bool { return ctx.Err() == nil })

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeConnection, "cannot connect to "+s.source).
			WithDetail("attempts", attempt)
	}
	return conn, nil
}

// Reconnect makes exactly one connection attempt.
func (s *Supervisor) Reconnect(ctx context.Context) (core.Conn, error) {
	conn, err := s.factory.Open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeConnection, "reconnect to "+s.source+" failed")
	}
	return conn, nil
}

// Probe checks that conn is alive within the probe timeout. It never waits
// longer than the timeout regardless of ctx.
func (s *Supervisor) Probe(ctx context.Context, conn core.Conn) error {
	if conn == nil {
		return nebulaerrors.New(nebulaerrors.ErrorTypeConnection, "no connection to probe")
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	if err := conn.Ping(probeCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeConnection, "liveness probe failed").
			WithDetail("timeout", s.probeTimeout.String())
	}
	return nil
}

// Resources are the open handles of one partition.
type Resources struct {
	Rows core.Rows
	Stmt core.Stmt
	Conn core.Conn
}

// Release closes the held result set, then the statement, then, when
// closeConn is set, the connection. Released handles are cleared, so calling
// Release again is a no-op. All close errors are returned joined.
func (r *Resources) Release(closeConn bool) error {
	var errs []error
	if r.Rows != nil {
		errs = append(errs, r.Rows.Close())
		r.Rows = nil
	}
	if r.Stmt != nil {
		errs = append(errs, r.Stmt.Close())
		r.Stmt = nil
	}
	if closeConn && r.Conn != nil {
		errs = append(errs, r.Conn.Close())
		r.Conn = nil
	}
	return errors.Join(errs...)
}

// Release frees res and logs close failures; it is safe on every exit path.
func (s *Supervisor) Release(res *Resources, closeConn bool) {
	if res == nil {
		return
	}
	if err := res.Release(closeConn); err != nil {
		s.logger.Warn("failed to release resources", zap.String("source", s.source), zap.Error(err))
	}
}
