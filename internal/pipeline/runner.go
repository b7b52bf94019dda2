// Package pipeline runs an extraction job in one process: it lays out the
// job's partitions, hosts them on a LocalRuntime and drives one
// extract.Machine per partition concurrently.
//
// # Failure policy
//
// A partition failure fails only that partition; the others keep reading and
// all failures are reported together when the job ends. Two conditions cancel
// the whole job instead: a failed upper-bound query, which no partition can
// proceed without, and any failure when reliability.fail_fast is set.
//
// # Basic Usage
//
//	sink := pipeline.NewJSONLinesSink(os.Stdout, cfg.Performance.BufferSize, log)
//	runner, err := pipeline.NewRunner(cfg, sink, log,
//	    pipeline.WithCheckpointStore(store))
//	if err != nil {
//	    return err
//	}
//	err = runner.Run(ctx)
//	_ = sink.Close()
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/nebula-extract/pkg/checkpoint"
	"github.com/ajitpratap0/nebula-extract/pkg/clients"
	"github.com/ajitpratap0/nebula-extract/pkg/config"
	"github.com/ajitpratap0/nebula-extract/pkg/coordinator"
	"github.com/ajitpratap0/nebula-extract/pkg/dialect"
	"github.com/ajitpratap0/nebula-extract/pkg/extract"
	"github.com/ajitpratap0/nebula-extract/pkg/logger"
	"github.com/ajitpratap0/nebula-extract/pkg/metrics"
	"github.com/ajitpratap0/nebula-extract/pkg/nebulaerrors"
	"github.com/ajitpratap0/nebula-extract/pkg/performance"
	"github.com/ajitpratap0/nebula-extract/pkg/querybuilder"
)

const (
	defaultFlushInterval  = 5 * time.Second
	defaultReportInterval = 30 * time.Second
)

// Runner executes one job.
type Runner struct {
	cfg       *config.ExtractConfig
	dialect   dialect.Dialect
	factory   clients.Factory
	store     checkpoint.Store
	sink      Sink
	collector *metrics.Collector
	logger    *zap.Logger

	flushInterval  time.Duration
	reportInterval time.Duration

	mu       sync.Mutex
	machines []*extract.Machine
}

// Option configures a Runner.
type Option func(*Runner)

// WithFactory replaces the database/sql connection factory.
func WithFactory(f clients.Factory) Option {
	return func(r *Runner) { r.factory = f }
}

// WithCheckpointStore sets where checkpoints are kept. A *checkpoint.FileStore
// is flushed periodically, after the sink.
func WithCheckpointStore(s checkpoint.Store) Option {
	return func(r *Runner) { r.store = s }
}

// WithCollector sets the metrics collector; the default is unregistered.
func WithCollector(c *metrics.Collector) Option {
	return func(r *Runner) { r.collector = c }
}

// WithFlushInterval sets how often the sink and checkpoints are flushed.
func WithFlushInterval(d time.Duration) Option {
	return func(r *Runner) { r.flushInterval = d }
}

// WithReportInterval sets how often throughput is logged.
func WithReportInterval(d time.Duration) Option {
	return func(r *Runner) { r.reportInterval = d }
}

// NewRunner prepares a job. cfg must be validated.
func NewRunner(cfg *config.ExtractConfig, sink Sink, log *zap.Logger, opts ...Option) (*Runner, error) {
	d, err := dialect.Get(cfg.Dialect)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Get()
	}

	r := &Runner{
		cfg:            cfg,
		dialect:        d,
		sink:           sink,
		logger:         log.With(zap.String("component", "runner"), zap.String("job_id", cfg.Name)),
		flushInterval:  defaultFlushInterval,
		reportInterval: defaultReportInterval,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.store == nil {
		r.store = checkpoint.NewMemoryStore()
	}
	if r.collector == nil {
		r.collector = metrics.NewCollector(cfg.Name, nil)
	}
	if r.factory == nil {
		r.factory = clients.NewSQLFactory(d.DriverName(), cfg.DSN, cfg.Timeouts.Connection,
			cfg.GetParallelism(), log)
	}
	return r, nil
}

// Machines returns the partitions of the last Run, ordered by ordinal.
func (r *Runner) Machines() []*extract.Machine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*extract.Machine(nil), r.machines...)
}

// Run reads every partition to completion, or until ctx is cancelled. A
// cancelled job is not an error.
func (r *Runner) Run(ctx context.Context) error {
	opts, err := extract.OptionsFromConfig(r.cfg)
	if err != nil {
		return err
	}
	parts, err := extract.Partitions(r.cfg)
	if err != nil {
		return err
	}

	source := r.dialect.SourceName(r.cfg.DSN)
	supervisor := clients.NewSupervisor(r.factory, r.logger,
		clients.WithRetryPolicy(clients.RetryPolicyFromConfig(r.cfg.Reliability)),
		clients.WithProbeTimeout(r.cfg.Timeouts.Probe),
		clients.WithSourceName(source))
	builder := querybuilder.New(r.dialect, extract.SourceFromConfig(r.cfg))
	rt := NewLocalRuntime(r.cfg.Name, r.store, r.collector, r.sink)
	coord := coordinator.New(coordinator.Config{
		Job:          r.cfg.Name,
		Domain:       opts.Domain,
		QueryTimeout: opts.QueryTimeout,
	}, rt.Broadcaster(), supervisor, builder, r.collector.Partition(0), r.logger)

	machines := make([]*extract.Machine, len(parts))
	for i, p := range parts {
		machines[i] = extract.New(opts, p, extract.Deps{
			Supervisor:  supervisor,
			Builder:     builder,
			Coordinator: coord,
			Runtime:     rt,
			Metrics:     r.collector.Partition(p.Ordinal),
			Logger:      r.logger,
		})
	}
	r.mu.Lock()
	r.machines = machines
	r.mu.Unlock()

	r.logger.Info("starting job",
		zap.String("source", source),
		zap.String("dialect", r.dialect.Name()),
		zap.String("mode", string(r.cfg.Mode)),
		zap.Int("partitions", len(parts)))
	start := time.Now()

	background, stopBackground := context.WithCancel(context.Background())
	var bg sync.WaitGroup
	r.startBackground(background, &bg, rt)

	err = r.runPartitions(ctx, machines)
	rt.Finish()

	stopBackground()
	bg.Wait()
	if ferr := r.sink.Flush(); ferr != nil {
		err = errors.Join(err, ferr)
	}

	total := rt.Throughput().Total()
	fields := []zap.Field{
		zap.Duration("duration", time.Since(start)),
		zap.Int64("rows", total),
		zap.Float64("rows_per_second", float64(total)/time.Since(start).Seconds()),
	}
	if err != nil {
		r.logger.Error("job failed", append(fields, zap.Error(err))...)
		return err
	}
	r.logger.Info("job finished", fields...)
	return nil
}

// runPartitions drives every machine concurrently. Job-fatal failures, and
// every failure under fail_fast, cancel the remaining partitions through the
// errgroup context.
func (r *Runner) runPartitions(ctx context.Context, machines []*extract.Machine) error {
	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	var failures []error
	for i, m := range machines {
		g.Go(func() error {
			err := m.Run(logger.WithJob(gctx, r.cfg.Name, i))
			if err == nil {
				return nil
			}
			if nebulaerrors.IsJobFatal(err) {
				return err
			}
			mu.Lock()
			failures = append(failures, err)
			mu.Unlock()
			if r.cfg.Reliability.FailFast {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && nebulaerrors.IsJobFatal(err) {
		// followers report the same rejected bound; one copy is enough
		return err
	}
	return errors.Join(failures...)
}

func (r *Runner) startBackground(ctx context.Context, wg *sync.WaitGroup, rt *LocalRuntime) {
	if fs, ok := r.store.(*checkpoint.FileStore); ok && r.flushInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fs.AutoFlush(ctx, r.flushInterval, r.sink.Flush)
		}()
	}

	if r.reportInterval > 0 {
		monitor := performance.NewResourceMonitor()
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(r.reportInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					fields := append([]zap.Field{
						zap.Float64("rows_per_second", rt.Throughput().GetAndReset()),
						zap.Int64("rows", rt.Throughput().Total()),
					}, monitor.Sample().Fields()...)
					r.logger.Info("throughput", fields...)
				}
			}
		}()
	}
}
