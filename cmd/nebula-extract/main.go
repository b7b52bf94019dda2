package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-extract/internal/pipeline"
	"github.com/ajitpratap0/nebula-extract/pkg/checkpoint"
	"github.com/ajitpratap0/nebula-extract/pkg/compression"
	"github.com/ajitpratap0/nebula-extract/pkg/config"
	"github.com/ajitpratap0/nebula-extract/pkg/dialect"
	"github.com/ajitpratap0/nebula-extract/pkg/logger"
	"github.com/ajitpratap0/nebula-extract/pkg/metrics"
	"github.com/ajitpratap0/nebula-extract/pkg/observability"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "nebula-extract",
		Short: "Nebula Extract - partitioned, resumable reads from SQL sources",
		Long: `Nebula Extract reads a table or query from a JDBC-style SQL source in
parallel partitions, resuming from per-partition checkpoints. Rows are written
as JSON lines.`,
		SilenceUsage: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Nebula Extract v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "dialects",
		Short: "List supported source dialects",
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range dialect.Names() {
				fmt.Printf("  - %s\n", name)
			}
		},
	})

	root.AddCommand(newRunCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRunCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("NEBULA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an extraction job",
		Long: `Run the extraction job described by a YAML file.

Every flag can also be set through the environment, e.g. NEBULA_CHECKPOINT.

Example:
  nebula-extract run --config orders.yaml --checkpoint state.json --output orders.jsonl`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd.Context(), runFlags{
				config:        v.GetString("config"),
				checkpoint:    v.GetString("checkpoint"),
				output:        v.GetString("output"),
				compression:   v.GetString("compression"),
				logLevel:      v.GetString("log-level"),
				flushInterval: v.GetDuration("flush-interval"),
			})
		},
	}

	cmd.Flags().StringP("config", "c", "", "Path to the job YAML file (required)")
	cmd.Flags().String("checkpoint", "", "Checkpoint file; checkpoints are kept in memory when empty")
	cmd.Flags().StringP("output", "o", "-", "Output file, - for stdout")
	cmd.Flags().String("compression", "", "Output compression (none, gzip, snappy, s2, lz4, zstd); defaults to the output file extension")
	cmd.Flags().String("log-level", "", "Log level (debug, info, warn, error); overrides the job file")
	cmd.Flags().Duration("flush-interval", 5*time.Second, "How often rows and checkpoints are flushed")
	_ = v.BindPFlags(cmd.Flags())
	return cmd
}

type runFlags struct {
	config        string
	checkpoint    string
	output        string
	compression   string
	logLevel      string
	flushInterval time.Duration
}

func runJob(parent context.Context, flags runFlags) error {
	if flags.config == "" {
		return errors.New("--config is required")
	}
	cfg, err := config.LoadExtract(flags.config)
	if err != nil {
		return err
	}
	if flags.logLevel != "" {
		cfg.Observability.LogLevel = flags.logLevel
	}

	// stdout may carry rows, so logs and traces go to stderr
	if err := logger.Init(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Encoding:    cfg.Observability.LogEncoding,
		OutputPaths: []string{"stderr"},
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.With(zap.String("job_id", cfg.Name))

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Observability.EnableTracing {
		tracing := observability.DefaultTracingConfig(version)
		tracing.Writer = os.Stderr
		if _, err := observability.InitTracing(tracing); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := observability.Shutdown(shutdownCtx); err != nil {
				log.Warn("tracer shutdown failed", zap.Error(err))
			}
		}()
	}

	opts := []pipeline.Option{pipeline.WithFlushInterval(flags.flushInterval)}

	if cfg.Observability.EnableMetrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, pipeline.WithCollector(metrics.NewCollector(cfg.Name, reg)))
		if cfg.Observability.MetricsAddr != "" {
			srv := serveMetrics(cfg.Observability.MetricsAddr, reg, log)
			defer func() { _ = srv.Close() }()
		}
	}

	if flags.checkpoint != "" {
		store, err := checkpoint.OpenFileStore(flags.checkpoint, log)
		if err != nil {
			return err
		}
		opts = append(opts, pipeline.WithCheckpointStore(store))
	}

	out, err := openOutput(flags.output, flags.compression)
	if err != nil {
		return err
	}
	sink := pipeline.NewJSONLinesSink(out, cfg.Performance.BufferSize, log)

	runner, err := pipeline.NewRunner(cfg, sink, log, opts...)
	if err != nil {
		_ = sink.Close()
		return err
	}

	runErr := runner.Run(ctx)
	if err := sink.Close(); err != nil {
		runErr = errors.Join(runErr, err)
	}

	printSummary(os.Stderr, runner)
	return runErr
}

// openOutput opens the row destination. Appending keeps the rows of earlier
// runs; compressed output appends a new stream, which gzip and zstd readers
// decode as one.
func openOutput(path, algo string) (io.Writer, error) {
	stdout := path == "" || path == "-"
	algorithm := compression.None
	if !stdout {
		algorithm = compression.FromPath(path)
	}
	if algo != "" {
		a, err := compression.ParseAlgorithm(algo)
		if err != nil {
			return nil, err
		}
		algorithm = a
	}

	var dst io.Writer = nopCloser{os.Stdout}
	if !stdout {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open output %s: %w", path, err)
		}
		dst = f
	}
	if algorithm == compression.None {
		return dst, nil
	}
	w, err := compression.NewWriter(dst, algorithm, compression.Default)
	if err != nil {
		if c, ok := dst.(io.Closer); ok {
			_ = c.Close()
		}
		return nil, err
	}
	return w, nil
}

// nopCloser keeps the sink from closing stdout.
type nopCloser struct{ io.Writer }

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", addr))
	return srv
}

func printSummary(w io.Writer, runner *pipeline.Runner) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PARTITION\tSTATE\tROWS\tLAST LOCATION")
	for i, m := range runner.Machines() {
		last := m.LastCursor().Raw()
		if last == "" {
			last = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", i, m.State(), m.Emitted(), last)
	}
	_ = tw.Flush()
}
