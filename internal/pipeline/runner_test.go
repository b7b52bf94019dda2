package pipeline

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"github.com/ajitpratap0/nebula-extract/pkg/checkpoint"
	"github.com/ajitpratap0/nebula-extract/pkg/config"
	"github.com/ajitpratap0/nebula-extract/pkg/extract"
	"github.com/ajitpratap0/nebula-extract/pkg/json"
	"github.com/ajitpratap0/nebula-extract/pkg/metrics"
	"github.com/ajitpratap0/nebula-extract/pkg/nebulaerrors"
	"github.com/ajitpratap0/nebula-extract/pkg/testutil"
)

type RunnerSuite struct {
	testutil.SQLiteSuite
}

func TestRunnerSuite(t *testing.T) {
	testutil.IntegrationTest(t)
	suite.Run(t, new(RunnerSuite))
}

func (s *RunnerSuite) job(name string) *config.ExtractConfig {
	cfg := config.NewExtractConfig(name)
	cfg.Dialect = "sqlite"
	cfg.DSN = s.DSN()
	cfg.Table = "orders"
	cfg.Mode = config.ModeIncremental
	cfg.TrackedColumn = "id"
	cfg.Domain = "numeric"
	cfg.Timeouts.Probe = time.Second
	cfg.Reliability.RetryAttempts = 0
	return cfg
}

// lockedBuffer is a bytes.Buffer safe to read while the sink writes.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) records() []LineRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []LineRecord
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec LineRecord
		if err := json.Unmarshal([]byte(line), &rec); err == nil {
			out = append(out, rec)
		}
	}
	return out
}

func cursors(recs []LineRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Cursor
	}
	return out
}

func (s *RunnerSuite) run(ctx context.Context, cfg *config.ExtractConfig, opts ...Option) (*Runner, []LineRecord, error) {
	out := &lockedBuffer{}
	sink := NewJSONLinesSink(out, cfg.Performance.BufferSize, testutil.TestLogger(s.T()))
	runner, err := NewRunner(cfg, sink, testutil.TestLogger(s.T()), opts...)
	s.Require().NoError(err)

	err = runner.Run(ctx)
	s.Require().NoError(sink.Close())
	return runner, out.records(), err
}

func (s *RunnerSuite) TestBoundedIncrementalAcrossPartitions() {
	s.CreateOrders("orders", 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
	cfg := s.job("bounded")
	cfg.StartLocation = "2"
	cfg.EndLocation = "8"
	cfg.Performance.Parallelism = 2
	cfg.SplitKey = "id"

	store := checkpoint.NewMemoryStore()
	runner, recs, err := s.run(s.Context(), cfg, WithCheckpointStore(store))
	s.Require().NoError(err)

	s.ElementsMatch([]string{"3", "4", "5", "6", "7"}, cursors(recs))
	for _, r := range recs {
		s.Equal("paid", r.Row["status"])
	}

	// id % 2 assigns even ids to partition 0
	last0, _ := store.Get("bounded", 0)
	last1, _ := store.Get("bounded", 1)
	s.Equal("6", last0)
	s.Equal("7", last1)

	for _, m := range runner.Machines() {
		s.Equal(extract.StateDone, m.State())
	}
}

func (s *RunnerSuite) TestOrResidualStaysInsideBounds() {
	s.CreateOrders("orders", 1, 2, 3, 4, 5, 6, 7, 8)
	s.Exec(`UPDATE orders SET status = 'refunded' WHERE id IN (1, 4, 8)`)
	s.Exec(`UPDATE orders SET status = 'void' WHERE id = 5`)
	cfg := s.job("residual")
	cfg.StartLocation = "2"
	cfg.EndLocation = "7"
	cfg.Where = "status = 'paid' OR status = 'refunded'"

	_, recs, err := s.run(s.Context(), cfg)
	s.Require().NoError(err)
	s.ElementsMatch([]string{"3", "4", "6"}, cursors(recs))
}

func (s *RunnerSuite) TestComputedBoundSnapshotsMax() {
	s.CreateOrders("orders", 1, 2, 3, 4, 5)
	cfg := s.job("snapshot")
	cfg.StartLocation = "2"
	cfg.ComputeUpperBound = true
	cfg.Performance.Parallelism = 3
	cfg.SplitKey = "id"

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("snapshot", reg)
	_, recs, err := s.run(s.Context(), cfg, WithCollector(collector))
	s.Require().NoError(err)

	// inclusive lower bound, exclusive snapshot bound
	s.ElementsMatch([]string{"2", "3", "4"}, cursors(recs))

	count, err := promtest.GatherAndCount(reg, "nebula_extract_end_location")
	s.Require().NoError(err)
	s.Equal(3, count)
}

func (s *RunnerSuite) TestResumeFromCheckpointFile() {
	s.CreateOrders("orders", 1, 2, 3, 4, 5, 6)
	path := filepath.Join(s.TempDir(), "resume.json")
	cfg := s.job("resume")
	cfg.EndLocation = "5"

	store, err := checkpoint.OpenFileStore(path, testutil.TestLogger(s.T()))
	s.Require().NoError(err)
	_, recs, err := s.run(s.Context(), cfg, WithCheckpointStore(store), WithFlushInterval(time.Hour))
	s.Require().NoError(err)
	s.Equal([]string{"1", "2", "3", "4"}, cursors(recs))

	// the next run picks up the checkpoint and overrides the configured start
	cfg.EndLocation = ""
	cfg.StartLocation = "0"
	store, err = checkpoint.OpenFileStore(path, testutil.TestLogger(s.T()))
	s.Require().NoError(err)
	_, recs, err = s.run(s.Context(), cfg, WithCheckpointStore(store), WithFlushInterval(time.Hour))
	s.Require().NoError(err)
	s.Equal([]string{"5", "6"}, cursors(recs))
}

func (s *RunnerSuite) TestPollingTailsNewRows() {
	s.CreateOrders("orders", 1, 2, 3)
	cfg := s.job("tail")
	cfg.Mode = config.ModePolling
	cfg.PollInterval = 20 * time.Millisecond

	ctx, cancel := context.WithTimeout(s.Context(), 10*time.Second)
	defer cancel()

	out := &lockedBuffer{}
	sink := NewJSONLinesSink(out, 16, testutil.TestLogger(s.T()))
	runner, err := NewRunner(cfg, sink, testutil.TestLogger(s.T()), WithFlushInterval(0))
	s.Require().NoError(err)

	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	testutil.AssertEventually(s.T(), func() bool {
		ms := runner.Machines()
		return len(ms) == 1 && ms[0].State() == extract.StateWaiting
	}, 5*time.Second, "polling partition never waited")

	s.InsertOrders("orders", 4, 5)
	testutil.AssertEventually(s.T(), func() bool {
		ms := runner.Machines()
		return ms[0].LastCursor().Raw() == "5"
	}, 5*time.Second, "new rows were not picked up")

	cancel()
	s.NoError(<-done)
	s.Require().NoError(sink.Close())

	// the tail row 3 positions the partition and is not emitted
	s.Equal([]string{"4", "5"}, cursors(out.records()))
	s.Equal(extract.StateCancelled, runner.Machines()[0].State())
}

func (s *RunnerSuite) TestMissingTableFailsJob() {
	cfg := s.job("missing")
	cfg.Table = "no_such_table"
	cfg.ComputeUpperBound = true
	cfg.Performance.Parallelism = 2
	cfg.SplitKey = "id"

	_, _, err := s.run(s.Context(), cfg)
	s.Require().Error(err)
	s.True(nebulaerrors.IsJobFatal(err))
	s.Contains(err.Error(), `SELECT MAX("id") AS max_value FROM "no_such_table"`)
}

func (s *RunnerSuite) TestUnmappedColumnFailsPartition() {
	s.CreateOrders("orders", 1)
	cfg := s.job("unmapped")
	cfg.TrackedColumn = "updated_at"

	_, recs, err := s.run(s.Context(), cfg)
	s.Require().Error(err)
	s.True(nebulaerrors.IsType(err, nebulaerrors.ErrorTypeUnmappedColumn))
	s.Contains(err.Error(), `can not find field:[updated_at] in columnNameList:[["id","status","created_at"]]`)
	s.Empty(recs)
}
