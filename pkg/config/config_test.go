package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validExtract() *ExtractConfig {
	cfg := NewExtractConfig("job")
	cfg.Dialect = "sqlite"
	cfg.DSN = "file:test.db"
	cfg.Table = "orders"
	cfg.Mode = ModeIncremental
	cfg.TrackedColumn = "id"
	cfg.Domain = "numeric"
	return cfg
}

func TestExtractConfig_Validate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *ExtractConfig)
		errorMsg string
	}{
		{name: "valid", mutate: func(c *ExtractConfig) {}},
		{name: "missing name", mutate: func(c *ExtractConfig) { c.Name = "" }, errorMsg: "name is required"},
		{name: "missing dialect", mutate: func(c *ExtractConfig) { c.Dialect = "" }, errorMsg: "dialect is required"},
		{name: "missing dsn", mutate: func(c *ExtractConfig) { c.DSN = "" }, errorMsg: "dsn is required"},
		{
			name:     "table and custom sql",
			mutate:   func(c *ExtractConfig) { c.CustomSQL = "select 1" },
			errorMsg: "exactly one of table or custom_sql",
		},
		{
			name:     "neither table nor custom sql",
			mutate:   func(c *ExtractConfig) { c.Table = "" },
			errorMsg: "exactly one of table or custom_sql",
		},
		{name: "unknown mode", mutate: func(c *ExtractConfig) { c.Mode = "cdc" }, errorMsg: `unsupported mode "cdc"`},
		{
			name:     "incremental without tracked column",
			mutate:   func(c *ExtractConfig) { c.TrackedColumn = "" },
			errorMsg: "tracked_column is required in incremental mode",
		},
		{name: "unknown domain", mutate: func(c *ExtractConfig) { c.Domain = "json" }, errorMsg: "unsupported cursor domain"},
		{
			name:     "unparsable start location",
			mutate:   func(c *ExtractConfig) { c.StartLocation = "ten" },
			errorMsg: "start_location",
		},
		{
			name:     "computed bound in full mode",
			mutate:   func(c *ExtractConfig) { c.Mode = ModeFull; c.ComputeUpperBound = true },
			errorMsg: "compute_upper_bound requires incremental mode",
		},
		{
			name:     "computed bound with end location",
			mutate:   func(c *ExtractConfig) { c.ComputeUpperBound = true; c.EndLocation = "20" },
			errorMsg: "mutually exclusive",
		},
		{
			name:     "polling without interval",
			mutate:   func(c *ExtractConfig) { c.Mode = ModePolling; c.PollInterval = 0 },
			errorMsg: "poll_interval must be positive",
		},
		{
			name:     "parallel without split key",
			mutate:   func(c *ExtractConfig) { c.Performance.Parallelism = 3 },
			errorMsg: "split_key is required",
		},
		{
			name:   "full mode needs no tracked column",
			mutate: func(c *ExtractConfig) { c.Mode = ModeFull; c.TrackedColumn = ""; c.Domain = "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validExtract()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errorMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestLoadExtract(t *testing.T) {
	t.Setenv("NEBULA_TEST_DSN", "file:orders.db?cache=shared")

	dir := t.TempDir()
	path := filepath.Join(dir, "job.yaml")
	content := `
name: orders-sync
dialect: sqlite
dsn: ${NEBULA_TEST_DSN}
table: orders
mode: polling
tracked_column: id
domain: bigint
poll_interval: 250ms
timeouts:
  query: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadExtract(path)
	require.NoError(t, err)

	assert.Equal(t, "orders-sync", cfg.Name)
	assert.Equal(t, "extract", cfg.Type)
	assert.Equal(t, "file:orders.db?cache=shared", cfg.DSN)
	assert.Equal(t, ModePolling, cfg.Mode)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.Query)
	assert.Equal(t, 3*time.Second, cfg.Timeouts.Probe)
	assert.Equal(t, []string{"*"}, cfg.Columns)
	assert.True(t, cfg.SelectsAll())
	assert.Equal(t, 1, cfg.Performance.GetParallelism())
	assert.Equal(t, 3, cfg.Reliability.RetryAttempts)
}

func TestLoadExtract_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: x\ndialect: sqlite\ndsn: f\n"), 0o600))

	_, err := LoadExtract(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one of table or custom_sql")

	_, err = LoadExtract(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := validExtract()
	cfg.StartLocation = "42"

	require.NoError(t, Save(path, cfg))

	var back ExtractConfig
	require.NoError(t, Load(path, &back))
	assert.Equal(t, cfg.TrackedColumn, back.TrackedColumn)
	assert.Equal(t, cfg.StartLocation, back.StartLocation)
	assert.Equal(t, cfg.Timeouts.Probe, back.Timeouts.Probe)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("NEBULA_A", "alpha")
	assert.Equal(t, "x=alpha y=", substituteEnvVars("x=${NEBULA_A} y=${NEBULA_UNSET_VAR}"))
	assert.Equal(t, "unterminated ${NEBULA_A", substituteEnvVars("unterminated ${NEBULA_A"))
	assert.Equal(t, "probe: 3s", substituteEnvVars("probe: ${NEBULA_UNSET_VAR:-3s}"))
	assert.Equal(t, "a=alpha", substituteEnvVars("a=${NEBULA_A:-beta}"))
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	var cfg ExtractConfig
	err := Parse([]byte("name: x\ntracked_colum: id\n"), &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tracked_colum")
}
