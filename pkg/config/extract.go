package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ajitpratap0/nebula-extract/pkg/cursor"
)

// Mode selects how a partition reads the source.
type Mode string

const (
	// ModeFull reads the whole source once.
	ModeFull Mode = "full"
	// ModeIncremental reads once, bounded by the tracked column.
	ModeIncremental Mode = "incremental"
	// ModePolling reads continuously past the last observed position.
	ModePolling Mode = "polling"
)

// ExtractConfig describes one extraction job. It is immutable once the job starts.
type ExtractConfig struct {
	BaseConfig `yaml:",inline" json:",inline"`

	// Dialect names the source vendor (postgres, mysql, snowflake, sqlite)
	Dialect string `yaml:"dialect" json:"dialect"`
	// DSN is the driver connection string
	DSN string `yaml:"dsn" json:"dsn"`

	Schema string `yaml:"schema" json:"schema"`
	Table  string `yaml:"table" json:"table"`
	// CustomSQL replaces Table with a sub-query read through the alias t
	CustomSQL string `yaml:"custom_sql" json:"custom_sql"`
	// Columns to select; a single "*" selects every column
	Columns []string `yaml:"columns" json:"columns"`

	Mode Mode `yaml:"mode" json:"mode"`
	// TrackedColumn orders positions and feeds checkpoints
	TrackedColumn string `yaml:"tracked_column" json:"tracked_column"`
	// Domain of the tracked column (numeric, temporal, text, binary)
	Domain string `yaml:"domain" json:"domain"`
	// StartLocation is the exclusive lower bound used when no checkpoint exists
	StartLocation string `yaml:"start_location" json:"start_location"`
	// EndLocation is an exclusive upper bound supplied by the operator
	EndLocation string `yaml:"end_location" json:"end_location"`
	// ComputeUpperBound snapshots MAX(tracked_column) before reading
	ComputeUpperBound bool `yaml:"compute_upper_bound" json:"compute_upper_bound"`
	// PollInterval is the sleep between polling cycles
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`

	// Where is ANDed, in parentheses, with every scan and tail probe
	Where string `yaml:"where" json:"where"`
	// SplitKey distributes rows across partitions when parallelism > 1
	SplitKey string `yaml:"split_key" json:"split_key"`
}

// NewExtractConfig returns an ExtractConfig with defaults applied.
func NewExtractConfig(name string) *ExtractConfig {
	return &ExtractConfig{
		BaseConfig:   *NewBaseConfig(name, "extract"),
		Columns:      []string{"*"},
		Mode:         ModeFull,
		PollInterval: 5 * time.Second,
	}
}

// ApplyDefaults fills zero values left by a partial YAML document.
func (c *ExtractConfig) ApplyDefaults() {
	d := NewExtractConfig(c.Name)
	if c.Type == "" {
		c.Type = d.Type
	}
	if c.Version == "" {
		c.Version = d.Version
	}
	if c.Performance.Parallelism == 0 {
		c.Performance.Parallelism = d.Performance.Parallelism
	}
	if c.Performance.BufferSize == 0 {
		c.Performance.BufferSize = d.Performance.BufferSize
	}
	if c.Timeouts.Connection == 0 {
		c.Timeouts.Connection = d.Timeouts.Connection
	}
	if c.Timeouts.Probe == 0 {
		c.Timeouts.Probe = d.Timeouts.Probe
	}
	if c.Reliability.RetryDelay == 0 {
		c.Reliability = d.Reliability
	}
	if c.Observability.LogLevel == "" {
		c.Observability.LogLevel = d.Observability.LogLevel
	}
	if c.Observability.LogEncoding == "" {
		c.Observability.LogEncoding = d.Observability.LogEncoding
	}
	if len(c.Columns) == 0 {
		c.Columns = d.Columns
	}
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.PollInterval == 0 {
		c.PollInterval = d.PollInterval
	}
}

// Validate checks the job description for contradictions before any
// connection is opened.
func (c *ExtractConfig) Validate() error {
	if err := c.BaseConfig.Validate(); err != nil {
		return err
	}
	if c.Dialect == "" {
		return fmt.Errorf("dialect is required")
	}
	if c.DSN == "" {
		return fmt.Errorf("dsn is required")
	}
	if (c.Table == "") == (c.CustomSQL == "") {
		return fmt.Errorf("exactly one of table or custom_sql is required")
	}
	if len(c.Columns) == 0 {
		return fmt.Errorf("columns cannot be empty")
	}

	switch c.Mode {
	case ModeFull, ModeIncremental, ModePolling:
	default:
		return fmt.Errorf("unsupported mode %q", c.Mode)
	}

	if c.Mode != ModeFull && c.TrackedColumn == "" {
		return fmt.Errorf("tracked_column is required in %s mode", c.Mode)
	}
	if c.TrackedColumn != "" {
		d, err := cursor.ParseDomain(c.Domain)
		if err != nil {
			return err
		}
		for name, raw := range map[string]string{"start_location": c.StartLocation, "end_location": c.EndLocation} {
			if _, err := cursor.Parse(raw, d); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
	}

	if c.ComputeUpperBound && c.Mode != ModeIncremental {
		return fmt.Errorf("compute_upper_bound requires incremental mode, got %s", c.Mode)
	}
	if c.ComputeUpperBound && c.EndLocation != "" {
		return fmt.Errorf("compute_upper_bound and end_location are mutually exclusive")
	}
	if c.Mode == ModePolling {
		if c.PollInterval <= 0 {
			return fmt.Errorf("poll_interval must be positive in polling mode")
		}
		if c.EndLocation != "" {
			return fmt.Errorf("end_location is not allowed in polling mode")
		}
	}
	if c.Performance.Parallelism > 1 && strings.TrimSpace(c.SplitKey) == "" {
		return fmt.Errorf("split_key is required when parallelism > 1")
	}
	return nil
}

// CursorDomain returns the parsed domain of the tracked column. It must only
// be called on a validated config with a tracked column.
func (c *ExtractConfig) CursorDomain() cursor.Domain {
	d, err := cursor.ParseDomain(c.Domain)
	if err != nil {
		return cursor.Numeric
	}
	return d
}

// UsesComputedBound reports whether partitions wait for a MAX() snapshot.
func (c *ExtractConfig) UsesComputedBound() bool {
	return c.Mode == ModeIncremental && c.ComputeUpperBound
}

// SelectsAll reports whether every source column is selected.
func (c *ExtractConfig) SelectsAll() bool {
	return len(c.Columns) == 1 && c.Columns[0] == "*"
}
