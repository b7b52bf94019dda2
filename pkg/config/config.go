// Package config provides the unified configuration system for nebula-extract.
// It defines a single BaseConfig structure shared by every job, and the
// ExtractConfig that embeds it with the extraction-specific fields.
//
// The base configuration is organized into logical sections:
//   - Performance: Partition parallelism and sink buffering
//   - Timeouts: Connection, query and liveness probe timeouts
//   - Reliability: Retry logic for connection acquisition
//   - Observability: Metrics, tracing, logging
//
// Example usage:
//
//	cfg := config.NewBaseConfig("orders-sync", "extract")
//	cfg.Performance.Parallelism = 4
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"time"
)

// BaseConfig is the unified configuration structure embedded by every job
// configuration with the yaml inline tag.
type BaseConfig struct {
	// Name identifies the job; it scopes checkpoint keys and the bound announcement
	Name string `yaml:"name" json:"name"`
	// Type specifies the job type
	Type string `yaml:"type" json:"type"`
	// Version indicates the configuration version
	Version string `yaml:"version" json:"version"`

	// Performance settings control throughput and resource usage
	Performance PerformanceConfig `yaml:"performance" json:"performance"`

	// Timeouts define various timeout durations
	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts"`

	// Reliability settings for error handling and resilience
	Reliability ReliabilityConfig `yaml:"reliability" json:"reliability"`

	// Observability settings for monitoring and debugging
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// PerformanceConfig contains all performance-related settings.
type PerformanceConfig struct {
	// Parallelism is the number of partitions the job is split into
	Parallelism int `yaml:"parallelism" json:"parallelism"`
	// BufferSize sets the size of the row sink buffer
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`
}

// TimeoutConfig contains all timeout-related settings.
type TimeoutConfig struct {
	// Connection timeout for establishing connections
	Connection time.Duration `yaml:"connection" json:"connection"`
	// Query bounds single-row statements (bound probe, tail probe). Zero disables it.
	Query time.Duration `yaml:"query" json:"query"`
	// Probe bounds the liveness check issued between polling cycles
	Probe time.Duration `yaml:"probe" json:"probe"`
}

// ReliabilityConfig contains retry settings for connection acquisition.
type ReliabilityConfig struct {
	// RetryAttempts sets maximum retry attempts for failed operations
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts"`
	// RetryDelay is the initial delay between retries
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
	// RetryMultiplier increases delay exponentially
	RetryMultiplier float64 `yaml:"retry_multiplier" json:"retry_multiplier"`
	// MaxRetryDelay caps the maximum retry delay
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" json:"max_retry_delay"`
	// FailFast cancels the remaining partitions on the first partition failure
	FailFast bool `yaml:"fail_fast" json:"fail_fast"`
}

// ObservabilityConfig contains monitoring and observability settings.
type ObservabilityConfig struct {
	// EnableMetrics activates the Prometheus registers
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics"`
	// EnableTracing activates query spans
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing"`
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogEncoding selects json or console output
	LogEncoding string `yaml:"log_encoding" json:"log_encoding"`
	// MetricsAddr, when set, serves /metrics on this address
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
}

// NewBaseConfig creates a new BaseConfig with sensible defaults.
//
// Example:
//
//	cfg := config.NewBaseConfig("orders-sync", "extract")
//	cfg.Timeouts.Probe = 5 * time.Second  // Override default
func NewBaseConfig(name, jobType string) *BaseConfig {
	return &BaseConfig{
		Name:    name,
		Type:    jobType,
		Version: "1.0.0",
		Performance: PerformanceConfig{
			Parallelism: 1,
			BufferSize:  10000,
		},
		Timeouts: TimeoutConfig{
			Connection: 10 * time.Second,
			Query:      0,
			Probe:      3 * time.Second,
		},
		Reliability: ReliabilityConfig{
			RetryAttempts:   3,
			RetryDelay:      time.Second,
			RetryMultiplier: 2.0,
			MaxRetryDelay:   60 * time.Second,
			FailFast:        false,
		},
		Observability: ObservabilityConfig{
			EnableMetrics: true,
			EnableTracing: false,
			LogLevel:      "info",
			LogEncoding:   "json",
		},
	}
}

// Validate validates the configuration for correctness.
// It checks required fields and ensures values are within acceptable ranges.
func (bc *BaseConfig) Validate() error {
	if bc.Name == "" {
		return fmt.Errorf("name is required")
	}
	if bc.Type == "" {
		return fmt.Errorf("type is required")
	}
	if bc.Performance.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if bc.Performance.BufferSize < 0 {
		return fmt.Errorf("buffer_size cannot be negative")
	}
	if bc.Timeouts.Query < 0 {
		return fmt.Errorf("query timeout cannot be negative")
	}
	if bc.Timeouts.Probe <= 0 {
		return fmt.Errorf("probe timeout must be positive")
	}
	if bc.Reliability.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts cannot be negative")
	}
	return nil
}

// GetParallelism returns the partition count, ensuring it's at least 1
func (p *PerformanceConfig) GetParallelism() int {
	if p.Parallelism <= 0 {
		return 1
	}
	return p.Parallelism
}
