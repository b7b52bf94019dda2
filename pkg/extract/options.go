package extract

import (
	"time"

	"github.com/ajitpratap0/nebula-extract/pkg/config"
	"github.com/ajitpratap0/nebula-extract/pkg/connector/core"
	"github.com/ajitpratap0/nebula-extract/pkg/cursor"
	"github.com/ajitpratap0/nebula-extract/pkg/nebulaerrors"
	"github.com/ajitpratap0/nebula-extract/pkg/querybuilder"
)

// Options is the immutable per-job description every partition runs with.
type Options struct {
	Job           string
	Mode          config.Mode
	TrackedColumn string
	Domain        cursor.Domain
	// Columns are checked against the source schema; "*" skips the check
	Columns  []string
	SplitKey string
	// StartLocation filters the bound probe
	StartLocation     cursor.Cursor
	ComputeUpperBound bool
	PollInterval      time.Duration
	// QueryTimeout bounds single-row statements; zero disables it
	QueryTimeout time.Duration
}

// OptionsFromConfig derives Options from a validated config.
func OptionsFromConfig(cfg *config.ExtractConfig) (Options, error) {
	opts := Options{
		Job:               cfg.Name,
		Mode:              cfg.Mode,
		TrackedColumn:     cfg.TrackedColumn,
		Domain:            cfg.CursorDomain(),
		Columns:           cfg.Columns,
		SplitKey:          cfg.SplitKey,
		StartLocation:     cursor.Unavailable(cfg.CursorDomain()),
		ComputeUpperBound: cfg.UsesComputedBound(),
		PollInterval:      cfg.PollInterval,
		QueryTimeout:      cfg.Timeouts.Query,
	}
	if cfg.Mode != config.ModeFull {
		start, err := cursor.Parse(cfg.StartLocation, opts.Domain)
		if err != nil {
			return Options{}, nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeConfig, "invalid start_location")
		}
		opts.StartLocation = start
	}
	return opts, nil
}

// SourceFromConfig describes the configured source for a querybuilder.
func SourceFromConfig(cfg *config.ExtractConfig) querybuilder.Source {
	return querybuilder.Source{
		Schema:        cfg.Schema,
		Table:         cfg.Table,
		CustomSQL:     cfg.CustomSQL,
		Columns:       cfg.Columns,
		TrackedColumn: cfg.TrackedColumn,
		SplitKey:      cfg.SplitKey,
		Where:         cfg.Where,
	}
}

// Partitions lays out the partitions of a job. Full mode reads without
// bounds; the other modes start from the configured locations.
func Partitions(cfg *config.ExtractConfig) ([]core.Partition, error) {
	d := cfg.CursorDomain()
	lower, upper := cursor.Unavailable(d), cursor.Unavailable(d)
	if cfg.Mode != config.ModeFull {
		var err error
		if lower, err = cursor.Parse(cfg.StartLocation, d); err != nil {
			return nil, nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeConfig, "invalid start_location")
		}
		if upper, err = cursor.Parse(cfg.EndLocation, d); err != nil {
			return nil, nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeConfig, "invalid end_location")
		}
	}

	n := cfg.GetParallelism()
	parts := make([]core.Partition, n)
	for i := range parts {
		parts[i] = core.Partition{Ordinal: i, Count: n, LowerBound: lower, UpperBound: upper}
	}
	return parts, nil
}
