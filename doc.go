// Package nebula is the root of nebula-extract, a partitioned, resumable
// reader for SQL sources.
//
// A job names one table (or custom query) on a PostgreSQL, MySQL, Snowflake
// or SQLite source and splits it into partitions. Each partition is driven by
// its own state machine that
//
//   - derives its lower bound from a checkpoint, falling back to the
//     configured start location,
//   - reads up to a fixed end location or to a MAX() snapshot taken once per
//     job by a single leader,
//   - records the tracked column of every emitted row as its checkpoint, and
//   - in polling mode keeps reading past the last position, reconnecting once
//     when a liveness probe fails.
//
// # Layout
//
//	cmd/nebula-extract    CLI (run, dialects, version)
//	internal/pipeline     local job runner, runtime and JSON-lines sink
//	pkg/extract           per-partition state machine
//	pkg/coordinator       job-wide upper bound agreement
//	pkg/querybuilder      SQL for scans, probes and forward reads
//	pkg/dialect           vendor quoting, literals and drivers
//	pkg/cursor            typed tracked-column positions
//	pkg/checkpoint        memory and file checkpoint stores
//	pkg/clients           connection supervision and retries
//
// # Quick Start
//
//	# orders.yaml
//	name: orders
//	dialect: postgres
//	dsn: ${ORDERS_DSN}
//	table: orders
//	mode: incremental
//	tracked_column: id
//	domain: numeric
//	compute_upper_bound: true
//	performance:
//	  parallelism: 4
//	split_key: id
//
//	nebula-extract run --config orders.yaml --checkpoint orders.ckpt --output orders.jsonl.zst
//
// Running the same command again resumes every partition after its last
// emitted row.
package nebula
