// Package querybuilder renders the statements a partition issues against the
// source: the main scan, the upper-bound probe, the polling tail probe and
// forward query, and the schema probe. Identifier and literal quoting is
// delegated to a dialect.Dialect.
package querybuilder

import (
	"strconv"
	"strings"

	"github.com/ajitpratap0/nebula-extract/pkg/cursor"
	"github.com/ajitpratap0/nebula-extract/pkg/dialect"
)

// Alias is the name a custom sub-query is read through.
const Alias = "t"

// Source describes what a job reads.
type Source struct {
	Schema    string
	Table     string
	CustomSQL string
	// Columns to select; empty or a single "*" selects all
	Columns       []string
	TrackedColumn string
	SplitKey      string
	// Where is a residual predicate inserted verbatim
	Where string
}

// Filter carries the per-partition parameters of a scan.
type Filter struct {
	// Lower is the exclusive (or inclusive, see MaxMode) lower bound
	Lower cursor.Cursor
	// Upper is the exclusive upper bound
	Upper cursor.Cursor
	// MaxMode is set when Upper was computed from the source in the same pass
	MaxMode bool
	// Restored is set when Lower came from a checkpoint
	Restored bool
	// Polling binds the lower bound through a placeholder
	Polling bool
	Ordinal int
	Count   int
}

// Builder renders statements for one source.
type Builder struct {
	d   dialect.Dialect
	src Source
}

// New creates a Builder.
func New(d dialect.Dialect, src Source) *Builder {
	return &Builder{d: d, src: src}
}

// Dialect returns the dialect statements are rendered with.
func (b *Builder) Dialect() dialect.Dialect { return b.d }

// Column renders a column reference, qualified with the sub-query alias when
// the source is custom SQL.
func (b *Builder) Column(name string) string {
	q := b.d.QuoteIdentifier(name)
	if b.src.CustomSQL != "" {
		return Alias + "." + q
	}
	return q
}

// From renders the FROM target.
func (b *Builder) From() string {
	if b.src.CustomSQL != "" {
		return "(" + strings.TrimSpace(b.src.CustomSQL) + ") " + Alias
	}
	return b.d.QuoteTable(b.src.Schema, b.src.Table)
}

// SelectsAll reports whether every source column is selected.
func (b *Builder) SelectsAll() bool {
	cols := b.src.Columns
	return len(cols) == 0 || (len(cols) == 1 && cols[0] == "*")
}

// columns renders the select list. A tracked column missing from an explicit
// list is appended, since every row must carry its position.
func (b *Builder) columns() []string {
	if b.SelectsAll() {
		return []string{"*"}
	}
	out := make([]string, 0, len(b.src.Columns)+1)
	tracked := b.src.TrackedColumn == ""
	for _, c := range b.src.Columns {
		out = append(out, b.Column(c))
		if strings.EqualFold(c, b.src.TrackedColumn) {
			tracked = true
		}
	}
	if !tracked {
		out = append(out, b.Column(b.src.TrackedColumn))
	}
	return out
}

// LowerClause renders the lower bound predicate, or "" when f has no lower
// bound. The bound is inclusive only for a non-restored max-mode scan.
func (b *Builder) LowerClause(f Filter) string {
	if f.Polling {
		return b.Column(b.src.TrackedColumn) + " > " + b.d.Placeholder(1)
	}
	if !f.Lower.Available() {
		return ""
	}
	op := " > "
	if f.MaxMode && !f.Restored {
		op = " >= "
	}
	return b.Column(b.src.TrackedColumn) + op + b.d.Literal(f.Lower)
}

// UpperClause renders the exclusive upper bound, or "" without one.
func (b *Builder) UpperClause(f Filter) string {
	if f.Polling || !f.Upper.Available() {
		return ""
	}
	return b.Column(b.src.TrackedColumn) + " < " + b.d.Literal(f.Upper)
}

// ResidualClause returns the configured predicate in parentheses, so an OR
// inside it cannot escape the bounds it is joined with.
func (b *Builder) ResidualClause() string {
	w := strings.TrimSpace(b.src.Where)
	if w == "" {
		return ""
	}
	return "(" + w + ")"
}

// SplitClause assigns rows to partitions by the split key modulo the
// partition count.
func (b *Builder) SplitClause(f Filter) string {
	if !b.splits(f) {
		return ""
	}
	return b.d.Modulo(b.Column(b.src.SplitKey), f.Count) + " = " + strconv.Itoa(f.Ordinal)
}

func (b *Builder) splits(f Filter) bool {
	return f.Count > 1 && b.src.SplitKey != ""
}

// Scan renders the main scan. A polling scan binds its lower bound as the
// first argument and is ordered by the tracked column, so its last row
// carries the highest position.
func (b *Builder) Scan(f Filter) string {
	stmt := dialect.Statement{
		Columns: b.columns(),
		From:    b.From(),
		Where:   nonEmpty(b.LowerClause(f), b.UpperClause(f), b.ResidualClause(), b.SplitClause(f)),
	}
	switch {
	case f.Polling:
		stmt.OrderBy = []dialect.Order{{Expr: b.Column(b.src.TrackedColumn)}}
	case b.splits(f):
		stmt.OrderBy = []dialect.Order{{Expr: b.Column(b.src.SplitKey)}}
	}
	return b.d.Select(stmt)
}

// ForwardQuery is the polling scan issued after every wait.
func (b *Builder) ForwardQuery(ordinal, count int) string {
	return b.Scan(Filter{Polling: true, Ordinal: ordinal, Count: count})
}

// TailProbe fetches the row with the highest tracked value the partition can
// see; a polling partition without a start position begins after it. NULLs
// are excluded since some vendors sort them first in descending order.
func (b *Builder) TailProbe(ordinal, count int) string {
	f := Filter{Ordinal: ordinal, Count: count}
	col := b.Column(b.src.TrackedColumn)
	return b.d.Select(dialect.Statement{
		Columns: b.columns(),
		From:    b.From(),
		Where:   nonEmpty(col+" IS NOT NULL", b.ResidualClause(), b.SplitClause(f)),
		OrderBy: []dialect.Order{{Expr: col, Desc: true}},
		Limit:   1,
	})
}

// BoundProbe computes the job-wide upper bound. It is filtered by the same
// inclusive lower bound as a max-mode scan starting at start.
func (b *Builder) BoundProbe(start cursor.Cursor) string {
	return b.d.Select(dialect.Statement{
		Columns: []string{"MAX(" + b.Column(b.src.TrackedColumn) + ") AS max_value"},
		From:    b.From(),
		Where:   nonEmpty(b.LowerClause(Filter{Lower: start, MaxMode: true})),
	})
}

// SchemaProbe returns no rows but exposes the source's column names.
func (b *Builder) SchemaProbe() string {
	return b.d.Select(dialect.Statement{
		From:  b.From(),
		Where: []string{"1 = 0"},
	})
}

func nonEmpty(clauses ...string) []string {
	out := clauses[:0]
	for _, c := range clauses {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}
