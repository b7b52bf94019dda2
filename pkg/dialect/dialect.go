// Package dialect provides per-vendor SQL quoting and statement assembly.
//
// The extraction engine never concatenates identifiers or literals itself; it
// describes a statement as a Statement and lets the source's Dialect render it.
package dialect

import (
	"sort"
	"strings"
	"sync"

	"github.com/ajitpratap0/nebula-extract/pkg/cursor"
	"github.com/ajitpratap0/nebula-extract/pkg/nebulaerrors"
	stringpool "github.com/ajitpratap0/nebula-extract/pkg/strings"
)

// Order is one ORDER BY term.
type Order struct {
	Expr string
	Desc bool
}

// Statement is a SELECT described in already-quoted fragments.
type Statement struct {
	Columns []string
	From    string
	Where   []string
	OrderBy []Order
	Limit   int
}

// Dialect renders SQL for one source vendor.
type Dialect interface {
	// Name is the canonical registry name.
	Name() string
	// DriverName is the database/sql driver the dialect's DSNs are opened with.
	DriverName() string
	QuoteIdentifier(name string) string
	QuoteTable(schema, table string) string
	// Literal renders c as a SQL literal.
	Literal(c cursor.Cursor) string
	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder(n int) string
	// Modulo renders expr modulo n.
	Modulo(expr string, n int) string
	Select(stmt Statement) string
	// SourceName describes dsn for error messages without credentials.
	SourceName(dsn string) string
}

// standard implements the ANSI parts shared by every vendor.
type standard struct {
	name   string
	driver string
	quote  byte
}

func (s standard) Name() string       { return s.name }
func (s standard) DriverName() string { return s.driver }

func (s standard) QuoteIdentifier(name string) string {
	sb := stringpool.NewSQLBuilder(len(name) + 2)
	defer sb.Close()
	return sb.WriteIdentifier(name, s.quote).String()
}

func (s standard) QuoteTable(schema, table string) string {
	if schema == "" {
		return s.QuoteIdentifier(table)
	}
	return s.QuoteIdentifier(schema) + "." + s.QuoteIdentifier(table)
}

func (s standard) Literal(c cursor.Cursor) string {
	return literal(c, false)
}

func (s standard) Placeholder(int) string { return "?" }

func (s standard) Modulo(expr string, n int) string {
	return stringpool.Sprintf("MOD(%s, %d)", expr, n)
}

func (s standard) Select(stmt Statement) string {
	return assemble(stmt)
}

func literal(c cursor.Cursor, escapeBackslash bool) string {
	if !c.Available() {
		return "NULL"
	}
	if !c.Quoted() {
		return c.Render()
	}
	v := c.Render()
	if escapeBackslash {
		v = strings.ReplaceAll(v, `\`, `\\`)
	}
	sb := stringpool.NewSQLBuilder(len(v) + 2)
	defer sb.Close()
	return sb.WriteStringLiteral(v).String()
}

// assemble renders SELECT <cols> FROM <from> [WHERE ...] [ORDER BY ...] [LIMIT n].
func assemble(stmt Statement) string {
	cols := stmt.Columns
	if len(cols) == 0 {
		cols = []string{"*"}
	}

	sb := stringpool.NewSQLBuilder(len(stmt.From) + 64*(len(cols)+len(stmt.Where)))
	defer sb.Close()

	sb.WriteQuery("SELECT ").WriteJoined(cols, ", ").
		WriteQuery(" FROM ").WriteQuery(stmt.From)

	if len(stmt.Where) > 0 {
		sb.WriteQuery(" WHERE ").WriteJoined(stmt.Where, " AND ")
	}

	for i, o := range stmt.OrderBy {
		if i == 0 {
			sb.WriteQuery(" ORDER BY ")
		} else {
			sb.WriteQuery(", ")
		}
		sb.WriteQuery(o.Expr)
		if o.Desc {
			sb.WriteQuery(" DESC")
		} else {
			sb.WriteQuery(" ASC")
		}
	}

	if stmt.Limit > 0 {
		sb.WriteQuery(" LIMIT ").WriteInt(int64(stmt.Limit))
	}
	return sb.String()
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Dialect{}
	canonical  = map[string]struct{}{}
)

// Register makes d available under its name and any aliases.
func Register(d Dialect, aliases ...string) {
	registryMu.Lock()
	defer registryMu.Unlock()

	registry[d.Name()] = d
	canonical[d.Name()] = struct{}{}
	for _, a := range aliases {
		registry[strings.ToLower(a)] = d
	}
}

// Get looks up a dialect by name or alias, case-insensitively.
func Get(name string) (Dialect, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if d, ok := registry[strings.ToLower(strings.TrimSpace(name))]; ok {
		return d, nil
	}
	return nil, nebulaerrors.Newf(nebulaerrors.ErrorTypeConfig, "unknown dialect %q", name).
		WithDetail("available", namesLocked())
}

// Names lists the canonical dialect names in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return namesLocked()
}

func namesLocked() []string {
	names := make([]string, 0, len(canonical))
	for n := range canonical {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
