package dialect

import (
	"strings"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" database/sql driver

	stringpool "github.com/ajitpratap0/nebula-extract/pkg/strings"
)

// SQLite renders SQL for SQLite through go-sqlite3.
type SQLite struct {
	standard
}

// NewSQLite returns the SQLite dialect.
func NewSQLite() *SQLite {
	return &SQLite{standard{name: "sqlite", driver: "sqlite3", quote: '"'}}
}

// Modulo uses the % operator; SQLite has no MOD() before 3.35 math functions.
func (s *SQLite) Modulo(expr string, n int) string {
	return stringpool.Sprintf("(%s %% %d)", expr, n)
}

func (s *SQLite) SourceName(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return "sqlite://" + path
}

func init() {
	Register(NewSQLite(), "sqlite3")
}
