package dialect

import (
	"strconv"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	stringpool "github.com/ajitpratap0/nebula-extract/pkg/strings"
)

// Postgres renders SQL for PostgreSQL through the pgx driver.
type Postgres struct {
	standard
}

// NewPostgres returns the PostgreSQL dialect.
func NewPostgres() *Postgres {
	return &Postgres{standard{name: "postgres", driver: "pgx", quote: '"'}}
}

func (p *Postgres) QuoteIdentifier(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func (p *Postgres) QuoteTable(schema, table string) string {
	if schema == "" {
		return pgx.Identifier{table}.Sanitize()
	}
	return pgx.Identifier{schema, table}.Sanitize()
}

func (p *Postgres) Placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func (p *Postgres) SourceName(dsn string) string {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return "postgres://<unparsable dsn>"
	}
	return stringpool.Sprintf("postgres://%s:%d/%s", cfg.Host, cfg.Port, cfg.Database)
}

func init() {
	Register(NewPostgres(), "postgresql", "pg", "pgx")
}
