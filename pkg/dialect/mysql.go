package dialect

import (
	"github.com/go-sql-driver/mysql"

	"github.com/ajitpratap0/nebula-extract/pkg/cursor"
	stringpool "github.com/ajitpratap0/nebula-extract/pkg/strings"
)

// MySQL renders SQL for MySQL and MariaDB.
type MySQL struct {
	standard
}

// NewMySQL returns the MySQL dialect.
func NewMySQL() *MySQL {
	return &MySQL{standard{name: "mysql", driver: "mysql", quote: '`'}}
}

// Literal also escapes backslashes, which MySQL treats as escape characters
// unless NO_BACKSLASH_ESCAPES is set.
func (m *MySQL) Literal(c cursor.Cursor) string {
	return literal(c, true)
}

func (m *MySQL) SourceName(dsn string) string {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "mysql://<unparsable dsn>"
	}
	return stringpool.Sprintf("mysql://%s(%s)/%s", cfg.Net, cfg.Addr, cfg.DBName)
}

func init() {
	Register(NewMySQL(), "mariadb")
}
