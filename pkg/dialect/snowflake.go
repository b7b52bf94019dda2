package dialect

import (
	"github.com/snowflakedb/gosnowflake"

	stringpool "github.com/ajitpratap0/nebula-extract/pkg/strings"
)

// Snowflake renders SQL for Snowflake through gosnowflake.
type Snowflake struct {
	standard
}

// NewSnowflake returns the Snowflake dialect.
func NewSnowflake() *Snowflake {
	return &Snowflake{standard{name: "snowflake", driver: "snowflake", quote: '"'}}
}

func (s *Snowflake) SourceName(dsn string) string {
	cfg, err := gosnowflake.ParseDSN(dsn)
	if err != nil {
		return "snowflake://<unparsable dsn>"
	}
	return stringpool.Sprintf("snowflake://%s/%s/%s", cfg.Account, cfg.Database, cfg.Schema)
}

func init() {
	Register(NewSnowflake())
}
