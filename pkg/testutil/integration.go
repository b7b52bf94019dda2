package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" database/sql driver
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// SQLiteSuite provides a scratch SQLite database to integration tests.
type SQLiteSuite struct {
	suite.Suite
	ctx       context.Context
	cancel    context.CancelFunc
	tempDir   string
	dsn       string
	db        *sql.DB
	startTime time.Time
}

// SetupSuite runs before all tests in the suite
func (s *SQLiteSuite) SetupSuite() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 2*time.Minute)
	s.startTime = time.Now()

	tempDir, err := os.MkdirTemp("", "nebula-extract-*")
	require.NoError(s.T(), err)
	s.tempDir = tempDir

	s.dsn = "file:" + filepath.Join(tempDir, "source.db") + "?_busy_timeout=5000"
	s.db, err = sql.Open("sqlite3", s.dsn)
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.db.PingContext(s.ctx))

	s.T().Logf("SQLite suite started in %s", s.tempDir)
}

// TearDownSuite runs after all tests in the suite
func (s *SQLiteSuite) TearDownSuite() {
	s.cancel()
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.tempDir != "" {
		os.RemoveAll(s.tempDir)
	}
	s.T().Logf("SQLite suite completed in %v", time.Since(s.startTime))
}

// Context returns the suite context
func (s *SQLiteSuite) Context() context.Context {
	return s.ctx
}

// TempDir returns the temporary directory path
func (s *SQLiteSuite) TempDir() string {
	return s.tempDir
}

// DSN returns the connection string of the scratch database.
func (s *SQLiteSuite) DSN() string {
	return s.dsn
}

// DB returns a handle on the scratch database.
func (s *SQLiteSuite) DB() *sql.DB {
	return s.db
}

// Exec runs a statement and fails the test on error.
func (s *SQLiteSuite) Exec(query string, args ...interface{}) {
	_, err := s.db.ExecContext(s.ctx, query, args...)
	require.NoError(s.T(), err, query)
}

// CreateOrders (re)creates table with an integer id, a status and a created_at
// column, and inserts one row per id.
func (s *SQLiteSuite) CreateOrders(table string, ids ...int64) {
	s.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %q`, table))
	s.Exec(fmt.Sprintf(`CREATE TABLE %q (id INTEGER PRIMARY KEY, status TEXT NOT NULL, created_at TEXT)`, table))
	s.InsertOrders(table, ids...)
}

// InsertOrders appends rows to a table made by CreateOrders.
func (s *SQLiteSuite) InsertOrders(table string, ids ...int64) {
	if len(ids) == 0 {
		return
	}
	values := make([]string, len(ids))
	args := make([]interface{}, 0, len(ids)*2)
	for i, id := range ids {
		values[i] = "(?, ?, ?)"
		created := time.Date(2024, 1, 1, 0, 0, int(id), 0, time.UTC).Format("2006-01-02 15:04:05")
		args = append(args, id, "paid", created)
	}
	s.Exec(fmt.Sprintf(`INSERT INTO %q (id, status, created_at) VALUES %s`, table, strings.Join(values, ", ")), args...)
}

// IntegrationTest marks a test as an integration test
func IntegrationTest(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}
