package dbclient

import (
	"doctransfer/internal/domain"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	driver:      "sqlite",
	placeholder: questionMark,
	quote:       doubleQuote,
	unlimited:   "LIMIT -1",
	tables:      `SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name`,
}

// newSQLiteConnector opens an external SQLite file read-only.
func newSQLiteConnector(conn *domain.DatabaseConnection) (*sqlConnector, error) {
	dsn := "file:" + conn.Host + "?mode=ro&_pragma=busy_timeout(5000)"
	return newSQLConnector(sqliteDialect, dsn)
}
