package dbclient

import (
	"context"
	"errors"
	"fmt"

	"doctransfer/internal/domain"
	"doctransfer/internal/transfer"
)

// ErrReadOnly is returned when a transfer tries to write to a SQL database.
var ErrReadOnly = errors.New("this connection is read-only: only MongoDB can be a transfer destination")

// Connector opens transfer sources and destinations on one database
// connection. Implementations are safe for concurrent use.
type Connector interface {
	// TestConnection verifies connectivity.
	TestConnection(ctx context.Context) error

	// Collections lists collections (or tables) of database. An empty
	// database means the connection default.
	Collections(ctx context.Context, database string) ([]string, error)

	Source(ctx context.Context, database, collection string, q transfer.ParsedQuery, limit int64) (transfer.Source, error)
	Destination(ctx context.Context, database, collection string, opts transfer.DestinationOptions) (transfer.Destination, error)

	// URI is the connection string handed to external tools, or "".
	URI() string

	// Close closes the connection.
	Close() error
}

// NewConnector creates a Connector for the given database connection.
// The password must be provided separately (from SecretStore).
func NewConnector(conn *domain.DatabaseConnection, password string) (Connector, error) {
	switch conn.Driver {
	case domain.DatabaseDriverMongoDB:
		return newMongoConnector(conn, password)
	case domain.DatabaseDriverSQLite:
		return newSQLiteConnector(conn)
	case domain.DatabaseDriverMySQL:
		return newSQLConnector(mysqlDialect, buildMySQLDSN(conn, password))
	case domain.DatabaseDriverPostgres:
		return newSQLConnector(postgresDialect, buildPostgresDSN(conn, password))
	default:
		return nil, fmt.Errorf("unsupported driver: %s", conn.Driver)
	}
}
