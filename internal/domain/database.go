package domain

import "time"

// DatabaseDriver represents the type of database engine.
type DatabaseDriver string

const (
	DatabaseDriverMongoDB  DatabaseDriver = "mongodb"
	DatabaseDriverPostgres DatabaseDriver = "postgres"
	DatabaseDriverMySQL    DatabaseDriver = "mysql"
	DatabaseDriverSQLite   DatabaseDriver = "sqlite"
)

// Writable reports whether transfers may write to this driver. SQL
// databases are read-only sources.
func (d DatabaseDriver) Writable() bool {
	return d == DatabaseDriverMongoDB
}

// DatabaseConnection holds the metadata for connecting to a database.
// The password is stored separately in the SecretStore.
type DatabaseConnection struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Driver    DatabaseDriver `json:"driver"`
	Host      string         `json:"host"`     // hostname, full mongodb:// URI, or file path (sqlite)
	Port      int            `json:"port"`     // 0 for the driver default
	Database  string         `json:"database"` // default database
	Username  string         `json:"username"`
	SSLMode   string         `json:"sslMode"`
	ExtraJSON string         `json:"extraJson"` // driver-specific options
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// DatabaseConnectionStore manages CRUD operations for database connections.
type DatabaseConnectionStore interface {
	CreateConnection(c *DatabaseConnection) error
	GetConnection(id string) (*DatabaseConnection, error)
	ListConnections() ([]DatabaseConnection, error)
	UpdateConnection(c *DatabaseConnection) error
	DeleteConnection(id string) error
}
