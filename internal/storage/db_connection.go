package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"doctransfer/internal/domain"
)

// DBConnectionStore manages database connection records in SQLite.
type DBConnectionStore struct {
	db *DB
}

// NewDBConnectionStore creates a new DBConnectionStore.
func NewDBConnectionStore(db *DB) *DBConnectionStore {
	return &DBConnectionStore{db: db}
}

const connectionColumns = `id, name, driver, host, port, database_name, username, ssl_mode, extra_json, created_at, updated_at`

func (s *DBConnectionStore) CreateConnection(c *domain.DatabaseConnection) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.ExtraJSON == "" {
		c.ExtraJSON = "{}"
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := s.db.Conn().Exec(
		`INSERT INTO db_connections (`+connectionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Driver, c.Host, c.Port, c.Database, c.Username, c.SSLMode, c.ExtraJSON, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert connection: %w", err)
	}
	return nil
}

func (s *DBConnectionStore) GetConnection(id string) (*domain.DatabaseConnection, error) {
	row := s.db.Conn().QueryRow(`SELECT `+connectionColumns+` FROM db_connections WHERE id = ?`, id)
	c, err := scanConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("database connection not found: %s", id)
	}
	return c, err
}

func (s *DBConnectionStore) ListConnections() ([]domain.DatabaseConnection, error) {
	rows, err := s.db.Conn().Query(`SELECT ` + connectionColumns + ` FROM db_connections ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []domain.DatabaseConnection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, *c)
	}
	return conns, rows.Err()
}

func (s *DBConnectionStore) UpdateConnection(c *domain.DatabaseConnection) error {
	c.UpdatedAt = time.Now()
	res, err := s.db.Conn().Exec(
		`UPDATE db_connections SET name=?, driver=?, host=?, port=?, database_name=?, username=?, ssl_mode=?, extra_json=?, updated_at=?
		 WHERE id=?`,
		c.Name, c.Driver, c.Host, c.Port, c.Database, c.Username, c.SSLMode, c.ExtraJSON, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("database connection not found: %s", c.ID)
	}
	return nil
}

func (s *DBConnectionStore) DeleteConnection(id string) error {
	_, err := s.db.Conn().Exec(`DELETE FROM db_connections WHERE id = ?`, id)
	return err
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanConnection(r scanner) (*domain.DatabaseConnection, error) {
	c := &domain.DatabaseConnection{}
	err := r.Scan(&c.ID, &c.Name, &c.Driver, &c.Host, &c.Port, &c.Database, &c.Username, &c.SSLMode, &c.ExtraJSON, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}
