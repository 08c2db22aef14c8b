package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"doctransfer/internal/dbclient"
	"doctransfer/internal/domain"
	"doctransfer/internal/secret"
	"doctransfer/internal/transfer"
)

// ─────────────────────────────────────────────────────────────
// Connection Service: saved connections and the connector pool
// ─────────────────────────────────────────────────────────────

// CreateConnInput is the service-layer DTO for creating/updating connections.
type CreateConnInput struct {
	Name      string `json:"name"`
	Driver    string `json:"driver"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Database  string `json:"database"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	SSLMode   string `json:"sslMode"`
	ExtraJSON string `json:"extraJson"`
}

// ConnectionService manages database connections and keeps one live
// connector per connection. It is the transfer.Store the pipeline reads
// and writes through: endpoints name a saved connection by ID or carry a
// MongoDB URI directly.
type ConnectionService struct {
	connStore domain.DatabaseConnectionStore
	secrets   secret.SecretStore

	mu               sync.Mutex
	activeConnectors map[string]*connEntry

	// dial opens connectors; replaced in tests.
	dial func(conn *domain.DatabaseConnection, password string) (dbclient.Connector, error)
}

type connEntry struct {
	connector dbclient.Connector
	createdAt time.Time
}

var _ transfer.Store = (*ConnectionService)(nil)

// NewConnectionService creates a ConnectionService. connStore may be nil
// when only URI endpoints are used.
func NewConnectionService(connStore domain.DatabaseConnectionStore, secrets secret.SecretStore) *ConnectionService {
	return &ConnectionService{
		connStore:        connStore,
		secrets:          secrets,
		activeConnectors: make(map[string]*connEntry),
		dial:             dbclient.NewConnector,
	}
}

// ── Connection CRUD ────────────────────────────────────────

func (s *ConnectionService) ListConnections() ([]domain.DatabaseConnection, error) {
	if s.connStore == nil {
		return nil, nil
	}
	return s.connStore.ListConnections()
}

func (s *ConnectionService) CreateConnection(input CreateConnInput) (*domain.DatabaseConnection, error) {
	if s.connStore == nil {
		return nil, errors.New("no connection store configured")
	}
	conn := &domain.DatabaseConnection{}
	if err := applyInput(conn, input); err != nil {
		return nil, err
	}
	if err := s.connStore.CreateConnection(conn); err != nil {
		return nil, fmt.Errorf("create connection: %w", err)
	}
	if input.Password != "" && s.secrets != nil {
		if err := s.secrets.Set(secret.ConnectionKey(conn.ID), []byte(input.Password)); err != nil {
			return conn, fmt.Errorf("store password: %w", err)
		}
	}
	return conn, nil
}

func (s *ConnectionService) UpdateConnection(id string, input CreateConnInput) error {
	if s.connStore == nil {
		return errors.New("no connection store configured")
	}
	conn, err := s.connStore.GetConnection(id)
	if err != nil {
		return err
	}
	if err := applyInput(conn, input); err != nil {
		return err
	}
	if err := s.connStore.UpdateConnection(conn); err != nil {
		return err
	}
	if input.Password != "" && s.secrets != nil {
		if err := s.secrets.Set(secret.ConnectionKey(id), []byte(input.Password)); err != nil {
			return fmt.Errorf("store password: %w", err)
		}
	}
	// next use reconnects with the new settings
	s.evict(id)
	return nil
}

func (s *ConnectionService) DeleteConnection(id string) error {
	if s.connStore == nil {
		return errors.New("no connection store configured")
	}
	s.evict(id)
	if s.secrets != nil {
		_ = s.secrets.Delete(secret.ConnectionKey(id))
	}
	return s.connStore.DeleteConnection(id)
}

func applyInput(conn *domain.DatabaseConnection, input CreateConnInput) error {
	driver := domain.DatabaseDriver(input.Driver)
	switch driver {
	case domain.DatabaseDriverMongoDB, domain.DatabaseDriverPostgres, domain.DatabaseDriverMySQL, domain.DatabaseDriverSQLite:
	default:
		return fmt.Errorf("unsupported driver: %q", input.Driver)
	}
	conn.Name = input.Name
	conn.Driver = driver
	conn.Host = input.Host
	conn.Port = input.Port
	conn.Database = input.Database
	conn.Username = input.Username
	conn.SSLMode = input.SSLMode
	conn.ExtraJSON = input.ExtraJSON
	return nil
}

// ── Test + Introspect ──────────────────────────────────────

func (s *ConnectionService) TestConnection(ctx context.Context, id string) error {
	connector, err := s.getOrCreate(id)
	if err != nil {
		return err
	}
	return connector.TestConnection(ctx)
}

// ── transfer.Store ─────────────────────────────────────────

func (s *ConnectionService) Source(ctx context.Context, ep transfer.Endpoint, q transfer.ParsedQuery, limit int64) (transfer.Source, error) {
	connector, err := s.connectorFor(ep)
	if err != nil {
		return nil, err
	}
	return connector.Source(ctx, ep.Database, ep.Collection, q, limit)
}

func (s *ConnectionService) Destination(ctx context.Context, ep transfer.Endpoint, opts transfer.DestinationOptions) (transfer.Destination, error) {
	connector, err := s.connectorFor(ep)
	if err != nil {
		return nil, err
	}
	return connector.Destination(ctx, ep.Database, ep.Collection, opts)
}

func (s *ConnectionService) Collections(ctx context.Context, ep transfer.Endpoint) ([]string, error) {
	connector, err := s.connectorFor(ep)
	if err != nil {
		return nil, err
	}
	return connector.Collections(ctx, ep.Database)
}

// ResolveURI fills ep.URI from its saved connection, for the archive
// tools which connect on their own.
func (s *ConnectionService) ResolveURI(ep transfer.Endpoint) (transfer.Endpoint, error) {
	if ep.URI != "" || ep.ConnectionID == "" {
		return ep, nil
	}
	connector, err := s.getOrCreate(ep.ConnectionID)
	if err != nil {
		return ep, err
	}
	if connector.URI() == "" {
		return ep, fmt.Errorf("connection %s cannot be used with archive tools", ep.ConnectionID)
	}
	ep.URI = connector.URI()
	return ep, nil
}

func (s *ConnectionService) connectorFor(ep transfer.Endpoint) (dbclient.Connector, error) {
	switch {
	case ep.ConnectionID != "":
		return s.getOrCreate(ep.ConnectionID)
	case ep.URI != "":
		return s.getOrDial("uri:"+ep.URI, func() (dbclient.Connector, error) {
			log.Printf("[CONN] Opening connector for URI endpoint (database %q)", ep.Database)
			return s.dial(&domain.DatabaseConnection{Driver: domain.DatabaseDriverMongoDB, Host: ep.URI, Database: ep.Database}, "")
		})
	default:
		return nil, errors.New("endpoint names neither a connection nor a URI")
	}
}

// ── Connector Pool ─────────────────────────────────────────

func (s *ConnectionService) getOrCreate(id string) (dbclient.Connector, error) {
	return s.getOrDial(id, func() (dbclient.Connector, error) {
		if s.connStore == nil {
			return nil, fmt.Errorf("unknown connection %s: no connection store configured", id)
		}
		conn, err := s.connStore.GetConnection(id)
		if err != nil {
			return nil, fmt.Errorf("get connection %s: %w", id, err)
		}
		var password string
		if s.secrets != nil {
			if pw, err := s.secrets.Get(secret.ConnectionKey(id)); err == nil {
				password = string(pw)
			}
		}
		log.Printf("[CONN] Opening connector %s (%s, %s)", id, conn.Name, conn.Driver)
		return s.dial(conn, password)
	})
}

func (s *ConnectionService) getOrDial(key string, open func() (dbclient.Connector, error)) (dbclient.Connector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.activeConnectors[key]; ok {
		return e.connector, nil
	}
	connector, err := open()
	if err != nil {
		return nil, fmt.Errorf("open db connection: %w", err)
	}
	s.activeConnectors[key] = &connEntry{connector: connector, createdAt: time.Now()}
	return connector, nil
}

func (s *ConnectionService) evict(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.activeConnectors[key]; ok {
		_ = e.connector.Close()
		delete(s.activeConnectors, key)
	}
}

// Close tears down all active connectors.
func (s *ConnectionService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.activeConnectors {
		_ = entry.connector.Close()
		delete(s.activeConnectors, key)
	}
}
