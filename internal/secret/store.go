package secret

import (
	"os"
	"strings"
	"sync"
)

// SecretStore holds connection passwords outside the connection records.
// Keys look like "db:<connection id>".
type SecretStore interface {
	// Set stores a secret value under the given key.
	Set(key string, value []byte) error

	// Get retrieves the secret value for the given key.
	// Returns empty slice and nil error if key does not exist.
	Get(key string) ([]byte, error)

	// Delete removes the secret for the given key.
	Delete(key string) error
}

// ConnectionKey is the key a connection password is stored under.
func ConnectionKey(connectionID string) string {
	return "db:" + connectionID
}

// MemoryStore keeps secrets in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[string][]byte)}
}

func (m *MemoryStore) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.secrets[key]...), nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.secrets, key)
	return nil
}

// EnvStore reads secrets from environment variables and falls back to an
// inner store. "db:abc-123" with prefix DOCTRANSFER_ maps to
// DOCTRANSFER_DB_ABC_123. Writes go to the inner store.
type EnvStore struct {
	prefix string
	inner  SecretStore
}

// NewEnvStore creates an EnvStore. inner may be nil, in which case writes
// are kept in memory.
func NewEnvStore(prefix string, inner SecretStore) *EnvStore {
	if inner == nil {
		inner = NewMemoryStore()
	}
	return &EnvStore{prefix: prefix, inner: inner}
}

// Variable returns the environment variable consulted for key.
func (e *EnvStore) Variable(key string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, key)
	return e.prefix + name
}

func (e *EnvStore) Get(key string) ([]byte, error) {
	if v, ok := os.LookupEnv(e.Variable(key)); ok {
		return []byte(v), nil
	}
	return e.inner.Get(key)
}

func (e *EnvStore) Set(key string, value []byte) error {
	return e.inner.Set(key, value)
}

func (e *EnvStore) Delete(key string) error {
	return e.inner.Delete(key)
}
