package secret_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doctransfer/internal/secret"
)

func TestMemoryStore(t *testing.T) {
	s := secret.NewMemoryStore()
	got, err := s.Get("db:missing")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.Set(secret.ConnectionKey("c1"), []byte("pw")))
	got, err = s.Get("db:c1")
	require.NoError(t, err)
	assert.Equal(t, "pw", string(got))

	require.NoError(t, s.Delete("db:c1"))
	got, _ = s.Get("db:c1")
	assert.Empty(t, got)
}

func TestEnvStore_PrefersEnvironment(t *testing.T) {
	inner := secret.NewMemoryStore()
	require.NoError(t, inner.Set("db:abc-123", []byte("stored")))
	s := secret.NewEnvStore("DOCTRANSFER_", inner)
	assert.Equal(t, "DOCTRANSFER_DB_ABC_123", s.Variable("db:abc-123"))

	got, err := s.Get("db:abc-123")
	require.NoError(t, err)
	assert.Equal(t, "stored", string(got))

	t.Setenv("DOCTRANSFER_DB_ABC_123", "from-env")
	got, err = s.Get("db:abc-123")
	require.NoError(t, err)
	assert.Equal(t, "from-env", string(got))

	require.NoError(t, s.Set("db:other", []byte("x")))
	got, _ = inner.Get("db:other")
	assert.Equal(t, "x", string(got))
}

func TestFileStore_PersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "secrets.toml")
	s := secret.NewFileStore(path)

	got, err := s.Get("db:c1")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.Set("db:c1", []byte("p=w\"d")))
	require.NoError(t, s.Set("db:c2", []byte("other")))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened := secret.NewFileStore(path)
	got, err = reopened.Get("db:c1")
	require.NoError(t, err)
	assert.Equal(t, "p=w\"d", string(got))

	require.NoError(t, reopened.Delete("db:c1"))
	require.NoError(t, reopened.Delete("db:missing"))
	got, _ = s.Get("db:c1")
	assert.Empty(t, got)
	got, _ = s.Get("db:c2")
	assert.Equal(t, "other", string(got))
}

func TestFileStore_RejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.toml")
	require.NoError(t, os.WriteFile(path, []byte("secrets = ["), 0o600))
	_, err := secret.NewFileStore(path).Get("db:c1")
	assert.Error(t, err)
}
