package app

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doctransfer/internal/codec"
	"doctransfer/internal/config"
	"doctransfer/internal/service"
	"doctransfer/internal/transfer"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(dir, "state", "doctransfer.db")
	cfg.Secrets.File = filepath.Join(dir, "secrets.toml")
	cfg.Transfer.BatchSize = 2
	return cfg
}

func TestNew_WiresServicesOverStorage(t *testing.T) {
	cfg := testConfig(t)
	emitter := &service.MockEmitter{}
	a, err := New(cfg, emitter)
	require.NoError(t, err)
	assert.Same(t, cfg, a.Config())

	src := filepath.Join(t.TempDir(), "src.db")
	raw, err := sql.Open("sqlite", src)
	require.NoError(t, err)
	_, err = raw.Exec(`CREATE TABLE t (id INTEGER, v TEXT)`)
	require.NoError(t, err)
	_, err = raw.Exec(`INSERT INTO t VALUES (1, 'a'), (2, 'b'), (3, 'c')`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	conn, err := a.Connections.CreateConnection(service.CreateConnInput{Name: "src", Driver: "sqlite", Host: src, Password: "pw"})
	require.NoError(t, err)
	secrets, err := os.ReadFile(cfg.Secrets.File)
	require.NoError(t, err)
	assert.Contains(t, string(secrets), "pw")

	ctx := context.Background()
	a.Startup(ctx)

	out := filepath.Join(t.TempDir(), "t.csv")
	h, err := a.Transfers.Submit(ctx, transfer.Job{
		Kind:        transfer.KindExport,
		Format:      codec.FormatCSV,
		Source:      transfer.Endpoint{ConnectionID: conn.ID, Database: "main", Collection: "t"},
		Destination: transfer.Endpoint{Path: out},
	})
	require.NoError(t, err)
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	res, err := h.Wait(waitCtx)
	require.NoError(t, err)
	require.Equal(t, transfer.StateCompleted, res.State, res.Error())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "id,v\n1,a\n2,b\n3,c\n", strings.ReplaceAll(string(data), "\r\n", "\n"))

	runs, err := a.Transfers.ListRuns("", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "completed", runs[0].State)
	assert.Len(t, emitter.Named(service.EventCompleted), 1)

	a.Shutdown(ctx)
}

func TestNew_BadStoragePath(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	cfg.Storage.Path = filepath.Join(blocker, "doctransfer.db")
	_, err := New(cfg, nil)
	assert.Error(t, err)
}
