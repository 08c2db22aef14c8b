package cli

import (
	"bytes"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

// env is an isolated config, database and secrets file.
type env struct {
	dir    string
	config string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.toml")
	body := fmt.Sprintf("[storage]\npath = %q\n\n[secrets]\nfile = %q\n\n[transfer]\nbatch_size = 2\n",
		filepath.Join(dir, "doctransfer.db"), filepath.Join(dir, "secrets.toml"))
	require.NoError(t, os.WriteFile(cfg, []byte(body), 0o600))
	return &env{dir: dir, config: cfg}
}

func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (e *env) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	require.NoError(t, err, "doctransfer %s", strings.Join(args, " "))
	return out
}

// inventory creates a SQLite database with an items table of n rows.
func (e *env) inventory(t *testing.T, n int) string {
	t.Helper()
	path := filepath.Join(e.dir, "inventory.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT, qty INTEGER)`)
	require.NoError(t, err)
	for i := 1; i <= n; i++ {
		_, err = db.Exec(`INSERT INTO items (id, name, qty) VALUES (?, ?, ?)`, i, fmt.Sprintf("item-%d", i), i*10)
		require.NoError(t, err)
	}
	return path
}

func (e *env) jobFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func (e *env) exportJob(t *testing.T, connID, out string) string {
	return e.jobFile(t, "export.json", fmt.Sprintf(`{
  "kind": "export",
  "format": "jsonl",
  "source": {"connectionId": %q, "database": "main", "collection": "items"},
  "destination": {"path": %q}
}`, connID, out))
}

func TestRootCmd_Help(t *testing.T) {
	e := newEnv(t)
	out := e.mustRun(t, "--help")
	for _, sub := range []string{"run", "preview", "serve", "jobs", "runs", "conn", "config"} {
		assert.Contains(t, out, sub)
	}
}

func TestConfigCmd_InitAndShow(t *testing.T) {
	e := &env{dir: t.TempDir()}
	e.config = filepath.Join(e.dir, "sub", "config.toml")

	out := e.mustRun(t, "config", "init")
	assert.Equal(t, e.config+"\n", out)
	_, err := os.Stat(e.config)
	require.NoError(t, err)

	_, err = e.run(t, "config", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
	e.mustRun(t, "config", "init", "--force")

	out = e.mustRun(t, "config", "show")
	assert.Contains(t, out, "batch_size = 1000")
	assert.Contains(t, out, "[watch]")
}

func TestConnCmd_Lifecycle(t *testing.T) {
	e := newEnv(t)
	db := e.inventory(t, 3)

	id := strings.TrimSpace(e.mustRun(t, "conn", "add", "--name", "inventory", "--driver", "sqlite", "--host", db))
	require.NotEmpty(t, id)

	out := e.mustRun(t, "conn", "list")
	assert.Contains(t, out, id)
	assert.Contains(t, out, "inventory")
	assert.Contains(t, out, "sqlite")

	assert.Equal(t, "ok\n", e.mustRun(t, "conn", "test", id))
	assert.Equal(t, "items\n", e.mustRun(t, "conn", "collections", id, "main"))

	_, err := e.run(t, "conn", "add", "--driver", "oracle", "--host", "x")
	assert.Error(t, err)

	e.mustRun(t, "conn", "rm", id)
	assert.NotContains(t, e.mustRun(t, "conn", "list"), id)
}

func TestConnCmd_PasswordPersistsInSecretsFile(t *testing.T) {
	e := newEnv(t)
	e.mustRun(t, "conn", "add", "--host", "localhost", "--password", "hunter2")
	raw, err := os.ReadFile(filepath.Join(e.dir, "secrets.toml"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "hunter2")
}

func TestRunCmd_ExportsAndReports(t *testing.T) {
	e := newEnv(t)
	id := strings.TrimSpace(e.mustRun(t, "conn", "add", "--driver", "sqlite", "--host", e.inventory(t, 5)))
	dest := filepath.Join(e.dir, "items.jsonl")
	job := e.exportJob(t, id, dest)

	out := e.mustRun(t, "run", "-q", job)
	assert.Contains(t, out, "completed: 5 processed, 5 committed, 0 failed")

	raw, err := os.ReadFile(dest)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], `"name":"item-1"`)

	out = e.mustRun(t, "run", "-q", "--json", job)
	assert.Contains(t, out, `"state": "completed"`)

	out = e.mustRun(t, "runs")
	assert.Equal(t, 2, strings.Count(out, "completed"))
	assert.Contains(t, out, "file:"+dest)
}

func TestRunCmd_Failures(t *testing.T) {
	e := newEnv(t)

	_, err := e.run(t, "run", filepath.Join(e.dir, "missing.json"))
	assert.Error(t, err)

	bad := e.jobFile(t, "bad.json", `{"kind": "export"}`)
	_, err = e.run(t, "run", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format is required")

	// valid job, unreachable connection: the run itself fails
	job := e.exportJob(t, "no-such-connection", filepath.Join(e.dir, "out.jsonl"))
	out, err := e.run(t, "run", "-q", job)
	require.Error(t, err)
	assert.Contains(t, out, "failed")
}

func TestPreviewCmd(t *testing.T) {
	e := newEnv(t)
	id := strings.TrimSpace(e.mustRun(t, "conn", "add", "--driver", "sqlite", "--host", e.inventory(t, 4)))
	job := e.exportJob(t, id, filepath.Join(e.dir, "unused.jsonl"))

	out := e.mustRun(t, "preview", "-n", "2", job)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"id", "name", "qty"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"1", "item-1", "10"}, strings.Fields(lines[1]))

	out = e.mustRun(t, "preview", "-n", "1", "--json", job)
	assert.Equal(t, `{"id":1,"name":"item-1","qty":10}`+"\n", out)

	_, err := os.Stat(filepath.Join(e.dir, "unused.jsonl"))
	assert.True(t, os.IsNotExist(err), "preview must not write the destination")
}

func TestJobsCmd_Lifecycle(t *testing.T) {
	e := newEnv(t)
	connID := strings.TrimSpace(e.mustRun(t, "conn", "add", "--driver", "sqlite", "--host", e.inventory(t, 3)))
	dest := filepath.Join(e.dir, "nightly.jsonl")
	job := e.exportJob(t, connID, dest)

	_, err := e.run(t, "jobs", "add", "broken", job, "--trigger", "schedule", "--on", "not a cron")
	assert.Error(t, err)

	id := strings.TrimSpace(e.mustRun(t, "jobs", "add", "nightly", job, "--trigger", "schedule", "--on", "0 3 * * *"))
	require.NotEmpty(t, id)

	out := e.mustRun(t, "jobs", "list")
	assert.Contains(t, out, "nightly")
	assert.Contains(t, out, "schedule(0 3 * * *)")

	out = e.mustRun(t, "jobs", "show", id)
	assert.Contains(t, out, `"collection": "items"`)

	out = e.mustRun(t, "jobs", "run", "-q", id)
	assert.Contains(t, out, "completed: 3 processed")
	_, err = os.Stat(dest)
	require.NoError(t, err)

	out = e.mustRun(t, "runs", id)
	assert.Contains(t, out, "completed")
	assert.Contains(t, e.mustRun(t, "jobs", "list"), "completed")

	e.mustRun(t, "jobs", "rm", id)
	assert.NotContains(t, e.mustRun(t, "jobs", "list"), "nightly")
	_, err = e.run(t, "jobs", "run", id)
	assert.Error(t, err)
}
