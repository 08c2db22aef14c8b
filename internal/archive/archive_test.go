package archive_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doctransfer/internal/archive"
)

// ── Progress parsing ───────────────────────────────────────

func TestParseDumpLine(t *testing.T) {
	p, ok := archive.ParseDumpLine("2026-02-01T18:00:05.658+0400\twriting sample_training.grades to /tmp/grades.bson")
	require.True(t, ok)
	assert.Equal(t, archive.Progress{Kind: archive.Started, Collection: "grades"}, p)

	p, ok = archive.ParseDumpLine("2026-02-01T18:00:08.763+0400\t[........................]     sample_training.routes   101/66985  (0.2%)")
	require.True(t, ok)
	assert.Equal(t, archive.Advanced, p.Kind)
	assert.Equal(t, "routes", p.Collection)
	assert.Equal(t, uint64(101), p.Current)
	assert.Equal(t, uint64(66985), p.Total)
	assert.InDelta(t, 0.2, p.Percent, 1e-9)

	p, ok = archive.ParseDumpLine("2026-02-01T18:00:10.772+0400\tdone dumping sample_training.routes (66985 documents)")
	require.True(t, ok)
	assert.Equal(t, archive.Progress{Kind: archive.Completed, Collection: "routes", Documents: 66985}, p)

	_, ok = archive.ParseDumpLine("2026-02-01T18:00:05.657+0400\tdumping up to 4 collections in parallel")
	assert.False(t, ok)
	_, ok = archive.ParseDumpLine("no tab here")
	assert.False(t, ok)
}

func TestParseRestoreLine(t *testing.T) {
	p, ok := archive.ParseRestoreLine("2026-02-01T17:46:51.029+0400\trestoring test_restore.companies from /path/companies.bson")
	require.True(t, ok)
	assert.Equal(t, archive.Progress{Kind: archive.Started, Collection: "companies"}, p)

	p, ok = archive.ParseRestoreLine("2026-02-01T17:46:53.489+0400\t[####....................]    test_restore.companies  6.46MB/34.8MB   (18.6%)")
	require.True(t, ok)
	assert.Equal(t, "companies", p.Collection)
	mb := 1024.0 * 1024.0
	assert.Equal(t, uint64(6.46*mb), p.Current)
	assert.Equal(t, uint64(34.8*mb), p.Total)

	p, ok = archive.ParseRestoreLine("2026-02-01T17:46:55.906+0400\tfinished restoring test_restore.posts (500 documents, 0 failures)")
	require.True(t, ok)
	assert.Equal(t, archive.Progress{Kind: archive.Completed, Collection: "posts", Documents: 500}, p)
}

func TestParseDumpLine_DottedCollection(t *testing.T) {
	p, ok := archive.ParseDumpLine("ts\tdone dumping shop.orders.2024 (3 documents)")
	require.True(t, ok)
	assert.Equal(t, "orders.2024", p.Collection)
}

// ── Arguments ──────────────────────────────────────────────

func TestDumpArgs(t *testing.T) {
	args := archive.DumpArgs(archive.DumpOptions{
		URI: "mongodb://h", Database: "shop", Path: "/tmp/out/shop", Archive: true, Gzip: true,
		Exclude: []string{"logs", "tmp"},
	})
	assert.Equal(t, []string{
		"--uri", "mongodb://h", "--db", "shop", "-v", "--gzip",
		"--excludeCollection", "logs", "--excludeCollection", "tmp",
		"--archive=/tmp/out/shop.archive",
	}, args)

	args = archive.DumpArgs(archive.DumpOptions{URI: "mongodb://h", Database: "shop", Path: "/tmp/out", Collection: "orders", Exclude: []string{"x"}})
	assert.Equal(t, []string{"--uri", "mongodb://h", "--db", "shop", "-v", "--collection", "orders", "--out", "/tmp/out"}, args)
}

func TestRestoreArgs(t *testing.T) {
	dir := t.TempDir()
	r := archive.NewRunner("", "")

	args := r.RestoreArgs(archive.RestoreOptions{URI: "u", Database: "shop", Path: filepath.Join(dir, "x.archive"), Drop: true})
	assert.Equal(t, []string{"--uri", "u", "--db", "shop", "-v", "--drop", "--archive=" + filepath.Join(dir, "x.archive")}, args)

	args = r.RestoreArgs(archive.RestoreOptions{URI: "u", Database: "shop", Path: dir})
	assert.Equal(t, []string{"--uri", "u", "--db", "shop", "-v", "--dir", dir}, args)

	require.NoError(t, os.Mkdir(filepath.Join(dir, "shop"), 0o755))
	args = r.RestoreArgs(archive.RestoreOptions{URI: "u", Database: "shop", Path: dir})
	assert.Equal(t, filepath.Join(dir, "shop"), args[len(args)-1])
}

func TestArchivePath(t *testing.T) {
	assert.Equal(t, "/a/b.archive", archive.ArchivePath("/a/b"))
	assert.Equal(t, "/a/b.archive", archive.ArchivePath("/a/b.archive"))
	assert.Equal(t, "/a/b.archive", archive.ArchivePath("/a/b.gz"))
}

// ── Running ────────────────────────────────────────────────

// fakeTool writes a shell script standing in for mongodump.
func fakeTool(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), "mongodump")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestDump_ReportsProgress(t *testing.T) {
	tool := fakeTool(t, `printf 'ts\twriting shop.orders to /x\n' >&2
printf 'ts\tdone dumping shop.orders (2 documents)\n' >&2
exit 0
`)
	r := archive.NewRunner(tool, "")
	var events []archive.Progress
	err := r.Dump(context.Background(), archive.DumpOptions{URI: "mongodb://h", Database: "shop", Path: t.TempDir()}, func(p archive.Progress) {
		events = append(events, p)
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, archive.Started, events[0].Kind)
	assert.Equal(t, uint64(2), events[1].Documents)
}

func TestDump_ExitErrorCarriesErrorLines(t *testing.T) {
	tool := fakeTool(t, `printf 'ts\tFailed: error connecting to db server\n' >&2
printf 'ts\tsomething harmless\n' >&2
exit 3
`)
	r := archive.NewRunner(tool, "")
	err := r.Dump(context.Background(), archive.DumpOptions{URI: "mongodb://h", Database: "shop", Path: t.TempDir()}, nil)
	var ee *archive.ExitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 3, ee.Code)
	assert.Equal(t, []string{"ts\tFailed: error connecting to db server"}, ee.Stderr)
}

func TestDump_FollowsStdout(t *testing.T) {
	tool := fakeTool(t, `printf 'ts\tdone dumping shop.orders (4 documents)\n'
printf 'ts\tFailed: write error on archive\n'
exit 1
`)
	r := archive.NewRunner(tool, "")
	var events []archive.Progress
	err := r.Dump(context.Background(), archive.DumpOptions{URI: "mongodb://h", Database: "shop", Path: t.TempDir()}, func(p archive.Progress) {
		events = append(events, p)
	})
	var ee *archive.ExitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, []string{"ts\tFailed: write error on archive"}, ee.Stderr)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(4), events[0].Documents)
}

func TestDump_Cancelled(t *testing.T) {
	tool := fakeTool(t, "sleep 5\n")
	r := archive.NewRunner(tool, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Dump(ctx, archive.DumpOptions{URI: "mongodb://h", Database: "shop", Path: t.TempDir()}, nil)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestRunner_ToolNotFound(t *testing.T) {
	r := archive.NewRunner(filepath.Join(t.TempDir(), "missing"), "")
	err := r.Dump(context.Background(), archive.DumpOptions{}, nil)
	var nf *archive.ToolNotFoundError
	assert.ErrorAs(t, err, &nf)
}
