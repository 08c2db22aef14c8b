package archive

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

// ── Runner ─────────────────────────────────────────────────
// The binary archive format belongs to the external dump/restore tools.
// The runner only spawns them, follows their output for progress and
// maps the exit status; it never looks inside the archive.

const (
	DumpTool    = "mongodump"
	RestoreTool = "mongorestore"

	// Extension marks a single-file archive; anything else is a folder.
	Extension = ".archive"
)

// ToolNotFoundError is returned when a tool is neither configured nor on PATH.
type ToolNotFoundError struct {
	Tool string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("%s not found: install the MongoDB Database Tools or set its path in the [tools] config section", e.Tool)
}

// ExitError reports a tool that exited non-zero. Stderr holds the output
// lines, from either stream, that looked like errors.
type ExitError struct {
	Tool   string
	Code   int
	Stderr []string
}

func (e *ExitError) Error() string {
	if len(e.Stderr) == 0 {
		return fmt.Sprintf("%s failed (exit %d)", e.Tool, e.Code)
	}
	return fmt.Sprintf("%s failed (exit %d): %s", e.Tool, e.Code, strings.Join(e.Stderr, "\n"))
}

// DumpOptions configures one mongodump run.
type DumpOptions struct {
	URI      string
	Database string
	// Collection limits the dump to one collection when set.
	Collection string
	// Path is the output folder, or the archive file when Archive is set.
	Path    string
	Archive bool
	Gzip    bool
	Exclude []string
}

// RestoreOptions configures one mongorestore run.
type RestoreOptions struct {
	URI      string
	Database string
	// Path is an archive file (by its extension) or a dump folder.
	Path string
	Drop bool
	Gzip bool
}

// Runner locates and runs the tools.
type Runner struct {
	DumpPath    string
	RestorePath string

	lookPath func(string) (string, error)
	stat     func(string) (os.FileInfo, error)
}

// NewRunner uses the given tool paths; empty paths are resolved on PATH.
func NewRunner(dumpPath, restorePath string) *Runner {
	return &Runner{
		DumpPath:    dumpPath,
		RestorePath: restorePath,
		lookPath:    exec.LookPath,
		stat:        os.Stat,
	}
}

func (r *Runner) resolve(configured, tool string) (string, error) {
	if configured != "" {
		if _, err := r.stat(configured); err != nil {
			return "", &ToolNotFoundError{Tool: tool}
		}
		return configured, nil
	}
	p, err := r.lookPath(tool)
	if err != nil {
		return "", &ToolNotFoundError{Tool: tool}
	}
	return p, nil
}

// Available reports whether both tools can be found.
func (r *Runner) Available() bool {
	_, errDump := r.resolve(r.DumpPath, DumpTool)
	_, errRestore := r.resolve(r.RestorePath, RestoreTool)
	return errDump == nil && errRestore == nil
}

// ArchivePath appends the archive extension when path lacks it.
func ArchivePath(path string) string {
	if filepath.Ext(path) == Extension {
		return path
	}
	return strings.TrimSuffix(path, filepath.Ext(path)) + Extension
}

// DumpArgs builds the mongodump command line.
func DumpArgs(o DumpOptions) []string {
	args := []string{"--uri", o.URI, "--db", o.Database, "-v"}
	if o.Collection != "" {
		args = append(args, "--collection", o.Collection)
	}
	if o.Gzip {
		args = append(args, "--gzip")
	}
	if o.Collection == "" {
		for _, c := range o.Exclude {
			args = append(args, "--excludeCollection", c)
		}
	}
	if o.Archive {
		args = append(args, "--archive="+ArchivePath(o.Path))
	} else {
		args = append(args, "--out", o.Path)
	}
	return args
}

// RestoreArgs builds the mongorestore command line. A folder dump made
// for the whole server nests the database folder; it is used when present.
func (r *Runner) RestoreArgs(o RestoreOptions) []string {
	args := []string{"--uri", o.URI, "--db", o.Database, "-v"}
	if o.Drop {
		args = append(args, "--drop")
	}
	if o.Gzip {
		args = append(args, "--gzip")
	}
	if filepath.Ext(o.Path) == Extension {
		return append(args, "--archive="+o.Path)
	}
	dir := o.Path
	if nested := filepath.Join(o.Path, o.Database); o.Database != "" {
		if fi, err := r.stat(nested); err == nil && fi.IsDir() {
			dir = nested
		}
	}
	return append(args, "--dir", dir)
}

// Dump runs mongodump, reporting progress lines to onProgress.
func (r *Runner) Dump(ctx context.Context, o DumpOptions, onProgress func(Progress)) error {
	path, err := r.resolve(r.DumpPath, DumpTool)
	if err != nil {
		return err
	}
	if o.Archive {
		if err := os.MkdirAll(filepath.Dir(ArchivePath(o.Path)), 0o755); err != nil {
			return fmt.Errorf("create archive folder: %w", err)
		}
	}
	log.Printf("[ARCHIVE] %s db=%s uri=%s", DumpTool, o.Database, maskURI(o.URI))
	return r.run(ctx, DumpTool, path, DumpArgs(o), ParseDumpLine, onProgress)
}

// Restore runs mongorestore, reporting progress lines to onProgress.
func (r *Runner) Restore(ctx context.Context, o RestoreOptions, onProgress func(Progress)) error {
	path, err := r.resolve(r.RestorePath, RestoreTool)
	if err != nil {
		return err
	}
	if _, err := r.stat(o.Path); err != nil {
		return fmt.Errorf("restore source: %w", err)
	}
	log.Printf("[ARCHIVE] %s db=%s uri=%s", RestoreTool, o.Database, maskURI(o.URI))
	return r.run(ctx, RestoreTool, path, r.RestoreArgs(o), ParseRestoreLine, onProgress)
}

// run spawns the tool and follows stdout and stderr until it exits.
// Cancelling ctx kills the process; the result is then ctx.Err().
func (r *Runner) run(ctx context.Context, tool, path string, args []string, parse func(string) (Progress, bool), onProgress func(Progress)) error {
	cmd := exec.CommandContext(ctx, path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%s stdout: %w", tool, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%s stderr: %w", tool, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", tool, err)
	}

	lines := make(chan string)
	var g errgroup.Group
	for _, rd := range []io.Reader{stdout, stderr} {
		g.Go(func() error {
			sc := bufio.NewScanner(rd)
			sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
			for sc.Scan() {
				lines <- sc.Text()
			}
			return sc.Err()
		})
	}
	go func() {
		g.Wait()
		close(lines)
	}()

	var errLines []string
	for line := range lines {
		if p, ok := parse(line); ok {
			if onProgress != nil {
				onProgress(p)
			}
			continue
		}
		if looksLikeError(line) {
			errLines = append(errLines, line)
		}
	}
	if err := g.Wait(); err != nil {
		log.Printf("[ARCHIVE] %s output: %v", tool, err)
	}

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		log.Printf("[ARCHIVE] %s cancelled", tool)
		return ctx.Err()
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			log.Printf("[ARCHIVE] %s exited with %d", tool, exitErr.ExitCode())
			return &ExitError{Tool: tool, Code: exitErr.ExitCode(), Stderr: errLines}
		}
		return fmt.Errorf("wait %s: %w", tool, waitErr)
	}
	return nil
}

func looksLikeError(line string) bool {
	return strings.Contains(line, "error") || strings.Contains(line, "Error") || strings.Contains(line, "failed")
}

func maskURI(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable uri>"
	}
	return u.Redacted()
}
