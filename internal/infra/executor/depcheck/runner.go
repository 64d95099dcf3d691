package depcheck

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	domain "github.com/bryanwahyu/depscan/internal/domain/scans"
)

// Runner invokes the OWASP Dependency-Check CLI as a subprocess. One call
// per scan; calls are independent and may run fully concurrently. The
// resolved Java environment overlay is computed once at construction and
// passed explicitly to every spawn.
type Runner struct {
	ToolPath  string
	DataDir   string
	NVDAPIKey string

	env     []string
	console io.Writer
}

type Options struct {
	// ToolPath is the dependency-check launcher script or binary.
	ToolPath string
	// DataDir is the shared NVD data directory (--data), optional.
	DataDir string
	// NVDAPIKey speeds up NVD database updates (--nvdApiKey), optional.
	NVDAPIKey string
	// JavaHome is the resolver hint, optional.
	JavaHome string
	// Console receives the live per-line echo. Defaults to os.Stdout.
	Console io.Writer
}

func NewRunner(opts Options) *Runner {
	console := opts.Console
	if console == nil {
		console = os.Stdout
	}
	return &Runner{
		ToolPath:  opts.ToolPath,
		DataDir:   opts.DataDir,
		NVDAPIKey: opts.NVDAPIKey,
		env:       ResolveEnv(opts.JavaHome),
		console:   console,
	}
}

// buildArgs is the fixed invocation contract with the scanner. The disable
// flags switch off sub-analyzers that need network credentials or external
// CLIs (Sonatype OSS Index, yarn, npm, Node.js).
func (r *Runner) buildArgs(req domain.RunRequest) []string {
	args := []string{
		"--scan", req.InputPath,
		"--format", "JSON",
		"--out", req.ReportDir,
		"--prettyPrint",
		"--disableOssIndex",
		"--disableYarnAudit",
		"--disableNodeAudit",
		"--disableNodeJS",
	}
	if r.DataDir != "" {
		args = append(args, "--data", r.DataDir)
	}
	if r.NVDAPIKey != "" {
		args = append(args, "--nvdApiKey", r.NVDAPIKey)
	}
	return args
}

func (r *Runner) command(req domain.RunRequest) *exec.Cmd {
	args := r.buildArgs(req)
	// Windows cannot exec .bat launchers directly; they need the shell.
	if runtime.GOOS == "windows" && strings.EqualFold(filepath.Ext(r.ToolPath), ".bat") {
		return exec.Command("cmd", append([]string{"/c", r.ToolPath}, args...)...)
	}
	return exec.Command(r.ToolPath, args...)
}

// Run spawns the scanner and streams its output. stdout and stderr share a
// single pipe so the two streams stay in one ordering domain. Each line is,
// in order, echoed to the console prefixed with the job id, appended to the
// persisted log file, and accumulated into the returned buffer. Run returns
// only after the child has exited and the pipe is drained, so no trailing
// output is lost. Exit-code classification is left to the caller; several
// nonzero codes are normal for this tool.
func (r *Runner) Run(ctx context.Context, req domain.RunRequest) (domain.RunResult, error) {
	cmd := r.command(req)
	cmd.Env = r.env

	pr, pw, err := os.Pipe()
	if err != nil {
		return domain.RunResult{}, fmt.Errorf("creating output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	logFile, err := os.Create(req.LogPath)
	if err != nil {
		pr.Close()
		pw.Close()
		return domain.RunResult{}, fmt.Errorf("creating scan log: %w", err)
	}
	defer logFile.Close()

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return domain.RunResult{}, fmt.Errorf("starting %s: %w", r.ToolPath, err)
	}
	// The child holds its own copy of the write end; closing ours makes the
	// read loop hit EOF exactly when the child is done writing.
	pw.Close()

	prefix := fmt.Sprintf("[Scan %s]", req.JobID)
	var buf strings.Builder

	sc := bufio.NewScanner(pr)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		fmt.Fprintf(r.console, "%s %s\n", prefix, line)
		// Unbuffered per-line append keeps the file readable mid-run.
		logFile.WriteString(line + "\n")
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	scanErr := sc.Err()
	pr.Close()

	waitErr := cmd.Wait()
	if scanErr != nil {
		return domain.RunResult{Output: buf.String()}, fmt.Errorf("reading scanner output: %w", scanErr)
	}

	exitCode := 0
	if waitErr != nil {
		ee, ok := waitErr.(*exec.ExitError)
		if !ok {
			return domain.RunResult{Output: buf.String()}, fmt.Errorf("waiting for scanner: %w", waitErr)
		}
		exitCode = ee.ExitCode()
	}

	return domain.RunResult{
		Output:   strings.TrimRight(buf.String(), "\n"),
		ExitCode: exitCode,
	}, nil
}
