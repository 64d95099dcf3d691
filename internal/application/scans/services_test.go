package scans

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/depscan/internal/domain/scans"
	"github.com/bryanwahyu/depscan/internal/infra/db/memory"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fakeRunner struct {
	run func(ctx context.Context, req domain.RunRequest) (domain.RunResult, error)
}

func (f *fakeRunner) Run(ctx context.Context, req domain.RunRequest) (domain.RunResult, error) {
	return f.run(ctx, req)
}

type fakeArchive struct {
	url string
	err error
}

func (f *fakeArchive) Upload(ctx context.Context, localPath, key string) (string, error) {
	return f.url, f.err
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestService(t *testing.T, runner domain.Runner) (*Service, *memory.ScanRepository) {
	t.Helper()
	repo := memory.NewScanRepository()
	log := testLogger()
	return &Service{
		Repo:       repo,
		Runner:     runner,
		Clock:      fixedClock{t: time.Now().UTC().Truncate(time.Second)},
		Workers:    NewRegistry(log),
		Log:        log,
		ReportsDir: t.TempDir(),
	}, repo
}

func createJobWithInput(t *testing.T, svc *Service) (*domain.ScanJob, string) {
	t.Helper()
	inputPath := filepath.Join(t.TempDir(), "app.jar")
	require.NoError(t, os.WriteFile(inputPath, []byte("not really a jar"), 0o644))

	job, err := svc.CreateScan(context.Background(), "app.jar", filepath.Base(inputPath))
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, job.Status)
	return job, inputPath
}

const oneCriticalReport = `{
	"dependencies": [
		{
			"fileName": "log4j-core-2.14.1.jar",
			"vulnerabilities": [
				{"name": "CVE-2021-44228", "severity": "CRITICAL", "cvssv3": {"baseScore": 10.0}}
			]
		}
	]
}`

func writeReportFile(t *testing.T, req domain.RunRequest, content string) {
	t.Helper()
	path := filepath.Join(req.ReportDir, domain.ReportFilename)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestScanSuccess(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, req domain.RunRequest) (domain.RunResult, error) {
		writeReportFile(t, req, oneCriticalReport)
		require.NoError(t, os.WriteFile(req.LogPath, []byte("[INFO] analysis done\n"), 0o644))
		return domain.RunResult{Output: "[INFO] analysis done", ExitCode: 1}, nil
	}}
	svc, _ := newTestService(t, runner)

	job, inputPath := createJobWithInput(t, svc)
	svc.StartScan(job.ID, inputPath)
	svc.Workers.Wait(job.ID)

	got, err := svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Empty(t, got.ErrorMessage)
	assert.Equal(t, 1, got.Counts.Critical)
	assert.Equal(t, 1, got.Counts.Total)
	require.NotNil(t, got.CompletedAt)
	assert.NotEmpty(t, got.ReportPath)

	vulns, err := svc.Vulnerabilities(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, vulns, 1)
	assert.Equal(t, "CVE-2021-44228", vulns[0].CVEID)

	_, statErr := os.Stat(inputPath)
	assert.True(t, os.IsNotExist(statErr), "uploaded artifact must be removed")
}

func TestScanMissingReport(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, req domain.RunRequest) (domain.RunResult, error) {
		return domain.RunResult{Output: "sh: dependency-check.sh: not found", ExitCode: 0}, nil
	}}
	svc, _ := newTestService(t, runner)

	job, inputPath := createJobWithInput(t, svc)
	svc.StartScan(job.ID, inputPath)
	svc.Workers.Wait(job.ID)

	got, err := svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "produced no report (exit 0)")
	assert.Contains(t, got.ErrorMessage, "dependency-check.sh: not found")

	_, statErr := os.Stat(inputPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestScanBadExitCode(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, req domain.RunRequest) (domain.RunResult, error) {
		writeReportFile(t, req, oneCriticalReport)
		return domain.RunResult{Output: "Error: NVD feed corrupt", ExitCode: 3}, nil
	}}
	svc, _ := newTestService(t, runner)

	job, inputPath := createJobWithInput(t, svc)
	svc.StartScan(job.ID, inputPath)
	svc.Workers.Wait(job.ID)

	got, err := svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "failed (exit 3)")

	// No findings are persisted for a failed scan.
	vulns, err := svc.Vulnerabilities(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Empty(t, vulns)
}

func TestScanRunnerError(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, req domain.RunRequest) (domain.RunResult, error) {
		return domain.RunResult{}, errors.New("fork/exec /opt/dependency-check/bin/dependency-check.sh: no such file or directory")
	}}
	svc, _ := newTestService(t, runner)

	job, inputPath := createJobWithInput(t, svc)
	svc.StartScan(job.ID, inputPath)
	svc.Workers.Wait(job.ID)

	got, err := svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "did not start")
	assert.Contains(t, got.ErrorMessage, "no such file or directory")
	assert.Contains(t, got.ErrorMessage, "Verify Java is installed")
}

func TestScanErrorMessageBounded(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, req domain.RunRequest) (domain.RunResult, error) {
		return domain.RunResult{}, errors.New(strings.Repeat("x", 5000))
	}}
	svc, _ := newTestService(t, runner)

	job, inputPath := createJobWithInput(t, svc)
	svc.StartScan(job.ID, inputPath)
	svc.Workers.Wait(job.ID)

	got, err := svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.LessOrEqual(t, len(got.ErrorMessage), 1000)
}

func TestScanDeletedBeforeStart(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, req domain.RunRequest) (domain.RunResult, error) {
		t.Error("runner must not be invoked for a deleted job")
		return domain.RunResult{}, nil
	}}
	svc, _ := newTestService(t, runner)

	job, inputPath := createJobWithInput(t, svc)
	require.NoError(t, svc.Delete(context.Background(), job.ID))

	svc.StartScan(job.ID, inputPath)
	assert.Equal(t, 0, svc.ActiveWorkers())

	_, statErr := os.Stat(inputPath)
	assert.True(t, os.IsNotExist(statErr), "orphaned input must be removed")
}

func TestScanDeletedMidRun(t *testing.T) {
	var svc *Service
	runner := &fakeRunner{run: func(ctx context.Context, req domain.RunRequest) (domain.RunResult, error) {
		writeReportFile(t, req, oneCriticalReport)
		// Simulate a DELETE landing while the subprocess is running.
		require.NoError(t, svc.Delete(context.Background(), req.JobID))
		return domain.RunResult{ExitCode: 0}, nil
	}}
	svc, _ = newTestService(t, runner)

	job, inputPath := createJobWithInput(t, svc)
	svc.StartScan(job.ID, inputPath)
	svc.Workers.Wait(job.ID)

	_, err := svc.Get(context.Background(), job.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, statErr := os.Stat(inputPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestTerminalStateIsFinal(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, req domain.RunRequest) (domain.RunResult, error) {
		writeReportFile(t, req, `{"dependencies": []}`)
		return domain.RunResult{ExitCode: 0}, nil
	}}
	svc, repo := newTestService(t, runner)

	job, inputPath := createJobWithInput(t, svc)
	svc.StartScan(job.ID, inputPath)
	svc.Workers.Wait(job.ID)

	got, err := svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, got.Status)

	// A late failure write cannot overwrite the completed state.
	svc.fail(context.Background(), job.ID, "late failure")
	err = repo.Complete(context.Background(), job.ID, "p", "", domain.SeverityCounts{}, time.Now())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	again, err := svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, again.Status)
	assert.Empty(t, again.ErrorMessage)
}

func TestScanArchivesReport(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, req domain.RunRequest) (domain.RunResult, error) {
		writeReportFile(t, req, oneCriticalReport)
		return domain.RunResult{ExitCode: 1}, nil
	}}
	svc, _ := newTestService(t, runner)
	svc.Archive = &fakeArchive{url: "https://archive.example/depscan/report.json"}

	job, inputPath := createJobWithInput(t, svc)
	svc.StartScan(job.ID, inputPath)
	svc.Workers.Wait(job.ID)

	got, err := svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, "https://archive.example/depscan/report.json", got.ArtifactURL)
}

func TestScanArchiveFailureIsBestEffort(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, req domain.RunRequest) (domain.RunResult, error) {
		writeReportFile(t, req, oneCriticalReport)
		return domain.RunResult{ExitCode: 1}, nil
	}}
	svc, _ := newTestService(t, runner)
	svc.Archive = &fakeArchive{err: errors.New("bucket unreachable")}

	job, inputPath := createJobWithInput(t, svc)
	svc.StartScan(job.ID, inputPath)
	svc.Workers.Wait(job.ID)

	got, err := svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Empty(t, got.ArtifactURL)
}

func TestReadLogPlaceholders(t *testing.T) {
	svc, repo := newTestService(t, &fakeRunner{})
	ctx := context.Background()

	job, _ := createJobWithInput(t, svc)

	out, err := svc.ReadLog(ctx, job.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "queued")

	require.NoError(t, repo.MarkRunning(ctx, job.ID))
	out, err = svc.ReadLog(ctx, job.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "starting up")

	require.NoError(t, repo.Fail(ctx, job.ID, "boom", time.Now()))
	out, err = svc.ReadLog(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "Log not available for this scan.", out)

	_, err = svc.ReadLog(ctx, domain.ScanID("no-such-job"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReadLogReturnsContents(t *testing.T) {
	svc, _ := newTestService(t, &fakeRunner{})
	ctx := context.Background()

	job, _ := createJobWithInput(t, svc)
	logDir := filepath.Join(svc.ReportsDir, string(job.ID))
	require.NoError(t, os.MkdirAll(logDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(logDir, domain.LogFilename), []byte("line one\nline two\n"), 0o644))

	out, err := svc.ReadLog(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", out)
}

// Polling readers must each observe a prefix of the final log while the
// single writer appends.
func TestReadLogConcurrentReaders(t *testing.T) {
	done := make(chan struct{})
	runner := &fakeRunner{run: func(ctx context.Context, req domain.RunRequest) (domain.RunResult, error) {
		f, err := os.Create(req.LogPath)
		require.NoError(t, err)
		defer f.Close()
		for i := 0; i < 50; i++ {
			_, err := f.WriteString("[INFO] step done\n")
			require.NoError(t, err)
			time.Sleep(time.Millisecond)
		}
		writeReportFile(t, req, `{"dependencies": []}`)
		return domain.RunResult{ExitCode: 0}, nil
	}}
	svc, _ := newTestService(t, runner)

	job, inputPath := createJobWithInput(t, svc)
	svc.StartScan(job.ID, inputPath)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prev := ""
			for {
				select {
				case <-done:
					return
				default:
				}
				cur, err := svc.ReadLog(context.Background(), job.ID)
				if err != nil {
					continue
				}
				if strings.HasPrefix(cur, "Scan is") {
					continue
				}
				if !strings.HasPrefix(cur, prev) {
					t.Errorf("log went backwards:\nprev=%q\ncur=%q", prev, cur)
					return
				}
				prev = cur
			}
		}()
	}

	svc.Workers.Wait(job.ID)
	close(done)
	wg.Wait()

	final, err := svc.ReadLog(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, strings.Count(final, "step done"))
}

func TestListAndSummary(t *testing.T) {
	svc, repo := newTestService(t, &fakeRunner{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		job, _ := createJobWithInput(t, svc)
		require.NoError(t, repo.MarkRunning(ctx, job.ID))
		counts := domain.SeverityCounts{Critical: 1, High: 2, Medium: 3, Total: 6}
		require.NoError(t, repo.Complete(ctx, job.ID, "r", "", counts, time.Now()))
	}

	jobs, err := svc.List(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 3)

	jobs, err = svc.List(ctx, 2, 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	sum, err := svc.Summary(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, sum["total_scans"])
	assert.Equal(t, 3, sum["critical"])
	assert.Equal(t, 6, sum["high"])
	assert.Equal(t, 9, sum["medium"])
}

func TestTailAndFirstLine(t *testing.T) {
	assert.Equal(t, "short", tail("  short  ", 400))
	long := strings.Repeat("a", 500) + "END"
	assert.Equal(t, 400, len(tail(long, 400)))
	assert.True(t, strings.HasSuffix(tail(long, 400), "END"))

	assert.Equal(t, "first", firstLine("first\nsecond"))
	assert.Equal(t, "only", firstLine("only"))
}
