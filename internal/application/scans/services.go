package scans

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bryanwahyu/depscan/internal/application"
	domain "github.com/bryanwahyu/depscan/internal/domain/scans"
)

// Bounds for user-visible diagnostics on failed scans.
const (
	maxErrorMessageLen = 1000
	missingReportTail  = 800
	badExitTail        = 400
)

// Service implements the scan use-cases and owns the scan lifecycle state
// machine. Safe for concurrent use; each scan runs on its own worker and
// jobs share no mutable state except their independent log files.
type Service struct {
	Repo    domain.Repository
	Runner  domain.Runner
	Archive domain.ArtifactStore // optional, nil disables archiving
	Clock   application.Clock
	Workers *Registry
	Log     *logrus.Logger

	// ReportsDir holds one subdirectory per job with the report artifact
	// and the append-only scan.log.
	ReportsDir string
}

// CreateScan persists a new job in pending state. The caller must have
// already stored the input artifact under storedFilename.
func (s *Service) CreateScan(ctx context.Context, originalFilename, storedFilename string) (*domain.ScanJob, error) {
	job := &domain.ScanJob{
		ID:               domain.ScanID(uuid.New().String()),
		Filename:         storedFilename,
		OriginalFilename: originalFilename,
		Status:           domain.StatusPending,
		Source:           "upload",
		CreatedAt:        s.Clock.Now(),
	}
	if err := s.Repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("creating scan: %w", err)
	}
	return job, nil
}

// StartScan hands the job to a dedicated worker and returns immediately.
// RUNNING is committed synchronously before the worker spawns so any reader
// polling right after the trigger already observes the transition. The job
// must exist with status pending (see Repository contract in the domain).
func (s *Service) StartScan(jobID domain.ScanID, inputPath string) {
	ctx := context.Background()
	if err := s.Repo.MarkRunning(ctx, jobID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Job was deleted between create and start. Drop the input.
			os.Remove(inputPath)
			return
		}
		s.Log.WithField("scan_id", jobID).Errorf("mark running: %v", err)
		s.fail(ctx, jobID, fmt.Sprintf("could not start scan: %v", err))
		os.Remove(inputPath)
		return
	}

	s.Workers.Go(jobID, func() {
		s.runScan(jobID, inputPath)
	})
}

// runScan is the single-worker pipeline: resolve/spawn via the Runner,
// classify the outcome, parse the report, persist the terminal state.
// Every subprocess and filesystem failure is converted into a bounded
// FAILED message here; nothing escapes to crash the worker.
func (s *Service) runScan(jobID domain.ScanID, inputPath string) {
	// Detached context: the scan is not cancellable once launched.
	ctx := context.Background()

	// The uploaded artifact is owned by this job and removed exactly once,
	// on success and failure alike.
	defer os.Remove(inputPath)

	reportDir := filepath.Join(s.ReportsDir, string(jobID))
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		s.fail(ctx, jobID, fmt.Sprintf("cannot create report directory: %v", err))
		return
	}
	reportPath := filepath.Join(reportDir, domain.ReportFilename)
	logPath := filepath.Join(reportDir, domain.LogFilename)

	res, err := s.Runner.Run(ctx, domain.RunRequest{
		JobID:     jobID,
		InputPath: inputPath,
		ReportDir: reportDir,
		LogPath:   logPath,
	})
	if err != nil {
		s.fail(ctx, jobID, startFailureMessage(err))
		return
	}

	// The report artifact is authoritative. A missing report means the
	// invocation broke silently (wrong tool path, missing Java, full disk)
	// even under a benign exit code, which is also what a shell returns
	// when it cannot find the program at all.
	if _, statErr := os.Stat(reportPath); statErr != nil {
		s.fail(ctx, jobID, fmt.Sprintf(
			"dependency-check produced no report (exit %d). Check the scanner tool path and that Java is available.\n%s",
			res.ExitCode, tail(res.Output, missingReportTail)))
		return
	}

	if !domain.BenignExitCode(res.ExitCode) {
		s.fail(ctx, jobID, fmt.Sprintf("dependency-check failed (exit %d): %s",
			res.ExitCode, tail(res.Output, badExitTail)))
		return
	}

	// A report written under exit code 2 (non-fatal analysis errors) is
	// treated as a complete result, same as the clean and findings codes.
	vulns, err := domain.ParseReport(reportPath, jobID, s.Clock.Now())
	if err != nil {
		s.fail(ctx, jobID, fmt.Sprintf("parsing report: %v", err))
		return
	}

	if err := s.Repo.InsertVulnerabilities(ctx, jobID, vulns); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Job deleted mid-run; nothing left to complete.
			return
		}
		s.fail(ctx, jobID, fmt.Sprintf("storing findings: %v", err))
		return
	}

	artifactURL := ""
	if s.Archive != nil {
		key := fmt.Sprintf("%s/%s", jobID, domain.ReportFilename)
		url, upErr := s.Archive.Upload(ctx, reportPath, key)
		if upErr != nil {
			// Archive is best-effort; the local report remains the record.
			s.Log.WithField("scan_id", jobID).Warnf("report archive upload failed: %v", upErr)
		} else {
			artifactURL = url
		}
	}

	counts := domain.CountBySeverity(vulns)
	err = s.Repo.Complete(ctx, jobID, reportPath, artifactURL, counts, s.Clock.Now())
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.Log.WithField("scan_id", jobID).Errorf("completing scan: %v", err)
		return
	}
	s.Log.WithFields(logrus.Fields{
		"scan_id":  jobID,
		"findings": counts.Total,
		"critical": counts.Critical,
	}).Info("scan completed")
}

// fail writes the terminal failed state with a bounded message. A vanished
// job row makes the write a no-op.
func (s *Service) fail(ctx context.Context, jobID domain.ScanID, msg string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = "scan failed without diagnostic output; verify Java is installed and the scanner tool path is correct"
	}
	if len(msg) > maxErrorMessageLen {
		msg = msg[:maxErrorMessageLen]
	}
	if err := s.Repo.Fail(ctx, jobID, msg, s.Clock.Now()); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.Log.WithField("scan_id", jobID).Errorf("marking scan failed: %v", err)
		return
	}
	s.Log.WithField("scan_id", jobID).Warnf("scan failed: %s", firstLine(msg))
}

// ReadLog serves the in-flight or final log to polling readers. Absence of
// the file is an expected transient state while the job is pending or just
// entering running, so it yields a placeholder instead of an error. Each
// call re-reads the whole current content; the file is append-only with a
// single writer, so readers always see a prefix of the final log.
func (s *Service) ReadLog(ctx context.Context, jobID domain.ScanID) (string, error) {
	job, err := s.Repo.Get(ctx, jobID)
	if err != nil {
		return "", err
	}

	logPath := filepath.Join(s.ReportsDir, string(jobID), domain.LogFilename)
	b, err := os.ReadFile(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			switch job.Status {
			case domain.StatusPending:
				return "Scan is queued. The log will appear when it starts.", nil
			case domain.StatusRunning:
				return "Scan is starting up. The log will appear shortly...", nil
			default:
				return "Log not available for this scan.", nil
			}
		}
		return "", fmt.Errorf("reading log: %w", err)
	}
	return string(b), nil
}

// Get returns one job by id.
func (s *Service) Get(ctx context.Context, jobID domain.ScanID) (*domain.ScanJob, error) {
	return s.Repo.Get(ctx, jobID)
}

// Vulnerabilities returns the records produced for a completed job.
func (s *Service) Vulnerabilities(ctx context.Context, jobID domain.ScanID) ([]*domain.Vulnerability, error) {
	return s.Repo.Vulnerabilities(ctx, jobID)
}

// List returns jobs newest first.
func (s *Service) List(ctx context.Context, offset, limit int) ([]*domain.ScanJob, error) {
	return s.Repo.List(ctx, offset, limit)
}

// Delete removes a job and, via cascade, its vulnerability records. An
// in-flight worker for the job will then no-op at its completion step.
func (s *Service) Delete(ctx context.Context, jobID domain.ScanID) error {
	return s.Repo.Delete(ctx, jobID)
}

// Summary aggregates completed-scan findings over the last N days.
func (s *Service) Summary(ctx context.Context, sinceDays int) (map[string]any, error) {
	total, critical, high, medium, err := s.Repo.Summary(ctx, sinceDays)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"total_scans": total,
		"critical":    critical,
		"high":        high,
		"medium":      medium,
	}, nil
}

// ActiveWorkers reports how many scans are currently in flight.
func (s *Service) ActiveWorkers() int {
	return s.Workers.Running()
}

// startFailureMessage turns a spawn failure into a message naming the
// likely cause instead of surfacing an empty or cryptic error.
func startFailureMessage(err error) string {
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return "dependency-check did not start; verify Java is installed and the scanner tool path is correct"
	}
	return fmt.Sprintf("dependency-check did not start: %s. Verify Java is installed and the scanner tool path is correct.", msg)
}

// tail returns at most n trailing bytes of trimmed output.
func tail(out string, n int) string {
	out = strings.TrimSpace(out)
	if len(out) <= n {
		return out
	}
	return out[len(out)-n:]
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
