package scans

import (
	"context"
	"time"
)

// Repository port (interface untuk persistence)
type Repository interface {
	Create(ctx context.Context, job *ScanJob) error
	Get(ctx context.Context, id ScanID) (*ScanJob, error)
	List(ctx context.Context, offset, limit int) ([]*ScanJob, error)
	Delete(ctx context.Context, id ScanID) error

	// Status transitions. Each returns ErrNotFound when the row is gone or
	// the guard status does not match, so terminal writes stay idempotent.
	MarkRunning(ctx context.Context, id ScanID) error
	Complete(ctx context.Context, id ScanID, reportPath, artifactURL string, counts SeverityCounts, at time.Time) error
	Fail(ctx context.Context, id ScanID, message string, at time.Time) error

	InsertVulnerabilities(ctx context.Context, id ScanID, vulns []*Vulnerability) error
	Vulnerabilities(ctx context.Context, id ScanID) ([]*Vulnerability, error)

	Summary(ctx context.Context, sinceDays int) (int, int, int, int, error)
}

// Runner port (interface untuk eksekusi scanner)
type Runner interface {
	Run(ctx context.Context, req RunRequest) (RunResult, error)
}

// ArtifactStore port, optional archive for finished report artifacts
type ArtifactStore interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
}

// RunRequest untuk Runner
type RunRequest struct {
	JobID     ScanID
	InputPath string
	ReportDir string
	LogPath   string
}

// RunResult hasil dari Runner. The runner does not judge success; exit-code
// classification belongs to the lifecycle controller.
type RunResult struct {
	Output   string
	ExitCode int
}
