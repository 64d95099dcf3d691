package scans

import (
	"path/filepath"
	"strings"
	"time"
)

// ID tipe untuk ScanJob
type ScanID string

// Status enum, transitions are monotonic:
// pending -> running -> completed | failed
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is a final one.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Severity enum, matches the severity strings in Dependency-Check reports.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
	SeverityUnknown  Severity = "UNKNOWN"
)

// ParseSeverity matches case-insensitively and never fails: anything the
// report says that we do not recognize becomes UNKNOWN.
func ParseSeverity(s string) Severity {
	switch Severity(strings.ToUpper(strings.TrimSpace(s))) {
	case SeverityCritical:
		return SeverityCritical
	case SeverityHigh:
		return SeverityHigh
	case SeverityMedium:
		return SeverityMedium
	case SeverityLow:
		return SeverityLow
	case SeverityInfo:
		return SeverityInfo
	default:
		return SeverityUnknown
	}
}

// SeverityCounts value object
type SeverityCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Total    int `json:"total"`
}

// CountBySeverity derives the per-severity counts stored on a completed job.
func CountBySeverity(vulns []*Vulnerability) SeverityCounts {
	var c SeverityCounts
	for _, v := range vulns {
		switch v.Severity {
		case SeverityCritical:
			c.Critical++
		case SeverityHigh:
			c.High++
		case SeverityMedium:
			c.Medium++
		case SeverityLow:
			c.Low++
		}
	}
	c.Total = len(vulns)
	return c
}

// Aggregate Root: ScanJob, one execution of Dependency-Check against one
// uploaded artifact.
type ScanJob struct {
	ID               ScanID         `json:"id"`
	Filename         string         `json:"filename"`
	OriginalFilename string         `json:"original_filename"`
	Status           Status         `json:"status"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	ReportPath       string         `json:"report_path,omitempty"`
	ArtifactURL      string         `json:"artifact_url,omitempty"`
	Counts           SeverityCounts `json:"counts"`
	Source           string         `json:"source,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
}

// Vulnerability is one CVE finding against one dependency within one job.
// Immutable once created by the report parser.
type Vulnerability struct {
	ID                int64    `json:"id"`
	ScanID            ScanID   `json:"scan_id"`
	DependencyName    string   `json:"dependency_name"`
	DependencyVersion string   `json:"dependency_version,omitempty"`
	DependencyFile    string   `json:"dependency_file,omitempty"`
	CVEID             string   `json:"cve_id"`
	Severity          Severity `json:"severity"`
	CVSSv2            *float64 `json:"cvss_v2,omitempty"`
	CVSSv3            *float64 `json:"cvss_v3,omitempty"`
	Description       string   `json:"description"`
	// References and CWEIDs hold JSON arrays as stored, see report.go
	References string    `json:"references,omitempty"`
	CWEIDs     string    `json:"cwe_ids,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Report and log artifact filenames inside the per-job report directory.
const (
	ReportFilename = "dependency-check-report.json"
	LogFilename    = "scan.log"
)

// Dependency-Check exit codes: 0=clean, 1=vulns found, 2=analysis errors
// (non-fatal), 4=update warnings. Everything else is a failure. Artifact
// presence still overrides a benign code (see the lifecycle controller).
func BenignExitCode(code int) bool {
	switch code {
	case 0, 1, 2, 4:
		return true
	}
	return false
}

var supportedExtensions = map[string]bool{
	".jar": true, ".war": true, ".ear": true, ".zip": true, ".sar": true,
	".apk": true, ".nupkg": true, ".egg": true, ".wheel": true,
	".tar": true, ".gz": true, ".tgz": true,
}

// IsSupportedFile checks the upload extension against the archive types
// Dependency-Check can analyze.
func IsSupportedFile(filename string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(filename))]
}
