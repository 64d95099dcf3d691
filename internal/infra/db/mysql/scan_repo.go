package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	domain "github.com/bryanwahyu/depscan/internal/domain/scans"
)

type ScanRepository struct {
	db *sql.DB
}

func NewScanRepository(db *sql.DB) *ScanRepository {
	return &ScanRepository{db: db}
}

const scanColumns = `id, filename, original_filename, status, error_message,
       report_path, artifact_url,
       critical_count, high_count, medium_count, low_count, findings_total,
       source, created_at, completed_at`

// Create inserts a new pending job row.
func (r *ScanRepository) Create(ctx context.Context, job *domain.ScanJob) error {
	const q = `
INSERT INTO scans
(id, filename, original_filename, status, error_message, report_path, artifact_url,
 critical_count, high_count, medium_count, low_count, findings_total,
 source, created_at, completed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,NULL);`

	created := job.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, q,
		job.ID, job.Filename, job.OriginalFilename, job.Status, job.ErrorMessage,
		job.ReportPath, job.ArtifactURL,
		job.Counts.Critical, job.Counts.High, job.Counts.Medium, job.Counts.Low, job.Counts.Total,
		job.Source, created,
	)
	return err
}

// Get by ID
func (r *ScanRepository) Get(ctx context.Context, id domain.ScanID) (*domain.ScanJob, error) {
	q := `SELECT ` + scanColumns + ` FROM scans WHERE id=? LIMIT 1;`
	job, err := scanRow(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return job, err
}

// List jobs newest first with offset pagination.
func (r *ScanRepository) List(ctx context.Context, offset, limit int) ([]*domain.ScanJob, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	q := `SELECT ` + scanColumns + ` FROM scans ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?;`
	rows, err := r.db.QueryContext(ctx, q, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ScanJob
	for rows.Next() {
		job, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// Delete removes a job; the FK cascade removes its vulnerabilities.
func (r *ScanRepository) Delete(ctx context.Context, id domain.ScanID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM scans WHERE id=?;`, id)
	if err != nil {
		return err
	}
	return notFoundOnZero(res)
}

// MarkRunning commits the pending -> running transition. The status guard
// keeps the transition monotonic.
func (r *ScanRepository) MarkRunning(ctx context.Context, id domain.ScanID) error {
	const q = `UPDATE scans SET status=? WHERE id=? AND status=?;`
	res, err := r.db.ExecContext(ctx, q, domain.StatusRunning, id, domain.StatusPending)
	if err != nil {
		return err
	}
	return notFoundOnZero(res)
}

// Complete writes the terminal completed state with the derived counts in
// one statement. Guarded by status=running so a second terminal write, or a
// write after the row was deleted, affects nothing.
func (r *ScanRepository) Complete(ctx context.Context, id domain.ScanID, reportPath, artifactURL string, counts domain.SeverityCounts, at time.Time) error {
	const q = `
UPDATE scans
SET status=?, report_path=?, artifact_url=?,
    critical_count=?, high_count=?, medium_count=?, low_count=?, findings_total=?,
    completed_at=?
WHERE id=? AND status=?;`
	res, err := r.db.ExecContext(ctx, q,
		domain.StatusCompleted, reportPath, artifactURL,
		counts.Critical, counts.High, counts.Medium, counts.Low, counts.Total,
		at, id, domain.StatusRunning,
	)
	if err != nil {
		return err
	}
	return notFoundOnZero(res)
}

// Fail writes the terminal failed state with the bounded message.
func (r *ScanRepository) Fail(ctx context.Context, id domain.ScanID, message string, at time.Time) error {
	const q = `
UPDATE scans
SET status=?, error_message=?, completed_at=?
WHERE id=? AND status IN (?,?);`
	res, err := r.db.ExecContext(ctx, q,
		domain.StatusFailed, message, at,
		id, domain.StatusPending, domain.StatusRunning,
	)
	if err != nil {
		return err
	}
	return notFoundOnZero(res)
}

// InsertVulnerabilities stores the parsed records in one transaction. A
// foreign-key violation means the parent job vanished mid-run and maps to
// ErrNotFound so the worker can no-op.
func (r *ScanRepository) InsertVulnerabilities(ctx context.Context, id domain.ScanID, vulns []*domain.Vulnerability) error {
	if len(vulns) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const q = `
INSERT INTO vulnerabilities
(scan_id, dependency_name, dependency_version, dependency_file,
 cve_id, severity, cvss_v2, cvss_v3, description, references_json, cwe_ids, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?);`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, v := range vulns {
		_, err := stmt.ExecContext(ctx,
			id, v.DependencyName, v.DependencyVersion, v.DependencyFile,
			v.CVEID, v.Severity, v.CVSSv2, v.CVSSv3,
			v.Description, v.References, v.CWEIDs, v.CreatedAt,
		)
		if err != nil {
			if isFKViolation(err) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("inserting vulnerability %s: %w", v.CVEID, err)
		}
	}
	return tx.Commit()
}

// Vulnerabilities returns a job's records in insertion order.
func (r *ScanRepository) Vulnerabilities(ctx context.Context, id domain.ScanID) ([]*domain.Vulnerability, error) {
	const q = `
SELECT id, scan_id, dependency_name, dependency_version, dependency_file,
       cve_id, severity, cvss_v2, cvss_v3, description, references_json, cwe_ids, created_at
FROM vulnerabilities
WHERE scan_id=? ORDER BY id;`
	rows, err := r.db.QueryContext(ctx, q, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Vulnerability
	for rows.Next() {
		var v domain.Vulnerability
		var version, file, refs, cwes sql.NullString
		var v2, v3 sql.NullFloat64
		if err := rows.Scan(
			&v.ID, &v.ScanID, &v.DependencyName, &version, &file,
			&v.CVEID, &v.Severity, &v2, &v3, &v.Description, &refs, &cwes, &v.CreatedAt,
		); err != nil {
			return nil, err
		}
		v.DependencyVersion = version.String
		v.DependencyFile = file.String
		v.References = refs.String
		v.CWEIDs = cwes.String
		if v2.Valid {
			v.CVSSv2 = &v2.Float64
		}
		if v3.Valid {
			v.CVSSv3 = &v3.Float64
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

// Summary aggregates completed scans since N days ago.
func (r *ScanRepository) Summary(ctx context.Context, sinceDays int) (int, int, int, int, error) {
	if sinceDays <= 0 {
		sinceDays = 7
	}
	cut := time.Now().UTC().AddDate(0, 0, -sinceDays)

	const q = `
SELECT COUNT(*) AS total_scans,
       COALESCE(SUM(critical_count),0) AS critical,
       COALESCE(SUM(high_count),0)     AS high,
       COALESCE(SUM(medium_count),0)   AS medium
FROM scans
WHERE status=? AND created_at >= ?;`
	var t, c, h, m int
	if err := r.db.QueryRowContext(ctx, q, domain.StatusCompleted, cut).Scan(&t, &c, &h, &m); err != nil {
		return 0, 0, 0, 0, err
	}
	return t, c, h, m, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(row rowScanner) (*domain.ScanJob, error) {
	var job domain.ScanJob
	var completed sql.NullTime
	var crit, hi, med, lo, tot int
	if err := row.Scan(
		&job.ID, &job.Filename, &job.OriginalFilename, &job.Status, &job.ErrorMessage,
		&job.ReportPath, &job.ArtifactURL,
		&crit, &hi, &med, &lo, &tot,
		&job.Source, &job.CreatedAt, &completed,
	); err != nil {
		return nil, err
	}
	job.Counts = domain.SeverityCounts{Critical: crit, High: hi, Medium: med, Low: lo, Total: tot}
	if completed.Valid {
		t := completed.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

func notFoundOnZero(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
