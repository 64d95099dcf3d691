// Package memory provides an in-memory Repository used by tests and local
// development. Transition guards mirror the SQL repositories exactly:
// status-guarded updates report ErrNotFound when the row is gone or the
// guard does not match.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domain "github.com/bryanwahyu/depscan/internal/domain/scans"
)

type ScanRepository struct {
	mu     sync.Mutex
	jobs   map[domain.ScanID]*domain.ScanJob
	vulns  map[domain.ScanID][]*domain.Vulnerability
	nextID int64
}

func NewScanRepository() *ScanRepository {
	return &ScanRepository{
		jobs:  make(map[domain.ScanID]*domain.ScanJob),
		vulns: make(map[domain.ScanID][]*domain.Vulnerability),
	}
}

func (r *ScanRepository) Create(ctx context.Context, job *domain.ScanJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *ScanRepository) Get(ctx context.Context, id domain.ScanID) (*domain.ScanJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (r *ScanRepository) List(ctx context.Context, offset, limit int) ([]*domain.ScanJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	all := make([]*domain.ScanJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		cp := *job
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (r *ScanRepository) Delete(ctx context.Context, id domain.ScanID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.jobs, id)
	delete(r.vulns, id)
	return nil
}

func (r *ScanRepository) MarkRunning(ctx context.Context, id domain.ScanID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != domain.StatusPending {
		return domain.ErrNotFound
	}
	job.Status = domain.StatusRunning
	return nil
}

func (r *ScanRepository) Complete(ctx context.Context, id domain.ScanID, reportPath, artifactURL string, counts domain.SeverityCounts, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != domain.StatusRunning {
		return domain.ErrNotFound
	}
	job.Status = domain.StatusCompleted
	job.ReportPath = reportPath
	job.ArtifactURL = artifactURL
	job.Counts = counts
	t := at
	job.CompletedAt = &t
	return nil
}

func (r *ScanRepository) Fail(ctx context.Context, id domain.ScanID, message string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status.Terminal() {
		return domain.ErrNotFound
	}
	job.Status = domain.StatusFailed
	job.ErrorMessage = message
	t := at
	job.CompletedAt = &t
	return nil
}

func (r *ScanRepository) InsertVulnerabilities(ctx context.Context, id domain.ScanID, vulns []*domain.Vulnerability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return domain.ErrNotFound
	}
	for _, v := range vulns {
		r.nextID++
		cp := *v
		cp.ID = r.nextID
		cp.ScanID = id
		r.vulns[id] = append(r.vulns[id], &cp)
	}
	return nil
}

func (r *ScanRepository) Vulnerabilities(ctx context.Context, id domain.ScanID) ([]*domain.Vulnerability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.vulns[id]
	out := make([]*domain.Vulnerability, 0, len(list))
	for _, v := range list {
		cp := *v
		out = append(out, &cp)
	}
	return out, nil
}

func (r *ScanRepository) Summary(ctx context.Context, sinceDays int) (int, int, int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sinceDays <= 0 {
		sinceDays = 7
	}
	cut := time.Now().UTC().AddDate(0, 0, -sinceDays)

	var t, c, h, m int
	for _, job := range r.jobs {
		if job.Status != domain.StatusCompleted || job.CreatedAt.Before(cut) {
			continue
		}
		t++
		c += job.Counts.Critical
		h += job.Counts.High
		m += job.Counts.Medium
	}
	return t, c, h, m, nil
}
