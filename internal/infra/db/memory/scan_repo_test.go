package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/depscan/internal/domain/scans"
)

func newJob(id string) *domain.ScanJob {
	return &domain.ScanJob{
		ID:        domain.ScanID(id),
		Status:    domain.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

func TestTransitionGuards(t *testing.T) {
	ctx := context.Background()
	repo := NewScanRepository()
	require.NoError(t, repo.Create(ctx, newJob("a")))

	// Complete before running is rejected.
	err := repo.Complete(ctx, "a", "r", "", domain.SeverityCounts{}, time.Now())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, repo.MarkRunning(ctx, "a"))
	// Running twice is rejected, the transition is one-way.
	assert.ErrorIs(t, repo.MarkRunning(ctx, "a"), domain.ErrNotFound)

	require.NoError(t, repo.Complete(ctx, "a", "r", "", domain.SeverityCounts{Total: 1}, time.Now()))
	assert.ErrorIs(t, repo.Fail(ctx, "a", "late", time.Now()), domain.ErrNotFound)

	job, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.Empty(t, job.ErrorMessage)
}

func TestDeleteCascades(t *testing.T) {
	ctx := context.Background()
	repo := NewScanRepository()
	require.NoError(t, repo.Create(ctx, newJob("a")))
	require.NoError(t, repo.InsertVulnerabilities(ctx, "a", []*domain.Vulnerability{
		{CVEID: "CVE-1", Severity: domain.SeverityHigh},
	}))

	require.NoError(t, repo.Delete(ctx, "a"))

	_, err := repo.Get(ctx, "a")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, repo.InsertVulnerabilities(ctx, "a", nil), domain.ErrNotFound)
	vulns, err := repo.Vulnerabilities(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, vulns)
}

func TestListOrderAndPaging(t *testing.T) {
	ctx := context.Background()
	repo := NewScanRepository()

	base := time.Now().UTC()
	for i, id := range []string{"old", "mid", "new"} {
		job := newJob(id)
		job.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.Create(ctx, job))
	}

	jobs, err := repo.List(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, domain.ScanID("new"), jobs[0].ID)
	assert.Equal(t, domain.ScanID("mid"), jobs[1].ID)

	jobs, err = repo.List(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.ScanID("old"), jobs[0].ID)

	jobs, err = repo.List(ctx, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
