package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/caseworks/leximport/internal/auth"
	"github.com/caseworks/leximport/internal/domain"
	"github.com/caseworks/leximport/internal/repository"
)

type stubJobRepo struct {
	mu          sync.Mutex
	jobs        map[uuid.UUID]domain.ImportJob
	progress    int
	diagnostics int
	statuses    []domain.JobStatus
}

var _ repository.ImportJobRepository = (*stubJobRepo)(nil)

func newStubJobRepo() *stubJobRepo {
	return &stubJobRepo{jobs: map[uuid.UUID]domain.ImportJob{}}
}

func (s *stubJobRepo) Create(_ context.Context, job domain.ImportJob) (domain.ImportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return job, nil
}

func (s *stubJobRepo) GetByID(_ context.Context, id uuid.UUID) (domain.ImportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.ImportJob{}, repository.ErrNotFound
	}
	return job, nil
}

func (s *stubJobRepo) ListByOwner(_ context.Context, ownerID uuid.UUID, _, _ int) ([]domain.ImportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ImportJob
	for _, job := range s.jobs {
		if job.OwnerID == ownerID {
			out = append(out, job)
		}
	}
	return out, nil
}

func (s *stubJobRepo) UpdateProgress(_ context.Context, id uuid.UUID, totalRows, processedRows, errorRows int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return repository.ErrNotFound
	}
	job.TotalRows, job.ProcessedRows, job.ErrorRows = totalRows, processedRows, errorRows
	s.jobs[id] = job
	s.progress++
	return nil
}

func (s *stubJobRepo) UpdateStatus(_ context.Context, id uuid.UUID, status domain.JobStatus, completedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if job.Status.Terminal() {
		return repository.ErrNotFound
	}
	job.Status = status
	if completedAt != nil {
		job.CompletedAt = completedAt
	}
	s.jobs[id] = job
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *stubJobRepo) AppendDiagnostics(_ context.Context, id uuid.UUID, diags []domain.RowDiagnostic) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return repository.ErrNotFound
	}
	job.Diagnostics = append(job.Diagnostics, diags...)
	s.jobs[id] = job
	s.diagnostics += len(diags)
	return nil
}

func (s *stubJobRepo) Annotate(_ context.Context, _ uuid.UUID, _ string) error { return nil }

func newTestTracker(t *testing.T, repo *stubJobRepo, opts ...Option) *Tracker {
	t.Helper()
	tracker := NewTracker(repo, opts...)
	t.Cleanup(tracker.Close)
	return tracker
}

func startedJob(repo *stubJobRepo, owner uuid.UUID) domain.ImportJob {
	job := domain.NewImportJob("extract.csv", domain.ImportTypeMatters, owner)
	repo.jobs[job.ID] = job
	return job
}

func TestTracker_BatchFoldsIntoCounters(t *testing.T) {
	repo := newStubJobRepo()
	tracker := newTestTracker(t, repo, WithCheckpointInterval(time.Hour))
	owner := uuid.New()
	job := startedJob(repo, owner)
	ctx := context.Background()

	tracker.StartJob(job, 100)
	if err := tracker.MarkProcessing(ctx, job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tracker.RecordBatch(ctx, job.ID, domain.BatchResult{
		BatchIndex: 0,
		Attempted:  50,
		Succeeded:  48,
		Errors:     []domain.RowDiagnostic{diag(3), diag(7)},
		Elapsed:    time.Second,
	})

	snapshot, err := tracker.Snapshot(ctx, job.ID, auth.Identity{UserID: owner})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshot.Progress.Processed != 50 || snapshot.Progress.Errors != 2 {
		t.Fatalf("unexpected counters: %+v", snapshot.Progress)
	}
	if snapshot.Progress.Percent != 50 {
		t.Fatalf("expected 50%%, got %f", snapshot.Progress.Percent)
	}
	if snapshot.Status != domain.JobStatusProcessing {
		t.Fatalf("unexpected status: %v", snapshot.Status)
	}
	if snapshot.Errors.Count != 2 || snapshot.Errors.HasMore {
		t.Fatalf("unexpected error page: %+v", snapshot.Errors)
	}
}

func TestTracker_ETAOnlyAfterFirstBatch(t *testing.T) {
	repo := newStubJobRepo()
	tracker := newTestTracker(t, repo, WithCheckpointInterval(time.Hour))
	owner := uuid.New()
	job := startedJob(repo, owner)
	ctx := context.Background()

	tracker.StartJob(job, 100)

	snapshot, err := tracker.Snapshot(ctx, job.ID, auth.Identity{UserID: owner})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshot.Timing.ETA != nil {
		t.Fatalf("ETA must be nil before any batch completes")
	}

	tracker.RecordBatch(ctx, job.ID, domain.BatchResult{
		Attempted: 50, Succeeded: 50, Elapsed: 2 * time.Second,
	})

	snapshot, err = tracker.Snapshot(ctx, job.ID, auth.Identity{UserID: owner})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshot.Timing.ETA == nil {
		t.Fatalf("ETA must be set once a batch has completed")
	}
	// 40ms per row over 50 remaining rows.
	if *snapshot.Timing.ETA != 2*time.Second {
		t.Fatalf("unexpected ETA: %v", *snapshot.Timing.ETA)
	}
}

func TestTracker_CheckpointThrottled(t *testing.T) {
	repo := newStubJobRepo()
	tracker := newTestTracker(t, repo, WithCheckpointInterval(time.Hour))
	owner := uuid.New()
	job := startedJob(repo, owner)
	ctx := context.Background()

	tracker.StartJob(job, 10)
	// lastCheckpoint is zero on the first record, so one checkpoint fires
	// immediately; subsequent ones are suppressed by the interval.
	for i := 0; i < 5; i++ {
		tracker.RecordBatch(ctx, job.ID, domain.BatchResult{Attempted: 2, Succeeded: 2})
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if repo.progress != 1 {
		t.Fatalf("expected exactly one throttled checkpoint, got %d", repo.progress)
	}
}

func TestTracker_FinishAlwaysCheckpoints(t *testing.T) {
	repo := newStubJobRepo()
	tracker := newTestTracker(t, repo, WithCheckpointInterval(time.Hour))
	owner := uuid.New()
	job := startedJob(repo, owner)
	ctx := context.Background()

	tracker.StartJob(job, 4)
	if err := tracker.MarkProcessing(ctx, job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tracker.RecordBatch(ctx, job.ID, domain.BatchResult{
		Attempted: 4, Succeeded: 3, Errors: []domain.RowDiagnostic{diag(2)},
	})

	if err := tracker.Finish(ctx, job.ID, domain.JobStatusCompleted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored, err := repo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.Status != domain.JobStatusCompleted {
		t.Fatalf("expected completed, got %v", stored.Status)
	}
	if stored.ProcessedRows != 4 || stored.ErrorRows != 1 {
		t.Fatalf("final checkpoint missing: %+v", stored)
	}
	if stored.CompletedAt == nil {
		t.Fatalf("completion time must be stamped")
	}
	if len(stored.Diagnostics) != 1 {
		t.Fatalf("pending diagnostics must be flushed, got %d", len(stored.Diagnostics))
	}
}

func TestTracker_FinishRejectsNonTerminal(t *testing.T) {
	repo := newStubJobRepo()
	tracker := newTestTracker(t, repo)
	job := startedJob(repo, uuid.New())
	tracker.StartJob(job, 1)

	if err := tracker.Finish(context.Background(), job.ID, domain.JobStatusProcessing); err == nil {
		t.Fatalf("expected error for non-terminal finish status")
	}
}

func TestTracker_ForwardOnlyLifecycle(t *testing.T) {
	repo := newStubJobRepo()
	tracker := newTestTracker(t, repo, WithCheckpointInterval(time.Hour))
	job := startedJob(repo, uuid.New())
	ctx := context.Background()

	tracker.StartJob(job, 1)
	if err := tracker.MarkProcessing(ctx, job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tracker.Finish(ctx, job.ID, domain.JobStatusCompleted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A completed job cannot be re-finished or moved back to processing.
	if err := tracker.Finish(ctx, job.ID, domain.JobStatusFailed); err == nil {
		t.Fatalf("expected error finishing a terminal job")
	}
	if err := tracker.MarkProcessing(ctx, job.ID); err == nil {
		t.Fatalf("expected error reprocessing a terminal job")
	}
}

func TestTracker_ValidationErrorsCountAsProcessed(t *testing.T) {
	repo := newStubJobRepo()
	tracker := newTestTracker(t, repo, WithCheckpointInterval(time.Hour))
	owner := uuid.New()
	job := startedJob(repo, owner)
	ctx := context.Background()

	tracker.StartJob(job, 3)
	errDiag := diag(3)
	errDiag.Severity = domain.SeverityError
	warnDiag := diag(4)
	warnDiag.Severity = domain.SeverityWarning

	tracker.RecordDiagnostics(ctx, job.ID, []domain.RowDiagnostic{errDiag}, true)
	tracker.RecordDiagnostics(ctx, job.ID, []domain.RowDiagnostic{warnDiag}, false)
	tracker.RecordBatch(ctx, job.ID, domain.BatchResult{Attempted: 2, Succeeded: 2})

	snapshot, err := tracker.Snapshot(ctx, job.ID, auth.Identity{UserID: owner})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 2 coordinator rows + 1 validation-rejected row.
	if snapshot.Progress.Processed != 3 || snapshot.Progress.Errors != 1 {
		t.Fatalf("unexpected counters: %+v", snapshot.Progress)
	}
	if snapshot.Warnings.Count != 1 {
		t.Fatalf("warning must land in the warning page: %+v", snapshot.Warnings)
	}
}

func TestTracker_MultiErrorRowCountsOnce(t *testing.T) {
	repo := newStubJobRepo()
	tracker := newTestTracker(t, repo, WithCheckpointInterval(time.Hour))
	owner := uuid.New()
	job := startedJob(repo, owner)
	ctx := context.Background()

	tracker.StartJob(job, 1)

	// One rejected row carrying two errors: a missing field and a bad date.
	missing := diag(2)
	missing.Severity = domain.SeverityError
	badDate := diag(2)
	badDate.Severity = domain.SeverityError
	tracker.RecordDiagnostics(ctx, job.ID, []domain.RowDiagnostic{missing, badDate}, true)

	snapshot, err := tracker.Snapshot(ctx, job.ID, auth.Identity{UserID: owner})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshot.Progress.Processed != 1 || snapshot.Progress.Errors != 1 {
		t.Fatalf("row must count once regardless of diagnostic count: %+v", snapshot.Progress)
	}
	if snapshot.Progress.Processed > snapshot.Progress.Total {
		t.Fatalf("processed must never exceed total: %+v", snapshot.Progress)
	}
	if snapshot.Errors.Count != 2 {
		t.Fatalf("both diagnostics must still be retained: %+v", snapshot.Errors)
	}
}

func TestTracker_SnapshotPermissions(t *testing.T) {
	repo := newStubJobRepo()
	tracker := newTestTracker(t, repo)
	owner := uuid.New()
	job := startedJob(repo, owner)
	ctx := context.Background()

	tracker.StartJob(job, 1)

	if _, err := tracker.Snapshot(ctx, job.ID, auth.Identity{UserID: uuid.New()}); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for a stranger, got %v", err)
	}
	if _, err := tracker.Snapshot(ctx, job.ID, auth.Identity{}); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for missing identity, got %v", err)
	}
	if _, err := tracker.Snapshot(ctx, job.ID, auth.Identity{UserID: uuid.New(), Elevated: true}); err != nil {
		t.Fatalf("elevated caller must read any job: %v", err)
	}
	if _, err := tracker.Snapshot(ctx, job.ID, auth.Identity{UserID: owner}); err != nil {
		t.Fatalf("owner must read own job: %v", err)
	}
}

func TestTracker_SnapshotFallsBackToStore(t *testing.T) {
	repo := newStubJobRepo()
	tracker := newTestTracker(t, repo)
	owner := uuid.New()
	job := startedJob(repo, owner)
	job.Status = domain.JobStatusCompleted
	job.TotalRows, job.ProcessedRows, job.ErrorRows = 10, 10, 2
	repo.jobs[job.ID] = job

	// Never registered with the tracker, so only the persisted record serves.
	snapshot, err := tracker.Snapshot(context.Background(), job.ID, auth.Identity{UserID: owner})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshot.Status != domain.JobStatusCompleted || snapshot.Progress.Processed != 10 {
		t.Fatalf("unexpected fallback snapshot: %+v", snapshot)
	}
	if snapshot.Progress.Percent != 100 {
		t.Fatalf("expected 100%%, got %f", snapshot.Progress.Percent)
	}
}

func TestTracker_SweepStaleDropsIdleTrackers(t *testing.T) {
	repo := newStubJobRepo()
	tracker := newTestTracker(t, repo, WithRetention(time.Minute))
	owner := uuid.New()
	job := startedJob(repo, owner)
	tracker.StartJob(job, 1)

	// Move the clock past the retention window.
	tracker.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	tracker.SweepStale()

	tracker.mu.Lock()
	_, stillTracked := tracker.trackers[job.ID]
	tracker.mu.Unlock()
	if stillTracked {
		t.Fatalf("stale tracker must be swept")
	}
}
