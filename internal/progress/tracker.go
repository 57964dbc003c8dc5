package progress

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/caseworks/leximport/internal/auth"
	"github.com/caseworks/leximport/internal/domain"
	"github.com/caseworks/leximport/internal/repository"
)

const (
	// DiagnosticCapacity bounds the in-memory diagnostic rings per job.
	DiagnosticCapacity = 100

	defaultCheckpointEvery = 2 * time.Second
	defaultRetention       = time.Hour
	sweepSchedule          = "@every 1m"
)

// Snapshot is the permission-checked read model of one job's progress.
type Snapshot struct {
	JobID    uuid.UUID        `json:"jobId"`
	Status   domain.JobStatus `json:"status"`
	Progress ProgressCounts   `json:"progress"`
	Timing   Timing           `json:"timing"`
	Errors   DiagnosticPage   `json:"errors"`
	Warnings DiagnosticPage   `json:"warnings"`
}

// ProgressCounts carries the hot counters.
type ProgressCounts struct {
	Total     int     `json:"total"`
	Processed int     `json:"processed"`
	Errors    int     `json:"errors"`
	Percent   float64 `json:"percent"`
}

// Timing exposes elapsed time and the estimated completion duration. ETA is
// nil until at least one batch has completed.
type Timing struct {
	StartedAt time.Time      `json:"startedAt"`
	Elapsed   time.Duration  `json:"elapsed"`
	ETA       *time.Duration `json:"eta"`
}

// DiagnosticPage is a bounded view over a job's diagnostics.
type DiagnosticPage struct {
	Count   int                    `json:"count"`
	Items   []domain.RowDiagnostic `json:"items"`
	HasMore bool                   `json:"hasMore"`
}

type jobTracker struct {
	job            domain.ImportJob
	total          int
	processed      int
	errorRows      int
	errorRing      *DiagnosticRing
	warningRing    *DiagnosticRing
	batchesDone    int
	batchRows      int
	batchElapsed   time.Duration
	pendingDiags   []domain.RowDiagnostic
	lastUpdate     time.Time
	lastCheckpoint time.Time
}

// Tracker combines fast in-memory counters with throttled persisted
// checkpoints so progress polling is cheap and survives restarts. It is an
// injected, lifecycle-scoped object: construct with NewTracker, stop with
// Close. All methods are safe for concurrent use.
type Tracker struct {
	jobs repository.ImportJobRepository

	mu       sync.Mutex
	trackers map[uuid.UUID]*jobTracker

	checkpointEvery time.Duration
	retention       time.Duration
	now             func() time.Time
	sweeper         *cron.Cron
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithCheckpointInterval overrides the persisted-checkpoint throttle.
func WithCheckpointInterval(interval time.Duration) Option {
	return func(t *Tracker) {
		if interval > 0 {
			t.checkpointEvery = interval
		}
	}
}

// WithRetention overrides how long an idle tracker survives before the sweep
// collects it.
func WithRetention(retention time.Duration) Option {
	return func(t *Tracker) {
		if retention > 0 {
			t.retention = retention
		}
	}
}

// NewTracker creates a tracker and starts the periodic stale-entry sweep.
func NewTracker(jobs repository.ImportJobRepository, opts ...Option) *Tracker {
	t := &Tracker{
		jobs:            jobs,
		trackers:        make(map[uuid.UUID]*jobTracker),
		checkpointEvery: defaultCheckpointEvery,
		retention:       defaultRetention,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}

	t.sweeper = cron.New()
	if _, err := t.sweeper.AddFunc(sweepSchedule, t.SweepStale); err != nil {
		log.Printf("[PROGRESS] failed to schedule sweep: %v", err)
	}
	t.sweeper.Start()
	return t
}

// Close stops the sweep scheduler. In-flight jobs keep their persisted state.
func (t *Tracker) Close() {
	if t.sweeper != nil {
		t.sweeper.Stop()
	}
}

// StartJob registers a pending job with the tracker.
func (t *Tracker) StartJob(job domain.ImportJob, totalRows int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trackers[job.ID] = &jobTracker{
		job:         job,
		total:       totalRows,
		errorRing:   NewDiagnosticRing(DiagnosticCapacity),
		warningRing: NewDiagnosticRing(DiagnosticCapacity),
		lastUpdate:  t.now(),
	}
}

// MarkProcessing transitions a job from pending to processing and persists
// the new status immediately.
func (t *Tracker) MarkProcessing(ctx context.Context, jobID uuid.UUID) error {
	t.mu.Lock()
	tracker, ok := t.trackers[jobID]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("job %s is not tracked", jobID)
	}
	updated, err := tracker.job.WithStatus(domain.JobStatusProcessing)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	tracker.job = updated
	tracker.lastUpdate = t.now()
	t.mu.Unlock()

	if err := t.jobs.UpdateStatus(ctx, jobID, domain.JobStatusProcessing, nil); err != nil {
		return fmt.Errorf("failed to persist processing status: %w", err)
	}
	return nil
}

// RecordBatch folds one batch result into the job counters and writes a
// persisted checkpoint if the throttle window has elapsed.
func (t *Tracker) RecordBatch(ctx context.Context, jobID uuid.UUID, result domain.BatchResult) {
	t.mu.Lock()
	tracker, ok := t.trackers[jobID]
	if !ok {
		t.mu.Unlock()
		return
	}

	tracker.processed += result.Attempted
	tracker.errorRows += result.Failed()
	tracker.batchesDone++
	tracker.batchRows += result.Attempted
	tracker.batchElapsed += result.Elapsed
	for _, diag := range result.Errors {
		tracker.errorRing.Append(diag)
		tracker.pendingDiags = append(tracker.pendingDiags, diag)
	}
	tracker.lastUpdate = t.now()
	due := t.now().Sub(tracker.lastCheckpoint) >= t.checkpointEvery
	t.mu.Unlock()

	if due {
		t.checkpoint(ctx, jobID)
	}
}

// RecordDiagnostics attaches validation-phase diagnostics. Rows rejected by
// validation never reach the coordinator, so countAsProcessed folds the
// rejected row into the processed and error counters here. Each call covers
// one row: the row counts once no matter how many error diagnostics it
// carries.
func (t *Tracker) RecordDiagnostics(ctx context.Context, jobID uuid.UUID, diags []domain.RowDiagnostic, countAsProcessed bool) {
	t.mu.Lock()
	tracker, ok := t.trackers[jobID]
	if !ok {
		t.mu.Unlock()
		return
	}
	failedRow := false
	for _, diag := range diags {
		switch diag.Severity {
		case domain.SeverityError:
			tracker.errorRing.Append(diag)
			failedRow = true
		case domain.SeverityWarning:
			tracker.warningRing.Append(diag)
		}
		tracker.pendingDiags = append(tracker.pendingDiags, diag)
	}
	if countAsProcessed && failedRow {
		tracker.processed++
		tracker.errorRows++
	}
	tracker.lastUpdate = t.now()
	due := t.now().Sub(tracker.lastCheckpoint) >= t.checkpointEvery
	t.mu.Unlock()

	if due {
		t.checkpoint(ctx, jobID)
	}
}

// Finish moves the job to a terminal status and always persists a final
// checkpoint, regardless of the throttle.
func (t *Tracker) Finish(ctx context.Context, jobID uuid.UUID, status domain.JobStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("finish requires a terminal status, got %s", status)
	}

	t.mu.Lock()
	tracker, ok := t.trackers[jobID]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("job %s is not tracked", jobID)
	}
	updated, err := tracker.job.WithStatus(status)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	tracker.job = updated
	tracker.lastUpdate = t.now()
	t.mu.Unlock()

	t.checkpoint(ctx, jobID)
	if err := t.jobs.UpdateStatus(ctx, jobID, status, updated.CompletedAt); err != nil {
		return fmt.Errorf("failed to persist terminal status: %w", err)
	}
	return nil
}

// Snapshot returns the progress read model for a job. Access is restricted to
// the owning user or an elevated caller; anything else fails closed. Jobs no
// longer tracked in memory fall back to the persisted record.
func (t *Tracker) Snapshot(ctx context.Context, jobID uuid.UUID, identity auth.Identity) (Snapshot, error) {
	t.mu.Lock()
	tracker, ok := t.trackers[jobID]
	if ok {
		if !identity.CanReadJob(tracker.job.OwnerID) {
			t.mu.Unlock()
			return Snapshot{}, auth.ErrForbidden
		}
		snapshot := t.buildSnapshot(tracker)
		t.mu.Unlock()
		return snapshot, nil
	}
	t.mu.Unlock()

	job, err := t.jobs.GetByID(ctx, jobID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load job: %w", err)
	}
	if !identity.CanReadJob(job.OwnerID) {
		return Snapshot{}, auth.ErrForbidden
	}
	return snapshotFromJob(job), nil
}

// SweepStale drops trackers that have not been updated within the retention
// window. Persisted job records are untouched.
func (t *Tracker) SweepStale() {
	cutoff := t.now().Add(-t.retention)

	t.mu.Lock()
	defer t.mu.Unlock()
	for id, tracker := range t.trackers {
		if tracker.lastUpdate.Before(cutoff) {
			delete(t.trackers, id)
			log.Printf("[PROGRESS] swept stale tracker for job %s", id)
		}
	}
}

// checkpoint flushes counters and pending diagnostics to the job repository.
func (t *Tracker) checkpoint(ctx context.Context, jobID uuid.UUID) {
	t.mu.Lock()
	tracker, ok := t.trackers[jobID]
	if !ok {
		t.mu.Unlock()
		return
	}
	total, processed, errorRows := tracker.total, tracker.processed, tracker.errorRows
	pending := tracker.pendingDiags
	tracker.pendingDiags = nil
	tracker.lastCheckpoint = t.now()
	t.mu.Unlock()

	if err := t.jobs.UpdateProgress(ctx, jobID, total, processed, errorRows); err != nil {
		log.Printf("[PROGRESS] checkpoint failed for job %s: %v", jobID, err)
	}
	if len(pending) > 0 {
		if err := t.jobs.AppendDiagnostics(ctx, jobID, pending); err != nil {
			log.Printf("[PROGRESS] failed to persist diagnostics for job %s: %v", jobID, err)
		}
	}
}

func (t *Tracker) buildSnapshot(tracker *jobTracker) Snapshot {
	var percent float64
	if tracker.total > 0 {
		percent = float64(tracker.processed) / float64(tracker.total) * 100
	}

	var eta *time.Duration
	if tracker.batchesDone > 0 && tracker.batchRows > 0 {
		perRow := tracker.batchElapsed / time.Duration(tracker.batchRows)
		remaining := tracker.total - tracker.processed
		if remaining < 0 {
			remaining = 0
		}
		estimate := perRow * time.Duration(remaining)
		eta = &estimate
	}

	return Snapshot{
		JobID:  tracker.job.ID,
		Status: tracker.job.Status,
		Progress: ProgressCounts{
			Total:     tracker.total,
			Processed: tracker.processed,
			Errors:    tracker.errorRows,
			Percent:   percent,
		},
		Timing: Timing{
			StartedAt: tracker.job.StartedAt,
			Elapsed:   t.now().Sub(tracker.job.StartedAt),
			ETA:       eta,
		},
		Errors: DiagnosticPage{
			Count:   tracker.errorRing.Total(),
			Items:   tracker.errorRing.Items(),
			HasMore: tracker.errorRing.HasMore(),
		},
		Warnings: DiagnosticPage{
			Count:   tracker.warningRing.Total(),
			Items:   tracker.warningRing.Items(),
			HasMore: tracker.warningRing.HasMore(),
		},
	}
}

func snapshotFromJob(job domain.ImportJob) Snapshot {
	var percent float64
	if job.TotalRows > 0 {
		percent = float64(job.ProcessedRows) / float64(job.TotalRows) * 100
	}

	var errorsPage, warningsPage DiagnosticPage
	for _, diag := range job.Diagnostics {
		switch diag.Severity {
		case domain.SeverityError:
			errorsPage.Count++
			errorsPage.Items = append(errorsPage.Items, diag)
		case domain.SeverityWarning:
			warningsPage.Count++
			warningsPage.Items = append(warningsPage.Items, diag)
		}
	}

	elapsed := time.Since(job.StartedAt)
	if job.CompletedAt != nil {
		elapsed = job.CompletedAt.Sub(job.StartedAt)
	}

	return Snapshot{
		JobID:  job.ID,
		Status: job.Status,
		Progress: ProgressCounts{
			Total:     job.TotalRows,
			Processed: job.ProcessedRows,
			Errors:    job.ErrorRows,
			Percent:   percent,
		},
		Timing: Timing{
			StartedAt: job.StartedAt,
			Elapsed:   elapsed,
		},
		Errors:   errorsPage,
		Warnings: warningsPage,
	}
}
