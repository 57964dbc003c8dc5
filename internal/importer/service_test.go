package importer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/caseworks/leximport/internal/auth"
	"github.com/caseworks/leximport/internal/domain"
	"github.com/caseworks/leximport/internal/progress"
	"github.com/caseworks/leximport/internal/reconcile"
	"github.com/caseworks/leximport/internal/report"
	"github.com/caseworks/leximport/internal/repository"
)

type memJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]domain.ImportJob
}

var _ repository.ImportJobRepository = (*memJobRepo)(nil)

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: map[uuid.UUID]domain.ImportJob{}}
}

func (m *memJobRepo) Create(_ context.Context, job domain.ImportJob) (domain.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return job, nil
}

func (m *memJobRepo) GetByID(_ context.Context, id uuid.UUID) (domain.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.ImportJob{}, repository.ErrNotFound
	}
	return job, nil
}

func (m *memJobRepo) ListByOwner(_ context.Context, ownerID uuid.UUID, _, _ int) ([]domain.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ImportJob
	for _, job := range m.jobs {
		if job.OwnerID == ownerID {
			out = append(out, job)
		}
	}
	return out, nil
}

func (m *memJobRepo) UpdateProgress(_ context.Context, id uuid.UUID, totalRows, processedRows, errorRows int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if job.Status.Terminal() {
		return nil
	}
	job.TotalRows, job.ProcessedRows, job.ErrorRows = totalRows, processedRows, errorRows
	m.jobs[id] = job
	return nil
}

func (m *memJobRepo) UpdateStatus(_ context.Context, id uuid.UUID, status domain.JobStatus, completedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status.Terminal() {
		return repository.ErrNotFound
	}
	job.Status = status
	if completedAt != nil {
		job.CompletedAt = completedAt
	}
	m.jobs[id] = job
	return nil
}

func (m *memJobRepo) AppendDiagnostics(_ context.Context, id uuid.UUID, diags []domain.RowDiagnostic) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return repository.ErrNotFound
	}
	job.Diagnostics = append(job.Diagnostics, diags...)
	m.jobs[id] = job
	return nil
}

func (m *memJobRepo) Annotate(_ context.Context, _ uuid.UUID, _ string) error { return nil }

func (m *memJobRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

type memClientRepo struct {
	mu           sync.Mutex
	clients      map[string]domain.CanonicalClient
	increments   int
	incrementErr error
}

var _ repository.ClientRepository = (*memClientRepo)(nil)

func newMemClientRepo() *memClientRepo {
	return &memClientRepo{clients: map[string]domain.CanonicalClient{}}
}

func (m *memClientRepo) List(_ context.Context) ([]domain.CanonicalClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.CanonicalClient, 0, len(m.clients))
	for _, client := range m.clients {
		out = append(out, client)
	}
	return out, nil
}

func (m *memClientRepo) Upsert(_ context.Context, client domain.CanonicalClient) (domain.CanonicalClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(client.Name) + "|" + string(client.Type)
	if existing, ok := m.clients[key]; ok {
		return existing, nil
	}
	m.clients[key] = client
	return client, nil
}

func (m *memClientRepo) IncrementMatterStats(_ context.Context, _ uuid.UUID, _ decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.incrementErr != nil {
		return m.incrementErr
	}
	m.increments++
	return nil
}

func (m *memClientRepo) WithTx(_ pgx.Tx) repository.ClientRepository { return m }

type memFeeEarnerRepo struct {
	mu      sync.Mutex
	earners map[string]domain.CanonicalFeeEarner
}

var _ repository.FeeEarnerRepository = (*memFeeEarnerRepo)(nil)

func newMemFeeEarnerRepo() *memFeeEarnerRepo {
	return &memFeeEarnerRepo{earners: map[string]domain.CanonicalFeeEarner{}}
}

func (m *memFeeEarnerRepo) List(_ context.Context) ([]domain.CanonicalFeeEarner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.CanonicalFeeEarner, 0, len(m.earners))
	for _, earner := range m.earners {
		out = append(out, earner)
	}
	return out, nil
}

func (m *memFeeEarnerRepo) Upsert(_ context.Context, earner domain.CanonicalFeeEarner) (domain.CanonicalFeeEarner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(earner.Name)
	if existing, ok := m.earners[key]; ok {
		return existing, nil
	}
	m.earners[key] = earner
	return earner, nil
}

func (m *memFeeEarnerRepo) IncrementMatterStats(_ context.Context, _ uuid.UUID, _ decimal.Decimal) error {
	return nil
}

func (m *memFeeEarnerRepo) WithTx(_ pgx.Tx) repository.FeeEarnerRepository { return m }

type memMatterRepo struct {
	mu      sync.Mutex
	matters map[string]domain.CanonicalMatter
}

var _ repository.MatterRepository = (*memMatterRepo)(nil)

func newMemMatterRepo() *memMatterRepo {
	return &memMatterRepo{matters: map[string]domain.CanonicalMatter{}}
}

func (m *memMatterRepo) UpsertByReference(_ context.Context, matter domain.CanonicalMatter) (domain.CanonicalMatter, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.matters[matter.Reference]; ok {
		matter.ID = existing.ID
		matter.CreatedAt = existing.CreatedAt
		m.matters[matter.Reference] = matter
		return matter, false, nil
	}
	m.matters[matter.Reference] = matter
	return matter, true, nil
}

func (m *memMatterRepo) ListWithReference(_ context.Context) ([]domain.CanonicalMatter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.CanonicalMatter, 0, len(m.matters))
	for _, matter := range m.matters {
		out = append(out, matter)
	}
	return out, nil
}

func (m *memMatterRepo) WithTx(_ pgx.Tx) repository.MatterRepository { return m }

func (m *memMatterRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.matters)
}

// memTxRunner stands in for a database transaction: it hands the callback a
// nil tx, which the in-memory repositories ignore.
type memTxRunner struct {
	mu    sync.Mutex
	calls int
}

var _ TxRunner = (*memTxRunner)(nil)

func (m *memTxRunner) WithTx(_ context.Context, fn func(pgx.Tx) error) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return fn(nil)
}

func (m *memTxRunner) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type memAuditRepo struct{}

var _ repository.AuditRepository = (*memAuditRepo)(nil)

func (memAuditRepo) Record(_ context.Context, _ domain.AuditEntry) error { return nil }
func (memAuditRepo) List(_ context.Context, _ uuid.UUID, _, _ int) ([]domain.AuditEntry, error) {
	return nil, nil
}

type memAlerter struct {
	mu       sync.Mutex
	concerns []report.Concern
}

func (m *memAlerter) Alert(_ context.Context, _ domain.ImportJob, concern report.Concern) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.concerns = append(m.concerns, concern)
}

type pipeline struct {
	service *Service
	jobs    *memJobRepo
	clients *memClientRepo
	matters *memMatterRepo
	alerter *memAlerter
	tx      *memTxRunner
}

func newPipeline(t *testing.T) pipeline {
	t.Helper()
	jobs := newMemJobRepo()
	clients := newMemClientRepo()
	earners := newMemFeeEarnerRepo()
	matters := newMemMatterRepo()
	alerter := &memAlerter{}
	tx := &memTxRunner{}

	tracker := progress.NewTracker(jobs)
	t.Cleanup(tracker.Close)

	service := NewService(
		jobs,
		clients,
		earners,
		matters,
		tx,
		reconcile.NewReconciler(clients, earners, nil),
		NewCoordinator(10, 2, RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, Multiplier: 1}),
		tracker,
		report.NewReporter(memAuditRepo{}, alerter),
		alerter,
	)
	return pipeline{service: service, jobs: jobs, clients: clients, matters: matters, alerter: alerter, tx: tx}
}

const sampleHeader = "Client,Matter Description,Fee Earner,Date Received,Value,Status,Reference"

func TestImport_ValidFileCompletes(t *testing.T) {
	p := newPipeline(t)

	csv := sampleHeader + "\n" +
		`Smith Industries Ltd,Lease renewal,Jane Smith,15/03/2024,"£1,250.50",Open,LEX2024-0417` + "\n" +
		"Brown & Co,Contract dispute,Tom Jones,16/03/2024,£300.00,New,LEX2024-0418\n"

	result, err := p.service.Import(context.Background(), Request{
		FileName: "extract.csv",
		Type:     domain.ImportTypeMatters,
		Owner:    auth.Identity{UserID: uuid.New()},
		Data:     strings.NewReader(csv),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Job.Status != domain.JobStatusCompleted {
		t.Fatalf("expected completed, got %v", result.Job.Status)
	}
	if result.Job.ProcessedRows != 2 || result.Job.ErrorRows != 0 {
		t.Fatalf("unexpected counters: %+v", result.Job)
	}
	if result.Summary.Valid != 2 || result.Summary.Invalid != 0 {
		t.Fatalf("unexpected summary: %+v", result.Summary)
	}
	if p.matters.count() != 2 {
		t.Fatalf("expected 2 matters written, got %d", p.matters.count())
	}
}

func TestImport_InvalidRowCountsAsProcessedError(t *testing.T) {
	p := newPipeline(t)

	// Row 3 carries an impossible date; it never reaches the coordinator but
	// still counts as a processed, failed row.
	csv := sampleHeader + "\n" +
		"Smith Industries Ltd,Lease renewal,Jane Smith,15/03/2024,£100.00,Open,LEX2024-0417\n" +
		"Brown & Co,Contract dispute,Tom Jones,31/02/2024,£200.00,New,LEX2024-0418\n" +
		"Green LLP,Probate,Anne Hall,17/03/2024,£300.00,Closed,LEX2024-0419\n"

	result, err := p.service.Import(context.Background(), Request{
		FileName: "extract.csv",
		Type:     domain.ImportTypeMatters,
		Owner:    auth.Identity{UserID: uuid.New()},
		Data:     strings.NewReader(csv),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Job.Status != domain.JobStatusCompleted {
		t.Fatalf("row errors must not fail the job, got %v", result.Job.Status)
	}
	if result.Job.TotalRows != 3 || result.Job.ProcessedRows != 3 || result.Job.ErrorRows != 1 {
		t.Fatalf("unexpected counters: total=%d processed=%d errors=%d",
			result.Job.TotalRows, result.Job.ProcessedRows, result.Job.ErrorRows)
	}
	if result.Report.TotalErrors != 1 {
		t.Fatalf("unexpected report: %+v", result.Report)
	}
	if result.Report.ByCategory[report.CategoryFormat] != 1 {
		t.Fatalf("bad date must categorize as format: %+v", result.Report.ByCategory)
	}
	if p.matters.count() != 2 {
		t.Fatalf("only valid rows may write matters, got %d", p.matters.count())
	}
}

func TestImport_MultiErrorRowCountsOnce(t *testing.T) {
	p := newPipeline(t)

	// The single row is missing its client and carries an impossible date:
	// two diagnostics, one failed row.
	csv := sampleHeader + "\n" +
		",Lease renewal,Jane Smith,31/02/2024,£100.00,Open,LEX2024-0417\n"

	result, err := p.service.Import(context.Background(), Request{
		FileName: "extract.csv",
		Type:     domain.ImportTypeMatters,
		Owner:    auth.Identity{UserID: uuid.New()},
		Data:     strings.NewReader(csv),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Job.TotalRows != 1 || result.Job.ProcessedRows != 1 || result.Job.ErrorRows != 1 {
		t.Fatalf("unexpected counters: total=%d processed=%d errors=%d",
			result.Job.TotalRows, result.Job.ProcessedRows, result.Job.ErrorRows)
	}
	if result.Job.ProcessedRows > result.Job.TotalRows {
		t.Fatalf("processed must never exceed total: %+v", result.Job)
	}
	if result.Report.TotalErrors != 2 {
		t.Fatalf("both diagnostics must reach the report: %+v", result.Report)
	}
}

func TestImport_UnsafeFilenameCreatesNoJob(t *testing.T) {
	p := newPipeline(t)

	_, err := p.service.Import(context.Background(), Request{
		FileName: "../../etc/passwd.csv",
		Type:     domain.ImportTypeMatters,
		Owner:    auth.Identity{UserID: uuid.New()},
		Data:     strings.NewReader(sampleHeader + "\n"),
	})
	if !errors.Is(err, ErrUnsafeFilename) {
		t.Fatalf("expected ErrUnsafeFilename, got %v", err)
	}
	if p.jobs.count() != 0 {
		t.Fatalf("rejected upload must not create a job")
	}

	p.alerter.mu.Lock()
	defer p.alerter.mu.Unlock()
	if len(p.alerter.concerns) == 0 {
		t.Fatalf("rejected upload must raise a security alert")
	}
}

func TestImport_EmptyFile(t *testing.T) {
	p := newPipeline(t)

	_, err := p.service.Import(context.Background(), Request{
		FileName: "extract.csv",
		Type:     domain.ImportTypeMatters,
		Owner:    auth.Identity{UserID: uuid.New()},
		Data:     strings.NewReader(""),
	})
	if !errors.Is(err, ErrEmptyFile) {
		t.Fatalf("expected ErrEmptyFile, got %v", err)
	}
	if p.jobs.count() != 0 {
		t.Fatalf("empty upload must not create a job")
	}
}

func TestImport_ReimportIsIdempotent(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	csv := sampleHeader + "\n" +
		"Smith Industries Ltd,Lease renewal,Jane Smith,15/03/2024,£100.00,Open,LEX2024-0417\n"

	for i := 0; i < 2; i++ {
		result, err := p.service.Import(ctx, Request{
			FileName: "extract.csv",
			Type:     domain.ImportTypeMatters,
			Owner:    auth.Identity{UserID: uuid.New()},
			Data:     strings.NewReader(csv),
		})
		if err != nil {
			t.Fatalf("import %d failed: %v", i+1, err)
		}
		if result.Job.Status != domain.JobStatusCompleted {
			t.Fatalf("import %d did not complete: %v", i+1, result.Job.Status)
		}
	}

	if p.matters.count() != 1 {
		t.Fatalf("re-import must update, not duplicate: %d matters", p.matters.count())
	}
	p.clients.mu.Lock()
	defer p.clients.mu.Unlock()
	if len(p.clients.clients) != 1 {
		t.Fatalf("re-import must reuse the canonical client, got %d", len(p.clients.clients))
	}
	if p.clients.increments != 1 {
		t.Fatalf("aggregate stats must only move on first insert, got %d increments", p.clients.increments)
	}
}

func TestImport_RowWritesRunInTransaction(t *testing.T) {
	p := newPipeline(t)

	csv := sampleHeader + "\n" +
		"Smith Industries Ltd,Lease renewal,Jane Smith,15/03/2024,£100.00,Open,LEX2024-0417\n"

	result, err := p.service.Import(context.Background(), Request{
		FileName: "extract.csv",
		Type:     domain.ImportTypeMatters,
		Owner:    auth.Identity{UserID: uuid.New()},
		Data:     strings.NewReader(csv),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Job.ErrorRows != 0 {
		t.Fatalf("unexpected errors: %+v", result.Job)
	}
	if p.tx.count() != 1 {
		t.Fatalf("expected one transaction per written row, got %d", p.tx.count())
	}
}

func TestImport_StatBumpFailureFailsRow(t *testing.T) {
	p := newPipeline(t)
	p.clients.incrementErr = errors.New("connection reset")

	csv := sampleHeader + "\n" +
		"Smith Industries Ltd,Lease renewal,Jane Smith,15/03/2024,£100.00,Open,LEX2024-0417\n"

	result, err := p.service.Import(context.Background(), Request{
		FileName: "extract.csv",
		Type:     domain.ImportTypeMatters,
		Owner:    auth.Identity{UserID: uuid.New()},
		Data:     strings.NewReader(csv),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The upsert and its stat bumps share a transaction, so a failed bump
	// fails the whole row rather than leaving half-applied state.
	if result.Job.ProcessedRows != 1 || result.Job.ErrorRows != 1 {
		t.Fatalf("stat failure must fail the row: %+v", result.Job)
	}
}

func TestImport_InjectionFlaggedButImported(t *testing.T) {
	p := newPipeline(t)

	csv := sampleHeader + ",Notes\n" +
		"Smith Industries Ltd,Lease renewal,Jane Smith,15/03/2024,£100.00,Open,LEX2024-0417,<script>alert(1)</script>\n"

	result, err := p.service.Import(context.Background(), Request{
		FileName: "extract.csv",
		Type:     domain.ImportTypeMatters,
		Owner:    auth.Identity{UserID: uuid.New()},
		Data:     strings.NewReader(csv),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Job.Status != domain.JobStatusCompleted {
		t.Fatalf("injection warning must not fail the job: %v", result.Job.Status)
	}
	if p.matters.count() != 1 {
		t.Fatalf("otherwise-valid row must import, got %d matters", p.matters.count())
	}

	found := false
	for _, concern := range result.Report.Concerns {
		if concern.Kind == "injection_attempt" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected injection concern in report: %+v", result.Report.Concerns)
	}
}

func TestScanForInjection_BoundsStoredValue(t *testing.T) {
	payload := "<script>" + strings.Repeat("é", 300) + "</script>"
	diags := scanForInjection([]map[string]string{{"Notes": payload}})
	if len(diags) != 1 {
		t.Fatalf("expected one diagnostic, got %d", len(diags))
	}
	if !utf8.ValidString(diags[0].Value) {
		t.Fatalf("stored value must remain valid UTF-8")
	}
	if utf8.RuneCountInString(diags[0].Value) >= utf8.RuneCountInString(payload) {
		t.Fatalf("oversized cell value must be truncated, kept %d runes", utf8.RuneCountInString(diags[0].Value))
	}
}

func TestImport_BOMAndQuotedFieldsParse(t *testing.T) {
	p := newPipeline(t)

	csv := "\uFEFF" + sampleHeader + "\n" +
		`"Smith, Brown & Co",Lease renewal,Jane Smith,15/03/2024,£100.00,Open,LEX2024-0417` + "\n"

	result, err := p.service.Import(context.Background(), Request{
		FileName: "extract.csv",
		Type:     domain.ImportTypeMatters,
		Owner:    auth.Identity{UserID: uuid.New()},
		Data:     strings.NewReader(csv),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Summary.Valid != 1 {
		t.Fatalf("BOM-prefixed file must parse: %+v", result.Summary)
	}
}

func TestPreview_ValidatesWithoutWriting(t *testing.T) {
	p := newPipeline(t)

	csv := sampleHeader + "\n" +
		"Smith Industries Ltd,Lease renewal,Jane Smith,31/02/2024,£100.00,Open,LEX2024-0417\n"

	preview, err := p.service.Preview(context.Background(), Request{
		FileName: "extract.csv",
		Type:     domain.ImportTypeMatters,
		Owner:    auth.Identity{UserID: uuid.New()},
		Data:     strings.NewReader(csv),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if preview.Summary.Invalid != 1 {
		t.Fatalf("unexpected summary: %+v", preview.Summary)
	}
	if len(preview.Diagnostics) == 0 {
		t.Fatalf("preview must surface diagnostics")
	}
	if p.jobs.count() != 0 || p.matters.count() != 0 {
		t.Fatalf("preview must not create jobs or matters")
	}
}
