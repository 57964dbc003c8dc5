package importer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/caseworks/leximport/internal/auth"
	"github.com/caseworks/leximport/internal/domain"
	"github.com/caseworks/leximport/internal/progress"
	"github.com/caseworks/leximport/internal/reconcile"
	"github.com/caseworks/leximport/internal/report"
	"github.com/caseworks/leximport/internal/repository"
	"github.com/caseworks/leximport/internal/validation"
)

// Upload guards. Files breaching these are rejected before a job exists.
const (
	MaxFileSize = 50 << 20
	MaxRowCount = 50_000
)

var (
	// ErrUnsafeFilename is returned when the upload name fails the security
	// scan; no job is created in that case.
	ErrUnsafeFilename = errors.New("unsafe filename")
	ErrFileTooLarge   = errors.New("file exceeds size cap")
	ErrTooManyRows    = errors.New("file exceeds row cap")
	ErrEmptyFile      = errors.New("file is empty")
)

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// TxRunner executes a function within one database transaction. *db.Connection
// satisfies it.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
}

// Service runs the full ingestion pipeline: upload guards, CSV parsing, row
// validation, entity reconciliation, coordinated batch writes, progress
// tracking, and the closing error report.
type Service struct {
	jobs        repository.ImportJobRepository
	clients     repository.ClientRepository
	feeEarners  repository.FeeEarnerRepository
	matters     repository.MatterRepository
	tx          TxRunner
	reconciler  *reconcile.Reconciler
	validator   *validation.RowValidator
	coordinator *Coordinator
	tracker     *progress.Tracker
	reporter    *report.Reporter
	alerter     report.Alerter
}

// NewService wires the pipeline. A nil coordinator or alerter falls back to
// defaults; a nil tx runner drops per-row transactions and writes directly.
func NewService(
	jobs repository.ImportJobRepository,
	clients repository.ClientRepository,
	feeEarners repository.FeeEarnerRepository,
	matters repository.MatterRepository,
	tx TxRunner,
	reconciler *reconcile.Reconciler,
	coordinator *Coordinator,
	tracker *progress.Tracker,
	reporter *report.Reporter,
	alerter report.Alerter,
) *Service {
	if coordinator == nil {
		coordinator = NewCoordinator(DefaultBatchSize, DefaultConcurrency, DefaultRetryPolicy())
	}
	if alerter == nil {
		alerter = report.LogAlerter{}
	}
	return &Service{
		jobs:        jobs,
		clients:     clients,
		feeEarners:  feeEarners,
		matters:     matters,
		tx:          tx,
		reconciler:  reconciler,
		validator:   validation.NewRowValidator(),
		coordinator: coordinator,
		tracker:     tracker,
		reporter:    reporter,
		alerter:     alerter,
	}
}

// Request describes one uploaded LEX extract.
type Request struct {
	FileName string
	Type     domain.ImportType
	Owner    auth.Identity
	Data     io.Reader
}

// Result is returned once the import has run to completion.
type Result struct {
	Job     domain.ImportJob   `json:"job"`
	Summary validation.Summary `json:"summary"`
	Report  report.Report      `json:"report"`
}

// PreviewResult is the dry-run response: validation outcome only, no job.
type PreviewResult struct {
	Summary     validation.Summary     `json:"summary"`
	Diagnostics []domain.RowDiagnostic `json:"diagnostics"`
}

// Import runs the pipeline end to end. The returned job reflects final
// persisted state. Row-level failures never abort the job; only upload guard
// violations or an unreadable file do.
func (s *Service) Import(ctx context.Context, req Request) (Result, error) {
	if concerns := report.CheckFilename(req.FileName); len(concerns) > 0 {
		// Rejected pre-parse: alert without creating a job.
		for _, concern := range concerns {
			s.alerter.Alert(ctx, domain.ImportJob{FileName: req.FileName, OwnerID: req.Owner.UserID}, concern)
		}
		return Result{}, fmt.Errorf("%w: %s", ErrUnsafeFilename, req.FileName)
	}

	records, err := s.readRecords(req.Data)
	if err != nil {
		return Result{}, err
	}

	job, err := s.jobs.Create(ctx, domain.NewImportJob(req.FileName, req.Type, req.Owner.UserID))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create import job: %w", err)
	}

	s.tracker.StartJob(job, len(records))
	if err := s.tracker.MarkProcessing(ctx, job.ID); err != nil {
		log.Printf("[IMPORT] job %s: %v", job.ID, err)
	}

	injectionDiags := scanForInjection(records)

	valid, invalid, warnings, summary := s.validator.ValidateRecords(records)

	if len(warnings) > 0 {
		s.tracker.RecordDiagnostics(ctx, job.ID, warnings, false)
	}
	if len(injectionDiags) > 0 {
		s.tracker.RecordDiagnostics(ctx, job.ID, injectionDiags, false)
	}
	for _, result := range invalid {
		s.tracker.RecordDiagnostics(ctx, job.ID, result.Errors, true)
	}

	outcome := s.coordinator.Run(ctx, valid, s.writeRow, func(result domain.BatchResult, processed, total int) {
		s.tracker.RecordBatch(ctx, job.ID, result)
		log.Printf("[IMPORT] job %s: batch %d done (%d/%d rows)", job.ID, result.BatchIndex, processed, total)
	})

	finalStatus := domain.JobStatusCompleted
	if outcome.Cancelled {
		finalStatus = domain.JobStatusFailed
	}
	if err := s.tracker.Finish(ctx, job.ID, finalStatus); err != nil {
		log.Printf("[IMPORT] job %s: %v", job.ID, err)
	}

	finished, err := s.jobs.GetByID(ctx, job.ID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to reload job: %w", err)
	}

	rpt := s.reporter.Build(ctx, finished, finished.Diagnostics)

	// Annotations are the only write a terminal job accepts.
	note := fmt.Sprintf("report: errors=%d warnings=%d concerns=%d", rpt.TotalErrors, rpt.TotalWarnings, len(rpt.Concerns))
	if err := s.jobs.Annotate(ctx, finished.ID, note); err != nil {
		log.Printf("[IMPORT] job %s: failed to annotate: %v", finished.ID, err)
	}

	return Result{Job: finished, Summary: summary, Report: rpt}, nil
}

// Preview validates a file without creating a job or writing any entity.
func (s *Service) Preview(ctx context.Context, req Request) (PreviewResult, error) {
	if concerns := report.CheckFilename(req.FileName); len(concerns) > 0 {
		return PreviewResult{}, fmt.Errorf("%w: %s", ErrUnsafeFilename, req.FileName)
	}

	records, err := s.readRecords(req.Data)
	if err != nil {
		return PreviewResult{}, err
	}

	_, invalid, warnings, summary := s.validator.ValidateRecords(records)

	const previewLimit = 25
	diagnostics := make([]domain.RowDiagnostic, 0, previewLimit)
	for _, result := range invalid {
		for _, diag := range result.Errors {
			if len(diagnostics) >= previewLimit {
				break
			}
			diagnostics = append(diagnostics, diag)
		}
	}
	for _, diag := range warnings {
		if len(diagnostics) >= previewLimit {
			break
		}
		diagnostics = append(diagnostics, diag)
	}

	return PreviewResult{Summary: summary, Diagnostics: diagnostics}, nil
}

// readRecords parses the upload into header-keyed records, enforcing the size
// and row caps. A missing header or unreadable payload is a job-level
// failure.
func (s *Service) readRecords(data io.Reader) ([]map[string]string, error) {
	if data == nil {
		return nil, ErrEmptyFile
	}

	payload, err := io.ReadAll(io.LimitReader(data, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(payload) == 0 {
		return nil, ErrEmptyFile
	}
	if len(payload) > MaxFileSize {
		return nil, ErrFileTooLarge
	}

	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, peekErr := reader.Peek(len(byteOrderMark)); peekErr == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	rows, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, errors.New("no header row detected")
	}

	headers := make([]string, len(rows[0]))
	for i, value := range rows[0] {
		headers[i] = strings.TrimSpace(value)
	}

	var records []map[string]string
	for _, row := range rows[1:] {
		if isEmptyRow(row) {
			continue
		}
		record := make(map[string]string, len(headers))
		for i, header := range headers {
			if i < len(row) {
				record[header] = row[i]
			} else {
				record[header] = ""
			}
		}
		records = append(records, record)
	}

	if len(records) > MaxRowCount {
		return nil, fmt.Errorf("%w: %d rows", ErrTooManyRows, len(records))
	}
	return records, nil
}

// writeRow persists one validated row: reconcile both entity references, then
// upsert the matter on its external reference. The matter write and its
// aggregate stat bumps share one transaction so a row either lands fully or
// not at all.
func (s *Service) writeRow(ctx context.Context, row validation.ParsedRow) error {
	clientType := domain.ClientTypeIndividual
	if row.CompanyNumber != "" {
		clientType = domain.ClientTypeCompany
	}

	client, err := s.reconciler.ResolveClient(ctx, row.Client, clientType)
	if err != nil {
		return fmt.Errorf("client %q: %w", row.Client, err)
	}

	earner, err := s.reconciler.ResolveFeeEarner(ctx, row.FeeEarner, "")
	if err != nil {
		return fmt.Errorf("fee earner %q: %w", row.FeeEarner, err)
	}

	now := time.Now()
	matter := domain.CanonicalMatter{
		ID:           uuid.New(),
		Reference:    row.Reference.String(),
		Description:  row.Description,
		ClientID:     client.ID,
		FeeEarnerID:  earner.ID,
		Value:        row.Value,
		Status:       row.Status,
		ReceivedDate: row.ReceivedDate,
		Notes:        row.Notes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if s.tx == nil {
		return s.applyMatter(ctx, s.matters, s.clients, s.feeEarners, matter, row.Value)
	}
	return s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		return s.applyMatter(ctx, s.matters.WithTx(tx), s.clients.WithTx(tx), s.feeEarners.WithTx(tx), matter, row.Value)
	})
}

// applyMatter upserts the matter and, on first insert, bumps the aggregate
// counters. Counters only move on creation so re-imports stay idempotent.
func (s *Service) applyMatter(
	ctx context.Context,
	matters repository.MatterRepository,
	clients repository.ClientRepository,
	feeEarners repository.FeeEarnerRepository,
	matter domain.CanonicalMatter,
	value decimal.Decimal,
) error {
	_, created, err := matters.UpsertByReference(ctx, matter)
	if err != nil {
		return fmt.Errorf("matter %s: %w", matter.Reference, err)
	}
	if created {
		if err := clients.IncrementMatterStats(ctx, matter.ClientID, value); err != nil {
			return fmt.Errorf("client stats for %s: %w", matter.ClientID, err)
		}
		if err := feeEarners.IncrementMatterStats(ctx, matter.FeeEarnerID, value); err != nil {
			return fmt.Errorf("fee earner stats for %s: %w", matter.FeeEarnerID, err)
		}
	}
	return nil
}

// scanForInjection flags cells carrying script or URI-scheme payloads. The
// row still imports if otherwise valid; the diagnostic feeds the security
// report.
func scanForInjection(records []map[string]string) []domain.RowDiagnostic {
	var diags []domain.RowDiagnostic
	for idx, record := range records {
		for field, value := range record {
			if _, hit := report.CheckCellValue(value); hit {
				diags = append(diags, domain.RowDiagnostic{
					Row:       idx + 2,
					Field:     field,
					Value:     validation.TruncateValue(value),
					Message:   "cell value contains a suspected injection pattern",
					Severity:  domain.SeverityWarning,
					Timestamp: time.Now(),
				})
			}
		}
	}
	return diags
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
