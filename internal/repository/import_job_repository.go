package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caseworks/leximport/internal/domain"
)

// diagnosticRetention bounds the persisted diagnostic subset per job.
const diagnosticRetention = 100

type importJobRepository struct {
	pool *pgxpool.Pool
}

// NewImportJobRepository wires a repository backed by pgxpool.
func NewImportJobRepository(pool *pgxpool.Pool) ImportJobRepository {
	return &importJobRepository{pool: pool}
}

func (r *importJobRepository) Create(ctx context.Context, job domain.ImportJob) (domain.ImportJob, error) {
	if r.pool == nil {
		return domain.ImportJob{}, fmt.Errorf("import job repository not initialized")
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO import_jobs (id, file_name, import_type, status, total_rows, processed_rows, error_rows, owner_id, diagnostics, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, '[]'::jsonb, $9)`,
		job.ID,
		job.FileName,
		string(job.Type),
		string(job.Status),
		job.TotalRows,
		job.ProcessedRows,
		job.ErrorRows,
		job.OwnerID,
		job.StartedAt,
	)
	if err != nil {
		return domain.ImportJob{}, fmt.Errorf("failed to create import job: %w", classify(err))
	}
	return job, nil
}

func (r *importJobRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.ImportJob, error) {
	if r.pool == nil {
		return domain.ImportJob{}, fmt.Errorf("import job repository not initialized")
	}

	row := r.pool.QueryRow(
		ctx,
		`SELECT id, file_name, import_type, status, total_rows, processed_rows, error_rows, owner_id, diagnostics, started_at, completed_at
		 FROM import_jobs WHERE id = $1`,
		id,
	)
	return scanJob(row)
}

func (r *importJobRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.ImportJob, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("import job repository not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, file_name, import_type, status, total_rows, processed_rows, error_rows, owner_id, diagnostics, started_at, completed_at
		 FROM import_jobs
		 WHERE owner_id = $1
		 ORDER BY started_at DESC
		 LIMIT $2 OFFSET $3`,
		ownerID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list import jobs: %w", classify(err))
	}
	defer rows.Close()

	jobs := []domain.ImportJob{}
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		jobs = append(jobs, job)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate import jobs: %w", rowsErr)
	}
	return jobs, nil
}

func (r *importJobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, totalRows, processedRows, errorRows int) error {
	if r.pool == nil {
		return fmt.Errorf("import job repository not initialized")
	}

	_, err := r.pool.Exec(
		ctx,
		`UPDATE import_jobs
		 SET total_rows = $2, processed_rows = $3, error_rows = $4
		 WHERE id = $1 AND status NOT IN ('completed', 'failed')`,
		id, totalRows, processedRows, errorRows,
	)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", classify(err))
	}
	return nil
}

func (r *importJobRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.JobStatus, completedAt *time.Time) error {
	if r.pool == nil {
		return fmt.Errorf("import job repository not initialized")
	}

	// The status guard makes terminal states immutable at the store level
	// too, so no code path can move a finished job backwards.
	tag, err := r.pool.Exec(
		ctx,
		`UPDATE import_jobs
		 SET status = $2, completed_at = COALESCE($3, completed_at)
		 WHERE id = $1 AND status NOT IN ('completed', 'failed')`,
		id, string(status), completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s is terminal or missing: %w", id, ErrNotFound)
	}
	return nil
}

func (r *importJobRepository) AppendDiagnostics(ctx context.Context, id uuid.UUID, diagnostics []domain.RowDiagnostic) error {
	if r.pool == nil {
		return fmt.Errorf("import job repository not initialized")
	}
	if len(diagnostics) == 0 {
		return nil
	}

	payload, err := json.Marshal(diagnostics)
	if err != nil {
		return fmt.Errorf("failed to encode diagnostics: %w", err)
	}

	// Concatenate then keep only the most recent entries, mirroring the
	// in-memory ring buffer.
	_, err = r.pool.Exec(
		ctx,
		`UPDATE import_jobs
		 SET diagnostics = (
		     SELECT COALESCE(jsonb_agg(elem ORDER BY ord), '[]'::jsonb)
		     FROM (
		         SELECT elem, ord
		         FROM jsonb_array_elements(diagnostics || $2::jsonb) WITH ORDINALITY AS t(elem, ord)
		         ORDER BY ord DESC
		         LIMIT $3
		     ) recent
		 )
		 WHERE id = $1`,
		id, payload, diagnosticRetention,
	)
	if err != nil {
		return fmt.Errorf("failed to append diagnostics: %w", classify(err))
	}
	return nil
}

func (r *importJobRepository) Annotate(ctx context.Context, id uuid.UUID, note string) error {
	if r.pool == nil {
		return fmt.Errorf("import job repository not initialized")
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO import_job_annotations (job_id, note) VALUES ($1, $2)`,
		id, note,
	)
	if err != nil {
		return fmt.Errorf("failed to annotate job: %w", classify(err))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.ImportJob, error) {
	var (
		job         domain.ImportJob
		importType  string
		status      string
		diagnostics []byte
		completedAt pgtype.Timestamptz
	)
	if err := row.Scan(
		&job.ID,
		&job.FileName,
		&importType,
		&status,
		&job.TotalRows,
		&job.ProcessedRows,
		&job.ErrorRows,
		&job.OwnerID,
		&diagnostics,
		&job.StartedAt,
		&completedAt,
	); err != nil {
		return domain.ImportJob{}, fmt.Errorf("failed to scan import job: %w", classify(err))
	}

	job.Type = domain.ImportType(importType)
	job.Status = domain.JobStatus(status)
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	if len(diagnostics) > 0 {
		if err := json.Unmarshal(diagnostics, &job.Diagnostics); err != nil {
			return domain.ImportJob{}, fmt.Errorf("failed to decode diagnostics: %w", err)
		}
	}
	return job, nil
}
