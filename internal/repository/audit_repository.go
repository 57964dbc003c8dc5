package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caseworks/leximport/internal/domain"
)

type auditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository wires a repository backed by pgxpool.
func NewAuditRepository(pool *pgxpool.Pool) AuditRepository {
	return &auditRepository{pool: pool}
}

func (r *auditRepository) Record(ctx context.Context, entry domain.AuditEntry) error {
	if r.pool == nil {
		return fmt.Errorf("audit repository not initialized")
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO audit_entries (id, job_id, actor_id, action, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID,
		entry.JobID,
		entry.ActorID,
		entry.Action,
		entry.Detail,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", classify(err))
	}
	return nil
}

func (r *auditRepository) List(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]domain.AuditEntry, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("audit repository not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, job_id, actor_id, action, detail, created_at
		 FROM audit_entries
		 WHERE job_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		jobID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", classify(err))
	}
	defer rows.Close()

	entries := []domain.AuditEntry{}
	for rows.Next() {
		var entry domain.AuditEntry
		if scanErr := rows.Scan(
			&entry.ID,
			&entry.JobID,
			&entry.ActorID,
			&entry.Action,
			&entry.Detail,
			&entry.CreatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", scanErr)
		}
		entries = append(entries, entry)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", rowsErr)
	}
	return entries, nil
}
