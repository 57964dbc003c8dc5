package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/caseworks/leximport/internal/domain"
)

// Querier is the subset of pgx operations the repositories issue. Both
// *pgxpool.Pool and pgx.Tx satisfy it, so a repository can run against the
// pool or inside a caller-owned transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ImportJobRepository persists import job lifecycle state.
type ImportJobRepository interface {
	Create(ctx context.Context, job domain.ImportJob) (domain.ImportJob, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.ImportJob, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.ImportJob, error)
	// UpdateProgress overwrites the row counters. Counter values are absolute,
	// not deltas, so checkpoint writes are idempotent.
	UpdateProgress(ctx context.Context, id uuid.UUID, totalRows, processedRows, errorRows int) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.JobStatus, completedAt *time.Time) error
	AppendDiagnostics(ctx context.Context, id uuid.UUID, diagnostics []domain.RowDiagnostic) error
	// Annotate records an audit note against a job without touching its
	// lifecycle fields; it is the only write permitted on terminal jobs.
	Annotate(ctx context.Context, id uuid.UUID, note string) error
}

// ClientRepository reads and upserts canonical clients. Clients are never
// deleted by the import pipeline.
type ClientRepository interface {
	List(ctx context.Context) ([]domain.CanonicalClient, error)
	// Upsert creates or updates a client keyed on normalized name + type. The
	// store resolves concurrent creation races via its unique constraint, so
	// two batches reconciling the same new name end up with one surviving row.
	Upsert(ctx context.Context, client domain.CanonicalClient) (domain.CanonicalClient, error)
	IncrementMatterStats(ctx context.Context, id uuid.UUID, value decimal.Decimal) error
	// WithTx returns a copy of the repository bound to the transaction.
	WithTx(tx pgx.Tx) ClientRepository
}

// FeeEarnerRepository reads and upserts canonical fee earners.
type FeeEarnerRepository interface {
	List(ctx context.Context) ([]domain.CanonicalFeeEarner, error)
	Upsert(ctx context.Context, earner domain.CanonicalFeeEarner) (domain.CanonicalFeeEarner, error)
	IncrementMatterStats(ctx context.Context, id uuid.UUID, value decimal.Decimal) error
	WithTx(tx pgx.Tx) FeeEarnerRepository
}

// MatterRepository persists canonical matters keyed by external reference.
type MatterRepository interface {
	// UpsertByReference inserts or updates on the unique reference key and
	// reports whether a new row was created, making re-imports idempotent.
	UpsertByReference(ctx context.Context, matter domain.CanonicalMatter) (domain.CanonicalMatter, bool, error)
	ListWithReference(ctx context.Context) ([]domain.CanonicalMatter, error)
	WithTx(tx pgx.Tx) MatterRepository
}

// AuditRepository records the import audit trail consumed by compliance
// reviews.
type AuditRepository interface {
	Record(ctx context.Context, entry domain.AuditEntry) error
	List(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]domain.AuditEntry, error)
}
