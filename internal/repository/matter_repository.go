package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/caseworks/leximport/internal/domain"
)

type matterRepository struct {
	db Querier
}

// NewMatterRepository wires a repository backed by pgxpool.
func NewMatterRepository(pool *pgxpool.Pool) MatterRepository {
	if pool == nil {
		return &matterRepository{}
	}
	return &matterRepository{db: pool}
}

// WithTx returns a copy issuing its statements on the transaction.
func (r *matterRepository) WithTx(tx pgx.Tx) MatterRepository {
	return &matterRepository{db: tx}
}

// UpsertByReference inserts a matter or refreshes the existing row sharing the
// reference. The returned flag reports whether a new row was created, which
// xmax = 0 exposes on the upserted row.
func (r *matterRepository) UpsertByReference(ctx context.Context, matter domain.CanonicalMatter) (domain.CanonicalMatter, bool, error) {
	if r.db == nil {
		return domain.CanonicalMatter{}, false, fmt.Errorf("matter repository not initialized")
	}

	row := r.db.QueryRow(
		ctx,
		`INSERT INTO canonical_matters (id, reference, description, client_id, fee_earner_id, value, status, received_date, notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		 ON CONFLICT (reference)
		 DO UPDATE SET
		     description = EXCLUDED.description,
		     client_id = EXCLUDED.client_id,
		     fee_earner_id = EXCLUDED.fee_earner_id,
		     value = EXCLUDED.value,
		     status = EXCLUDED.status,
		     received_date = EXCLUDED.received_date,
		     notes = EXCLUDED.notes,
		     updated_at = EXCLUDED.updated_at
		 RETURNING id, reference, description, client_id, fee_earner_id, value, status, received_date, notes, created_at, updated_at, (xmax = 0) AS created`,
		matter.ID,
		matter.Reference,
		matter.Description,
		matter.ClientID,
		matter.FeeEarnerID,
		matter.Value.String(),
		string(matter.Status),
		matter.ReceivedDate,
		matter.Notes,
		matter.UpdatedAt,
	)

	out, created, err := scanMatterWithCreated(row)
	if err != nil {
		return domain.CanonicalMatter{}, false, fmt.Errorf("failed to upsert matter: %w", classify(err))
	}
	return out, created, nil
}

func (r *matterRepository) ListWithReference(ctx context.Context) ([]domain.CanonicalMatter, error) {
	if r.db == nil {
		return nil, fmt.Errorf("matter repository not initialized")
	}

	rows, err := r.db.Query(
		ctx,
		`SELECT id, reference, description, client_id, fee_earner_id, value, status, received_date, notes, created_at, updated_at
		 FROM canonical_matters
		 WHERE reference <> ''
		 ORDER BY reference`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list matters: %w", classify(err))
	}
	defer rows.Close()

	matters := []domain.CanonicalMatter{}
	for rows.Next() {
		matter, scanErr := scanMatter(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan matter: %w", scanErr)
		}
		matters = append(matters, matter)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate matters: %w", rowsErr)
	}
	return matters, nil
}

func scanMatter(row rowScanner) (domain.CanonicalMatter, error) {
	var (
		matter domain.CanonicalMatter
		status string
		value  string
	)
	if err := row.Scan(
		&matter.ID,
		&matter.Reference,
		&matter.Description,
		&matter.ClientID,
		&matter.FeeEarnerID,
		&value,
		&status,
		&matter.ReceivedDate,
		&matter.Notes,
		&matter.CreatedAt,
		&matter.UpdatedAt,
	); err != nil {
		return domain.CanonicalMatter{}, err
	}
	matter.Status = domain.MatterStatus(status)
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return domain.CanonicalMatter{}, fmt.Errorf("failed to parse matter value: %w", err)
	}
	matter.Value = parsed
	return matter, nil
}

func scanMatterWithCreated(row rowScanner) (domain.CanonicalMatter, bool, error) {
	var (
		matter  domain.CanonicalMatter
		status  string
		value   string
		created bool
	)
	if err := row.Scan(
		&matter.ID,
		&matter.Reference,
		&matter.Description,
		&matter.ClientID,
		&matter.FeeEarnerID,
		&value,
		&status,
		&matter.ReceivedDate,
		&matter.Notes,
		&matter.CreatedAt,
		&matter.UpdatedAt,
		&created,
	); err != nil {
		return domain.CanonicalMatter{}, false, err
	}
	matter.Status = domain.MatterStatus(status)
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return domain.CanonicalMatter{}, false, fmt.Errorf("failed to parse matter value: %w", err)
	}
	matter.Value = parsed
	return matter, created, nil
}
