package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/caseworks/leximport/internal/domain"
)

type feeEarnerRepository struct {
	db Querier
}

// NewFeeEarnerRepository wires a repository backed by pgxpool.
func NewFeeEarnerRepository(pool *pgxpool.Pool) FeeEarnerRepository {
	if pool == nil {
		return &feeEarnerRepository{}
	}
	return &feeEarnerRepository{db: pool}
}

// WithTx returns a copy issuing its statements on the transaction.
func (r *feeEarnerRepository) WithTx(tx pgx.Tx) FeeEarnerRepository {
	return &feeEarnerRepository{db: tx}
}

func (r *feeEarnerRepository) List(ctx context.Context) ([]domain.CanonicalFeeEarner, error) {
	if r.db == nil {
		return nil, fmt.Errorf("fee earner repository not initialized")
	}

	rows, err := r.db.Query(
		ctx,
		`SELECT id, name, seniority, email, matter_count, total_value, created_at, updated_at
		 FROM canonical_fee_earners
		 ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list fee earners: %w", classify(err))
	}
	defer rows.Close()

	earners := []domain.CanonicalFeeEarner{}
	for rows.Next() {
		var (
			earner     domain.CanonicalFeeEarner
			seniority  string
			totalValue string
		)
		if scanErr := rows.Scan(
			&earner.ID,
			&earner.Name,
			&seniority,
			&earner.Email,
			&earner.MatterCount,
			&totalValue,
			&earner.CreatedAt,
			&earner.UpdatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan fee earner: %w", scanErr)
		}
		earner.Seniority = domain.Seniority(seniority)
		if earner.TotalValue, err = decimal.NewFromString(totalValue); err != nil {
			return nil, fmt.Errorf("failed to parse fee earner total value: %w", err)
		}
		earners = append(earners, earner)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate fee earners: %w", rowsErr)
	}
	return earners, nil
}

func (r *feeEarnerRepository) Upsert(ctx context.Context, earner domain.CanonicalFeeEarner) (domain.CanonicalFeeEarner, error) {
	if r.db == nil {
		return domain.CanonicalFeeEarner{}, fmt.Errorf("fee earner repository not initialized")
	}

	row := r.db.QueryRow(
		ctx,
		`INSERT INTO canonical_fee_earners (id, name, name_key, seniority, email, matter_count, total_value, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $7)
		 ON CONFLICT (name_key)
		 DO UPDATE SET updated_at = EXCLUDED.updated_at
		 RETURNING id, name, seniority, email, matter_count, total_value, created_at, updated_at`,
		earner.ID,
		earner.Name,
		nameKey(earner.Name),
		string(earner.Seniority),
		earner.Email,
		earner.TotalValue.String(),
		earner.UpdatedAt,
	)

	var (
		out        domain.CanonicalFeeEarner
		seniority  string
		totalValue string
	)
	if err := row.Scan(
		&out.ID,
		&out.Name,
		&seniority,
		&out.Email,
		&out.MatterCount,
		&totalValue,
		&out.CreatedAt,
		&out.UpdatedAt,
	); err != nil {
		return domain.CanonicalFeeEarner{}, fmt.Errorf("failed to upsert fee earner: %w", classify(err))
	}
	out.Seniority = domain.Seniority(seniority)
	parsed, err := decimal.NewFromString(totalValue)
	if err != nil {
		return domain.CanonicalFeeEarner{}, fmt.Errorf("failed to parse fee earner total value: %w", err)
	}
	out.TotalValue = parsed
	return out, nil
}

func (r *feeEarnerRepository) IncrementMatterStats(ctx context.Context, id uuid.UUID, value decimal.Decimal) error {
	if r.db == nil {
		return fmt.Errorf("fee earner repository not initialized")
	}

	_, err := r.db.Exec(
		ctx,
		`UPDATE canonical_fee_earners
		 SET matter_count = matter_count + 1,
		     total_value = total_value + $2::numeric,
		     updated_at = now()
		 WHERE id = $1`,
		id, value.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to increment fee earner stats: %w", classify(err))
	}
	return nil
}
