package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/caseworks/leximport/internal/domain"
)

type clientRepository struct {
	db Querier
}

// NewClientRepository wires a repository backed by pgxpool.
func NewClientRepository(pool *pgxpool.Pool) ClientRepository {
	if pool == nil {
		return &clientRepository{}
	}
	return &clientRepository{db: pool}
}

// WithTx returns a copy issuing its statements on the transaction.
func (r *clientRepository) WithTx(tx pgx.Tx) ClientRepository {
	return &clientRepository{db: tx}
}

func (r *clientRepository) List(ctx context.Context) ([]domain.CanonicalClient, error) {
	if r.db == nil {
		return nil, fmt.Errorf("client repository not initialized")
	}

	rows, err := r.db.Query(
		ctx,
		`SELECT id, name, client_type, email, phone, matter_count, total_value, created_at, updated_at
		 FROM canonical_clients
		 ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", classify(err))
	}
	defer rows.Close()

	clients := []domain.CanonicalClient{}
	for rows.Next() {
		var (
			client     domain.CanonicalClient
			clientType string
			totalValue string
		)
		if scanErr := rows.Scan(
			&client.ID,
			&client.Name,
			&clientType,
			&client.Email,
			&client.Phone,
			&client.MatterCount,
			&totalValue,
			&client.CreatedAt,
			&client.UpdatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan client: %w", scanErr)
		}
		client.Type = domain.ClientType(clientType)
		if client.TotalValue, err = decimal.NewFromString(totalValue); err != nil {
			return nil, fmt.Errorf("failed to parse client total value: %w", err)
		}
		clients = append(clients, client)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate clients: %w", rowsErr)
	}
	return clients, nil
}

// Upsert inserts or returns the existing client for the normalized name +
// type key. The unique constraint resolves concurrent creations from parallel
// batches to a single surviving row.
func (r *clientRepository) Upsert(ctx context.Context, client domain.CanonicalClient) (domain.CanonicalClient, error) {
	if r.db == nil {
		return domain.CanonicalClient{}, fmt.Errorf("client repository not initialized")
	}

	row := r.db.QueryRow(
		ctx,
		`INSERT INTO canonical_clients (id, name, name_key, client_type, email, phone, matter_count, total_value, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $8)
		 ON CONFLICT (name_key, client_type)
		 DO UPDATE SET updated_at = EXCLUDED.updated_at
		 RETURNING id, name, client_type, email, phone, matter_count, total_value, created_at, updated_at`,
		client.ID,
		client.Name,
		nameKey(client.Name),
		string(client.Type),
		client.Email,
		client.Phone,
		client.TotalValue.String(),
		client.UpdatedAt,
	)

	var (
		out        domain.CanonicalClient
		clientType string
		totalValue string
	)
	if err := row.Scan(
		&out.ID,
		&out.Name,
		&clientType,
		&out.Email,
		&out.Phone,
		&out.MatterCount,
		&totalValue,
		&out.CreatedAt,
		&out.UpdatedAt,
	); err != nil {
		return domain.CanonicalClient{}, fmt.Errorf("failed to upsert client: %w", classify(err))
	}
	out.Type = domain.ClientType(clientType)
	parsed, err := decimal.NewFromString(totalValue)
	if err != nil {
		return domain.CanonicalClient{}, fmt.Errorf("failed to parse client total value: %w", err)
	}
	out.TotalValue = parsed
	return out, nil
}

func (r *clientRepository) IncrementMatterStats(ctx context.Context, id uuid.UUID, value decimal.Decimal) error {
	if r.db == nil {
		return fmt.Errorf("client repository not initialized")
	}

	_, err := r.db.Exec(
		ctx,
		`UPDATE canonical_clients
		 SET matter_count = matter_count + 1,
		     total_value = total_value + $2::numeric,
		     updated_at = now()
		 WHERE id = $1`,
		id, value.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to increment client stats: %w", classify(err))
	}
	return nil
}

// nameKey folds a display name into the upsert key used by the unique
// constraint.
func nameKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
