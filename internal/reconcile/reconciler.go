package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/caseworks/leximport/internal/domain"
	"github.com/caseworks/leximport/internal/repository"
	"github.com/caseworks/leximport/internal/validation"
)

// Match thresholds per entity kind. Clients are held to a stricter bar because
// misfiling a matter under the wrong client is more damaging than crediting
// the wrong fee earner.
const (
	ClientMatchThreshold    = 0.90
	FeeEarnerMatchThreshold = 0.80
)

var matchThresholds = map[domain.EntityKind]float64{
	domain.EntityKindClient:    ClientMatchThreshold,
	domain.EntityKindFeeEarner: FeeEarnerMatchThreshold,
}

// MatchThreshold returns the minimum similarity score a candidate of the given
// kind must reach to be treated as the same entity.
func MatchThreshold(kind domain.EntityKind) float64 {
	return matchThresholds[kind]
}

// Reconciler resolves free-text names from import rows to canonical entities,
// creating new ones when no candidate scores above threshold. All methods are
// safe to call from concurrent batches; creation races collapse to a single
// row through the store's conflict-safe upsert.
type Reconciler struct {
	clients    repository.ClientRepository
	feeEarners repository.FeeEarnerRepository
	scorer     SimilarityScorer
}

// NewReconciler wires a reconciler over the canonical entity repositories.
// A nil scorer defaults to Levenshtein.
func NewReconciler(clients repository.ClientRepository, feeEarners repository.FeeEarnerRepository, scorer SimilarityScorer) *Reconciler {
	if scorer == nil {
		scorer = LevenshteinScorer{}
	}
	return &Reconciler{
		clients:    clients,
		feeEarners: feeEarners,
		scorer:     scorer,
	}
}

// NormalizeKey derives the upsert key for a canonical name: title-collapsed,
// whitespace-squeezed, case-folded.
func NormalizeKey(name string) string {
	return strings.ToLower(validation.NormalizeName(name))
}

// ResolveClient returns the canonical client for a name, matching exactly
// first, then by similarity, then creating via upsert.
func (r *Reconciler) ResolveClient(ctx context.Context, name string, clientType domain.ClientType) (domain.CanonicalClient, error) {
	name = validation.NormalizeName(name)
	if name == "" {
		return domain.CanonicalClient{}, fmt.Errorf("client name is required")
	}
	if clientType == "" {
		clientType = domain.ClientTypeIndividual
	}

	candidates, err := r.clients.List(ctx)
	if err != nil {
		return domain.CanonicalClient{}, fmt.Errorf("failed to list clients: %w", err)
	}

	for _, candidate := range candidates {
		if candidate.Type == clientType && strings.EqualFold(candidate.Name, name) {
			return candidate, nil
		}
	}

	var (
		best      domain.CanonicalClient
		bestScore float64
	)
	for _, candidate := range candidates {
		if candidate.Type != clientType {
			continue
		}
		if score := r.scorer.Score(candidate.Name, name); score > bestScore {
			best = candidate
			bestScore = score
		}
	}
	if bestScore >= MatchThreshold(domain.EntityKindClient) {
		return best, nil
	}

	now := time.Now()
	created, err := r.clients.Upsert(ctx, domain.CanonicalClient{
		ID:         uuid.New(),
		Name:       name,
		Type:       clientType,
		TotalValue: decimal.Zero,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return domain.CanonicalClient{}, fmt.Errorf("failed to upsert client %q: %w", name, err)
	}
	return created, nil
}

// ResolveFeeEarner returns the canonical fee earner for a name, with the same
// exact-then-fuzzy-then-create strategy as clients but a looser threshold.
func (r *Reconciler) ResolveFeeEarner(ctx context.Context, name string, seniority domain.Seniority) (domain.CanonicalFeeEarner, error) {
	name = validation.NormalizeName(name)
	if name == "" {
		return domain.CanonicalFeeEarner{}, fmt.Errorf("fee earner name is required")
	}
	if seniority == "" {
		seniority = domain.SeniorityAssociate
	}

	candidates, err := r.feeEarners.List(ctx)
	if err != nil {
		return domain.CanonicalFeeEarner{}, fmt.Errorf("failed to list fee earners: %w", err)
	}

	for _, candidate := range candidates {
		if strings.EqualFold(candidate.Name, name) {
			return candidate, nil
		}
	}

	var (
		best      domain.CanonicalFeeEarner
		bestScore float64
	)
	for _, candidate := range candidates {
		if score := r.scorer.Score(candidate.Name, name); score > bestScore {
			best = candidate
			bestScore = score
		}
	}
	if bestScore >= MatchThreshold(domain.EntityKindFeeEarner) {
		return best, nil
	}

	now := time.Now()
	created, err := r.feeEarners.Upsert(ctx, domain.CanonicalFeeEarner{
		ID:         uuid.New(),
		Name:       name,
		Seniority:  seniority,
		TotalValue: decimal.Zero,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return domain.CanonicalFeeEarner{}, fmt.Errorf("failed to upsert fee earner %q: %w", name, err)
	}
	return created, nil
}
