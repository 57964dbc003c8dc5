package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntityKind discriminates canonical entity tables for reconciliation.
type EntityKind string

const (
	EntityKindClient    EntityKind = "client"
	EntityKindFeeEarner EntityKind = "fee_earner"
)

// ClientType classifies canonical clients.
type ClientType string

const (
	ClientTypeIndividual ClientType = "individual"
	ClientTypeCompany    ClientType = "company"
)

// CanonicalClient is the deduplicated, authoritative client record. The
// reconciler reads and upserts clients but never deletes them.
type CanonicalClient struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Type        ClientType      `json:"type"`
	Email       string          `json:"email"`
	Phone       string          `json:"phone"`
	MatterCount int             `json:"matter_count"`
	TotalValue  decimal.Decimal `json:"total_value"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Seniority ranks fee earners.
type Seniority string

const (
	SeniorityPartner   Seniority = "partner"
	SeniorityAssociate Seniority = "associate"
	SeniorityParalegal Seniority = "paralegal"
	SeniorityTrainee   Seniority = "trainee"
)

// CanonicalFeeEarner is the deduplicated fee-earner record.
type CanonicalFeeEarner struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Seniority   Seniority       `json:"seniority"`
	Email       string          `json:"email"`
	MatterCount int             `json:"matter_count"`
	TotalValue  decimal.Decimal `json:"total_value"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// MatterStatus is the closed enumeration accepted from LEX extracts.
type MatterStatus string

const (
	MatterStatusNew        MatterStatus = "New"
	MatterStatusOpen       MatterStatus = "Open"
	MatterStatusInProgress MatterStatus = "In Progress"
	MatterStatusClosed     MatterStatus = "Closed"
	MatterStatusDeclined   MatterStatus = "Declined"
)

// MatterStatuses lists every accepted status value.
func MatterStatuses() []MatterStatus {
	return []MatterStatus{
		MatterStatusNew,
		MatterStatusOpen,
		MatterStatusInProgress,
		MatterStatusClosed,
		MatterStatusDeclined,
	}
}

// CanonicalMatter is a reconciled matter/enquiry. Reference is the unique
// business key from the source system; imports upsert on it so re-importing a
// file updates rather than duplicates.
type CanonicalMatter struct {
	ID           uuid.UUID       `json:"id"`
	Reference    string          `json:"reference"`
	Description  string          `json:"description"`
	ClientID     uuid.UUID       `json:"client_id"`
	FeeEarnerID  uuid.UUID       `json:"fee_earner_id"`
	Value        decimal.Decimal `json:"value"`
	Status       MatterStatus    `json:"status"`
	ReceivedDate time.Time       `json:"received_date"`
	Notes        string          `json:"notes"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
