package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditEntry is one line of the import audit trail. Entries are append-only
// and survive the job record itself.
type AuditEntry struct {
	ID        uuid.UUID `json:"id"`
	JobID     uuid.UUID `json:"job_id"`
	ActorID   uuid.UUID `json:"actor_id"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// NewAuditEntry stamps a fresh audit line for a job.
func NewAuditEntry(jobID, actorID uuid.UUID, action, detail string) AuditEntry {
	return AuditEntry{
		ID:        uuid.New(),
		JobID:     jobID,
		ActorID:   actorID,
		Action:    action,
		Detail:    detail,
		CreatedAt: time.Now(),
	}
}
